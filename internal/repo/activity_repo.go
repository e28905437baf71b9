package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/toolhub/hubauth/internal/model"
	"github.com/toolhub/hubauth/internal/pkg/dbutil"
)

type ActivityRepo struct {
	db *sql.DB
}

func NewActivityRepo(db *sql.DB) *ActivityRepo {
	return &ActivityRepo{db: db}
}

func (r *ActivityRepo) Insert(ctx context.Context, entry *model.ActivityLog) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"id":         entry.ID,
		"action":     entry.Action,
		"metadata":   string(meta),
		"created_at": entry.CreatedAt,
	}
	if entry.UserID != nil {
		data["user_id"] = *entry.UserID
	}
	sqlStr, args, err := builder.BuildInsert("activity_logs", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ActivityRepo) ListRecent(ctx context.Context, limit uint) ([]*model.ActivityLog, error) {
	where := map[string]interface{}{"_orderby": "created_at desc", "_limit": []uint{0, limit}}
	sqlStr, args, err := builder.BuildSelect("activity_logs", where, []string{"id", "user_id", "action", "metadata", "created_at"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]*model.ActivityLog, 0)
	for rows.Next() {
		var (
			item   model.ActivityLog
			userID sql.NullInt64
			meta   string
		)
		if err := rows.Scan(&item.ID, &userID, &item.Action, &meta, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.UserID = dbutil.NullInt64(userID)
		if meta != "" {
			_ = json.Unmarshal([]byte(meta), &item.Metadata)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}
