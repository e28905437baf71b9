package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"

	"github.com/toolhub/hubauth/internal/model"
	"github.com/toolhub/hubauth/internal/pkg/dbutil"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
)

const selectSessionWithUser = `SELECT s.id, s.user_id, s.expires_at, s.created_at,
	u.email, u.role, u.display_name, u.email_verified, u.admin_confirmed
FROM sessions s JOIN users u ON u.id = s.user_id
WHERE s.id = ?`

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Create(ctx context.Context, session *model.Session) error {
	data := map[string]interface{}{
		"id":         session.ID,
		"user_id":    session.UserID,
		"expires_at": session.ExpiresAt,
		"created_at": session.CreatedAt,
	}
	sqlStr, args, err := builder.BuildInsert("sessions", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

// GetWithUser reads the session joined to the user's current row, so
// role and verification flags are never cached on the session.
func (r *SessionRepo) GetWithUser(ctx context.Context, sessionID string) (*model.SessionWithUser, error) {
	sqlStr, args := dbutil.Finalize(selectSessionWithUser, []interface{}{sessionID})
	var (
		session model.Session
		user    model.SessionUser
		role    string
	)
	err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt,
		&user.Email, &role, &user.DisplayName, &user.EmailVerified, &user.AdminConfirmed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	user.ID = session.UserID
	user.Role = model.Role(role)
	return &model.SessionWithUser{Session: &session, User: &user}, nil
}

// Delete is a no-op for unknown ids.
func (r *SessionRepo) Delete(ctx context.Context, sessionID string) error {
	return r.deleteWhere(ctx, map[string]interface{}{"id": sessionID})
}

func (r *SessionRepo) DeleteByUser(ctx context.Context, userID int64) error {
	return r.deleteWhere(ctx, map[string]interface{}{"user_id": userID})
}

func (r *SessionRepo) DeleteExpired(ctx context.Context, now int64) (int64, error) {
	sqlStr, args, err := builder.BuildDelete("sessions", map[string]interface{}{"expires_at <=": now})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *SessionRepo) deleteWhere(ctx context.Context, where map[string]interface{}) error {
	sqlStr, args, err := builder.BuildDelete("sessions", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}
