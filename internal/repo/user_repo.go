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

var userColumns = []string{"id", "email", "password_hash", "display_name", "role", "email_verified", "admin_confirmed", "created_at", "updated_at"}

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	data := map[string]interface{}{
		"email":           user.Email,
		"password_hash":   user.PasswordHash,
		"display_name":    user.DisplayName,
		"role":            string(user.Role),
		"email_verified":  user.EmailVerified,
		"admin_confirmed": user.AdminConfirmed,
		"created_at":      user.CreatedAt,
		"updated_at":      user.UpdatedAt,
	}
	sqlStr, args, err := builder.BuildInsert("users", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr+" RETURNING id", args)
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&user.ID); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, map[string]interface{}{"email": email})
}

func (r *UserRepo) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	return r.getOne(ctx, map[string]interface{}{"id": userID})
}

func (r *UserRepo) UpdatePassword(ctx context.Context, userID int64, passwordHash string, mtime int64) error {
	return r.update(ctx, userID, map[string]interface{}{
		"password_hash": passwordHash,
		"updated_at":    mtime,
	})
}

func (r *UserRepo) UpdateRole(ctx context.Context, userID int64, role model.Role, mtime int64) error {
	return r.update(ctx, userID, map[string]interface{}{
		"role":       string(role),
		"updated_at": mtime,
	})
}

func (r *UserRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.User, error) {
	sqlStr, args, err := builder.BuildSelect("users", where, userColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var (
		user model.User
		role string
	)
	err = r.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &role,
		&user.EmailVerified, &user.AdminConfirmed, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	user.Role = model.Role(role)
	return &user, nil
}

func (r *UserRepo) update(ctx context.Context, userID int64, update map[string]interface{}) error {
	where := map[string]interface{}{"id": userID}
	sqlStr, args, err := builder.BuildUpdate("users", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}
