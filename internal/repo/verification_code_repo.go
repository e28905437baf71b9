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

const verificationColumns = `id, user_id, code, type, metadata, expires_at, consumed_at,
	attempt_count, last_attempt_at, locked_until, created_at`

const selectLatestActive = `SELECT ` + verificationColumns + `
FROM verification_codes
WHERE user_id = ? AND type = ? AND consumed_at IS NULL AND expires_at > ?
ORDER BY created_at DESC, id DESC LIMIT 1`

const selectMatch = `SELECT ` + verificationColumns + `
FROM verification_codes
WHERE user_id = ? AND type = ? AND code = ? AND consumed_at IS NULL AND expires_at > ?
ORDER BY created_at DESC, id DESC LIMIT 1`

// The subselect picks the same row LatestActive would; postgres serializes
// concurrent increments on the row lock, so no attempt is lost. The row is
// locked in the same statement once the new count reaches the threshold.
const incrementLatestAttempts = `UPDATE verification_codes
SET attempt_count = attempt_count + 1, last_attempt_at = ?,
	locked_until = CASE WHEN attempt_count + 1 >= ? THEN ? ELSE locked_until END
WHERE id = (
	SELECT id FROM verification_codes
	WHERE user_id = ? AND type = ? AND consumed_at IS NULL AND expires_at > ?
	ORDER BY created_at DESC, id DESC LIMIT 1
)
RETURNING attempt_count, locked_until`

const purgeVerificationCodes = `DELETE FROM verification_codes
WHERE expires_at <= ? OR (consumed_at IS NOT NULL AND consumed_at < ?)`

type VerificationCodeRepo struct {
	db *sql.DB
}

func NewVerificationCodeRepo(db *sql.DB) *VerificationCodeRepo {
	return &VerificationCodeRepo{db: db}
}

func (r *VerificationCodeRepo) Create(ctx context.Context, code *model.VerificationCode) error {
	data := map[string]interface{}{
		"id":            code.ID,
		"user_id":       code.UserID,
		"code":          code.Code,
		"type":          string(code.Type),
		"metadata":      code.Metadata,
		"expires_at":    code.ExpiresAt,
		"attempt_count": code.AttemptCount,
		"created_at":    code.CreatedAt,
	}
	sqlStr, args, err := builder.BuildInsert("verification_codes", []map[string]interface{}{data})
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

// LatestActive returns the newest unconsumed, unexpired code for the pair,
// locked or not.
func (r *VerificationCodeRepo) LatestActive(ctx context.Context, userID int64, typ model.VerificationType, now int64) (*model.VerificationCode, error) {
	return r.queryOne(ctx, selectLatestActive, userID, string(typ), now)
}

func (r *VerificationCodeRepo) FindMatch(ctx context.Context, userID int64, typ model.VerificationType, code string, now int64) (*model.VerificationCode, error) {
	return r.queryOne(ctx, selectMatch, userID, string(typ), code, now)
}

// IncrementLatestAttempts records a failed lookup against the pair's
// active code. When the new count reaches lockAt the row gets
// locked_until = lockUntil. ErrNotFound means there was no active code to
// charge.
func (r *VerificationCodeRepo) IncrementLatestAttempts(ctx context.Context, userID int64, typ model.VerificationType,
	now int64, lockAt int, lockUntil int64) (*model.AttemptResult, error) {
	sqlStr, args := dbutil.Finalize(incrementLatestAttempts, []interface{}{now, lockAt, lockUntil, userID, string(typ), now})
	var (
		res    model.AttemptResult
		locked sql.NullInt64
	)
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&res.Count, &locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	res.LockedUntil = dbutil.NullInt64(locked)
	return &res, nil
}

func (r *VerificationCodeRepo) Lock(ctx context.Context, id string, until int64) error {
	return r.update(ctx, id, map[string]interface{}{"locked_until": until})
}

func (r *VerificationCodeRepo) Consume(ctx context.Context, id string, now int64) error {
	return r.update(ctx, id, map[string]interface{}{"consumed_at": now})
}

// Purge deletes expired codes and codes consumed before consumedBefore.
func (r *VerificationCodeRepo) Purge(ctx context.Context, now, consumedBefore int64) (int64, error) {
	sqlStr, args := dbutil.Finalize(purgeVerificationCodes, []interface{}{now, consumedBefore})
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *VerificationCodeRepo) queryOne(ctx context.Context, query string, args ...interface{}) (*model.VerificationCode, error) {
	sqlStr, args := dbutil.Finalize(query, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, appErr.ErrNotFound
	}
	var (
		code                               model.VerificationCode
		typ                                string
		consumedAt, lastAttempt, lockUntil sql.NullInt64
	)
	if err := rows.Scan(&code.ID, &code.UserID, &code.Code, &typ, &code.Metadata, &code.ExpiresAt, &consumedAt,
		&code.AttemptCount, &lastAttempt, &lockUntil, &code.CreatedAt); err != nil {
		return nil, err
	}
	code.Type = model.VerificationType(typ)
	code.ConsumedAt = dbutil.NullInt64(consumedAt)
	code.LastAttemptAt = dbutil.NullInt64(lastAttempt)
	code.LockedUntil = dbutil.NullInt64(lockUntil)
	return &code, nil
}

func (r *VerificationCodeRepo) update(ctx context.Context, id string, update map[string]interface{}) error {
	where := map[string]interface{}{"id": id}
	sqlStr, args, err := builder.BuildUpdate("verification_codes", where, update)
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
