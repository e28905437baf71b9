package service

import (
	"context"

	"github.com/toolhub/hubauth/internal/model"
)

// The repo package satisfies these; tests use in-memory versions.

type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, userID int64) (*model.User, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string, mtime int64) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	GetWithUser(ctx context.Context, sessionID string) (*model.SessionWithUser, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteByUser(ctx context.Context, userID int64) error
	DeleteExpired(ctx context.Context, now int64) (int64, error)
}

type VerificationCodeRepository interface {
	Create(ctx context.Context, code *model.VerificationCode) error
	LatestActive(ctx context.Context, userID int64, typ model.VerificationType, now int64) (*model.VerificationCode, error)
	FindMatch(ctx context.Context, userID int64, typ model.VerificationType, code string, now int64) (*model.VerificationCode, error)
	IncrementLatestAttempts(ctx context.Context, userID int64, typ model.VerificationType, now int64, lockAt int, lockUntil int64) (*model.AttemptResult, error)
	Lock(ctx context.Context, id string, until int64) error
	Consume(ctx context.Context, id string, now int64) error
	Purge(ctx context.Context, now, consumedBefore int64) (int64, error)
}

// ActivityLogger is fire and forget.
type ActivityLogger interface {
	Log(ctx context.Context, userID *int64, action string, metadata map[string]interface{})
}
