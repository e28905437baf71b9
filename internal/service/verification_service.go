package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/toolhub/hubauth/internal/model"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
	"github.com/toolhub/hubauth/internal/pkg/randutil"
	"github.com/toolhub/hubauth/internal/ratelimit"
)

const (
	CodeLockDuration      = 15 * time.Minute
	ConsumedCodeRetention = 14 * 24 * time.Hour
)

type VerificationService struct {
	repo    VerificationCodeRepository
	limiter *ratelimit.Limiter
	policy  ratelimit.Policy
	now     func() time.Time
}

func NewVerificationService(repo VerificationCodeRepository, limiter *ratelimit.Limiter) *VerificationService {
	if limiter == nil {
		limiter = ratelimit.New(nil)
	}
	return &VerificationService{
		repo:    repo,
		limiter: limiter,
		policy:  ratelimit.VerificationAttempt,
		now:     time.Now,
	}
}

// WithPolicy replaces the verification-attempt budget.
func (s *VerificationService) WithPolicy(policy ratelimit.Policy) *VerificationService {
	s.policy = policy
	return s
}

func (s *VerificationService) WithClock(now func() time.Time) *VerificationService {
	s.now = now
	return s
}

// Create stores a fresh six digit code. ttlMinutes <= 0 uses the type's
// default lifetime.
func (s *VerificationService) Create(ctx context.Context, userID int64, typ model.VerificationType, ttlMinutes int, metadata string) (*model.VerificationCode, error) {
	if !typ.Valid() {
		return nil, appErr.ErrInvalid
	}
	if ttlMinutes <= 0 {
		ttlMinutes = typ.DefaultTTLMinutes()
	}
	code, err := randutil.SixDigitCode()
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	item := &model.VerificationCode{
		ID:        uuid.NewString(),
		UserID:    userID,
		Code:      code,
		Type:      typ,
		Metadata:  metadata,
		ExpiresAt: now + int64(ttlMinutes)*60,
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create verification code: %w", err)
	}
	return item, nil
}

// FindActive looks up an unconsumed, unexpired code for the pair. A miss
// returns (nil, nil) and is charged to the pair's newest active code; once
// that code has absorbed MaxVerificationAttempts misses the pair is locked
// for CodeLockDuration, correct code or not. Under VerificationAttempt the
// sixth call in a window fails with RateLimitedError before the lock is seen.
func (s *VerificationService) FindActive(ctx context.Context, userID int64, typ model.VerificationType, code, ip string) (*model.VerificationCode, error) {
	if err := s.limiter.Allow(ctx, s.policy, ratelimit.ByUser(userID), ratelimit.ByIP(ip)); err != nil {
		return nil, err
	}
	now := s.now()
	ts := now.Unix()
	latest, err := s.repo.LatestActive(ctx, userID, typ, ts)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if latest.IsLocked(ts) {
		return nil, &appErr.CodeLockedError{Until: time.Unix(*latest.LockedUntil, 0)}
	}

	match, err := s.repo.FindMatch(ctx, userID, typ, strings.TrimSpace(code), ts)
	if err != nil && !appErr.IsNotFound(err) {
		return nil, err
	}
	if match == nil {
		res, err := s.repo.IncrementLatestAttempts(ctx, userID, typ, ts, model.MaxVerificationAttempts, now.Add(CodeLockDuration).Unix())
		if err != nil && !appErr.IsNotFound(err) {
			return nil, err
		}
		if res != nil && res.LockedUntil != nil && *res.LockedUntil > ts {
			logutil.GetLogger(ctx).Warn("verification code locked",
				zap.Int64("user_id", userID), zap.String("type", string(typ)), zap.Int("attempts", res.Count))
		}
		return nil, nil
	}
	if match.IsLocked(ts) {
		return nil, &appErr.CodeLockedError{Until: time.Unix(*match.LockedUntil, 0)}
	}
	if match.AttemptCount >= model.MaxVerificationAttempts {
		until := now.Add(CodeLockDuration)
		if err := s.repo.Lock(ctx, match.ID, until.Unix()); err != nil {
			return nil, err
		}
		return nil, &appErr.CodeLockedError{Until: until, Cause: appErr.ErrMaxAttempts}
	}
	return match, nil
}

// Consume marks the code used. It does not reject a second call.
func (s *VerificationService) Consume(ctx context.Context, id string) error {
	return s.repo.Consume(ctx, id, s.now().Unix())
}

func (s *VerificationService) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	return s.repo.Purge(ctx, now.Unix(), now.Add(-ConsumedCodeRetention).Unix())
}
