package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/toolhub/hubauth/internal/model"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
	"github.com/toolhub/hubauth/internal/pkg/randutil"
)

const (
	SessionTTL        = 7 * 24 * time.Hour
	sessionTokenBytes = 32
)

type SessionService struct {
	repo SessionRepository
	now  func() time.Time
}

func NewSessionService(repo SessionRepository) *SessionService {
	return &SessionService{repo: repo, now: time.Now}
}

func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

func (s *SessionService) Create(ctx context.Context, userID int64) (*model.Session, error) {
	id, err := randutil.Token(sessionTokenBytes)
	if err != nil {
		return nil, err
	}
	now := s.now()
	session := &model.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(SessionTTL).Unix(),
		CreatedAt: now.Unix(),
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetByID returns the session with its user's current row. Expired
// sessions are deleted on read. A storage error is logged and reported as
// no session, so a store outage logs users out instead of letting them in.
func (s *SessionService) GetByID(ctx context.Context, sessionID string) (*model.SessionWithUser, bool) {
	if sessionID == "" {
		return nil, false
	}
	logger := logutil.GetLogger(ctx)
	item, err := s.repo.GetWithUser(ctx, sessionID)
	if err != nil {
		if !appErr.IsNotFound(err) {
			logger.Error("load session failed", zap.Error(err))
		}
		return nil, false
	}
	if item.Session.ExpiresAt <= s.now().Unix() {
		if err := s.repo.Delete(ctx, sessionID); err != nil {
			logger.Warn("delete expired session failed", zap.Error(err))
		}
		return nil, false
	}
	return item, true
}

func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.repo.Delete(ctx, sessionID)
}

func (s *SessionService) DeleteForUser(ctx context.Context, userID int64) error {
	return s.repo.DeleteByUser(ctx, userID)
}

// PurgeExpired is the optional sweep; reads already expire lazily.
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now().Unix())
}
