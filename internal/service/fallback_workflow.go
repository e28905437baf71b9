package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/toolhub/hubauth/internal/fallback"
	"github.com/toolhub/hubauth/internal/model"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
	"github.com/toolhub/hubauth/internal/pkg/password"
	"github.com/toolhub/hubauth/internal/ratelimit"
)

// Pending users are accounts created while the durable store was down.
// They live in memory until an operator reconciles them.

// RegisterPending creates an account only while the store is down. Every
// other outcome after input validation, store up or email already
// pending, gets the same answer as a fresh registration and changes
// nothing.
func (s *AuthService) RegisterPending(ctx context.Context, email, plainPassword, displayName string) (*model.FallbackUser, error) {
	email = fallback.NormalizeEmail(email)
	if !validEmail(email) {
		return nil, appErr.ErrInvalid
	}
	if err := password.CheckPolicy(plainPassword); err != nil {
		return nil, fmt.Errorf("%w: %w", appErr.ErrInvalid, err)
	}
	if avail := s.probe.Probe(ctx); avail.Available {
		logutil.GetLogger(ctx).Info("pending registration ignored: store available", zap.String("email", email))
		return s.acceptedRegistration(email, displayName), nil
	}
	user, err := s.fallback.CreateFallbackUser(email, plainPassword, displayName, model.RoleUser)
	if err != nil {
		if appErr.IsConflict(err) {
			logutil.GetLogger(ctx).Info("pending registration ignored: already pending", zap.String("email", email))
			return s.acceptedRegistration(email, displayName), nil
		}
		return nil, err
	}
	if err := s.fallback.SendEmailVerificationOTP(ctx, user.Email); err != nil {
		return nil, err
	}
	s.logActivity(ctx, nil, model.ActionFallbackRegister, map[string]interface{}{"email": user.Email})
	if current, ok := s.fallback.PendingUser(user.Email); ok {
		return current, nil
	}
	return user, nil
}

// acceptedRegistration is the public view of a registration that
// created nothing.
func (s *AuthService) acceptedRegistration(email, displayName string) *model.FallbackUser {
	now := s.now()
	return &model.FallbackUser{
		Email:                   email,
		DisplayName:             strings.TrimSpace(displayName),
		Role:                    model.RoleUser,
		CreatedAt:               now,
		EmailVerificationSentAt: now,
	}
}

// SendPendingOTP answers an unknown email the same way as a known one.
func (s *AuthService) SendPendingOTP(ctx context.Context, email string) error {
	if err := s.fallback.SendEmailVerificationOTP(ctx, email); err != nil && !appErr.IsNotFound(err) {
		return err
	}
	return nil
}

// VerifyPendingEmail has no lockout of its own, so it is charged to the
// verification-attempt budget on both email and ip.
func (s *AuthService) VerifyPendingEmail(ctx context.Context, email, otp, ip string) error {
	email = fallback.NormalizeEmail(email)
	if err := s.limiter.Allow(ctx, ratelimit.VerificationAttempt, ratelimit.ByEmail(email), ratelimit.ByIP(ip)); err != nil {
		return err
	}
	if err := s.fallback.VerifyEmailOTP(email, otp); err != nil {
		return hideUnknownPending(err)
	}
	s.logActivity(ctx, nil, model.ActionFallbackVerified, map[string]interface{}{"email": email})
	return nil
}

// IssueAdminCode generates the confirmation code for a verified pending
// user. Only admins may call it.
func (s *AuthService) IssueAdminCode(ctx context.Context, caller *model.SessionUser, email string) (string, error) {
	if _, err := RequireAdmin(caller); err != nil {
		return "", err
	}
	return s.fallback.GenerateAdminConfirmationCode(ctx, email)
}

func (s *AuthService) ConfirmPending(ctx context.Context, email, code, ip string) error {
	email = fallback.NormalizeEmail(email)
	if err := s.limiter.Allow(ctx, ratelimit.VerificationAttempt, ratelimit.ByEmail(email), ratelimit.ByIP(ip)); err != nil {
		return err
	}
	if err := s.fallback.VerifyAdminConfirmationCode(email, code); err != nil {
		return hideUnknownPending(err)
	}
	s.logActivity(ctx, nil, model.ActionFallbackAdminOK, map[string]interface{}{"email": email})
	return nil
}

func (s *AuthService) PendingUsers(caller *model.SessionUser) ([]*model.FallbackUser, error) {
	if _, err := RequireAdmin(caller); err != nil {
		return nil, err
	}
	return s.fallback.PendingUsers(), nil
}

func hideUnknownPending(err error) error {
	if appErr.IsNotFound(err) {
		return appErr.ErrCodeInvalid
	}
	return err
}
