package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/toolhub/hubauth/internal/fallback"
	"github.com/toolhub/hubauth/internal/mail"
	"github.com/toolhub/hubauth/internal/model"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
	"github.com/toolhub/hubauth/internal/pkg/jwt"
	"github.com/toolhub/hubauth/internal/pkg/password"
	"github.com/toolhub/hubauth/internal/ratelimit"
)

type LoginMethod string

const (
	LoginPassword LoginMethod = "password"
	LoginOTP      LoginMethod = "otp"
)

// fallbackOTPMailTTL is how long a deterministic code stays acceptable:
// the current minute bucket plus the previous one.
const fallbackOTPMailTTL = 2

// dummyHash keeps a login for an unknown email as slow as a wrong
// password.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOa8pZ4bLr6dC4xXcSlqL5t3N3Ff2QGmW"

type LoginRequest struct {
	Email     string
	Password  string
	OTP       string
	Method    LoginMethod
	IP        string
	UserAgent string
}

// LoginResult is the same shape in both modes. Token is a session id for
// durable logins and a signed token for fallback logins.
type LoginResult struct {
	Token        string             `json:"token"`
	ExpiresAt    int64              `json:"expires_at"`
	User         *model.SessionUser `json:"user"`
	FallbackMode bool               `json:"fallback_mode"`
}

type AuthDeps struct {
	Users       UserRepository
	Sessions    *SessionService
	Codes       *VerificationService
	Probe       Prober
	Fallback    *fallback.Provider
	Tokens      *jwt.Codec
	Limiter     *ratelimit.Limiter
	Sender      mail.Sender
	Composer    *mail.Composer
	Activity    ActivityLogger
	FallbackTTL time.Duration
}

type AuthService struct {
	users       UserRepository
	sessions    *SessionService
	codes       *VerificationService
	probe       Prober
	fallback    *fallback.Provider
	tokens      *jwt.Codec
	limiter     *ratelimit.Limiter
	sender      mail.Sender
	composer    *mail.Composer
	activity    ActivityLogger
	fallbackTTL time.Duration
	now         func() time.Time
}

func NewAuthService(deps AuthDeps) *AuthService {
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(nil)
	}
	if deps.FallbackTTL <= 0 {
		deps.FallbackTTL = 12 * time.Hour
	}
	return &AuthService{
		users:       deps.Users,
		sessions:    deps.Sessions,
		codes:       deps.Codes,
		probe:       deps.Probe,
		fallback:    deps.Fallback,
		tokens:      deps.Tokens,
		limiter:     deps.Limiter,
		sender:      deps.Sender,
		composer:    deps.Composer,
		activity:    deps.Activity,
		fallbackTTL: deps.FallbackTTL,
		now:         time.Now,
	}
}

func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := fallback.NormalizeEmail(req.Email)
	method, err := resolveMethod(req)
	if err != nil || !validEmail(email) {
		return nil, appErr.ErrInvalid
	}
	req.Method = method
	if err := s.limiter.Allow(ctx, ratelimit.LoginAttempt, ratelimit.ByEmail(email), ratelimit.ByIP(req.IP)); err != nil {
		s.logLogin(ctx, model.ActionLoginFailed, nil, req, false, "rate_limited")
		return nil, err
	}

	if avail := s.probe.Probe(ctx); avail.Available {
		res, user, err := s.loginDurable(ctx, email, req)
		if err == nil {
			return res, nil
		}
		if !appErr.IsStorageFailure(err) {
			var uid *int64
			if user != nil {
				uid = &user.ID
			}
			s.logLogin(ctx, model.ActionLoginFailed, uid, req, false, failureReason(err))
			return nil, publicLoginError(err)
		}
		logutil.GetLogger(ctx).Warn("durable login failed, switching to fallback", zap.Error(err))
	} else {
		logutil.GetLogger(ctx).Warn("store unavailable, using fallback login", zap.Error(avail.Reason))
	}
	return s.loginFallback(ctx, email, req)
}

// validEmail only checks the shape local@domain; email is already
// normalized.
func validEmail(email string) bool {
	at := strings.LastIndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}

func resolveMethod(req LoginRequest) (LoginMethod, error) {
	switch req.Method {
	case LoginPassword, LoginOTP:
		return req.Method, nil
	case "":
		if req.OTP != "" {
			return LoginOTP, nil
		}
		return LoginPassword, nil
	}
	return "", appErr.ErrInvalid
}

func (s *AuthService) loginDurable(ctx context.Context, email string, req LoginRequest) (*LoginResult, *model.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if appErr.IsNotFound(err) {
			_ = password.Compare(dummyHash, req.Password)
			return nil, nil, appErr.ErrInvalidCredentials
		}
		return nil, nil, err
	}
	switch req.Method {
	case LoginPassword:
		if user.PasswordHash == "" || password.Compare(user.PasswordHash, req.Password) != nil {
			return nil, user, appErr.ErrInvalidCredentials
		}
	case LoginOTP:
		code, err := s.codes.FindActive(ctx, user.ID, model.VerificationLoginOTP, req.OTP, req.IP)
		if err != nil {
			return nil, user, err
		}
		if code == nil {
			return nil, user, appErr.ErrCodeInvalid
		}
		if err := s.codes.Consume(ctx, code.ID); err != nil {
			return nil, user, err
		}
	}
	session, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, user, err
	}
	view := user.SessionView()
	s.logLogin(ctx, model.ActionLoginSuccess, &user.ID, req, false, "")
	return &LoginResult{Token: session.ID, ExpiresAt: session.ExpiresAt, User: view}, user, nil
}

func (s *AuthService) loginFallback(ctx context.Context, email string, req LoginRequest) (*LoginResult, error) {
	var (
		user *model.SessionUser
		err  error
	)
	switch req.Method {
	case LoginOTP:
		user, err = s.fallback.VerifyFallbackOTP(email, req.OTP)
	default:
		user, err = s.fallback.VerifyFallbackCredentials(email, req.Password)
	}
	if err != nil {
		s.logLogin(ctx, model.ActionLoginFailed, nil, req, true, failureReason(err))
		return nil, appErr.ErrInvalidCredentials
	}
	token, expiresAt, err := s.issueFallbackToken(user)
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Warn("fallback login", zap.String("email", user.Email))
	s.logLogin(ctx, model.ActionLoginSuccess, &user.ID, req, true, "")
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user, FallbackMode: true}, nil
}

func (s *AuthService) issueFallbackToken(user *model.SessionUser) (string, int64, error) {
	token, err := s.tokens.Sign(jwt.Claims{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        string(user.Role),
		DisplayName: user.DisplayName,
		Fallback:    true,
	}, s.fallbackTTL)
	if err != nil {
		return "", 0, fmt.Errorf("sign fallback token: %w", err)
	}
	return token, s.now().Add(s.fallbackTTL).Unix(), nil
}

// RequestOTP mails a login code. Unknown emails get the same answer as
// known ones.
func (s *AuthService) RequestOTP(ctx context.Context, email, ip string) error {
	email = fallback.NormalizeEmail(email)
	if !validEmail(email) {
		return appErr.ErrInvalid
	}
	charge, err := s.limiter.Charge(ctx, ratelimit.OTPRequestPrivileged, ratelimit.ByEmail(email), ratelimit.ByIP(ip))
	if err != nil {
		return err
	}
	if avail := s.probe.Probe(ctx); !avail.Available {
		return s.requestFallbackOTP(ctx, email, charge)
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if appErr.IsNotFound(err) {
			return charge.Enforce(ratelimit.OTPRequest)
		}
		logutil.GetLogger(ctx).Warn("otp lookup failed, switching to fallback", zap.Error(err))
		return s.requestFallbackOTP(ctx, email, charge)
	}
	policy := ratelimit.OTPRequest
	if user.Role.Privileged() {
		policy = ratelimit.OTPRequestPrivileged
	}
	if err := charge.Enforce(policy); err != nil {
		return err
	}
	code, err := s.codes.Create(ctx, user.ID, model.VerificationLoginOTP, 0, "")
	if err != nil {
		return err
	}
	ttl := model.VerificationLoginOTP.DefaultTTLMinutes()
	s.deliver(ctx, user.Email, func() (mail.Mail, error) {
		return s.composer.LoginOTP(user.Email, code.Code, ttl)
	})
	s.logActivity(ctx, &user.ID, model.ActionOTPRequested, map[string]interface{}{"ip": ip})
	return nil
}

func (s *AuthService) requestFallbackOTP(ctx context.Context, email string, charge *ratelimit.Charge) error {
	if !s.fallback.IsDefaultAdmin(email) {
		return charge.Enforce(ratelimit.OTPRequest)
	}
	if err := charge.Enforce(ratelimit.OTPRequestPrivileged); err != nil {
		return err
	}
	code, err := s.fallback.GenerateFallbackOTP(email)
	if err != nil {
		return err
	}
	s.deliver(ctx, email, func() (mail.Mail, error) {
		return s.composer.LoginOTP(email, code, fallbackOTPMailTTL)
	})
	uid := model.FallbackUserID
	s.logActivity(ctx, &uid, model.ActionOTPRequested, map[string]interface{}{"fallback_mode": true})
	return nil
}

// ForgotPassword mails a reset code. It has no fallback path.
func (s *AuthService) ForgotPassword(ctx context.Context, email, ip string) error {
	email = fallback.NormalizeEmail(email)
	if !validEmail(email) {
		return appErr.ErrInvalid
	}
	if err := s.limiter.Allow(ctx, ratelimit.EmailSend, ratelimit.ByEmail(email), ratelimit.ByIP(ip)); err != nil {
		return err
	}
	if avail := s.probe.Probe(ctx); !avail.Available {
		return avail.Reason
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil
		}
		return err
	}
	code, err := s.codes.Create(ctx, user.ID, model.VerificationPasswordReset, 0, "")
	if err != nil {
		return err
	}
	ttl := model.VerificationPasswordReset.DefaultTTLMinutes()
	s.deliver(ctx, user.Email, func() (mail.Mail, error) {
		return s.composer.PasswordReset(user.Email, code.Code, ttl)
	})
	s.logActivity(ctx, &user.ID, model.ActionPasswordForgot, map[string]interface{}{"ip": ip})
	return nil
}

// ResetPassword checks the reset code, stores the new password and ends
// every session of the user.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword, ip string) error {
	email = fallback.NormalizeEmail(email)
	if !validEmail(email) || strings.TrimSpace(code) == "" {
		return appErr.ErrInvalid
	}
	if err := s.limiter.Allow(ctx, ratelimit.PasswordResetAttempt, ratelimit.ByEmail(email), ratelimit.ByIP(ip)); err != nil {
		return err
	}
	if err := password.CheckPolicy(newPassword); err != nil {
		return fmt.Errorf("%w: %w", appErr.ErrInvalid, err)
	}
	if avail := s.probe.Probe(ctx); !avail.Available {
		return avail.Reason
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if appErr.IsNotFound(err) {
			return appErr.ErrCodeInvalid
		}
		return err
	}
	item, err := s.codes.FindActive(ctx, user.ID, model.VerificationPasswordReset, code, ip)
	if err != nil {
		return err
	}
	if item == nil {
		return appErr.ErrCodeInvalid
	}
	hash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.codes.Consume(ctx, item.ID); err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, s.now().Unix()); err != nil {
		return err
	}
	if err := s.sessions.DeleteForUser(ctx, user.ID); err != nil {
		logutil.GetLogger(ctx).Error("revoke sessions after reset failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	s.logActivity(ctx, &user.ID, model.ActionPasswordReset, map[string]interface{}{"ip": ip})
	return nil
}

// Logout ends a durable session. Fallback tokens are stateless and simply
// expire.
func (s *AuthService) Logout(ctx context.Context, credential string) error {
	if credential == "" || isSignedToken(credential) {
		return nil
	}
	item, ok := s.sessions.GetByID(ctx, credential)
	if err := s.sessions.Delete(ctx, credential); err != nil {
		return err
	}
	if ok {
		s.logActivity(ctx, &item.User.ID, model.ActionLogout, nil)
	}
	return nil
}

// Authenticate resolves a bearer credential into the current user.
func (s *AuthService) Authenticate(ctx context.Context, credential string) (*model.SessionUser, error) {
	if credential == "" {
		return nil, appErr.Unauthorized()
	}
	if isSignedToken(credential) {
		claims := s.tokens.Verify(credential)
		if claims == nil || !claims.Fallback {
			return nil, appErr.Unauthorized()
		}
		return &model.SessionUser{
			ID:             claims.UserID,
			Email:          claims.Email,
			Role:           model.Role(claims.Role),
			DisplayName:    claims.DisplayName,
			EmailVerified:  true,
			AdminConfirmed: true,
		}, nil
	}
	item, ok := s.sessions.GetByID(ctx, credential)
	if !ok {
		return nil, appErr.Unauthorized()
	}
	return item.User, nil
}

// Session ids are hex; signed tokens have three dot separated parts.
func isSignedToken(credential string) bool {
	return strings.Count(credential, ".") == 2
}

func (s *AuthService) deliver(ctx context.Context, to string, build func() (mail.Mail, error)) {
	logger := logutil.GetLogger(ctx).With(zap.String("to", to))
	if s.sender == nil || s.composer == nil {
		logger.Warn("mail skipped: no sender configured")
		return
	}
	m, err := build()
	if err == nil {
		err = s.sender.Send(ctx, m)
	}
	if err != nil {
		logger.Error("send mail failed", zap.Error(err))
	}
}

func (s *AuthService) logActivity(ctx context.Context, userID *int64, action string, metadata map[string]interface{}) {
	if s.activity == nil {
		return
	}
	s.activity.Log(ctx, userID, action, metadata)
}

func (s *AuthService) logLogin(ctx context.Context, action string, userID *int64, req LoginRequest, fallbackMode bool, reason string) {
	meta := map[string]interface{}{
		"method":        string(req.Method),
		"ip":            req.IP,
		"user_agent":    req.UserAgent,
		"fallback_mode": fallbackMode,
	}
	if reason != "" {
		meta["reason"] = reason
	}
	if userID == nil {
		meta["email"] = fallback.NormalizeEmail(req.Email)
	}
	s.logActivity(ctx, userID, action, meta)
}

func failureReason(err error) string {
	var limited *appErr.RateLimitedError
	var locked *appErr.CodeLockedError
	switch {
	case errors.As(err, &limited):
		return "rate_limited"
	case errors.As(err, &locked):
		return "code_locked"
	case errors.Is(err, appErr.ErrCodeInvalid), errors.Is(err, appErr.ErrCodeExpired):
		return "bad_code"
	}
	return "bad_credentials"
}

// publicLoginError keeps rate-limit and lock errors intact and folds every
// mismatch into ErrInvalidCredentials.
func publicLoginError(err error) error {
	var limited *appErr.RateLimitedError
	var locked *appErr.CodeLockedError
	if errors.As(err, &limited) || errors.As(err, &locked) {
		return err
	}
	return appErr.ErrInvalidCredentials
}
