package fallback

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/toolhub/hubauth/internal/mail"
	"github.com/toolhub/hubauth/internal/model"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
	"github.com/toolhub/hubauth/internal/pkg/randutil"
	"github.com/toolhub/hubauth/internal/ratelimit"
)

const (
	EmailOTPTTL  = 10 * time.Minute
	AdminCodeTTL = 30 * time.Minute

	adminCodeLength = 8
)

var (
	ErrUserExists       = fmt.Errorf("fallback user already exists: %w", appErr.ErrConflict)
	ErrOTPNotSent       = fmt.Errorf("no verification code was sent: %w", appErr.ErrCodeInvalid)
	ErrEmailNotVerified = fmt.Errorf("email not verified: %w", appErr.ErrInvalid)
	ErrNotDefaultAdmin  = fmt.Errorf("not the default admin: %w", appErr.ErrInvalidCredentials)
)

type Config struct {
	AdminEmail       string
	AdminPassword    string
	AdminDisplayName string
	OTPSecret        string
	// AdminNotifyEmail receives admin confirmation codes. Defaults to
	// AdminEmail.
	AdminNotifyEmail string
}

// Provider authenticates while the durable store is unreachable. It
// serves the configured default admin and keeps a registry of accounts
// created during the outage.
type Provider struct {
	mu       sync.Mutex
	cfg      Config
	registry Registry
	otp      *OTPGenerator
	sender   mail.Sender
	composer *mail.Composer
	limiter  *ratelimit.Limiter
	now      func() time.Time
}

func NewProvider(cfg Config, registry Registry, sender mail.Sender, composer *mail.Composer, limiter *ratelimit.Limiter) *Provider {
	cfg.AdminEmail = NormalizeEmail(cfg.AdminEmail)
	if cfg.AdminNotifyEmail == "" {
		cfg.AdminNotifyEmail = cfg.AdminEmail
	}
	if cfg.AdminDisplayName == "" {
		cfg.AdminDisplayName = "Administrator"
	}
	if composer == nil {
		composer = mail.NewComposer("", "")
	}
	return &Provider{
		cfg:      cfg,
		registry: registry,
		otp:      NewOTPGenerator(cfg.AdminEmail, cfg.OTPSecret),
		sender:   sender,
		composer: composer,
		limiter:  limiter,
		now:      time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

func (p *Provider) CreateFallbackUser(email, password, displayName string, role model.Role) (*model.FallbackUser, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, appErr.ErrInvalid
	}
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return nil, appErr.ErrInvalid
	}
	user := &model.FallbackUser{
		Email:       email,
		Password:    password,
		DisplayName: strings.TrimSpace(displayName),
		Role:        role,
		CreatedAt:   p.now(),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.registry.Add(user) {
		return nil, ErrUserExists
	}
	return snapshot(user), nil
}

func (p *Provider) SendEmailVerificationOTP(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if p.limiter != nil {
		if err := p.limiter.Allow(ctx, ratelimit.EmailSend, ratelimit.ByEmail(email)); err != nil {
			return err
		}
	}
	code, err := randutil.SixDigitCode()
	if err != nil {
		return err
	}
	p.mu.Lock()
	user, ok := p.registry.Get(email)
	if !ok {
		p.mu.Unlock()
		return appErr.ErrNotFound
	}
	user.EmailVerificationOTP = code
	user.EmailVerificationSentAt = p.now()
	p.mu.Unlock()

	p.dispatch(ctx, email, func() (mail.Mail, error) {
		return p.composer.EmailVerification(email, code, int(EmailOTPTTL/time.Minute))
	})
	return nil
}

// VerifyEmailOTP has no attempt lockout of its own; the gateway puts it
// behind the verification-attempt rate limit.
func (p *Provider) VerifyEmailOTP(email, otp string) error {
	email = NormalizeEmail(email)
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.registry.Get(email)
	if !ok {
		return appErr.ErrNotFound
	}
	if user.EmailVerificationOTP == "" {
		return ErrOTPNotSent
	}
	if p.now().After(user.EmailVerificationSentAt.Add(EmailOTPTTL)) {
		return appErr.ErrCodeExpired
	}
	if subtle.ConstantTimeCompare([]byte(user.EmailVerificationOTP), []byte(strings.TrimSpace(otp))) != 1 {
		return appErr.ErrCodeInvalid
	}
	user.IsEmailVerified = true
	return nil
}

func (p *Provider) GenerateAdminConfirmationCode(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	code, err := randutil.AlphanumericCode(adminCodeLength)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	user, ok := p.registry.Get(email)
	if !ok {
		p.mu.Unlock()
		return "", appErr.ErrNotFound
	}
	if !user.IsEmailVerified {
		p.mu.Unlock()
		return "", ErrEmailNotVerified
	}
	user.AdminConfirmationCode = code
	user.AdminConfirmationGeneratedAt = p.now()
	p.mu.Unlock()

	if p.cfg.AdminNotifyEmail != "" {
		p.dispatch(ctx, p.cfg.AdminNotifyEmail, func() (mail.Mail, error) {
			return p.composer.AdminConfirmation(p.cfg.AdminNotifyEmail, email, code, int(AdminCodeTTL/time.Minute))
		})
	}
	return code, nil
}

func (p *Provider) VerifyAdminConfirmationCode(email, code string) error {
	email = NormalizeEmail(email)
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.registry.Get(email)
	if !ok {
		return appErr.ErrNotFound
	}
	if user.AdminConfirmationCode == "" {
		return ErrOTPNotSent
	}
	if p.now().After(user.AdminConfirmationGeneratedAt.Add(AdminCodeTTL)) {
		return appErr.ErrCodeExpired
	}
	given := strings.ToUpper(strings.TrimSpace(code))
	if subtle.ConstantTimeCompare([]byte(strings.ToUpper(user.AdminConfirmationCode)), []byte(given)) != 1 {
		return appErr.ErrCodeInvalid
	}
	user.IsAdminConfirmed = true
	return nil
}

// VerifyFallbackCredentials only accepts the configured default admin.
func (p *Provider) VerifyFallbackCredentials(email, password string) (*model.SessionUser, error) {
	if p.cfg.AdminEmail == "" || p.cfg.AdminPassword == "" {
		return nil, appErr.ErrInvalidCredentials
	}
	emailOK := subtle.ConstantTimeCompare([]byte(NormalizeEmail(email)), []byte(p.cfg.AdminEmail))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(p.cfg.AdminPassword))
	if emailOK&passOK != 1 {
		return nil, appErr.ErrInvalidCredentials
	}
	return p.DefaultAdmin(), nil
}

func (p *Provider) GenerateFallbackOTP(email string) (string, error) {
	return p.otp.Generate(email, p.now())
}

func (p *Provider) VerifyFallbackOTP(email, code string) (*model.SessionUser, error) {
	if !p.otp.Verify(email, code, p.now()) {
		return nil, appErr.ErrInvalidCredentials
	}
	return p.DefaultAdmin(), nil
}

func (p *Provider) IsDefaultAdmin(email string) bool {
	return p.cfg.AdminEmail != "" && NormalizeEmail(email) == p.cfg.AdminEmail
}

func (p *Provider) DefaultAdmin() *model.SessionUser {
	return &model.SessionUser{
		ID:             model.FallbackUserID,
		Email:          p.cfg.AdminEmail,
		Role:           model.RoleAdmin,
		DisplayName:    p.cfg.AdminDisplayName,
		EmailVerified:  true,
		AdminConfirmed: true,
	}
}

func (p *Provider) PendingUser(email string) (*model.FallbackUser, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.registry.Get(NormalizeEmail(email))
	if !ok {
		return nil, false
	}
	return snapshot(user), true
}

// PendingUsers lists accounts awaiting reconciliation into the durable
// store.
func (p *Provider) PendingUsers() []*model.FallbackUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	users := p.registry.List()
	out := make([]*model.FallbackUser, 0, len(users))
	for _, u := range users {
		out = append(out, snapshot(u))
	}
	return out
}

func (p *Provider) dispatch(ctx context.Context, to string, build func() (mail.Mail, error)) {
	logger := logutil.GetLogger(ctx).With(zap.String("to", to))
	if p.sender == nil {
		logger.Warn("fallback mail skipped: no sender configured")
		return
	}
	m, err := build()
	if err == nil {
		err = p.sender.Send(ctx, m)
	}
	if err != nil {
		logger.Error("send fallback mail failed", zap.Error(err))
	}
}

func snapshot(u *model.FallbackUser) *model.FallbackUser {
	cp := *u
	return &cp
}
