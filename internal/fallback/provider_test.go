package fallback

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toolhub/hubauth/internal/mail"
	"github.com/toolhub/hubauth/internal/model"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
	"github.com/toolhub/hubauth/internal/ratelimit"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Mail
	err  error
}

func (s *recordingSender) Send(_ context.Context, m mail.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return s.err
}

func (s *recordingSender) last() mail.Mail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestProvider(t *testing.T) (*Provider, *recordingSender, *testClock) {
	t.Helper()
	registry, err := NewLRURegistry(16)
	require.NoError(t, err)
	sender := &recordingSender{}
	clock := &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	limiter := ratelimit.New(ratelimit.NewMemoryStore(time.Minute)).WithClock(clock.Now)
	p := NewProvider(Config{
		AdminEmail:    "Admin@Example.com",
		AdminPassword: "bootstrap-pass",
		OTPSecret:     "secret",
	}, registry, sender, mail.NewComposer("Hub", ""), limiter).WithClock(clock.Now)
	return p, sender, clock
}

var mailCodeRe = regexp.MustCompile(`\*\*([A-Za-z0-9]+)\*\*`)

func codeFromMail(t *testing.T, m mail.Mail) string {
	t.Helper()
	match := mailCodeRe.FindStringSubmatch(m.Text)
	require.Len(t, match, 2, "no code in mail: %s", m.Text)
	return match[1]
}

func TestCreateFallbackUser_RejectsDuplicateEmail(t *testing.T) {
	p, _, _ := newTestProvider(t)
	u, err := p.CreateFallbackUser(" New@Example.com", "pw", "New", model.RoleUser)
	require.NoError(t, err)
	require.Equal(t, "new@example.com", u.Email)
	require.False(t, u.IsEmailVerified)
	require.False(t, u.IsAdminConfirmed)
	require.Equal(t, model.FallbackStateCreated, u.State())

	_, err = p.CreateFallbackUser("new@example.com", "pw2", "Other", model.RoleUser)
	require.ErrorIs(t, err, ErrUserExists)
	require.ErrorIs(t, err, appErr.ErrConflict)

	_, err = p.CreateFallbackUser("x@example.com", "pw", "X", model.Role("root"))
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestCreateFallbackUser_ConcurrentWithOTPSend(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	created := make(chan *model.FallbackUser, 8)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if u, err := p.CreateFallbackUser("race@example.com", "pw", "Race", model.RoleUser); err == nil {
				created <- u
			}
		}()
		go func() {
			defer wg.Done()
			_ = p.SendEmailVerificationOTP(ctx, "race@example.com")
		}()
	}
	wg.Wait()
	close(created)
	require.Len(t, created, 1)
	u, ok := p.PendingUser("race@example.com")
	require.True(t, ok)
	require.Equal(t, "race@example.com", u.Email)
}

func TestFallbackWorkflow_FullStateMachine(t *testing.T) {
	p, sender, clock := newTestProvider(t)
	ctx := context.Background()
	_, err := p.CreateFallbackUser("new@example.com", "pw", "New", model.RoleDev)
	require.NoError(t, err)

	require.ErrorIs(t, p.VerifyEmailOTP("new@example.com", "123456"), ErrOTPNotSent)

	require.NoError(t, p.SendEmailVerificationOTP(ctx, "new@example.com"))
	otp := codeFromMail(t, sender.last())
	u, _ := p.PendingUser("new@example.com")
	require.Equal(t, model.FallbackStateEmailOTPSent, u.State())

	_, err = p.GenerateAdminConfirmationCode(ctx, "new@example.com")
	require.ErrorIs(t, err, ErrEmailNotVerified)

	require.ErrorIs(t, p.VerifyEmailOTP("new@example.com", "000000"), appErr.ErrCodeInvalid)
	require.NoError(t, p.VerifyEmailOTP("new@example.com", otp))
	u, _ = p.PendingUser("new@example.com")
	require.Equal(t, model.FallbackStateEmailVerified, u.State())

	code, err := p.GenerateAdminConfirmationCode(ctx, "new@example.com")
	require.NoError(t, err)
	require.Len(t, code, 8)
	require.Equal(t, "admin@example.com", sender.last().To)
	u, _ = p.PendingUser("new@example.com")
	require.Equal(t, model.FallbackStateAdminCodeGenerated, u.State())

	clock.now = clock.now.Add(29 * time.Minute)
	require.ErrorIs(t, p.VerifyAdminConfirmationCode("new@example.com", "WRONGONE"), appErr.ErrCodeInvalid)
	require.NoError(t, p.VerifyAdminConfirmationCode("new@example.com", strings.ToLower(code)))
	u, _ = p.PendingUser("new@example.com")
	require.True(t, u.IsAdminConfirmed)
	require.Equal(t, model.FallbackStateAdminConfirmed, u.State())
}

func TestVerifyEmailOTP_ExpiresAfterTenMinutes(t *testing.T) {
	p, sender, clock := newTestProvider(t)
	ctx := context.Background()
	_, err := p.CreateFallbackUser("new@example.com", "pw", "New", model.RoleUser)
	require.NoError(t, err)
	require.NoError(t, p.SendEmailVerificationOTP(ctx, "new@example.com"))
	otp := codeFromMail(t, sender.last())

	clock.now = clock.now.Add(EmailOTPTTL + time.Second)
	require.ErrorIs(t, p.VerifyEmailOTP("new@example.com", otp), appErr.ErrCodeExpired)
}

func TestVerifyAdminConfirmationCode_Expires(t *testing.T) {
	p, sender, clock := newTestProvider(t)
	ctx := context.Background()
	_, err := p.CreateFallbackUser("new@example.com", "pw", "New", model.RoleUser)
	require.NoError(t, err)
	require.NoError(t, p.SendEmailVerificationOTP(ctx, "new@example.com"))
	require.NoError(t, p.VerifyEmailOTP("new@example.com", codeFromMail(t, sender.last())))
	code, err := p.GenerateAdminConfirmationCode(ctx, "new@example.com")
	require.NoError(t, err)

	clock.now = clock.now.Add(AdminCodeTTL + time.Second)
	require.ErrorIs(t, p.VerifyAdminConfirmationCode("new@example.com", code), appErr.ErrCodeExpired)
}

func TestSendEmailVerificationOTP_DeliveryFailureIsSwallowed(t *testing.T) {
	p, sender, _ := newTestProvider(t)
	sender.err = errors.New("smtp down")
	_, err := p.CreateFallbackUser("new@example.com", "pw", "New", model.RoleUser)
	require.NoError(t, err)
	require.NoError(t, p.SendEmailVerificationOTP(context.Background(), "new@example.com"))
	u, _ := p.PendingUser("new@example.com")
	require.NotEmpty(t, u.EmailVerificationOTP)

	require.ErrorIs(t, p.SendEmailVerificationOTP(context.Background(), "missing@example.com"), appErr.ErrNotFound)
}

func TestSendEmailVerificationOTP_RateLimited(t *testing.T) {
	p, _, _ := newTestProvider(t)
	_, err := p.CreateFallbackUser("new@example.com", "pw", "New", model.RoleUser)
	require.NoError(t, err)
	for i := 0; i < ratelimit.EmailSend.MaxRequests; i++ {
		require.NoError(t, p.SendEmailVerificationOTP(context.Background(), "new@example.com"))
	}
	var limited *appErr.RateLimitedError
	require.ErrorAs(t, p.SendEmailVerificationOTP(context.Background(), "new@example.com"), &limited)
}

func TestVerifyFallbackCredentials(t *testing.T) {
	p, _, _ := newTestProvider(t)
	user, err := p.VerifyFallbackCredentials("admin@example.com", "bootstrap-pass")
	require.NoError(t, err)
	require.Equal(t, model.FallbackUserID, user.ID)
	require.Equal(t, model.RoleAdmin, user.Role)
	require.True(t, user.IsFallback())

	_, err = p.VerifyFallbackCredentials("admin@example.com", "nope")
	require.ErrorIs(t, err, appErr.ErrInvalidCredentials)
	_, err = p.VerifyFallbackCredentials("other@example.com", "bootstrap-pass")
	require.ErrorIs(t, err, appErr.ErrInvalidCredentials)

	unconfigured := NewProvider(Config{}, nil, nil, nil, nil)
	_, err = unconfigured.VerifyFallbackCredentials("", "")
	require.ErrorIs(t, err, appErr.ErrInvalidCredentials)
}

func TestFallbackOTPRoundTrip(t *testing.T) {
	p, _, clock := newTestProvider(t)
	code, err := p.GenerateFallbackOTP("admin@example.com")
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Minute)
	user, err := p.VerifyFallbackOTP("admin@example.com", code)
	require.NoError(t, err)
	require.Equal(t, model.FallbackUserID, user.ID)

	clock.now = clock.now.Add(time.Minute)
	_, err = p.VerifyFallbackOTP("admin@example.com", code)
	require.ErrorIs(t, err, appErr.ErrInvalidCredentials)

	_, err = p.GenerateFallbackOTP("user@example.com")
	require.ErrorIs(t, err, ErrNotDefaultAdmin)
}

func TestLRURegistryEvictsOldest(t *testing.T) {
	r, err := NewLRURegistry(2)
	require.NoError(t, err)
	require.True(t, r.Add(&model.FallbackUser{Email: "a"}))
	require.True(t, r.Add(&model.FallbackUser{Email: "b"}))
	require.False(t, r.Add(&model.FallbackUser{Email: "a"}))
	require.True(t, r.Add(&model.FallbackUser{Email: "c"}))
	require.Len(t, r.List(), 2)
}
