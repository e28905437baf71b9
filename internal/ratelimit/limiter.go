package ratelimit

import (
	"context"
	"strconv"
	"time"

	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
)

// Policy is a fixed-window budget. Keys are always "{KeyPrefix}:{identity}",
// where identity is built with ByEmail, ByIP or ByUser.
type Policy struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

var (
	OTPRequest           = Policy{MaxRequests: 3, Window: 15 * time.Minute, KeyPrefix: "otp_request"}
	OTPRequestPrivileged = Policy{MaxRequests: 20, Window: 15 * time.Minute, KeyPrefix: "otp_request"}
	LoginAttempt         = Policy{MaxRequests: 5, Window: 15 * time.Minute, KeyPrefix: "login"}
	VerificationAttempt  = Policy{MaxRequests: 5, Window: 15 * time.Minute, KeyPrefix: "verify"}
	PasswordResetAttempt = Policy{MaxRequests: 5, Window: 15 * time.Minute, KeyPrefix: "password_reset"}
	PasswordView         = Policy{MaxRequests: 10, Window: time.Hour, KeyPrefix: "password_view"}
	FileUpload           = Policy{MaxRequests: 20, Window: time.Hour, KeyPrefix: "file_upload"}
	EmailSend            = Policy{MaxRequests: 10, Window: time.Hour, KeyPrefix: "email_send"}
	FallbackRegister     = Policy{MaxRequests: 10, Window: time.Hour, KeyPrefix: "fallback_register"}
)

func (p Policy) Key(identity string) string {
	return p.KeyPrefix + ":" + identity
}

// Each axis has its own key namespace, so an email field holding an ip
// address never lands on that ip's counter. Empty values stay empty and
// are skipped by Allow and Charge.

func ByEmail(email string) string {
	return axis("email", email)
}

func ByIP(ip string) string {
	return axis("ip", ip)
}

func ByUser(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func axis(name, value string) string {
	if value == "" {
		return ""
	}
	return name + ":" + value
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store owns the counters. Hit must make read-compare-increment atomic
// for a key.
type Store interface {
	Hit(ctx context.Context, key string, maxRequests int, window time.Duration, now time.Time) (Result, error)
}

type Limiter struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Limiter {
	if store == nil {
		store = NewMemoryStore(0)
	}
	return &Limiter{store: store, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) Check(ctx context.Context, identity string, policy Policy) (Result, error) {
	return l.store.Hit(ctx, policy.Key(identity), policy.MaxRequests, policy.Window, l.now())
}

// Allow checks every non-empty identity against policy independently and
// fails if any axis is exhausted. The returned error carries the latest
// reset time among the exhausted axes.
func (l *Limiter) Allow(ctx context.Context, policy Policy, identities ...string) error {
	var limited *appErr.RateLimitedError
	for _, identity := range identities {
		if identity == "" {
			continue
		}
		res, err := l.Check(ctx, identity, policy)
		if err != nil {
			return err
		}
		if res.Allowed {
			continue
		}
		if limited == nil || res.ResetAt.After(limited.ResetAt) {
			limited = &appErr.RateLimitedError{ResetAt: res.ResetAt}
		}
	}
	if limited != nil {
		return limited
	}
	return nil
}

// Charge is a hit recorded under a loose policy before the caller knows
// which budget applies.
type Charge struct {
	loose   Policy
	results []Result
}

// Charge hits every non-empty identity under loose and fails like Allow
// if any axis is exhausted. Enforce later narrows to the real budget.
func (l *Limiter) Charge(ctx context.Context, loose Policy, identities ...string) (*Charge, error) {
	c := &Charge{loose: loose}
	var limited *appErr.RateLimitedError
	for _, identity := range identities {
		if identity == "" {
			continue
		}
		res, err := l.Check(ctx, identity, loose)
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			if limited == nil || res.ResetAt.After(limited.ResetAt) {
				limited = &appErr.RateLimitedError{ResetAt: res.ResetAt}
			}
			continue
		}
		c.results = append(c.results, res)
	}
	if limited != nil {
		return nil, limited
	}
	return c, nil
}

// Enforce fails if any charged axis has used more than tight allows.
// tight must share the key prefix and window of the loose policy.
func (c *Charge) Enforce(tight Policy) error {
	var limited *appErr.RateLimitedError
	for _, res := range c.results {
		used := c.loose.MaxRequests - res.Remaining
		if used <= tight.MaxRequests {
			continue
		}
		if limited == nil || res.ResetAt.After(limited.ResetAt) {
			limited = &appErr.RateLimitedError{ResetAt: res.ResetAt}
		}
	}
	if limited != nil {
		return limited
	}
	return nil
}
