package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(store Store) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	return New(store).WithClock(clock.Now), clock
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	_, rdb := newTestRedis(t)
	return map[string]Store{
		"memory": NewMemoryStore(time.Minute),
		"redis":  NewRedisStore(rdb, "test"),
	}
}

func TestLimiterCheck_WindowBudget(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			limiter, clock := newTestLimiter(store)
			policy := Policy{MaxRequests: 3, Window: time.Second, KeyPrefix: "t"}
			first := clock.Now()
			ctx := context.Background()

			last := policy.MaxRequests
			for i := 0; i < policy.MaxRequests; i++ {
				res, err := limiter.Check(ctx, "user@example.com", policy)
				require.NoError(t, err)
				require.True(t, res.Allowed)
				require.Less(t, res.Remaining, last)
				last = res.Remaining
				clock.Advance(100 * time.Millisecond)
			}
			require.Equal(t, 0, last)

			res, err := limiter.Check(ctx, "user@example.com", policy)
			require.NoError(t, err)
			require.False(t, res.Allowed)
			require.Equal(t, 0, res.Remaining)
			require.True(t, res.ResetAt.Equal(first.Add(time.Second)), "reset %v", res.ResetAt)
		})
	}
}

func TestLimiterCheck_NewWindowAfterReset(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			limiter, clock := newTestLimiter(store)
			policy := Policy{MaxRequests: 2, Window: time.Second, KeyPrefix: "t"}
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				_, err := limiter.Check(ctx, "k", policy)
				require.NoError(t, err)
			}

			clock.Advance(time.Second)
			res, err := limiter.Check(ctx, "k", policy)
			require.NoError(t, err)
			require.False(t, res.Allowed, "window must not reset before resetAt has passed")

			clock.Advance(time.Millisecond)
			res, err = limiter.Check(ctx, "k", policy)
			require.NoError(t, err)
			require.True(t, res.Allowed)
			require.Equal(t, policy.MaxRequests-1, res.Remaining)
			require.True(t, res.ResetAt.Equal(clock.Now().Add(time.Second)))
		})
	}
}

func TestLimiterCheck_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(NewMemoryStore(time.Minute))
	ctx := context.Background()
	policy := Policy{MaxRequests: 1, Window: time.Minute, KeyPrefix: "login"}

	res, err := limiter.Check(ctx, "a@example.com", policy)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	res, err = limiter.Check(ctx, "b@example.com", policy)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	other := Policy{MaxRequests: 1, Window: time.Minute, KeyPrefix: "verify"}
	res, err = limiter.Check(ctx, "a@example.com", other)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestLimiterAllow_EitherAxisExhausted(t *testing.T) {
	limiter, clock := newTestLimiter(NewMemoryStore(time.Minute))
	ctx := context.Background()
	policy := Policy{MaxRequests: 2, Window: time.Minute, KeyPrefix: "login"}

	require.NoError(t, limiter.Allow(ctx, policy, "a@example.com", "10.0.0.1"))
	require.NoError(t, limiter.Allow(ctx, policy, "b@example.com", "10.0.0.1"))

	clock.Advance(time.Second)
	err := limiter.Allow(ctx, policy, "c@example.com", "10.0.0.1")
	var limited *appErr.RateLimitedError
	require.True(t, errors.As(err, &limited))
	require.ErrorIs(t, err, appErr.ErrTooMany)
	require.True(t, limited.ResetAt.Equal(clock.Now().Add(-time.Second).Add(time.Minute)))

	require.NoError(t, limiter.Allow(ctx, policy, "c@example.com", ""))
}

func TestLimiterCheck_ConcurrentCallsNeverExceedBudget(t *testing.T) {
	limiter, _ := newTestLimiter(NewMemoryStore(time.Minute))
	policy := Policy{MaxRequests: 10, Window: time.Minute, KeyPrefix: "race"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.Check(context.Background(), "same", policy)
			if err != nil {
				t.Error(err)
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, policy.MaxRequests, allowed)
}

func TestMemoryStoreCleanup_RemovesExpiredEntries(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	base := time.Now()
	ctx := context.Background()

	_, err := store.Hit(ctx, "expired", 1, time.Second, base)
	require.NoError(t, err)
	_, err = store.Hit(ctx, "active", 1, time.Hour, base)
	require.NoError(t, err)

	removed := store.Cleanup(base.Add(2 * time.Second))
	require.Equal(t, 1, removed)
	require.Equal(t, 1, store.Len())
	require.Contains(t, store.entries, "active")
}

func TestPredefinedPolicies(t *testing.T) {
	require.Equal(t, 3, OTPRequest.MaxRequests)
	require.Equal(t, 20, OTPRequestPrivileged.MaxRequests)
	require.Equal(t, OTPRequest.KeyPrefix, OTPRequestPrivileged.KeyPrefix)
	require.Equal(t, 15*time.Minute, LoginAttempt.Window)
	require.Equal(t, 5, VerificationAttempt.MaxRequests)
	require.Equal(t, time.Hour, EmailSend.Window)
	require.Equal(t, "login:ip:10.0.0.1", LoginAttempt.Key(ByIP("10.0.0.1")))
	require.Equal(t, "verify:user:42", VerificationAttempt.Key(ByUser(42)))
	require.NotEqual(t, OTPRequest.KeyPrefix, PasswordResetAttempt.KeyPrefix)
	require.NotEqual(t, EmailSend.KeyPrefix, FallbackRegister.KeyPrefix)
	require.Empty(t, ByEmail(""))
	require.Empty(t, ByIP(""))
}

func TestLimiterAllow_AxesDoNotShareKeys(t *testing.T) {
	limiter, _ := newTestLimiter(NewMemoryStore(time.Minute))
	ctx := context.Background()

	for i := 0; i < LoginAttempt.MaxRequests; i++ {
		require.NoError(t, limiter.Allow(ctx, LoginAttempt, ByEmail("10.9.9.9"), ByIP("203.0.113.1")))
	}
	require.ErrorIs(t, limiter.Allow(ctx, LoginAttempt, ByEmail("10.9.9.9")), appErr.ErrTooMany)
	require.NoError(t, limiter.Allow(ctx, LoginAttempt, ByEmail("member@example.com"), ByIP("10.9.9.9")))
}

func TestLimiterCharge_TightensAfterLookup(t *testing.T) {
	limiter, _ := newTestLimiter(NewMemoryStore(time.Minute))
	ctx := context.Background()

	for i := 0; i < OTPRequest.MaxRequests; i++ {
		charge, err := limiter.Charge(ctx, OTPRequestPrivileged, "user@example.com", "10.0.0.2")
		require.NoError(t, err)
		require.NoError(t, charge.Enforce(OTPRequest))
	}
	charge, err := limiter.Charge(ctx, OTPRequestPrivileged, "user@example.com", "10.0.0.2")
	require.NoError(t, err)
	err = charge.Enforce(OTPRequest)
	require.ErrorIs(t, err, appErr.ErrTooMany)
	require.NoError(t, charge.Enforce(OTPRequestPrivileged))
}

func TestLimiterCharge_LooseBudgetExhausted(t *testing.T) {
	limiter, clock := newTestLimiter(NewMemoryStore(time.Minute))
	ctx := context.Background()
	loose := Policy{MaxRequests: 2, Window: time.Minute, KeyPrefix: "otp_request"}

	for i := 0; i < 2; i++ {
		_, err := limiter.Charge(ctx, loose, "admin@example.com")
		require.NoError(t, err)
	}
	_, err := limiter.Charge(ctx, loose, "admin@example.com")
	var limited *appErr.RateLimitedError
	require.True(t, errors.As(err, &limited))
	require.True(t, limited.ResetAt.Equal(clock.Now().Add(time.Minute)))
}
