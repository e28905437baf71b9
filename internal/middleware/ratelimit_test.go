package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/toolhub/hubauth/internal/ratelimit"
)

func TestRateLimit_BlocksAfterBudget(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now()
	limiter := ratelimit.New(ratelimit.NewMemoryStore(time.Minute)).WithClock(func() time.Time { return now })
	policy := ratelimit.Policy{MaxRequests: 2, Window: 10 * time.Second, KeyPrefix: "test"}
	handle := RateLimit(limiter, policy)

	for i := 0; i < 2; i++ {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/auth/fallback/register", nil)
		handle(c)
		require.False(t, c.IsAborted())
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/auth/fallback/register", nil)
	handle(c)
	require.True(t, c.IsAborted())
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimit_KeysByClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := ratelimit.New(ratelimit.NewMemoryStore(time.Minute))
	policy := ratelimit.Policy{MaxRequests: 1, Window: time.Minute, KeyPrefix: "test"}
	handle := RateLimit(limiter, policy)

	for _, addr := range []string{"10.0.0.1:1234", "10.0.0.2:1234"} {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.RemoteAddr = addr
		handle(c)
		require.False(t, c.IsAborted())
	}
}
