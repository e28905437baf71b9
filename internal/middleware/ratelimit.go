package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/toolhub/hubauth/internal/pkg/errcode"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
	"github.com/toolhub/hubauth/internal/pkg/response"
	"github.com/toolhub/hubauth/internal/ratelimit"
)

// RateLimit charges each request to policy under the client ip. A broken
// limiter store lets the request through.
func RateLimit(limiter *ratelimit.Limiter, policy ratelimit.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := ClientIP(c)
		err := limiter.Allow(c.Request.Context(), policy, ratelimit.ByIP(ip))
		if err == nil {
			c.Next()
			return
		}
		logger := logutil.GetLogger(c.Request.Context())
		var limited *appErr.RateLimitedError
		if !errors.As(err, &limited) {
			logger.Error("rate limit check failed", zap.String("policy", policy.KeyPrefix), zap.Error(err))
			c.Next()
			return
		}
		logger.Warn("rate limit hit",
			zap.String("ip", ip),
			zap.String("policy", policy.KeyPrefix),
			zap.String("path", c.FullPath()),
		)
		response.ErrorRetryAfter(c, http.StatusTooManyRequests, errcode.ErrTooMany,
			http.StatusText(http.StatusTooManyRequests), limited.RetryAfter(time.Now()))
		c.Abort()
	}
}
