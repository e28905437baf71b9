package response

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

type codeErr struct {
	code uint32
	msg  string
}

func (e codeErr) Error() string {
	return e.msg
}

func (e codeErr) Code() uint32 {
	return e.code
}

func AsCodeErr(code uint32, msg string) error {
	return codeErr{code: code, msg: msg}
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// Error writes the failure envelope with the given HTTP status and
// business error code.
func Error(c *gin.Context, status int, code int, message string) {
	proxyutil.FailJson(c, status, AsCodeErr(uint32(code), message))
}

// ErrorRetryAfter is Error plus a Retry-After header (whole seconds,
// rounded up) for rate-limit and lockout responses.
func ErrorRetryAfter(c *gin.Context, status int, code int, message string, wait time.Duration) {
	secs := int64(wait / time.Second)
	if wait%time.Second != 0 {
		secs++
	}
	c.Header("Retry-After", strconv.FormatInt(secs, 10))
	Error(c, status, code, message)
}
