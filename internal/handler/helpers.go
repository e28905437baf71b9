package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/toolhub/hubauth/internal/middleware"
	"github.com/toolhub/hubauth/internal/pkg/errcode"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
	"github.com/toolhub/hubauth/internal/pkg/response"
)

// genericCredentialMessage is shared by every credential and code
// mismatch so responses do not reveal which part was wrong.
const genericCredentialMessage = "invalid credentials or code"

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID, _ := c.Get(middleware.ContextRequestIDKey)
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)

	var (
		limited *appErr.RateLimitedError
		locked  *appErr.CodeLockedError
		authz   *appErr.AuthzError
	)
	switch {
	case errors.As(err, &limited):
		response.ErrorRetryAfter(c, http.StatusTooManyRequests, errcode.ErrTooMany,
			"too many requests", limited.RetryAfter(time.Now()))
	case errors.As(err, &locked):
		response.ErrorRetryAfter(c, http.StatusLocked, errcode.ErrCodeLocked,
			"too many failed attempts, code locked", time.Until(locked.Until))
	case errors.As(err, &authz):
		if authz.Status == http.StatusForbidden {
			response.Error(c, http.StatusForbidden, errcode.ErrForbidden, "forbidden")
		} else {
			response.Error(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "unauthorized")
		}
	case errors.Is(err, appErr.ErrForbidden):
		response.Error(c, http.StatusForbidden, errcode.ErrForbidden, "forbidden")
	case errors.Is(err, appErr.ErrInvalidCredentials),
		errors.Is(err, appErr.ErrCodeInvalid),
		errors.Is(err, appErr.ErrCodeExpired):
		response.Error(c, http.StatusUnauthorized, errcode.ErrInvalidCredentials, genericCredentialMessage)
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, http.StatusConflict, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, http.StatusNotFound, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrStorageUnavailable):
		logger.Error("request failed: store unavailable")
		response.Error(c, http.StatusServiceUnavailable, errcode.ErrServiceUnavailable, "service temporarily unavailable")
		return
	default:
		logger.Error("request failed")
		response.Error(c, http.StatusInternalServerError, errcode.ErrInternal, "internal error")
		return
	}
	logger.Debug("request rejected")
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
		return false
	}
	return true
}
