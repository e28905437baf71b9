package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/toolhub/hubauth/internal/model"
	"github.com/toolhub/hubauth/internal/pkg/errcode"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
	"github.com/toolhub/hubauth/internal/pkg/response"
)

const ContextUserKey = "session_user"

type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*model.SessionUser, error)
}

// Guard is a role check such as service.RequireAdmin.
type Guard func(user *model.SessionUser) (*model.SessionUser, error)

// BearerToken returns the credential of an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func CurrentUser(c *gin.Context) *model.SessionUser {
	value, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, _ := value.(*model.SessionUser)
	return user
}

// SessionAuth resolves the bearer credential, a session id or a fallback
// token, and stores the user on the context.
func SessionAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			response.Error(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "missing authorization")
			c.Abort()
			return
		}
		user, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "invalid session")
			c.Abort()
			return
		}
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// Require runs guard against the authenticated user.
func Require(guard Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := guard(CurrentUser(c)); err != nil {
			var authz *appErr.AuthzError
			if errors.As(err, &authz) && authz.Status == http.StatusForbidden {
				response.Error(c, http.StatusForbidden, errcode.ErrForbidden, "forbidden")
			} else {
				response.Error(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "unauthorized")
			}
			c.Abort()
			return
		}
		c.Next()
	}
}
