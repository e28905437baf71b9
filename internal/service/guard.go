package service

import (
	"github.com/toolhub/hubauth/internal/model"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
)

// RequireSessionUser fails with a 401 AuthzError when there is no user.
func RequireSessionUser(user *model.SessionUser) (*model.SessionUser, error) {
	if user == nil {
		return nil, appErr.Unauthorized()
	}
	return user, nil
}

func RequireAdmin(user *model.SessionUser) (*model.SessionUser, error) {
	return requireRole(user, model.RoleAdmin)
}

// RequireDev also admits admins.
func RequireDev(user *model.SessionUser) (*model.SessionUser, error) {
	return requireRole(user, model.RoleDev, model.RoleAdmin)
}

func requireRole(user *model.SessionUser, roles ...model.Role) (*model.SessionUser, error) {
	if user == nil {
		return nil, appErr.Unauthorized()
	}
	for _, role := range roles {
		if user.Role == role {
			return user, nil
		}
	}
	return nil, appErr.Forbidden()
}
