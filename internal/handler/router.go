package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/toolhub/hubauth/internal/middleware"
	"github.com/toolhub/hubauth/internal/ratelimit"
	"github.com/toolhub/hubauth/internal/service"
)

type RouterDeps struct {
	Auth          *AuthHandler
	Fallback      *FallbackHandler
	Activity      *ActivityHandler
	Status        *StatusHandler
	Authenticator middleware.Authenticator
	Limiter       *ratelimit.Limiter
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	if deps.Status != nil {
		api.GET("/status", deps.Status.Get)
	}
	api.POST("/auth/login", deps.Auth.Login)
	api.POST("/auth/otp", deps.Auth.RequestOTP)
	api.POST("/auth/forgot-password", deps.Auth.ForgotPassword)
	api.POST("/auth/reset-password", deps.Auth.ResetPassword)
	api.POST("/auth/logout", deps.Auth.Logout)

	api.POST("/auth/fallback/register", middleware.RateLimit(deps.Limiter, ratelimit.FallbackRegister), deps.Fallback.Register)
	api.POST("/auth/fallback/email/send", deps.Fallback.SendEmailOTP)
	api.POST("/auth/fallback/email/verify", deps.Fallback.VerifyEmail)
	api.POST("/auth/fallback/admin-code/verify", deps.Fallback.VerifyAdminCode)

	authGroup := api.Group("")
	authGroup.Use(middleware.SessionAuth(deps.Authenticator))
	authGroup.GET("/auth/me", middleware.Require(service.RequireSessionUser), deps.Auth.Me)

	adminGroup := authGroup.Group("")
	adminGroup.Use(middleware.Require(service.RequireAdmin))
	adminGroup.GET("/admin/ping", deps.Auth.Ping)
	adminGroup.POST("/auth/fallback/admin-code", deps.Fallback.AdminCode)
	adminGroup.GET("/admin/fallback/pending", deps.Fallback.Pending)
	if deps.Activity != nil {
		adminGroup.GET("/admin/activity", deps.Activity.Recent)
	}
	if deps.Status != nil {
		adminGroup.GET("/admin/status", deps.Status.Mode)
	}

	authGroup.GET("/dev/ping", middleware.Require(service.RequireDev), deps.Auth.Ping)
}
