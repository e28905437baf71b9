package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/toolhub/hubauth/internal/middleware"
	"github.com/toolhub/hubauth/internal/pkg/response"
	"github.com/toolhub/hubauth/internal/service"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	OTP      string `json:"otp"`
	Method   string `json:"method"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.auth.Login(c.Request.Context(), service.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		OTP:       req.OTP,
		Method:    service.LoginMethod(req.Method),
		IP:        middleware.ClientIP(c),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var req emailRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.RequestOTP(c.Request.Context(), req.Email, middleware.ClientIP(c)); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"sent": true})
}

func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ForgotPassword(c.Request.Context(), req.Email, middleware.ClientIP(c)); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"sent": true})
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), req.Email, req.Code, req.NewPassword, middleware.ClientIP(c)); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), middleware.BearerToken(c)); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *AuthHandler) Me(c *gin.Context) {
	response.Success(c, middleware.CurrentUser(c))
}

// Ping answers role-gated probes such as /admin/ping.
func (h *AuthHandler) Ping(c *gin.Context) {
	user := middleware.CurrentUser(c)
	response.Success(c, gin.H{"ok": true, "role": user.Role})
}
