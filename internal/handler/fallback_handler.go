package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/toolhub/hubauth/internal/middleware"
	"github.com/toolhub/hubauth/internal/model"
	"github.com/toolhub/hubauth/internal/pkg/response"
	"github.com/toolhub/hubauth/internal/service"
)

type FallbackHandler struct {
	auth *service.AuthService
}

func NewFallbackHandler(auth *service.AuthService) *FallbackHandler {
	return &FallbackHandler{auth: auth}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type pendingUserView struct {
	Email       string              `json:"email"`
	DisplayName string              `json:"display_name"`
	Role        model.Role          `json:"role"`
	State       model.FallbackState `json:"state"`
	CreatedAt   int64               `json:"created_at"`
}

func toPendingView(u *model.FallbackUser) pendingUserView {
	return pendingUserView{
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		State:       u.State(),
		CreatedAt:   u.CreatedAt.Unix(),
	}
}

func (h *FallbackHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.auth.RegisterPending(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, toPendingView(user))
}

func (h *FallbackHandler) SendEmailOTP(c *gin.Context) {
	var req emailRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.SendPendingOTP(c.Request.Context(), req.Email); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"sent": true})
}

func (h *FallbackHandler) VerifyEmail(c *gin.Context) {
	var req codeRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.VerifyPendingEmail(c.Request.Context(), req.Email, req.Code, middleware.ClientIP(c)); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"verified": true})
}

// AdminCode returns the code to the calling admin as well as mailing it.
func (h *FallbackHandler) AdminCode(c *gin.Context) {
	var req emailRequest
	if !bindJSON(c, &req) {
		return
	}
	code, err := h.auth.IssueAdminCode(c.Request.Context(), middleware.CurrentUser(c), req.Email)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"code": code})
}

func (h *FallbackHandler) VerifyAdminCode(c *gin.Context) {
	var req codeRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ConfirmPending(c.Request.Context(), req.Email, req.Code, middleware.ClientIP(c)); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"confirmed": true})
}

func (h *FallbackHandler) Pending(c *gin.Context) {
	users, err := h.auth.PendingUsers(middleware.CurrentUser(c))
	if err != nil {
		handleError(c, err)
		return
	}
	out := make([]pendingUserView, 0, len(users))
	for _, u := range users {
		out = append(out, toPendingView(u))
	}
	response.Success(c, out)
}
