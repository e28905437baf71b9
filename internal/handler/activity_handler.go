package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/toolhub/hubauth/internal/model"
	"github.com/toolhub/hubauth/internal/pkg/response"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

type ActivityLister interface {
	ListRecent(ctx context.Context, limit uint) ([]*model.ActivityLog, error)
}

type ActivityHandler struct {
	logs ActivityLister
}

func NewActivityHandler(logs ActivityLister) *ActivityHandler {
	return &ActivityHandler{logs: logs}
}

func (h *ActivityHandler) Recent(c *gin.Context) {
	limit := defaultActivityLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}
	items, err := h.logs.ListRecent(c.Request.Context(), uint(limit))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, items)
}
