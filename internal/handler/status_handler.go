package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/toolhub/hubauth/internal/pkg/response"
	"github.com/toolhub/hubauth/internal/service"
)

type StatusHandler struct {
	appName string
	probe   service.Prober
}

func NewStatusHandler(appName string, probe service.Prober) *StatusHandler {
	return &StatusHandler{appName: appName, probe: probe}
}

// Get is the public liveness view. It never reveals which backend is
// serving logins.
func (h *StatusHandler) Get(c *gin.Context) {
	response.Success(c, gin.H{
		"app_name": h.appName,
		"ok":       true,
	})
}

// Mode reports whether logins are currently served by the durable store
// or by the fallback provider. Admin only.
func (h *StatusHandler) Mode(c *gin.Context) {
	avail := h.probe.Probe(c.Request.Context())
	response.Success(c, gin.H{
		"app_name":      h.appName,
		"store_up":      avail.Available,
		"fallback_mode": !avail.Available,
	})
}
