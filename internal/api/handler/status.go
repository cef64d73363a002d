package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ai-gateway/gatewayd/internal/channel"
	"github.com/ai-gateway/gatewayd/internal/version"
)

// StatusHandler serves GET /api/status and GET /api/version.
type StatusHandler struct {
	registry  *channel.Registry
	startedAt time.Time
}

// NewStatusHandler constructs a StatusHandler bound to registry, measuring
// uptime from the moment it's created (process start).
func NewStatusHandler(registry *channel.Registry) *StatusHandler {
	return &StatusHandler{registry: registry, startedAt: time.Now()}
}

type channelCounts struct {
	Healthy int `json:"healthy"`
	Total   int `json:"total"`
}

// GetStatus handles GET /api/status.
func (h *StatusHandler) GetStatus(c *gin.Context) {
	all := h.registry.All()
	counts := channelCounts{Total: len(all)}
	for _, ch := range all {
		if ch.HealthState() == channel.HealthHealthy {
			counts.Healthy++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "running",
		"uptime":   time.Since(h.startedAt).String(),
		"channels": counts,
		"version":  version.Short(),
	})
}

// GetVersion handles GET /api/version.
func (h *StatusHandler) GetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    version.Short(),
		"git_commit": version.GitCommit,
		"build_time": version.BuildTime,
		"info":       version.Info(),
	})
}
