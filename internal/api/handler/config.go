package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ai-gateway/gatewayd/internal/eventbus"
)

// ConfigHandler serves the reload-trigger route. It does not reload config
// itself — it only emits the request; cmd/gatewayd subscribes to the
// "config_reload_request" topic and owns the actual reread-and-swap, since
// only main has the config path and the live router/registry/tunnel manager
// references a full reload must rebuild.
type ConfigHandler struct {
	bus *eventbus.Bus
}

// NewConfigHandler constructs a ConfigHandler bound to bus.
func NewConfigHandler(bus *eventbus.Bus) *ConfigHandler {
	return &ConfigHandler{bus: bus}
}

// Reload handles POST /api/config/reload.
func (h *ConfigHandler) Reload(c *gin.Context) {
	h.bus.Emit(eventbus.Info, "config_reload_request", "config reload requested via management api", nil)
	c.JSON(http.StatusOK, gin.H{"status": "reload requested"})
}
