package handler

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ai-gateway/gatewayd/internal/channel"
)

// ChannelsHandler serves the channel inspection/mutation routes.
type ChannelsHandler struct {
	registry *channel.Registry
}

// NewChannelsHandler constructs a ChannelsHandler bound to registry.
func NewChannelsHandler(registry *channel.Registry) *ChannelsHandler {
	return &ChannelsHandler{registry: registry}
}

// List handles GET /api/channels.
func (h *ChannelsHandler) List(c *gin.Context) {
	all := h.registry.All()
	views := make([]channel.View, 0, len(all))
	for _, ch := range all {
		views = append(views, ch.ToJSON())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	c.JSON(http.StatusOK, views)
}

func (h *ChannelsHandler) lookup(c *gin.Context) (*channel.Channel, bool) {
	name := c.Param("name")
	ch, ok := h.registry.Get(name)
	if !ok {
		errorResponse(c, http.StatusNotFound, "channel not found")
		return nil, false
	}
	return ch, true
}

// Toggle handles POST /api/channels/:name/toggle.
func (h *ChannelsHandler) Toggle(c *gin.Context) {
	ch, ok := h.lookup(c)
	if !ok {
		return
	}
	enabled := ch.Toggle()
	c.JSON(http.StatusOK, gin.H{"name": ch.Name, "enabled": enabled})
}

type addKeyRequest struct {
	Key string `json:"key"`
}

// AddKey handles POST /api/channels/:name/keys.
func (h *ChannelsHandler) AddKey(c *gin.Context) {
	ch, ok := h.lookup(c)
	if !ok {
		return
	}
	var req addKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Key == "" {
		errorResponse(c, http.StatusBadRequest, "body must be {\"key\": \"...\"}")
		return
	}
	ch.AddKey(req.Key)
	c.JSON(http.StatusOK, ch.ToJSON())
}

// RemoveKey handles DELETE /api/channels/:name/keys/:i.
func (h *ChannelsHandler) RemoveKey(c *gin.Context) {
	ch, ok := h.lookup(c)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(c.Param("i"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "index must be an integer")
		return
	}
	if !ch.RemoveKey(idx) {
		errorResponse(c, http.StatusBadRequest, "index out of range")
		return
	}
	c.JSON(http.StatusOK, ch.ToJSON())
}
