package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ai-gateway/gatewayd/internal/channel"
)

// StatsHandler serves GET /api/stats.
type StatsHandler struct {
	registry *channel.Registry
}

// NewStatsHandler constructs a StatsHandler bound to registry.
func NewStatsHandler(registry *channel.Registry) *StatsHandler {
	return &StatsHandler{registry: registry}
}

type channelStats struct {
	Name          string  `json:"name"`
	TotalRequests int64   `json:"total_requests"`
	SuccessCount  int64   `json:"success_count"`
	FailCount     int64   `json:"fail_count"`
	SuccessRate   float64 `json:"success_rate"`
}

// GetStats handles GET /api/stats: an aggregate across every channel plus a
// per-channel breakdown, each with a success rate (0 when no requests yet).
func (h *StatsHandler) GetStats(c *gin.Context) {
	all := h.registry.All()

	var aggTotal, aggSuccess, aggFail int64
	perChannel := make([]channelStats, 0, len(all))

	for _, ch := range all {
		s := ch.StatsSnapshot()
		aggTotal += s.TotalRequests
		aggSuccess += s.SuccessCount
		aggFail += s.FailCount
		perChannel = append(perChannel, channelStats{
			Name:          ch.Name,
			TotalRequests: s.TotalRequests,
			SuccessCount:  s.SuccessCount,
			FailCount:     s.FailCount,
			SuccessRate:   successRate(s.SuccessCount, s.TotalRequests),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"aggregate": channelStats{
			Name:          "*",
			TotalRequests: aggTotal,
			SuccessCount:  aggSuccess,
			FailCount:     aggFail,
			SuccessRate:   successRate(aggSuccess, aggTotal),
		},
		"channels": perChannel,
	})
}

func successRate(success, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(success) / float64(total)
}
