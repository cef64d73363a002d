package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ai-gateway/gatewayd/internal/eventbus"
)

const (
	recentLogCount    = 50
	replayLogCount    = 30
	heartbeatInterval = 15 * time.Second
)

// LogsHandler serves the recent-log snapshot and the live SSE stream.
type LogsHandler struct {
	bus *eventbus.Bus
}

// NewLogsHandler constructs a LogsHandler bound to bus.
func NewLogsHandler(bus *eventbus.Bus) *LogsHandler {
	return &LogsHandler{bus: bus}
}

// Recent handles GET /api/logs/recent: the last 50 ring entries, oldest
// first.
func (h *LogsHandler) Recent(c *gin.Context) {
	c.JSON(http.StatusOK, h.bus.Snapshot(recentLogCount))
}

// Stream handles GET /api/logs: replays the last 30 entries, then
// live-subscribes to every event, with a heartbeat comment every 15s so
// intermediary proxies don't time out the idle connection — follows the
// teacher's StreamSystemLogs shape (c.Stream over a select loop) but sources
// events from the in-process bus instead of tailing a log file.
func (h *LogsHandler) Stream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ch, cancel := h.bus.Subscribe("*")
	defer cancel()

	w := c.Writer
	for _, rec := range h.bus.Snapshot(replayLogCount) {
		writeRecord(w, rec)
	}
	w.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case rec, ok := <-ch:
			if !ok {
				return false
			}
			writeRecord(w, rec)
			return true
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			return true
		}
	})
}

func writeRecord(w io.Writer, rec eventbus.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
