// Package middleware holds the gin middleware chain for the management API:
// request logging through the event bus, security headers, and a body-size
// cap — grounded on the teacher's internal/api/middleware/middleware.go
// (Logger, SecurityHeaders kept in spirit) and internal/api/middleware/auth.go
// (replaced below with bearer-token auth per SPEC_FULL.md §3.H).
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ai-gateway/gatewayd/internal/eventbus"
)

// Logger returns a gin middleware that emits one "request" event per
// completed request through bus instead of logging directly with zap — the
// bus fans the same record out to the zap-backed file sink and to any SSE
// subscriber of GET /api/logs.
func Logger(bus *eventbus.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		bus.Emit(eventbus.Info, "request", "management api request", map[string]any{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    path,
			"query":   query,
			"latency": latency.String(),
			"ip":      c.ClientIP(),
		})
	}
}

// SecurityHeaders adds the same conservative header set the teacher applies
// to its own admin UI.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// maxBodyBytes caps management-API request bodies per spec.md §4.H.
const maxBodyBytes = 1 << 20

// BodyLimit rejects/truncates request bodies over 1 MiB, mirroring the
// proxy's own body-cap idiom (internal/proxy/proxy.go's bufferBody).
func BodyLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}
		c.Next()
	}
}
