// Package api wires the management HTTP surface: a gin engine on its own
// port exposing read-only status/stats/log endpoints and a small set of
// channel mutation routes, grounded on the teacher's internal/api/server.go
// NewServer idiom (global middleware chain, one route group per concern,
// http.Handler wrapper).
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ai-gateway/gatewayd/internal/api/handler"
	"github.com/ai-gateway/gatewayd/internal/api/middleware"
	"github.com/ai-gateway/gatewayd/internal/channel"
	"github.com/ai-gateway/gatewayd/internal/eventbus"
)

// Server wraps the management HTTP engine.
type Server struct {
	router *gin.Engine
	logger *zap.Logger
}

// Deps holds everything the management API reads from or mutates.
type Deps struct {
	Registry  *channel.Registry
	Bus       *eventbus.Bus
	AuthToken string
	Logger    *zap.Logger
}

// NewServer builds the gin engine and registers every route in spec.md
// §4.H's table.
func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(deps.Bus))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.BodyLimit())

	statusHandler := handler.NewStatusHandler(deps.Registry)
	channelsHandler := handler.NewChannelsHandler(deps.Registry)
	statsHandler := handler.NewStatsHandler(deps.Registry)
	logsHandler := handler.NewLogsHandler(deps.Bus)
	configHandler := handler.NewConfigHandler(deps.Bus)

	api := r.Group("/api")
	api.Use(middleware.BearerAuth(deps.AuthToken))
	{
		api.GET("/status", statusHandler.GetStatus)
		api.GET("/version", statusHandler.GetVersion)

		api.GET("/channels", channelsHandler.List)
		api.POST("/channels/:name/toggle", channelsHandler.Toggle)
		api.POST("/channels/:name/keys", channelsHandler.AddKey)
		api.DELETE("/channels/:name/keys/:i", channelsHandler.RemoveKey)

		api.GET("/stats", statsHandler.GetStats)

		api.GET("/logs/recent", logsHandler.Recent)
		api.GET("/logs", logsHandler.Stream)

		api.POST("/config/reload", configHandler.Reload)
	}

	return &Server{router: r, logger: deps.Logger}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
