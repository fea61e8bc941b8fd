package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// WebSocket entry points. Auth happens after the upgrade so
	// rejections can carry a close code the client can read.
	s.echo.GET("/ws/projects/:id", s.handleProjectSocket)
	s.echo.GET("/ws/shared/:token", s.handleSharedSocket)
	s.echo.GET("/ws/game/:id", s.handleGameSocket)
}
