package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jerome244/code-graph-explorer/internal/config"
	"github.com/jerome244/code-graph-explorer/internal/domain"
	"github.com/jerome244/code-graph-explorer/internal/logging"
	"github.com/jerome244/code-graph-explorer/internal/room"
)

// postgresHealthChecker is a minimal interface for database health checks.
type postgresHealthChecker interface {
	Ping(ctx context.Context) error
}

// redisHealthChecker is a minimal interface for Redis health checks.
type redisHealthChecker interface {
	Ping(ctx context.Context) *goredis.StatusCmd
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	clock     clockwork.Clock
	verifier  domain.TicketVerifier
	guard     domain.AccessResolver
	repo      domain.ProjectRepository
	registry  *room.Registry
	userConns *UserConnectionLimiter
	upgrader  websocket.Upgrader
	db        postgresHealthChecker
	redis     redisHealthChecker
	startTime time.Time
}

func NewServer(cfg *config.Config, clock clockwork.Clock, verifier domain.TicketVerifier, guard domain.AccessResolver, repo domain.ProjectRepository, registry *room.Registry, db postgresHealthChecker, redis redisHealthChecker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:      e,
		config:    cfg,
		clock:     clock,
		verifier:  verifier,
		guard:     guard,
		repo:      repo,
		registry:  registry,
		userConns: NewUserConnectionLimiter(cfg.MaxConnPerUser),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The broker sits behind the frontend proxy; browsers of
			// any origin carry their proof in the ticket.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		db:        db,
		redis:     redis,
		startTime: clock.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	logging.Logger.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
