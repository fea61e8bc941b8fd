package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jerome244/code-graph-explorer/internal/access"
	"github.com/jerome244/code-graph-explorer/internal/config"
	"github.com/jerome244/code-graph-explorer/internal/database"
	"github.com/jerome244/code-graph-explorer/internal/logging"
	"github.com/jerome244/code-graph-explorer/internal/redis"
	"github.com/jerome244/code-graph-explorer/internal/room"
	"github.com/jerome244/code-graph-explorer/internal/server"
	"github.com/jerome244/code-graph-explorer/internal/ticket"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(ctx, db); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return db
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, registry *room.Registry) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Rooms drain after the listener stops accepting: final
		// checkpoints, close frames to every client.
		registry.Shutdown()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	stateStore := redis.NewStateStore(redisClient)
	projectRepo := database.NewProjectRepo(pool)
	guard := access.NewGuard(projectRepo)
	verifier := ticket.NewVerifier(cfg.TicketSecret, cfg.TicketMaxAge, clock)
	registry := room.NewRegistry(clock, stateStore, cfg.RoomMaxMembers, cfg.CheckpointInterval)

	srv := server.NewServer(cfg, clock, verifier, guard, projectRepo, registry, pool, redisClient)

	done := runGracefulShutdown(srv, registry)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
