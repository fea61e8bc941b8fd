package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	// TicketSecret is shared with the external auth service that signs
	// join tickets.
	TicketSecret string
	TicketMaxAge time.Duration

	LogLevel  string
	LogFormat string

	// RoomMaxMembers caps unique members per room. Returning members
	// may always reconnect, even at cap.
	RoomMaxMembers int

	// MaxConnPerUser caps concurrent sockets per user across rooms.
	MaxConnPerUser int

	// CheckpointInterval is how often a dirty room flushes its state to
	// the checkpoint store. Zero disables periodic flushes.
	CheckpointInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:       getEnv("APP_ENV", "development"),
		Port:         getEnv("PORT", "8080"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		TicketSecret: getEnv("TICKET_SECRET", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "text"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.TicketSecret == "" {
		return nil, fmt.Errorf("TICKET_SECRET is required")
	}
	if len(cfg.TicketSecret) < 16 {
		return nil, fmt.Errorf("TICKET_SECRET must be at least 16 characters")
	}

	var err error
	if cfg.TicketMaxAge, err = getDurationEnv("TICKET_MAX_AGE", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.RoomMaxMembers, err = getIntEnv("ROOM_MAX_MEMBERS", 8); err != nil {
		return nil, err
	}
	if cfg.MaxConnPerUser, err = getIntEnv("MAX_CONN_PER_USER", 3); err != nil {
		return nil, err
	}
	if cfg.CheckpointInterval, err = getDurationEnv("CHECKPOINT_INTERVAL", 2*time.Minute); err != nil {
		return nil, err
	}

	if cfg.RoomMaxMembers < 1 {
		return nil, fmt.Errorf("ROOM_MAX_MEMBERS must be at least 1")
	}
	if cfg.MaxConnPerUser < 1 {
		return nil, fmt.Errorf("MAX_CONN_PER_USER must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (e.g. 60s): %w", key, err)
	}
	return v, nil
}
