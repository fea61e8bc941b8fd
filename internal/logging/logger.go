package logging

import (
	"log/slog"
	"os"
)

// Logger is the application-wide structured logger instance.
var Logger *slog.Logger

// InitLogger initializes the global logger with the specified level and format.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
func InitLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// base falls back to the default logger before InitLogger has run.
func base() *slog.Logger {
	if Logger != nil {
		return Logger
	}
	return slog.Default()
}

// WithRoom returns a logger with a room_id field.
func WithRoom(roomID string) *slog.Logger {
	return base().With("room_id", roomID)
}

// WithPeer returns a logger with a peer_id field.
func WithPeer(peerID string) *slog.Logger {
	return base().With("peer_id", peerID)
}

// WithError returns a logger with an error field.
func WithError(err error) *slog.Logger {
	return base().With("error", err)
}
