// Package logger builds the process-wide slog handler from configuration.
package logger

import (
	"log/slog"
	"os"

	"github.com/Dominik1799/zm-mailbox/config"
)

func level() slog.Level {
	switch config.Config.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns the logger the server installs as the slog default.
func New() *slog.Logger {
	opts := &slog.HandlerOptions{Level: level()}
	var h slog.Handler
	if config.Config.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}
