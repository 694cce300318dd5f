// Package logger configures structured logging for the analyzer.
//
// It builds a slog.Logger from the runtime configuration, supporting text and
// JSON output at debug, info, warn, and error levels. Unrecognized values fall
// back to text output at info level.
package logger

import (
	"log/slog"
	"os"

	"github.com/auspexhq/auspex/cmd/analyzer/config"
)

// New creates a slog.Logger from the logging configuration.
func New(cfg *config.Config) *slog.Logger {
	level := parseLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
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
