// Package logging builds the process slog.Logger from the logging config.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"PMCMirror/internal/config"
)

// New creates a logger on stderr so command output on stdout stays clean.
func New(cfg config.LoggingConfig) *slog.Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFromString(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
