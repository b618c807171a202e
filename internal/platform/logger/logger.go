package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"humanitylink/internal/platform/config"
)

// New returns a structured logger writing to stdout.
func New(cfg config.Log) *slog.Logger {
	return NewWithWriter(os.Stdout, cfg)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, cfg config.Log) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("service", "humanitylink")
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
