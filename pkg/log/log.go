// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
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

// Setup installs the default logger. format is "text" or "json".
func Setup(logLevel, format string) {
	slog.SetDefault(New(os.Stderr, logLevel, format))
}

// New builds a logger writing to w.
func New(w io.Writer, logLevel, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(logLevel)}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
