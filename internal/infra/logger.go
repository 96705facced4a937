package infra

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger from config. Text handler on
// stdout; level parse falls back to info.
func NewLogger(cfg *Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
