// Package app wires configuration into ready-to-use services.
package app

import (
	"io"
	"log/slog"
	"strings"

	"github.com/verte-zerg/sotaque/internal/config"
)

// NewLogger creates a *slog.Logger writing to w and sets it as the default.
//
// Format "json" produces JSON lines; anything else produces text with source
// positions. Level is one of debug, info, warn, error; default info.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: !strings.EqualFold(cfg.Format, "json"),
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
