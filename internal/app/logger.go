package app

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger returns a slog.Logger with formatting + level based on env.
// prod writes JSON at INFO, everything else text at DEBUG; level overrides both.
func NewLogger(w io.Writer, env, level string) *slog.Logger {
	lvl := slog.LevelDebug
	if env == "prod" {
		lvl = slog.LevelInfo
	}
	if level != "" {
		_ = lvl.UnmarshalText([]byte(strings.ToUpper(level)))
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if env == "prod" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
