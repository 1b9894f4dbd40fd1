// Package observability configures structured logging for the control
// plane.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggingConfig selects the log level, format and destination.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|text
	Output string `yaml:"output"` // stdout|stderr|<path>
}

// NewLogger builds a slog.Logger from cfg. Unknown values fall back to
// info-level JSON on stderr.
func NewLogger(cfg LoggingConfig) (*slog.Logger, error) {
	var w io.Writer
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		w = f
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h), nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
