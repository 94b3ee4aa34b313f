// Package logging builds the process-wide structured logger.
//
// Go Learning Note: log/slog
// slog (Go 1.21+) writes key/value records through a Handler. TextHandler
// prints logfmt-style lines that read well in a terminal, JSONHandler prints
// one JSON object per line for log shippers. Callers only ever see
// *slog.Logger, so switching formats never touches call sites.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"rydar/internal/config"
)

// New returns a logger writing to w in the configured format and level.
func New(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
	return slog.New(handler), nil
}
