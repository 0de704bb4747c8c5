// Package nlog provides the structured logging handler shared by the
// core packages, using log/slog to trace header and relocation
// decisions rather than writing to stdio directly. Stdio output stays
// the job of explicit, caller-invoked helpers.
package nlog

import (
	"log/slog"
	"os"

	"github.com/xyproto/ne16/internal/config"
)

// New builds a *slog.Logger for the given config: JSON output when
// cfg.JSONLog is set (suited to a driver piping output to another
// tool), human-readable text otherwise, and debug-level output when
// cfg.Verbose is set.
func New(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.JSONLog {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Discard is a logger that drops everything, for use by packages and
// tests that don't want tracing.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
