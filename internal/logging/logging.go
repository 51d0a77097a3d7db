// Package logging provides the process-wide structured logger for delta.
//
// It mirrors the teacher's pkg/logger package: a configurable slog.Logger
// with a filtering handler that silences third-party noise below DEBUG, and
// a JSON or plain text format. Output is never colorized.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const deltaPackagePrefix = "github.com/deltaengine/delta"

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// ParseLevel converts a string log level to slog.Level. Unknown strings fall
// back to LevelInfo rather than erroring, matching the teacher's permissive
// CLI behavior.
func ParseLevel(s string) slog.Level {
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

// Init (re)configures the default logger. format "json" selects a JSON
// handler; "text" and any other value select a plain text handler, whether
// or not out is a terminal.
func Init(level slog.Level, out io.Writer, format string) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	defaultLogger = slog.New(&filteringHandler{handler: handler, minLevel: level})
}

// Default returns the process-wide logger.
func Default() *slog.Logger { return defaultLogger }

// With returns a logger scoped with the given attributes, e.g. run_id.
func With(args ...any) *slog.Logger { return defaultLogger.With(args...) }

// filteringHandler suppresses logs emitted from outside the delta module
// unless the configured level is DEBUG or lower. This keeps noisy
// third-party libraries (the LLM HTTP client, the PTY library) quiet at
// normal verbosity while still surfacing our own warnings and errors.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug {
		return h.handler.Handle(ctx, record)
	}
	if record.Level >= slog.LevelWarn || h.isDeltaPackage(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func (h *filteringHandler) isDeltaPackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	name := fn.Name()
	file, _ := fn.FileLine(pc)
	return strings.Contains(name, deltaPackagePrefix) || strings.Contains(file, "/delta/")
}

// OpenLogFile opens (creating if needed) a log file for append, returning a
// cleanup func that closes it.
func OpenLogFile(path string) (*os.File, func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
