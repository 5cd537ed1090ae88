// Package logging wires the process-wide zerolog logger the way the rest of
// the component loggers expect to find it: JSON output, RFC3339Nano
// timestamps, level from LOG_LEVEL, and an optional file+stdout multi-writer.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Init configures the global zerolog logger and returns it. logPath may be
// empty, in which case logs go to stdout only.
func Init(logPath string, levelStr string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = io.MultiWriter(os.Stdout, f)
		}
	}

	level := zerolog.InfoLevel
	if strings.TrimSpace(levelStr) != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelStr))); err == nil {
			level = lvl
		}
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(w).With().Timestamp().Logger()
	global = logger
	return logger
}

// global is the process-wide logger configured by Init. Component packages
// should prefer receiving a logger explicitly rather than reaching for this.
var global zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// WithTrace enriches a logger with the active span's trace/span IDs, if any.
func WithTrace(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return base
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	l := base.With().Str("trace_id", sc.TraceID().String())
	if sc.HasSpanID() {
		l = l.Str("span_id", sc.SpanID().String())
	}
	return l.Logger()
}

// Global returns the process-wide logger configured by Init.
func Global() zerolog.Logger { return global }
