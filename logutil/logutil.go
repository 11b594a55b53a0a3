// Package logutil - slog-Logger mit TRACE-Level.
package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"
)

// LevelTrace liegt unter DEBUG (EDGEFUSE_DEBUG=2).
const LevelTrace slog.Level = -8

// NewLogger erstellt einen Text-Logger mit Quellangabe und TRACE-Label.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				if attr.Value.Any().(slog.Level) == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				source := attr.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attr
		},
	}))
}

type key string

// Trace loggt auf TRACE ueber den Default-Logger.
func Trace(msg string, args ...any) {
	TraceContext(context.WithValue(context.TODO(), key("skip"), 1), msg, args...)
}

// TraceContext loggt auf TRACE ueber den Default-Logger.
func TraceContext(ctx context.Context, msg string, args ...any) {
	trace(ctx, slog.Default(), 2, msg, args...)
}

// TraceLogger loggt auf TRACE ueber logger und behaelt die Aufrufer-Position.
func TraceLogger(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	trace(ctx, logger, 2, msg, args...)
}

func trace(ctx context.Context, logger *slog.Logger, depth int, msg string, args ...any) {
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}

	skip, _ := ctx.Value(key("skip")).(int)
	var pcs [1]uintptr
	runtime.Callers(depth+skip+1, pcs[:])
	record := slog.NewRecord(time.Now(), LevelTrace, msg, pcs[0])
	record.Add(args...)
	_ = logger.Handler().Handle(ctx, record)
}
