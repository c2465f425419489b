package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

type ctxKey string

const ctxKeyFields ctxKey = "log_fields"

var (
	logger       atomic.Pointer[slog.Logger]
	debugEnabled = strings.EqualFold(os.Getenv("KHAROM_DEBUG"), "1")
)

func init() {
	logger.Store(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

// Configure replaces the process logger. format is "json" or "text".
func Configure(w io.Writer, level, format string) {
	lvl := parseLevel(level)
	if debugEnabled {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	logger.Store(slog.New(h))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func Logger() *slog.Logger {
	return logger.Load()
}

// WithFields returns a logger with additional fields.
func WithFields(kv ...any) *slog.Logger {
	return Logger().With(kv...)
}

// ContextWithFields stores fields that LoggerFromContext attaches to every record.
func ContextWithFields(ctx context.Context, kv ...any) context.Context {
	prev, _ := ctx.Value(ctxKeyFields).([]any)
	fields := make([]any, 0, len(prev)+len(kv))
	fields = append(fields, prev...)
	fields = append(fields, kv...)
	return context.WithValue(ctx, ctxKeyFields, fields)
}

// LoggerFromContext adds context fields if present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return Logger()
	}
	fields, _ := ctx.Value(ctxKeyFields).([]any)
	if len(fields) == 0 {
		return Logger()
	}
	return Logger().With(fields...)
}

// Debug logs only when KHAROM_DEBUG=1.
func Debug(msg string, kv ...any) {
	if debugEnabled {
		Logger().Debug(msg, kv...)
	}
}
