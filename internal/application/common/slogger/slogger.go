// Package slogger provides the structured logging surface used across the
// filesearch pipeline. It wraps log/slog with a Fields map call style so
// call sites stay uniform and tests can swap the handler.
package slogger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Fields represents structured logging fields.
type Fields map[string]interface{}

var (
	defaultLogger *slog.Logger //nolint:gochecknoglobals // Singleton logging infrastructure
	defaultOnce   sync.Once    //nolint:gochecknoglobals // Thread-safe singleton initialization
	mu            sync.RWMutex //nolint:gochecknoglobals // Guards logger replacement
)

// Configure installs the global logger with the given level and format.
// Format is "json" or "text"; unknown values fall back to json.
func Configure(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	mu.Lock()
	defaultLogger = slog.New(handler)
	mu.Unlock()
}

// SetGlobalLogger allows setting a custom logger (useful for testing).
func SetGlobalLogger(logger *slog.Logger) {
	mu.Lock()
	defaultLogger = logger
	mu.Unlock()
}

func getLogger() *slog.Logger {
	defaultOnce.Do(func() {
		mu.Lock()
		if defaultLogger == nil {
			defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
		}
		mu.Unlock()
	})

	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

func attrs(fields Fields) []any {
	if len(fields) == 0 {
		return nil
	}
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}

// Context-aware logging functions (preferred)

// Debug logs a debug message with context.
func Debug(ctx context.Context, msg string, fields Fields) {
	getLogger().DebugContext(ctx, msg, attrs(fields)...)
}

// Info logs an info message with context.
func Info(ctx context.Context, msg string, fields Fields) {
	getLogger().InfoContext(ctx, msg, attrs(fields)...)
}

// Warn logs a warning message with context.
func Warn(ctx context.Context, msg string, fields Fields) {
	getLogger().WarnContext(ctx, msg, attrs(fields)...)
}

// Error logs an error message with context.
func Error(ctx context.Context, msg string, fields Fields) {
	getLogger().ErrorContext(ctx, msg, attrs(fields)...)
}

// ErrorWithError logs an error message with an error object and context.
func ErrorWithError(ctx context.Context, err error, msg string, fields Fields) {
	if fields == nil {
		fields = Fields{}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	getLogger().ErrorContext(ctx, msg, attrs(fields)...)
}

// No-context fallback functions

// DebugNoCtx logs a debug message without context (uses background context).
func DebugNoCtx(msg string, fields Fields) {
	Debug(context.Background(), msg, fields)
}

// InfoNoCtx logs an info message without context (uses background context).
func InfoNoCtx(msg string, fields Fields) {
	Info(context.Background(), msg, fields)
}

// WarnNoCtx logs a warning message without context (uses background context).
func WarnNoCtx(msg string, fields Fields) {
	Warn(context.Background(), msg, fields)
}

// ErrorNoCtx logs an error message without context (uses background context).
func ErrorNoCtx(msg string, fields Fields) {
	Error(context.Background(), msg, fields)
}

// Helper functions for creating Fields

// Field creates a single-field Fields map.
func Field(key string, value interface{}) Fields {
	return Fields{key: value}
}

// Fields2 creates a Fields map with two key-value pairs.
func Fields2(k1 string, v1 interface{}, k2 string, v2 interface{}) Fields {
	return Fields{k1: v1, k2: v2}
}

// Fields3 creates a Fields map with three key-value pairs.
func Fields3(k1 string, v1 interface{}, k2 string, v2 interface{}, k3 string, v3 interface{}) Fields {
	return Fields{k1: v1, k2: v2, k3: v3}
}
