// Package logger provides the structured category+field logging surface
// used throughout the gateway: InfoCF/WarnCF/ErrorCF/DebugCF take a category
// label and a field map alongside the message, and Info logs a bare message.
package logger

import (
	"context"
	"log/slog"
	"os"
	"sort"
)

var base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// SetLevel adjusts the minimum level logged. Useful for --verbose flags in
// cmd/ without threading a logger instance through every call site.
func SetLevel(level slog.Level) {
	base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func fieldsToAttrs(fields map[string]interface{}) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		attrs = append(attrs, k, fields[k])
	}
	return attrs
}

// Info logs a bare informational message with no category or fields.
func Info(msg string) {
	base.Info(msg)
}

// InfoCF logs an informational message tagged with a category and fields.
func InfoCF(category, msg string, fields map[string]interface{}) {
	args := append([]any{"category", category}, fieldsToAttrs(fields)...)
	base.Info(msg, args...)
}

// WarnCF logs a warning tagged with a category and fields.
func WarnCF(category, msg string, fields map[string]interface{}) {
	args := append([]any{"category", category}, fieldsToAttrs(fields)...)
	base.Warn(msg, args...)
}

// ErrorCF logs an error tagged with a category and fields.
func ErrorCF(category, msg string, fields map[string]interface{}) {
	args := append([]any{"category", category}, fieldsToAttrs(fields)...)
	base.Error(msg, args...)
}

// DebugCF logs a debug-level message tagged with a category and fields.
func DebugCF(category, msg string, fields map[string]interface{}) {
	args := append([]any{"category", category}, fieldsToAttrs(fields)...)
	base.Debug(msg, args...)
}

// WithContext returns the package's base logger. ctx is not attached to it
// and nothing is read from ctx.
func WithContext(ctx context.Context) *slog.Logger {
	return base
}
