// Package logger carries structured log fields through a context so every
// line of one question shares the same request_id.
package logger

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
)

type contextKey int

const (
	loggerFieldsKey contextKey = iota
	contextLoggerKey
)

// loggerFields holds structured logging fields extracted from context.
type loggerFields struct {
	fields map[string]interface{}
}

func newLoggerFields() *loggerFields {
	return &loggerFields{fields: make(map[string]interface{})}
}

func (lf *loggerFields) clone() *loggerFields {
	c := newLoggerFields()
	for k, v := range lf.fields {
		c.fields[k] = v
	}
	return c
}

// toSlice returns the fields as key-value pairs ordered by key.
func (lf *loggerFields) toSlice() []interface{} {
	if len(lf.fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(lf.fields))
	for k := range lf.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	slice := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		slice = append(slice, k, lf.fields[k])
	}
	return slice
}

func getLoggerFields(ctx context.Context) *loggerFields {
	if lf, ok := ctx.Value(loggerFieldsKey).(*loggerFields); ok {
		return lf
	}
	return newLoggerFields()
}

func withField(ctx context.Context, key string, value interface{}) context.Context {
	lf := getLoggerFields(ctx).clone()
	lf.fields[key] = value
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// WithRequestID adds request_id to the context logger fields.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return withField(ctx, "request_id", requestID)
}

// WithUserID adds user_id to the context logger fields.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return withField(ctx, "user_id", userID)
}

// WithFields adds key-value pairs to the context. A trailing odd key is ignored.
func WithFields(ctx context.Context, keysAndValues ...interface{}) context.Context {
	if len(keysAndValues) == 0 {
		return ctx
	}
	if len(keysAndValues)%2 != 0 {
		keysAndValues = keysAndValues[:len(keysAndValues)-1]
	}

	lf := getLoggerFields(ctx).clone()
	for i := 0; i < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			lf.fields[key] = keysAndValues[i+1]
		}
	}
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// ExtractOpenTelemetryFields copies trace_id and span_id from a recording span.
func ExtractOpenTelemetryFields(ctx context.Context) context.Context {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return ctx
	}

	lf := getLoggerFields(ctx).clone()
	lf.fields["trace_id"] = spanCtx.TraceID().String()
	lf.fields["span_id"] = spanCtx.SpanID().String()
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// GetContextFields returns the context fields as ordered key-value pairs.
func GetContextFields(ctx context.Context) []interface{} {
	return getLoggerFields(ctx).toSlice()
}

// GetLogger returns the context-scoped logger when one was stored, otherwise
// the global logger carrying the context fields.
func GetLogger(ctx context.Context) core.Logger {
	if l, ok := ctx.Value(contextLoggerKey).(core.Logger); ok {
		return l
	}

	base := logger.Global()
	fields := GetContextFields(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// WithLogger stores a pre-configured logger in the context.
func WithLogger(ctx context.Context, log core.Logger) context.Context {
	return context.WithValue(ctx, contextLoggerKey, log)
}
