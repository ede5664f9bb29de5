package utils

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	correlationIDKey
)

// WithTraceID returns a context carrying a request-scoped trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithCorrelationID returns a context carrying a correlation id.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// AmbientTraceID returns the trace id already attached to ctx. An active
// OpenTelemetry span wins over a request-scoped value.
func AmbientTraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// AmbientCorrelationID returns the correlation id attached to ctx, if any.
func AmbientCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// DetachedContext keeps the trace values of parent but drops its deadline
// and cancellation, for work queued past the end of a request.
func DetachedContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}
