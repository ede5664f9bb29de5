package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", AmbientTraceID(ctx))
	assert.Equal(t, "", AmbientCorrelationID(ctx))

	ctx = WithTraceID(ctx, "req-1")
	ctx = WithCorrelationID(ctx, "corr-1")
	assert.Equal(t, "req-1", AmbientTraceID(ctx))
	assert.Equal(t, "corr-1", AmbientCorrelationID(ctx))

	assert.Equal(t, ctx, WithTraceID(ctx, ""))
}

func TestAmbientTraceIDPrefersSpan(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID})

	ctx := WithTraceID(context.Background(), "req-1")
	ctx = trace.ContextWithSpanContext(ctx, sc)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", AmbientTraceID(ctx))
}

func TestDetachedContext(t *testing.T) {
	parent, cancel := context.WithTimeout(WithTraceID(context.Background(), "req-1"), time.Minute)
	detached := DetachedContext(parent)
	cancel()

	assert.Error(t, parent.Err())
	assert.NoError(t, detached.Err())
	_, hasDeadline := detached.Deadline()
	assert.False(t, hasDeadline)
	assert.Equal(t, "req-1", AmbientTraceID(detached))
}
