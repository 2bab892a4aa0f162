package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitOTelDisabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NewLogger(ErrorLevel, io.Discard))
	require.NoError(t, err)
	assert.Nil(t, providers)
}

func TestShutdownOTelNilProviders(t *testing.T) {
	assert.NoError(t, ShutdownOTel(context.Background(), nil, NewLogger(ErrorLevel, io.Discard)))
}

func TestShutdownOTelFlushesTracer(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	providers := &OTelProviders{Tracer: tp}

	require.NoError(t, ShutdownOTel(context.Background(), providers, NewLogger(ErrorLevel, io.Discard)))

	// a second shutdown of an already-stopped provider stays clean
	assert.NoError(t, ShutdownOTel(context.Background(), providers, NewLogger(ErrorLevel, io.Discard)))
}

func TestUpdateLoggerWithTraceContextNoSpan(t *testing.T) {
	logger := NewLogger(InfoLevel, io.Discard)
	assert.Same(t, logger, UpdateLoggerWithTraceContext(context.Background(), logger))
}

func TestUpdateLoggerWithTraceContextTagsSpanIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	UpdateLoggerWithTraceContext(ctx, logger).Info("tagged")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), line["span_id"])
}
