package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogExporter_WritesSpanFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(NewLogExporter(zap.New(core))))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "fetch")
	span.SetAttributes(attribute.String("url.full", "https://example.com"))
	span.End()

	entries := logs.FilterMessage("span finished").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "fetch", fields["span"])
	assert.Equal(t, "https://example.com", fields["url.full"])
	assert.Equal(t, "Unset", fields["status"])
}

func TestLogExporter_NilLogger(t *testing.T) {
	t.Parallel()

	exp := NewLogExporter(nil)
	require.NoError(t, exp.ExportSpans(context.Background(), nil))
	require.NoError(t, exp.Shutdown(context.Background()))
}

// Not parallel: installs the global provider.
func TestInitTracerProvider(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tp, err := InitTracerProvider(context.Background(), Config{Enabled: true, SampleRatio: 1}, zap.New(core))
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "session")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("span finished").Len())
}

// Not parallel: installs the global provider.
func TestInitTracerProvider_Disabled(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := Tracer().Start(context.Background(), "session")
	defer span.End()
	assert.False(t, span.SpanContext().IsSampled())
}
