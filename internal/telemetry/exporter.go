package telemetry

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// LogExporter writes finished spans to a zap logger at debug level.
type LogExporter struct {
	logger *zap.Logger
}

var _ sdktrace.SpanExporter = (*LogExporter)(nil)

// NewLogExporter builds a LogExporter. A nil logger discards spans.
func NewLogExporter(logger *zap.Logger) *LogExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogExporter{logger: logger}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		fields := make([]zap.Field, 0, 5+len(span.Attributes()))
		fields = append(fields,
			zap.String("span", span.Name()),
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("span_id", span.SpanContext().SpanID().String()),
			zap.Duration("duration", span.EndTime().Sub(span.StartTime())),
			zap.String("status", span.Status().Code.String()),
		)
		for _, kv := range span.Attributes() {
			fields = append(fields, zap.String(string(kv.Key), kv.Value.Emit()))
		}
		e.logger.Debug("span finished", fields...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}
