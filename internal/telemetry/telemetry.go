// Package telemetry wires OpenTelemetry tracing for crawl sessions, fetches,
// and the HTTP API. Finished spans are exported to the zap logger.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/JakeFAU/pagemark"

// Config controls span sampling.
type Config struct {
	ServiceName string
	Enabled     bool
	// SampleRatio is the fraction of root spans recorded, in [0, 1].
	SampleRatio float64
}

// InitTracerProvider installs a global tracer provider and propagator. The
// caller owns the provider and must Shutdown it to flush pending spans.
func InitTracerProvider(ctx context.Context, cfg Config, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "pagemark"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler := sdktrace.NeverSample()
	if cfg.Enabled {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(NewLogExporter(logger)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

// Tracer returns the pagemark tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
