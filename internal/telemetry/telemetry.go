// Package telemetry configures the OpenTelemetry tracer provider for the
// gateway. Tracing is opt-in: when disabled the provider hands out no-op
// tracers and span creation costs almost nothing.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// tracerName identifies spans produced by the gateway.
const tracerName = "warden/gateway"

// batchTimeout is how long the span processor waits before exporting a
// partial batch.
const batchTimeout = 5 * time.Second

// Config configures the telemetry provider.
type Config struct {
	// Enabled turns tracing on. Disabled yields a no-op provider.
	Enabled bool
	// ServiceVersion is recorded on the service resource.
	ServiceVersion string
}

// Provider owns the tracer provider lifecycle. Construct with New, shut
// down with Shutdown during graceful stop.
type Provider struct {
	enabled bool
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	logger  *slog.Logger
}

// New builds the telemetry provider and, when enabled, installs it as the
// global OpenTelemetry provider so any package can start spans via
// otel.Tracer.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Provider{
		enabled: cfg.Enabled,
		logger:  logger,
	}

	if !cfg.Enabled {
		p.tracer = noop.NewTracerProvider().Tracer(tracerName)
		return p, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("warden"),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.tracer = p.tp.Tracer(tracerName)
	logger.Info("tracing enabled", "exporter", "stdout")

	return p, nil
}

// Enabled reports whether spans are actually exported.
func (p *Provider) Enabled() bool {
	return p.enabled
}

// Tracer returns the gateway tracer. Always non-nil; no-op when disabled.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes pending spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		p.logger.Error("failed to shutdown tracer provider", "error", err)
		return err
	}
	return nil
}
