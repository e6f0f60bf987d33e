package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: false}, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if p.Enabled() {
		t.Error("Enabled() = true, want false")
	}
	if p.Tracer() == nil {
		t.Fatal("Tracer() = nil, want no-op tracer")
	}

	// Span creation through the no-op tracer must work and record nothing.
	_, span := p.Tracer().Start(context.Background(), "evaluate")
	if span.SpanContext().IsValid() {
		t.Error("no-op span has a valid span context, want invalid")
	}
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
}

func TestNew_Enabled(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: true, ServiceVersion: "test"}, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if !p.Enabled() {
		t.Error("Enabled() = false, want true")
	}

	_, span := p.Tracer().Start(context.Background(), "evaluate")
	if !span.SpanContext().IsValid() {
		t.Error("recording span has an invalid span context")
	}
	if !span.SpanContext().HasTraceID() {
		t.Error("recording span has no trace ID")
	}
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: true}, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown() error: %v", err)
	}
	// Second shutdown must not panic; the SDK tolerates repeated calls.
	_ = p.Shutdown(context.Background())
}
