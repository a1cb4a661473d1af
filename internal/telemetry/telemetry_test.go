package telemetry

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	tp, shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if _, ok := tp.(*sdktrace.TracerProvider); ok {
		t.Fatal("expected a no-op provider")
	}
	_, span := tp.Tracer("t").Start(context.Background(), "s")
	if span.SpanContext().IsValid() {
		t.Fatal("no-op spans should not be recorded")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupWithEndpointUsesSDK(t *testing.T) {
	tp, shutdown, err := Setup(context.Background(), Config{Endpoint: "http://127.0.0.1:4318", ServiceName: "test"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if _, ok := tp.(*sdktrace.TracerProvider); !ok {
		t.Fatalf("expected SDK provider, got %T", tp)
	}
	_ = shutdown(context.Background())
}

func TestExporterOptions(t *testing.T) {
	if n := len(exporterOptions("collector:4318")); n != 2 {
		t.Fatalf("bare endpoint options = %d", n)
	}
	if n := len(exporterOptions("https://otel.example.com/v1/traces")); n != 1 {
		t.Fatalf("url endpoint options = %d", n)
	}
}
