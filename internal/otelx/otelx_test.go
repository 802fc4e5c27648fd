package otelx

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}
}

func TestInit_Disabled_SpansHaveIDs(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})
	_, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Fatal("expected valid span context for log correlation")
	}
}

func TestInit_Propagator(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})
	fields := map[string]bool{}
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fields[f] = true
	}
	if !fields["traceparent"] || !fields["baggage"] {
		t.Fatalf("propagator fields = %v", fields)
	}
}

func TestInit_EnabledCreatesProvider(t *testing.T) {
	// the grpc exporter connects lazily, so an unreachable endpoint is fine
	shutdown, err := Init(context.Background(), Options{
		Enabled:   true,
		Endpoint:  "127.0.0.1:1",
		Insecure:  true,
		Sample:    1,
		Service:   "bobbiedigital-web",
		Component: "server",
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "op")
	if !span.SpanContext().IsSampled() {
		t.Error("sample ratio 1 should sample")
	}
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func TestInit_Disabled_ResourceNamesSite(t *testing.T) {
	_, _ = Init(context.Background(), Options{
		Service:   "bobbiedigital-web",
		Component: "server",
		Version:   "1.2.3",
		Env:       "prod",
	})
	_, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	ro, ok := span.(sdktrace.ReadOnlySpan)
	if !ok {
		t.Fatalf("span type = %T, want sdktrace.ReadOnlySpan", span)
	}
	got := map[attribute.Key]string{}
	for _, kv := range ro.Resource().Attributes() {
		got[kv.Key] = kv.Value.Emit()
	}
	want := map[attribute.Key]string{
		semconv.ServiceNamespaceKey:      Namespace,
		semconv.ServiceNameKey:           "bobbiedigital-web.server",
		semconv.ServiceVersionKey:        "1.2.3",
		semconv.DeploymentEnvironmentKey: "prod",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestInit_Disabled_NoEnvAttribute(t *testing.T) {
	_, _ = Init(context.Background(), Options{Service: "bobbiedigital-web"})
	_, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	for _, kv := range span.(sdktrace.ReadOnlySpan).Resource().Attributes() {
		if kv.Key == semconv.DeploymentEnvironmentKey {
			t.Fatalf("unexpected %s = %q", kv.Key, kv.Value.Emit())
		}
		if kv.Key == semconv.ServiceNameKey && kv.Value.Emit() != "bobbiedigital-web" {
			t.Fatalf("service.name = %q without a component", kv.Value.Emit())
		}
	}
}

func TestInit_EnabledRequiresEndpoint(t *testing.T) {
	_, err := Init(context.Background(), Options{Enabled: true, Service: "bobbiedigital-web", Component: "server"})
	if err == nil || !strings.Contains(err.Error(), "bobbiedigital-web.server") {
		t.Fatalf("err = %v", err)
	}
}
