// Package otelx configures the global OpenTelemetry tracer provider.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"

	"github.com/bobbiedigital/bobbiedigital-web/internal/xerrors"
)

// Namespace groups every bobbiedigital service in the trace backend.
const Namespace = "bobbiedigital"

type Options struct {
	Enabled   bool
	Endpoint  string
	Insecure  bool
	Sample    float64
	Service   string
	Component string
	Version   string
	// Env becomes deployment.environment, so dev and prod site traffic can
	// share a collector.
	Env       string
}

// serviceName is what the trace backend lists the site under, e.g.
// bobbiedigital-web.server.
func (o Options) serviceName() string {
	if o.Component == "" {
		return o.Service
	}
	return o.Service + "." + o.Component
}

func newResource(ctx context.Context, o Options, detect bool) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceNamespaceKey.String(Namespace),
		semconv.ServiceNameKey.String(o.serviceName()),
		semconv.ServiceVersionKey.String(o.Version),
	}
	if o.Env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(o.Env))
	}
	ropts := []resource.Option{resource.WithAttributes(attrs...)}
	if detect {
		ropts = append([]resource.Option{
			resource.WithFromEnv(),
			resource.WithProcess(),
			resource.WithOS(),
			resource.WithHost(),
		}, ropts...)
	}
	// detector errors are partial; the returned resource is still usable
	res, _ := resource.New(ctx, ropts...)
	return res
}

func setPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
}

// Init installs a tracer provider and propagator for the site server. When
// disabled, an SDK provider with no exporter is installed so request spans
// still carry valid ids for access log correlation. The returned shutdown
// flushes pending spans.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	setPropagator()
	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider(
			sdktrace.WithResource(newResource(ctx, o, false)),
		))
		return func(context.Context) error { return nil }, nil
	}
	if o.Endpoint == "" {
		return nil, xerrors.Newf("tracing enabled for %s without an otlp endpoint", o.serviceName())
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(o.serviceName() + "/" + o.Version)),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	// the exporter is expected to be a local collector, so a short dial
	// timeout keeps startup from hanging when it is down
	dialCtx, dialCancel := context.WithTimeout(ctx, 3*time.Second)
	defer dialCancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "create otlp exporter for %s", o.Endpoint)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(o.Sample),
		)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(newResource(ctx, o, true)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
