package observability

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TracingConfig configures InitTracing's OTLP/gRPC exporter, mirroring the
// teacher's observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Environment string
	Endpoint    string
}

var (
	globalTracer     trace.Tracer
	globalTracerInit bool
)

// InitTracing wires a batched OTLP/gRPC span exporter and installs it as
// the global tracer provider. With tracing disabled it takes
// otel.Tracer("taskcore") from the current global provider (OpenTelemetry's
// default no-op provider unless another has been installed) instead of
// leaving the seam uninitialized, so
// every StartSpan call site behaves identically either way. The returned
// func must be called on shutdown to flush any batched spans.
func InitTracing(cfg TracingConfig) (func(context.Context), error) {
	if !cfg.Enabled {
		globalTracer = otel.Tracer("taskcore")
		globalTracerInit = true
		log.Println("tracing disabled, using no-op tracer")
		return func(context.Context) {}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "taskcore"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(dialCtx, cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("dial otlp collector: %w", err)
	}

	exporter, err := otlptracegrpc.New(dialCtx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(dialCtx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	globalTracer = tp.Tracer(cfg.ServiceName)
	globalTracerInit = true
	log.Printf("tracing initialized: service=%s environment=%s endpoint=%s", cfg.ServiceName, cfg.Environment, cfg.Endpoint)

	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("tracer provider shutdown: %v", err)
		}
	}, nil
}

// StartSpan starts a span named name as a child of whatever span ctx
// carries (or a root span if none) and returns the derived context plus an
// End func. This is the seam the Lifecycle and Query Engines call instead
// of importing otel directly; with tracing uninitialized it is a no-op.
func StartSpan(ctx context.Context, name string) (context.Context, func()) {
	if !globalTracerInit {
		return ctx, func() {}
	}
	ctx, span := globalTracer.Start(ctx, name)
	return ctx, span.End
}

// RecordSpanError marks the span carried by ctx as failed, matching the
// teacher's RecordError helper.
func RecordSpanError(ctx context.Context, err error) {
	if err == nil || !globalTracerInit {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
}
