package server

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"google.golang.org/grpc"
)

const userAgent = "webdropper"

type ShutdownFn func(context.Context) error

func InitMeterProvider(res *resource.Resource, reader metric.Reader) ShutdownFn {
	meterProvider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(reader))
	otel.SetMeterProvider(meterProvider)
	return meterProvider.Shutdown
}

func InitTraceProvider(res *resource.Resource, spanExporter trace.SpanExporter) ShutdownFn {
	bsp := trace.NewBatchSpanProcessor(spanExporter)
	tracerProvider := trace.NewTracerProvider(
		trace.WithSampler(trace.TraceIDRatioBased(1)),
		trace.WithResource(res),
		trace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(tracerProvider)
	return tracerProvider.Shutdown
}

func telemetryResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			// the service name used to display traces in backend
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize telemetry resource: %w", err)
	}
	return res, nil
}

// NewPrometheusExporter registers with the default prometheus registry,
// which promhttp serves on /metrics.
func NewPrometheusExporter() (*prometheus.Exporter, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prometheus exporter: %w", err)
	}
	return exporter, nil
}

func NewOTLPTraceExporter(ctx context.Context, otlpEndpoint string) (*otlptrace.Exporter, error) {
	traceClient := otlptracegrpc.NewClient(
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(userAgent)))
	traceExp, err := otlptrace.New(ctx, traceClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create the collector trace exporter: %w", err)
	}
	return traceExp, nil
}

// initTelemetry installs the global meter provider and, when an endpoint is
// given, the OTLP tracer provider.
func initTelemetry(ctx context.Context, serviceName, otlpEndpoint string) (ShutdownFn, error) {
	res, err := telemetryResource(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	exporter, err := NewPrometheusExporter()
	if err != nil {
		return nil, err
	}
	shutdowns := []ShutdownFn{InitMeterProvider(res, exporter)}

	if otlpEndpoint != "" {
		traceExp, err := NewOTLPTraceExporter(ctx, otlpEndpoint)
		if err != nil {
			shutdowns[0](ctx)
			return nil, err
		}
		shutdowns = append(shutdowns, InitTraceProvider(res, traceExp))
	}

	return func(ctx context.Context) error {
		var firstErr error
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}, nil
}
