// Package telemetry sets up OpenTelemetry tracing for the worker.
package telemetry

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of worker spans
const TracerName = "github.com/fr4nk3nst1ner/offlineboard/internal/worker"

// Setup registers a global tracer provider exporting over OTLP/HTTP.
//
// Tracing is opt-in: without OTEL_EXPORTER_OTLP_ENDPOINT, or with
// OFFLINEBOARD_OTEL_ENABLED=false, nothing is registered and the returned shutdown
// is a no-op. The exporter reads the remaining OTEL_EXPORTER_OTLP_* variables itself.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if strings.EqualFold(os.Getenv("OFFLINEBOARD_OTEL_ENABLED"), "false") {
		return noop, nil
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

// Tracer returns the worker tracer from the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
