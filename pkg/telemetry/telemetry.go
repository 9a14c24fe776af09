// Package telemetry configures OpenTelemetry tracing for the service.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Init configures an OTLP trace provider and returns a shutdown function plus
// an HTTP middleware that traces inbound requests. When endpoint is empty,
// tracing is disabled and both return values are no-ops.
func Init(ctx context.Context, serviceName, endpoint string) (func(context.Context) error, func(http.Handler) http.Handler, error) {
	if serviceName == "" {
		return nil, nil, errors.New("telemetry: service name is required")
	}

	passthrough := func(next http.Handler) http.Handler { return next }
	if endpoint == "" {
		return func(context.Context) error { return nil }, passthrough, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	middleware := func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName)
	}

	return tp.Shutdown, middleware, nil
}
