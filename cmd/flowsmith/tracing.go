package main

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pario-ai/flowsmith/pkg/config"
)

// setupTracing installs the global tracer provider. With tracing disabled
// the otel no-op provider stays in place.
func setupTracing(tc config.TracingConfig) (func(context.Context) error, error) {
	if !tc.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	switch tc.Exporter {
	case "", "stdout":
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", tc.Exporter)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "flowsmith"),
			attribute.String("service.version", version),
		)),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
