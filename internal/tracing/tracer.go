// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tracing wires optional OpenTelemetry tracing around the proxy's
// hot path (Session payload handling, Session.Inject, the plugin chain) when an
// OTLP/gRPC collector endpoint is configured.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// ServiceName identifies this binary in trace resource attributes.
const ServiceName = "sirimitm"

// Tracer is the tracer the proxy's hot path uses to start spans.
var Tracer = otel.Tracer(ServiceName)

// Init wires the global TracerProvider to export spans via OTLP/gRPC to
// endpoint, returning a shutdown func the caller must invoke on exit.
func Init(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	exporter, err := otlptrace.New(
		ctx,
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(endpoint),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: failed to create exporter: %w", err)
	}

	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			attribute.String("service.name", ServiceName),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: failed to build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	Tracer = provider.Tracer(ServiceName)

	return exporter.Shutdown, nil
}

// StartSpan is a thin wrapper kept so call sites in the hot path don't
// reference otel directly.
func StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return Tracer.Start(ctx, name)
}
