// Package tracing wires OpenTelemetry distributed tracing across a
// request's dispatch path, exported via OTLP/HTTP when a collector
// endpoint is configured and left as a no-op provider otherwise.
package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether and where spans are exported.
type Config struct {
	// Endpoint is the OTLP/HTTP collector address, e.g. "localhost:4318".
	// Tracing is a no-op when empty.
	Endpoint    string
	ServiceName string
	Version     string
}

// Provider wraps a TracerProvider along with its shutdown hook. The zero
// value is unused; construct via New.
type Provider struct {
	tp       *sdktrace.TracerProvider
	disabled bool
}

// New builds a Provider from cfg. With no endpoint configured it installs
// an otel.Tracer that produces no-op spans, so callers can unconditionally
// start spans without branching on whether tracing is enabled.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return &Provider{disabled: true}, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, errors.New("tracing: build exporter: " + err.Error())
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, errors.New("tracing: build resource: " + err.Error())
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans and stops the exporter. Safe to call on a
// disabled Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.disabled || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the named tracer, backed by the configured provider or by
// the global no-op tracer when disabled.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
