// Package tracing wires OpenTelemetry and the asynchronous trace-event sink.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"azure-search-mcp/internal/logging"
)

// InstrumentationName is the tracer and meter name used across the server.
const InstrumentationName = "azure-search-mcp"

// Config selects the trace backend.
type Config struct {
	Enabled        bool
	Endpoint       string
	APIKey         string
	Project        string
	ServiceName    string
	ServiceVersion string
}

// Provider owns the process tracer provider.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// Setup builds the tracer provider. When tracing is disabled a no-op
// provider is returned and nothing is exported.
func Setup(ctx context.Context, cfg Config, logger *logging.Logger) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			tp:       noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.Endpoint)}
	if cfg.APIKey != "" {
		opts = append(opts, otlptracehttp.WithHeaders(map[string]string{
			"x-api-key":     cfg.APIKey,
			"Authorization": "Bearer " + cfg.APIKey,
		}))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("project.name", cfg.Project),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	if logger != nil {
		logger.Info("Tracing enabled", "endpoint", cfg.Endpoint, "project", cfg.Project)
	}
	return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
}

// NewProvider wraps an existing tracer provider. Tests pass an SDK provider
// backed by a span recorder.
func NewProvider(tp trace.TracerProvider) *Provider {
	return &Provider{tp: tp, shutdown: func(context.Context) error { return nil }}
}

// Tracer returns the server tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tp.Tracer(InstrumentationName)
}

// TracerProvider exposes the underlying provider for instrumentation
// middleware.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tp
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}
