// Package tracing sets up OpenTelemetry and records a span per dispatch with
// a child span per handler invocation.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer that dispatch spans are started on.
const InstrumentationName = "github.com/GoCodeAlone/actionpipe"

// Config describes where dispatch spans are exported and how the emitting
// service identifies itself.
type Config struct {
	Endpoint string            `yaml:"endpoint"` // OTLP/HTTP host:port
	URLPath  string            `yaml:"urlPath,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Insecure bool              `yaml:"insecure"`

	ServiceName    string `yaml:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion,omitempty"`
	// Attributes are added to the resource of every exported span.
	Attributes map[string]string `yaml:"attributes,omitempty"`

	// SampleRate is the fraction of dispatches traced. Zero and one both
	// mean every dispatch.
	SampleRate float64 `yaml:"sampleRate"`
}

// DefaultConfig exports to a local collector without TLS and samples
// every dispatch.
func DefaultConfig() Config {
	return Config{
		Endpoint:    "localhost:4318",
		ServiceName: "actionpipe",
		Insecure:    true,
		SampleRate:  1.0,
	}
}

// Validate reports configuration a provider cannot be built from.
func (c Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("tracing: serviceName is required"))
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing: sampleRate %v outside [0, 1]", c.SampleRate))
	}
	return errors.Join(errs...)
}

func (c Config) sampler() sdktrace.Sampler {
	if c.SampleRate <= 0 || c.SampleRate >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRate))
}

func (c Config) resource(ctx context.Context) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(c.ServiceName)}
	if c.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(c.ServiceVersion))
	}
	for _, k := range slices.Sorted(maps.Keys(c.Attributes)) {
		attrs = append(attrs, attribute.String(k, c.Attributes[k]))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

func (c Config) exporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.Endpoint)}
	if c.URLPath != "" {
		opts = append(opts, otlptracehttp.WithURLPath(c.URLPath))
	}
	if len(c.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(c.Headers))
	}
	if c.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

// Provider owns the SDK tracer provider used for dispatch spans.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider batches spans to the OTLP/HTTP collector named by cfg and
// installs the provider and W3C propagators globally, so inbound HTTP
// trace context reaches dispatch spans.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	exp, err := cfg.exporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracing: OTLP exporter for %s: %w", cfg.Endpoint, err)
	}
	p, err := build(ctx, cfg, sdktrace.WithBatcher(exp))
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, err
	}
	p.install()
	return p, nil
}

// NewProviderWithExporter is NewProvider with spans handed synchronously to
// exporter instead of a collector.
func NewProviderWithExporter(ctx context.Context, cfg Config, exporter sdktrace.SpanExporter) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := build(ctx, cfg, sdktrace.WithSyncer(exporter))
	if err != nil {
		return nil, err
	}
	p.install()
	return p, nil
}

func build(ctx context.Context, cfg Config, export sdktrace.TracerProviderOption) (*Provider, error) {
	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracing: resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(export, sdktrace.WithResource(res), sdktrace.WithSampler(cfg.sampler()))
	return &Provider{tp: tp, tracer: tp.Tracer(InstrumentationName)}, nil
}

func (p *Provider) install() {
	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
}

// Tracer returns the tracer dispatch spans should be started on.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// TracerProvider exposes the SDK provider, e.g. for ForceFlush in tests.
func (p *Provider) TracerProvider() *sdktrace.TracerProvider { return p.tp }

// Shutdown flushes buffered spans. A zero Provider shuts down cleanly.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
