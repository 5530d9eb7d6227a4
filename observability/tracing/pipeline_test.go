package tracing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

func newTestEngine(t *testing.T) (*pipeline.Engine, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := pipeline.NewEngine(nil, nil,
		pipeline.WithLogger(logger),
		pipeline.WithObserver(NewPipelineTracer(tp.Tracer("test"))))
	return e, exporter
}

func attr(span tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func spanNamed(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("span %q not found", name)
	return tracetest.SpanStub{}
}

func TestPipelineTracer_DispatchAndHandlerSpans(t *testing.T) {
	e, exporter := newTestEngine(t)
	if _, err := e.Registry().Register("order", func(context.Context, any, pipeline.Controller) (any, error) {
		return "ok", nil
	}, pipeline.WithID("validate")); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := e.Dispatch(context.Background(), "order", nil)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	dispatch := spanNamed(t, spans, "dispatch order")
	handler := spanNamed(t, spans, "handler validate")

	if handler.Parent.SpanID() != dispatch.SpanContext.SpanID() {
		t.Error("expected handler span to be a child of the dispatch span")
	}
	if v, ok := attr(dispatch, AttrDispatchID); !ok || v.AsString() != res.ID {
		t.Errorf("expected dispatch id attribute %q, got %v", res.ID, v)
	}
	if v, ok := attr(dispatch, AttrStatus); !ok || v.AsString() != "completed" {
		t.Errorf("expected status completed, got %v", v)
	}
	if v, ok := attr(handler, AttrOutcome); !ok || v.AsString() != "completed" {
		t.Errorf("expected outcome completed, got %v", v)
	}
	if dispatch.Status.Code != codes.Ok {
		t.Errorf("expected ok status, got %v", dispatch.Status.Code)
	}
}

func TestPipelineTracer_FailedDispatch(t *testing.T) {
	e, exporter := newTestEngine(t)
	if _, err := e.Registry().Register("order", func(context.Context, any, pipeline.Controller) (any, error) {
		return nil, errors.New("boom")
	}, pipeline.WithID("charge")); err != nil {
		t.Fatalf("register: %v", err)
	}

	e.Dispatch(context.Background(), "order", nil)

	spans := exporter.GetSpans()
	dispatch := spanNamed(t, spans, "dispatch order")
	handler := spanNamed(t, spans, "handler charge")
	if dispatch.Status.Code != codes.Error || handler.Status.Code != codes.Error {
		t.Errorf("expected error status on both spans, got %v / %v", dispatch.Status.Code, handler.Status.Code)
	}
	if len(handler.Events) == 0 {
		t.Error("expected recorded error event on handler span")
	}
}

func TestPipelineTracer_AbortedDispatch(t *testing.T) {
	e, exporter := newTestEngine(t)
	if _, err := e.Registry().Register("order", func(_ context.Context, _ any, c pipeline.Controller) (any, error) {
		c.Abort("out of stock", nil)
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	e.Dispatch(context.Background(), "order", nil)

	dispatch := spanNamed(t, exporter.GetSpans(), "dispatch order")
	if v, ok := attr(dispatch, AttrAbortReason); !ok || v.AsString() != "out of stock" {
		t.Errorf("expected abort reason attribute, got %v", v)
	}
}

func TestPipelineTracer_DefaultTracer(t *testing.T) {
	if NewPipelineTracer(nil).tracer == nil {
		t.Fatal("expected global tracer fallback")
	}
}

func TestProvider_WithExporter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	cfg := DefaultConfig()
	cfg.ServiceVersion = "1.0.0"
	cfg.Attributes = map[string]string{"deployment.environment": "test"}
	p, err := NewProviderWithExporter(context.Background(), cfg, exporter)
	if err != nil {
		t.Fatalf("NewProviderWithExporter failed: %v", err)
	}
	t.Cleanup(func() { otel.SetTracerProvider(sdktrace.NewTracerProvider()) })

	_, span := p.Tracer().Start(context.Background(), "dispatch order")
	span.End()
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].InstrumentationScope.Name; got != InstrumentationName {
		t.Errorf("expected instrumentation scope %q, got %q", InstrumentationName, got)
	}
	want := map[attribute.Key]string{
		"service.name":           "actionpipe",
		"service.version":        "1.0.0",
		"deployment.environment": "test",
	}
	for _, kv := range spans[0].Resource.Attributes() {
		if v, ok := want[kv.Key]; ok {
			if kv.Value.AsString() != v {
				t.Errorf("resource %s: expected %q, got %q", kv.Key, v, kv.Value.AsString())
			}
			delete(want, kv.Key)
		}
	}
	if len(want) != 0 {
		t.Errorf("missing resource attributes %v", want)
	}

	if p.TracerProvider() == nil {
		t.Error("expected TracerProvider")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if err := (&Provider{}).Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown of empty provider should not error: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"ratio", func(c *Config) { c.SampleRate = 0.25 }, false},
		{"no service name", func(c *Config) { c.ServiceName = "" }, true},
		{"negative rate", func(c *Config) { c.SampleRate = -0.1 }, true},
		{"rate above one", func(c *Config) { c.SampleRate = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.ServiceName = ""
	if _, err := NewProviderWithExporter(context.Background(), cfg, tracetest.NewInMemoryExporter()); err == nil {
		t.Error("expected provider construction to reject invalid config")
	}
}

func TestConfig_SamplerHonoursRate(t *testing.T) {
	never := DefaultConfig()
	never.SampleRate = 1e-9
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProviderWithExporter(context.Background(), never, exporter)
	if err != nil {
		t.Fatalf("NewProviderWithExporter failed: %v", err)
	}
	t.Cleanup(func() { otel.SetTracerProvider(sdktrace.NewTracerProvider()) })

	for i := 0; i < 50; i++ {
		_, span := p.Tracer().Start(context.Background(), "dispatch")
		span.End()
	}
	if n := len(exporter.GetSpans()); n > 1 {
		t.Errorf("expected near-zero sampling, exported %d spans", n)
	}
}

func TestHTTPMiddleware_ParentsDispatchSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := pipeline.NewEngine(nil, nil, pipeline.WithLogger(logger), pipeline.WithObserver(NewPipelineTracer(nil)))
	if _, err := e.Registry().Register("ping", func(context.Context, any, pipeline.Controller) (any, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.Dispatch(r.Context(), "ping", nil)
		w.WriteHeader(http.StatusNoContent)
	}), "actions")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/actions/ping", nil))

	spans := exporter.GetSpans()
	server := spanNamed(t, spans, "actions")
	dispatch := spanNamed(t, spans, "dispatch ping")
	if dispatch.Parent.SpanID() != server.SpanContext.SpanID() {
		t.Error("expected dispatch span parented by the HTTP server span")
	}
}
