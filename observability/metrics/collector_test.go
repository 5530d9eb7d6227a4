package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

func newObservedEngine(t *testing.T, c *Collector) *pipeline.Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return pipeline.NewEngine(nil, nil, pipeline.WithLogger(logger), pipeline.WithObserver(c))
}

func TestCollector_RecordsDispatches(t *testing.T) {
	c := NewCollector()
	e := newObservedEngine(t, c)

	if _, err := e.Registry().Register("pay", func(_ context.Context, p any, c pipeline.Controller) (any, error) {
		if p == "bad" {
			return nil, errors.New("declined")
		}
		if p == "stop" {
			c.Abort("stopped", nil)
		}
		return "ok", nil
	}, pipeline.WithID("charge")); err != nil {
		t.Fatalf("register: %v", err)
	}

	e.Dispatch(context.Background(), "pay", "good")
	e.Dispatch(context.Background(), "pay", "good")
	e.Dispatch(context.Background(), "pay", "bad")
	e.Dispatch(context.Background(), "pay", "stop")

	if got := testutil.ToFloat64(c.Dispatches.WithLabelValues("pay", "completed")); got != 2 {
		t.Errorf("expected 2 completed, got %v", got)
	}
	if got := testutil.ToFloat64(c.Dispatches.WithLabelValues("pay", "failed")); got != 1 {
		t.Errorf("expected 1 failed, got %v", got)
	}
	if got := testutil.ToFloat64(c.Dispatches.WithLabelValues("pay", "aborted")); got != 1 {
		t.Errorf("expected 1 aborted, got %v", got)
	}
	if got := testutil.ToFloat64(c.HandlerCalls.WithLabelValues("pay", "charge", "failed")); got != 1 {
		t.Errorf("expected 1 failed handler call, got %v", got)
	}
	if got := testutil.ToFloat64(c.HandlerCalls.WithLabelValues("pay", "charge", "completed")); got != 3 {
		t.Errorf("expected 3 completed handler calls, got %v", got)
	}
	if got := testutil.ToFloat64(c.ActiveDispatches.WithLabelValues("pay")); got != 0 {
		t.Errorf("expected no active dispatches, got %v", got)
	}
}

func TestCollector_ActiveGauge(t *testing.T) {
	c := NewCollector()
	e := newObservedEngine(t, c)

	entered := make(chan struct{})
	release := make(chan struct{})
	if _, err := e.Registry().Register("slow", func(context.Context, any, pipeline.Controller) (any, error) {
		close(entered)
		<-release
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	done := make(chan struct{})
	go func() {
		e.Dispatch(context.Background(), "slow", nil)
		close(done)
	}()
	<-entered
	if got := testutil.ToFloat64(c.ActiveDispatches.WithLabelValues("slow")); got != 1 {
		t.Errorf("expected 1 active dispatch, got %v", got)
	}
	close(release)
	<-done
	if got := testutil.ToFloat64(c.ActiveDispatches.WithLabelValues("slow")); got != 0 {
		t.Errorf("expected 0 active dispatches, got %v", got)
	}
}

func TestCollector_DisabledMetrics(t *testing.T) {
	c := NewCollectorWithConfig(Config{Namespace: "x", EnabledMetrics: []string{"dispatch"}})
	if c.HandlerCalls != nil || c.ActiveDispatches != nil || c.HTTPRequests != nil {
		t.Fatal("expected only dispatch metrics enabled")
	}
	e := newObservedEngine(t, c)
	if _, err := e.Registry().Register("a", func(context.Context, any, pipeline.Controller) (any, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	e.Dispatch(context.Background(), "a", nil)

	if got := testutil.ToFloat64(c.Dispatches.WithLabelValues("a", "completed")); got != 1 {
		t.Errorf("expected 1 dispatch, got %v", got)
	}
	if h := c.InstrumentHandler("/x", http.NotFoundHandler()); h == nil {
		t.Error("expected passthrough handler")
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.RecordDispatch("ship", "completed", 0)

	instrumented := c.InstrumentHandler("/metrics", c.Handler())
	rec := httptest.NewRecorder()
	instrumented.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `actionpipe_dispatches_total{action="ship",status="completed"} 1`) {
		t.Errorf("expected dispatch counter in output, got:\n%s", rec.Body.String())
	}
	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("get", "/metrics", "200")); got != 1 {
		t.Errorf("expected 1 instrumented request, got %v", got)
	}
}
