// Package metrics exposes dispatch and handler metrics to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// Config holds configuration for the Collector.
type Config struct {
	Namespace      string   `yaml:"namespace" json:"namespace"`
	Subsystem      string   `yaml:"subsystem" json:"subsystem"`
	Path           string   `yaml:"path" json:"path"`
	EnabledMetrics []string `yaml:"enabledMetrics" json:"enabledMetrics"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:      "actionpipe",
		Path:           "/metrics",
		EnabledMetrics: []string{"dispatch", "handler", "active_dispatches", "http"},
	}
}

var _ pipeline.Observer = (*Collector)(nil)

// Collector wraps Prometheus metrics for the dispatch engine and implements
// pipeline.Observer so it can be attached directly to an engine.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	Dispatches       *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	HandlerCalls     *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec
	ActiveDispatches *prometheus.GaugeVec
	HTTPRequests     *prometheus.CounterVec
}

// NewCollector creates a Collector with the default configuration.
func NewCollector() *Collector {
	return NewCollectorWithConfig(DefaultConfig())
}

// NewCollectorWithConfig creates a Collector with its own Prometheus registry.
func NewCollectorWithConfig(cfg Config) *Collector {
	reg := prometheus.NewRegistry()
	ns, sub := cfg.Namespace, cfg.Subsystem
	enabled := func(name string) bool { return slices.Contains(cfg.EnabledMetrics, name) }

	c := &Collector{config: cfg, registry: reg}

	if enabled("dispatch") {
		c.Dispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "dispatches_total",
			Help:      "Total number of settled dispatches",
		}, []string{"action", "status"})

		c.DispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of dispatches in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"})

		reg.MustRegister(c.Dispatches, c.DispatchDuration)
	}

	if enabled("handler") {
		c.HandlerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "handler_invocations_total",
			Help:      "Total number of handler invocations by outcome",
		}, []string{"action", "handler", "outcome"})

		c.HandlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "handler_duration_seconds",
			Help:      "Duration of handler invocations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"})

		reg.MustRegister(c.HandlerCalls, c.HandlerDuration)
	}

	if enabled("active_dispatches") {
		c.ActiveDispatches = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "active_dispatches",
			Help:      "Number of dispatches currently running",
		}, []string{"action"})

		reg.MustRegister(c.ActiveDispatches)
	}

	if enabled("http") {
		c.HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "code"})

		reg.MustRegister(c.HTTPRequests)
	}

	return c
}

// Path returns the configured metrics endpoint path.
func (c *Collector) Path() string { return c.config.Path }

// Registry returns the collector's Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns an HTTP handler that serves the collected metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler counts requests served by next under route.
func (c *Collector) InstrumentHandler(route string, next http.Handler) http.Handler {
	if c.HTTPRequests == nil {
		return next
	}
	return promhttp.InstrumentHandlerCounter(c.HTTPRequests.MustCurryWith(prometheus.Labels{"route": route}), next)
}

func (c *Collector) DispatchStart(ctx context.Context, _, actionName, _ string) context.Context {
	if c.ActiveDispatches != nil {
		c.ActiveDispatches.WithLabelValues(actionName).Inc()
	}
	return ctx
}

func (c *Collector) DispatchEnd(_ context.Context, res *pipeline.DispatchResult) {
	if c.ActiveDispatches != nil {
		c.ActiveDispatches.WithLabelValues(res.ActionName).Dec()
	}
	c.RecordDispatch(res.ActionName, string(res.Status), res.Duration)
}

func (c *Collector) HandlerStart(ctx context.Context, _, _, _ string) context.Context {
	return ctx
}

func (c *Collector) HandlerEnd(_ context.Context, ev pipeline.HandlerEvent) {
	if c.HandlerCalls != nil {
		c.HandlerCalls.WithLabelValues(ev.ActionName, ev.HandlerID, string(ev.Outcome)).Inc()
	}
	if c.HandlerDuration != nil {
		c.HandlerDuration.WithLabelValues(ev.ActionName).Observe(ev.Elapsed.Seconds())
	}
}

// RecordDispatch records one settled dispatch.
func (c *Collector) RecordDispatch(actionName, status string, duration time.Duration) {
	if c.Dispatches != nil {
		c.Dispatches.WithLabelValues(actionName, status).Inc()
	}
	if c.DispatchDuration != nil {
		c.DispatchDuration.WithLabelValues(actionName).Observe(duration.Seconds())
	}
}
