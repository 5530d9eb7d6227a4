// Package sla tracks dispatch service level indicators against configured
// objectives over a rolling window.
package sla

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// SLO types.
const (
	TypeLatency   = "latency"    // p99 dispatch duration in milliseconds
	TypeErrorRate = "error_rate" // failed dispatches / all dispatches
	TypeAbortRate = "abort_rate" // aborted dispatches / all dispatches
)

// SLO defines a Service Level Objective.
type SLO struct {
	Name string `yaml:"name" json:"name"`
	// Type is one of latency, error_rate or abort_rate.
	Type string `yaml:"type" json:"type"`
	// Target is the upper bound: milliseconds for latency, a ratio otherwise.
	Target float64 `yaml:"target" json:"target"`
	// Action restricts the SLO to one action; empty means every action.
	Action string `yaml:"action,omitempty" json:"action,omitempty"`
}

// Config configures the monitor.
type Config struct {
	SLOs []SLO `yaml:"slos" json:"slos"`
	// Window is how far back samples count. Zero keeps every sample.
	Window time.Duration `yaml:"window" json:"window"`
}

// DefaultConfig returns a config with a latency and an error rate objective.
func DefaultConfig() Config {
	return Config{
		SLOs: []SLO{
			{Name: "p99_latency_ms", Type: TypeLatency, Target: 500},
			{Name: "error_rate", Type: TypeErrorRate, Target: 0.01},
		},
		Window: time.Hour,
	}
}

// Validate checks every SLO type.
func (c Config) Validate() error {
	for _, slo := range c.SLOs {
		switch slo.Type {
		case TypeLatency, TypeErrorRate, TypeAbortRate:
		default:
			return fmt.Errorf("slo %q: unknown type %q", slo.Name, slo.Type)
		}
	}
	return nil
}

type sample struct {
	at       time.Time
	action   string
	status   pipeline.Status
	duration time.Duration
}

var _ pipeline.Observer = (*Monitor)(nil)

// Monitor records settled dispatches and computes SLO compliance. It
// implements pipeline.Observer.
type Monitor struct {
	mu      sync.RWMutex
	config  Config
	samples []sample
	now     func() time.Time
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{config: cfg, samples: make([]sample, 0, 1024), now: time.Now}
}

func (m *Monitor) DispatchStart(ctx context.Context, _, _, _ string) context.Context { return ctx }

func (m *Monitor) DispatchEnd(_ context.Context, res *pipeline.DispatchResult) {
	m.Record(res.ActionName, res.Status, res.Duration)
}

func (m *Monitor) HandlerStart(ctx context.Context, _, _, _ string) context.Context { return ctx }

func (m *Monitor) HandlerEnd(context.Context, pipeline.HandlerEvent) {}

// Record adds one settled dispatch.
func (m *Monitor) Record(action string, status pipeline.Status, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.prune(now)
	m.samples = append(m.samples, sample{at: now, action: action, status: status, duration: duration})
}

// prune drops samples older than the window. Samples are in time order.
func (m *Monitor) prune(now time.Time) {
	if m.config.Window <= 0 {
		return
	}
	cutoff := now.Add(-m.config.Window)
	i, _ := slices.BinarySearchFunc(m.samples, cutoff, func(s sample, t time.Time) int {
		return s.at.Compare(t)
	})
	if i > 0 {
		m.samples = slices.Delete(m.samples, 0, i)
	}
}

// SLOStatus is the state of a single SLO.
type SLOStatus struct {
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	Action          string  `json:"action,omitempty"`
	Target          float64 `json:"target"`
	Current         float64 `json:"current"`
	Samples         int     `json:"samples"`
	Met             bool    `json:"met"`
	ErrorBudgetUsed float64 `json:"error_budget_used"`
}

// Report is a full SLA status report.
type Report struct {
	Timestamp   time.Time   `json:"timestamp"`
	WindowStart time.Time   `json:"window_start"`
	SLOs        []SLOStatus `json:"slos"`
	Overall     bool        `json:"overall_compliant"`
}

// Status computes the current report.
func (m *Monitor) Status() Report {
	m.mu.Lock()
	now := m.now()
	m.prune(now)
	samples := slices.Clone(m.samples)
	m.mu.Unlock()

	report := Report{Timestamp: now, Overall: true}
	if m.config.Window > 0 {
		report.WindowStart = now.Add(-m.config.Window)
	} else if len(samples) > 0 {
		report.WindowStart = samples[0].at
	}
	for _, slo := range m.config.SLOs {
		status := computeStatus(slo, samples)
		if !status.Met {
			report.Overall = false
		}
		report.SLOs = append(report.SLOs, status)
	}
	return report
}

func computeStatus(slo SLO, samples []sample) SLOStatus {
	status := SLOStatus{Name: slo.Name, Type: slo.Type, Action: slo.Action, Target: slo.Target}

	var latencies []float64
	var matching, failed, aborted int
	for _, s := range samples {
		if slo.Action != "" && s.action != slo.Action {
			continue
		}
		matching++
		switch s.status {
		case pipeline.StatusFailed:
			failed++
		case pipeline.StatusAborted:
			aborted++
		}
		latencies = append(latencies, float64(s.duration.Microseconds())/1000)
	}
	status.Samples = matching

	switch slo.Type {
	case TypeLatency:
		status.Current = percentile(latencies, 0.99)
	case TypeErrorRate:
		status.Current = ratio(failed, matching)
	case TypeAbortRate:
		status.Current = ratio(aborted, matching)
	}
	status.Met = status.Current <= slo.Target
	if slo.Target > 0 {
		status.ErrorBudgetUsed = math.Min(status.Current/slo.Target, 1.0)
	} else if status.Current > 0 {
		status.ErrorBudgetUsed = 1.0
	}
	return status
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// percentile interpolates the p-th percentile (0..1) of data.
func percentile(data []float64, p float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(data)
	slices.Sort(sorted)

	idx := p * float64(n-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper || upper >= n {
		return sorted[lower]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// Handler serves the report as JSON.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Status())
	})
}

// Reset clears all samples.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = m.samples[:0]
}
