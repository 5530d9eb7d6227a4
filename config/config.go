// Package config loads actionpipe YAML configuration and applies its
// declarative action bindings to an ActionRegister, including hot reload.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/actionpipe/observability/metrics"
	"github.com/GoCodeAlone/actionpipe/observability/sla"
	"github.com/GoCodeAlone/actionpipe/observability/tracing"
	redisstore "github.com/GoCodeAlone/actionpipe/store/redis"
)

// Config is the top-level actionpipe configuration.
type Config struct {
	Name    string                     `yaml:"name,omitempty"`
	Engine  EngineConfig               `yaml:"engine,omitempty"`
	Metrics MetricsConfig              `yaml:"metrics,omitempty"`
	Tracing TracingConfig              `yaml:"tracing,omitempty"`
	SLA     SLAConfig                  `yaml:"sla,omitempty"`
	Events  EventsConfig               `yaml:"events,omitempty"`
	Stores  map[string]StoreConfig     `yaml:"stores,omitempty"`
	Actions map[string][]BindingConfig `yaml:"actions"`
}

// EngineConfig holds dispatch engine settings.
type EngineConfig struct {
	// DefaultScope is the abort scope of dispatches that name none.
	DefaultScope string `yaml:"defaultScope,omitempty"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`
}

// MetricsConfig enables the Prometheus collector.
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	metrics.Config `yaml:",inline"`
}

// TracingConfig enables OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool `yaml:"enabled"`
	tracing.Config `yaml:",inline"`
}

// SLAConfig enables dispatch SLO tracking.
type SLAConfig struct {
	Enabled    bool `yaml:"enabled"`
	sla.Config `yaml:",inline"`
}

// EventsConfig selects the lifecycle event sinks.
type EventsConfig struct {
	NATSURL       string `yaml:"natsUrl,omitempty"`
	SubjectPrefix string `yaml:"subjectPrefix,omitempty"`
	SQLitePath    string `yaml:"sqlitePath,omitempty"`
	// HandlerEvents toggles per-handler events; nil means enabled.
	HandlerEvents *bool `yaml:"handlerEvents,omitempty"`
}

// Enabled reports whether any event sink is configured.
func (e EventsConfig) Enabled() bool {
	return e.NATSURL != "" || e.SQLitePath != ""
}

// StoreConfig declares a named store handlers can write to.
type StoreConfig struct {
	// Type is "memory" (default) or "redis".
	Type    string            `yaml:"type,omitempty"`
	Initial any               `yaml:"initial,omitempty"`
	Redis   redisstore.Config `yaml:"redis,omitempty"`
}

// BindingConfig declares one handler registration for an action.
type BindingConfig struct {
	ID        string         `yaml:"id,omitempty"`
	Type      string         `yaml:"type"`
	Priority  *int           `yaml:"priority,omitempty"`
	Blocking  *bool          `yaml:"blocking,omitempty"`
	Once      bool           `yaml:"once,omitempty"`
	Condition string         `yaml:"condition,omitempty"`
	Config    map[string]any `yaml:"config,omitempty"`
}

// Default returns an empty configuration with observability defaults.
func Default() *Config {
	return &Config{
		Metrics: MetricsConfig{Config: metrics.DefaultConfig()},
		Tracing: TracingConfig{Config: tracing.DefaultConfig()},
		SLA:     SLAConfig{Config: sla.DefaultConfig()},
		Stores:  make(map[string]StoreConfig),
		Actions: make(map[string][]BindingConfig),
	}
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Stores == nil {
		cfg.Stores = make(map[string]StoreConfig)
	}
	if cfg.Actions == nil {
		cfg.Actions = make(map[string][]BindingConfig)
	}
	return cfg, nil
}
