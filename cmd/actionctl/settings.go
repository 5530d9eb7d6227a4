package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// settings are the process-level knobs that do not belong in the config file.
type settings struct {
	ConfigPath      string        `env:"ACTIONPIPE_CONFIG"           envDefault:"actionpipe.yaml"`
	Addr            string        `env:"ACTIONPIPE_ADDR"             envDefault:":8080"`
	LogLevel        string        `env:"ACTIONPIPE_LOG_LEVEL"`
	LogFormat       string        `env:"ACTIONPIPE_LOG_FORMAT"       envDefault:"text"`
	ShutdownTimeout time.Duration `env:"ACTIONPIPE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	WatchDebounce   time.Duration `env:"ACTIONPIPE_WATCH_DEBOUNCE"   envDefault:"500ms"`
	Concurrency     int           `env:"ACTIONPIPE_CONCURRENCY"      envDefault:"4"`
}

func loadSettings() (settings, error) {
	var s settings
	if err := env.Parse(&s); err != nil {
		return settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

// newLogger builds the process logger. An empty level means info.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q", level)
		}
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
