package actionpipe

import (
	"log/slog"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// Option configures an ActionRegister.
type Option func(*ActionRegister)

// WithLogger sets the logger passed to the dispatch engine.
func WithLogger(l *slog.Logger) Option {
	return func(r *ActionRegister) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver adds a lifecycle observer (metrics, tracing, events).
func WithObserver(o pipeline.Observer) Option {
	return func(r *ActionRegister) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithRegistry shares an existing handler registry.
func WithRegistry(reg *pipeline.Registry) Option {
	return func(r *ActionRegister) {
		if reg != nil {
			r.registry = reg
		}
	}
}

// WithScopeManager shares an existing abort scope manager.
func WithScopeManager(m *pipeline.ScopeManager) Option {
	return func(r *ActionRegister) {
		if m != nil {
			r.scopes = m
		}
	}
}

// WithDefaultScope sets the scope joined by dispatches whose context names
// none. It defaults to pipeline.DefaultScope.
func WithDefaultScope(scopeID string) Option {
	return func(r *ActionRegister) {
		if scopeID != "" {
			r.defaultScope = scopeID
		}
	}
}
