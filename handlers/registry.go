// Package handlers builds pipeline handlers from declarative configuration.
// Each handler type is produced by a Factory registered under a type name;
// NewDefaultRegistry carries the built-in types.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/GoCodeAlone/actionpipe/interfaces"
	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// ErrUnknownType is returned by Create for an unregistered handler type.
var ErrUnknownType = errors.New("unknown handler type")

// Deps are the collaborators a factory may bind into the handler it builds.
type Deps struct {
	Logger    *slog.Logger
	Stores    interfaces.StoreProvider
	Publisher interfaces.Publisher
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Factory creates a handler from its binding id and type-specific config.
// Configuration errors are reported here, not when the handler runs.
type Factory func(id string, cfg map[string]any, deps Deps) (pipeline.HandlerFunc, error)

// Registry maps handler type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry creates a Registry with every built-in handler type.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("jq", NewJQFactory())
	r.Register("set", NewSetFactory())
	r.Register("validate", NewValidateFactory())
	r.Register("result", NewResultFactory())
	r.Register("rate_limit", NewRateLimitFactory())
	r.Register("log", NewLogFactory())
	r.Register("store", NewStoreFactory())
	r.Register("publish", NewPublishFactory())
	return r
}

// Register adds a factory for handlerType, replacing any existing one.
func (r *Registry) Register(handlerType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[handlerType] = f
}

// Create builds a handler of handlerType.
func (r *Registry) Create(handlerType, id string, cfg map[string]any, deps Deps) (pipeline.HandlerFunc, error) {
	r.mu.RLock()
	f, ok := r.factories[handlerType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, handlerType)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return f(id, cfg, deps)
}

// Types returns all registered handler type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
