package actionpipe

import (
	"context"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// ActionRegister is the public entry point of the pipeline: it owns a
// handler registry, an abort scope manager, and the engine that dispatches
// through them. It is safe for concurrent use.
type ActionRegister struct {
	registry     *pipeline.Registry
	scopes       *pipeline.ScopeManager
	engine       *pipeline.Engine
	logger       *slog.Logger
	observers    []pipeline.Observer
	defaultScope string
}

// New creates an ActionRegister.
func New(opts ...Option) *ActionRegister {
	r := &ActionRegister{
		logger:       slog.Default(),
		defaultScope: pipeline.DefaultScope,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = pipeline.NewRegistry()
	}
	if r.scopes == nil {
		r.scopes = pipeline.NewScopeManager()
	}

	engineOpts := []pipeline.EngineOption{pipeline.WithLogger(r.logger)}
	for _, o := range r.observers {
		engineOpts = append(engineOpts, pipeline.WithObserver(o))
	}
	r.engine = pipeline.NewEngine(r.registry, r.scopes, engineOpts...)
	return r
}

var (
	defaultMu       sync.Mutex
	defaultRegister *ActionRegister
)

// Default returns the process-wide ActionRegister, creating it on first use.
func Default() *ActionRegister {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegister == nil {
		defaultRegister = New()
	}
	return defaultRegister
}

// SetDefault replaces the process-wide ActionRegister. Passing nil makes the
// next Default call create a fresh one.
func SetDefault(r *ActionRegister) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegister = r
}

// Register adds a handler for actionName and returns its unregister
// function. It fails with pipeline.ErrDuplicateHandlerID when the id is
// already taken for that action.
func (r *ActionRegister) Register(actionName string, fn pipeline.HandlerFunc, opts ...pipeline.HandlerOption) (func(), error) {
	return r.registry.Register(actionName, fn, opts...)
}

// Unregister removes a handler by id. Unknown ids are ignored.
func (r *ActionRegister) Unregister(actionName, id string) {
	r.registry.Unregister(actionName, id)
}

// Dispatch runs the pipeline of actionName. It returns nil when the dispatch
// completes or is aborted, and the *pipeline.HandlerError of the first
// unrecovered blocking-handler failure otherwise.
func (r *ActionRegister) Dispatch(ctx context.Context, actionName string, payload any) error {
	res := r.DispatchWithResult(ctx, actionName, payload)
	if res.Status == pipeline.StatusFailed {
		return res.Err
	}
	return nil
}

// DispatchWithResult runs the pipeline of actionName and returns its settled
// outcome. Handler failures are reported in the result, never as an error.
func (r *ActionRegister) DispatchWithResult(ctx context.Context, actionName string, payload any) *pipeline.DispatchResult {
	if _, ok := pipeline.ScopeFromContext(ctx); !ok {
		ctx = pipeline.WithScope(ctx, r.defaultScope)
	}
	return r.engine.Dispatch(ctx, actionName, payload)
}

// AbortAll aborts every running dispatch of the scope with reason
// pipeline.AbortReasonAbortAll. An empty scopeID targets the default scope.
// Dispatches that join the scope afterwards are aborted immediately until
// ResetAbortScope is called. It returns the number of dispatches aborted.
func (r *ActionRegister) AbortAll(scopeID string) int {
	if scopeID == "" {
		scopeID = r.defaultScope
	}
	n := r.scopes.AbortAll(scopeID)
	r.logger.Info("Abort scope triggered", "scope", scopeID, "aborted", n)
	return n
}

// ResetAbortScope gives the scope a fresh identity so later dispatches are
// unaffected by an earlier AbortAll. An empty scopeID targets the default
// scope.
func (r *ActionRegister) ResetAbortScope(scopeID string) {
	if scopeID == "" {
		scopeID = r.defaultScope
	}
	r.scopes.Reset(scopeID)
	r.logger.Debug("Abort scope reset", "scope", scopeID)
}

// Has reports whether any handler is registered for actionName.
func (r *ActionRegister) Has(actionName string) bool { return r.registry.Has(actionName) }

// Actions returns the names of all actions with handlers.
func (r *ActionRegister) Actions() []string { return r.registry.Actions() }

// Registry exposes the underlying handler registry.
func (r *ActionRegister) Registry() *pipeline.Registry { return r.registry }

// Scopes exposes the underlying abort scope manager.
func (r *ActionRegister) Scopes() *pipeline.ScopeManager { return r.scopes }

// DefaultScope returns the scope id used when a dispatch context names none.
func (r *ActionRegister) DefaultScope() string { return r.defaultScope }
