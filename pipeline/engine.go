package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used for dispatch and handler logging.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver adds an observer notified of dispatch and handler lifecycle.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// Engine drives dispatches through the handlers of a Registry.
type Engine struct {
	registry  *Registry
	scopes    *ScopeManager
	logger    *slog.Logger
	observers Observers
}

// NewEngine creates an Engine over registry and scopes. Nil arguments are
// replaced with fresh instances.
func NewEngine(registry *Registry, scopes *ScopeManager, opts ...EngineOption) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	if scopes == nil {
		scopes = NewScopeManager()
	}
	e := &Engine{
		registry: registry,
		scopes:   scopes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the engine reads handlers from.
func (e *Engine) Registry() *Registry { return e.registry }

// Scopes returns the engine's abort scope manager.
func (e *Engine) Scopes() *ScopeManager { return e.scopes }

// Dispatch runs one dispatch of actionName with payload until it settles.
// The dispatch joins the abort scope carried by ctx (see WithScope), or
// DefaultScope. Cancelling ctx aborts the dispatch at the next handler
// boundary. Dispatch never returns nil.
func (e *Engine) Dispatch(ctx context.Context, actionName string, payload any) *DispatchResult {
	scopeID, ok := ScopeFromContext(ctx)
	if !ok {
		scopeID = DefaultScope
	}

	dc := newDispatchContext(uuid.NewString(), actionName, scopeID, payload, e.registry.Snapshot(actionName))

	ctx = e.observers.DispatchStart(ctx, dc.id, actionName, scopeID)
	runCtx, cancel := context.WithCancelCause(ctx)
	dc.cancel = cancel

	if e.scopes.join(dc) {
		dc.abort(AbortReasonAbortAll, nil)
	}

	e.logger.Debug("Dispatch started",
		"action", actionName, "dispatch", dc.id, "scope", scopeID, "handlers", len(dc.handlers))

	e.run(runCtx, dc)

	res := dc.settle()
	e.scopes.leave(dc)

	if dc.hasBackground {
		go func() {
			dc.background.Wait()
			cancel(nil)
		}()
	} else {
		cancel(nil)
	}

	switch res.Status {
	case StatusFailed:
		e.logger.Error("Dispatch failed",
			"action", actionName, "dispatch", dc.id, "error", res.Err, "elapsed", res.Duration)
	case StatusAborted:
		e.logger.Info("Dispatch aborted",
			"action", actionName, "dispatch", dc.id, "reason", res.AbortReason, "elapsed", res.Duration)
	default:
		e.logger.Debug("Dispatch completed",
			"action", actionName, "dispatch", dc.id, "results", len(res.Results), "elapsed", res.Duration)
	}

	e.observers.DispatchEnd(ctx, res)
	return res
}

func (e *Engine) run(ctx context.Context, dc *DispatchContext) {
	dc.setStatus(StatusRunning)

	for i, entry := range dc.handlers {
		dc.setCursor(i)

		if dc.Aborted() {
			return
		}
		if ctx.Err() != nil {
			cause := context.Cause(ctx)
			dc.abort(cause.Error(), cause)
			return
		}

		payload := dc.Payload()

		if entry.condition != nil {
			run, err := e.evalCondition(entry, payload)
			if err != nil {
				dc.fail(entry, err)
				return
			}
			if !run {
				continue
			}
		}

		if !entry.claim() {
			continue
		}
		if entry.once {
			e.registry.remove(dc.actionName, entry)
		}

		if entry.blocking {
			e.invokeBlocking(ctx, dc, entry, payload)
		} else {
			e.invokeBackground(ctx, dc, entry, payload)
		}
	}

	dc.setCursor(len(dc.handlers))
}

func (e *Engine) invokeBlocking(ctx context.Context, dc *DispatchContext, entry *HandlerEntry, payload any) {
	hctx := e.observers.HandlerStart(ctx, dc.id, dc.actionName, entry.id)
	c := newController(dc, entry)

	start := time.Now()
	value, err := e.call(hctx, entry, payload, c)
	skipped, skipReason, resultSet := c.finish()

	ev := HandlerEvent{
		DispatchID: dc.id,
		ActionName: dc.actionName,
		HandlerID:  entry.id,
		Blocking:   true,
		Elapsed:    time.Since(start),
	}

	switch {
	case err != nil:
		ev.Outcome = OutcomeFailed
		ev.Err = err
		if herr := dc.fail(entry, err); herr != nil {
			e.logger.Error("Handler failed",
				"action", dc.actionName, "dispatch", dc.id, "handler", entry.id, "error", err)
		} else {
			e.logger.Warn("Handler returned error after abort",
				"action", dc.actionName, "dispatch", dc.id, "handler", entry.id, "error", err)
		}
	case skipped:
		ev.Outcome = OutcomeSkipped
		dc.recordSkip(SkipRecord{HandlerID: entry.id, Reason: skipReason})
	default:
		ev.Outcome = OutcomeCompleted
		if value != nil && !resultSet {
			dc.record(HandlerResult{HandlerID: entry.id, Value: value})
		}
	}

	e.observers.HandlerEnd(hctx, ev)
}

// invokeBackground starts a non-blocking handler. Its outcome is recorded
// when it settles; a failure never aborts the dispatch.
func (e *Engine) invokeBackground(ctx context.Context, dc *DispatchContext, entry *HandlerEntry, payload any) {
	hctx := e.observers.HandlerStart(ctx, dc.id, dc.actionName, entry.id)
	c := newController(dc, entry)

	dc.hasBackground = true
	dc.background.Add(1)
	go func() {
		defer dc.background.Done()

		start := time.Now()
		value, err := e.call(hctx, entry, payload, c)
		skipped, skipReason, resultSet := c.finish()

		ev := HandlerEvent{
			DispatchID: dc.id,
			ActionName: dc.actionName,
			HandlerID:  entry.id,
			Elapsed:    time.Since(start),
		}

		switch {
		case err != nil:
			ev.Outcome = OutcomeFailed
			ev.Err = err
			dc.record(HandlerResult{HandlerID: entry.id, Err: err})
			e.logger.Warn("Non-blocking handler failed",
				"action", dc.actionName, "dispatch", dc.id, "handler", entry.id, "error", err)
		case skipped:
			ev.Outcome = OutcomeSkipped
			dc.recordSkip(SkipRecord{HandlerID: entry.id, Reason: skipReason})
		default:
			ev.Outcome = OutcomeCompleted
			if value != nil && !resultSet {
				dc.record(HandlerResult{HandlerID: entry.id, Value: value})
			}
		}

		e.observers.HandlerEnd(hctx, ev)
	}()
}

// call invokes the handler, converting a panic into ErrHandlerPanic.
func (e *Engine) call(ctx context.Context, entry *HandlerEntry, payload any, c Controller) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Handler panicked",
				"action", entry.action, "handler", entry.id, "panic", r, "stack", string(debug.Stack()))
			value = nil
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return entry.handler(ctx, payload, c)
}

func (e *Engine) evalCondition(entry *HandlerEntry, payload any) (run bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Handler condition panicked",
				"action", entry.action, "handler", entry.id, "panic", r)
			run = false
			err = fmt.Errorf("%w: condition: %v", ErrHandlerPanic, r)
		}
	}()
	return entry.condition(payload), nil
}
