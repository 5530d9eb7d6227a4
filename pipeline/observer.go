package pipeline

import (
	"context"
	"time"
)

// HandlerOutcome classifies how a handler invocation settled.
type HandlerOutcome string

const (
	OutcomeCompleted HandlerOutcome = "completed"
	OutcomeSkipped   HandlerOutcome = "skipped"
	OutcomeFailed    HandlerOutcome = "failed"
)

// HandlerEvent describes one settled handler invocation.
type HandlerEvent struct {
	DispatchID string
	ActionName string
	HandlerID  string
	Blocking   bool
	Outcome    HandlerOutcome
	Err        error
	Elapsed    time.Duration
}

// Observer receives dispatch and handler lifecycle notifications. The
// contexts returned by the Start methods are passed to the handler and to
// the matching End call, so an observer can attach values such as spans.
//
// Non-blocking handlers report HandlerEnd from their own goroutine,
// possibly after DispatchEnd.
type Observer interface {
	DispatchStart(ctx context.Context, dispatchID, actionName, scopeID string) context.Context
	DispatchEnd(ctx context.Context, res *DispatchResult)
	HandlerStart(ctx context.Context, dispatchID, actionName, handlerID string) context.Context
	HandlerEnd(ctx context.Context, ev HandlerEvent)
}

// Observers fans notifications out to several observers in order.
type Observers []Observer

var _ Observer = Observers(nil)

func (o Observers) DispatchStart(ctx context.Context, dispatchID, actionName, scopeID string) context.Context {
	for _, obs := range o {
		ctx = obs.DispatchStart(ctx, dispatchID, actionName, scopeID)
	}
	return ctx
}

func (o Observers) DispatchEnd(ctx context.Context, res *DispatchResult) {
	for _, obs := range o {
		obs.DispatchEnd(ctx, res)
	}
}

func (o Observers) HandlerStart(ctx context.Context, dispatchID, actionName, handlerID string) context.Context {
	for _, obs := range o {
		ctx = obs.HandlerStart(ctx, dispatchID, actionName, handlerID)
	}
	return ctx
}

func (o Observers) HandlerEnd(ctx context.Context, ev HandlerEvent) {
	for _, obs := range o {
		obs.HandlerEnd(ctx, ev)
	}
}
