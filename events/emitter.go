package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/actionpipe/interfaces"
	"github.com/GoCodeAlone/actionpipe/pipeline"
)

var _ pipeline.Observer = (*Emitter)(nil)

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithRecorder sends every event to r.
func WithRecorder(r interfaces.EventRecorder) EmitterOption {
	return func(e *Emitter) { e.recorder = r }
}

// WithPublisher publishes every event as JSON on p under prefix.
func WithPublisher(p interfaces.Publisher, prefix string) EmitterOption {
	return func(e *Emitter) {
		e.publisher = p
		if prefix != "" {
			e.prefix = prefix
		}
	}
}

// WithHandlerEvents controls whether handler-level events are emitted.
// They are on by default.
func WithHandlerEvents(enabled bool) EmitterOption {
	return func(e *Emitter) { e.handlerEvents = enabled }
}

// WithEmitterLogger sets the logger used to report sink failures.
func WithEmitterLogger(l *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l
		}
	}
}

// Emitter is a pipeline.Observer that forwards lifecycle events to an
// EventRecorder and a Publisher. Either sink may be absent. Sink failures
// are logged and never affect the dispatch.
type Emitter struct {
	recorder      interfaces.EventRecorder
	publisher     interfaces.Publisher
	prefix        string
	handlerEvents bool
	logger        *slog.Logger
	now           func() time.Time
}

// NewEmitter creates an Emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		prefix:        DefaultSubjectPrefix,
		handlerEvents: true,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emitter) DispatchStart(ctx context.Context, dispatchID, actionName, scopeID string) context.Context {
	e.emit(ctx, Event{
		Type:       DispatchStarted,
		DispatchID: dispatchID,
		Action:     actionName,
		Data:       map[string]any{"scope": scopeID},
	})
	return ctx
}

func (e *Emitter) DispatchEnd(ctx context.Context, res *pipeline.DispatchResult) {
	data := map[string]any{
		"status":      string(res.Status),
		"results":     len(res.Results),
		"duration_ms": res.Duration.Milliseconds(),
	}
	eventType := DispatchCompleted
	switch res.Status {
	case pipeline.StatusAborted:
		eventType = DispatchAborted
		data["reason"] = res.AbortReason
	case pipeline.StatusFailed:
		eventType = DispatchFailed
		if res.Err != nil {
			data["error"] = res.Err.Error()
		}
	}
	e.emit(ctx, Event{Type: eventType, DispatchID: res.ID, Action: res.ActionName, Data: data})
}

func (e *Emitter) HandlerStart(ctx context.Context, dispatchID, actionName, handlerID string) context.Context {
	if e.handlerEvents {
		e.emit(ctx, Event{Type: HandlerStarted, DispatchID: dispatchID, Action: actionName, HandlerID: handlerID})
	}
	return ctx
}

func (e *Emitter) HandlerEnd(ctx context.Context, ev pipeline.HandlerEvent) {
	if !e.handlerEvents {
		return
	}
	data := map[string]any{
		"blocking":   ev.Blocking,
		"elapsed_ms": ev.Elapsed.Milliseconds(),
	}
	eventType := HandlerCompleted
	switch ev.Outcome {
	case pipeline.OutcomeSkipped:
		eventType = HandlerSkipped
	case pipeline.OutcomeFailed:
		eventType = HandlerFailed
		if ev.Err != nil {
			data["error"] = ev.Err.Error()
		}
	}
	e.emit(ctx, Event{
		Type:       eventType,
		DispatchID: ev.DispatchID,
		Action:     ev.ActionName,
		HandlerID:  ev.HandlerID,
		Data:       data,
	})
}

func (e *Emitter) emit(ctx context.Context, ev Event) {
	ev.Timestamp = e.now()

	if e.recorder != nil {
		data := make(map[string]any, len(ev.Data)+2)
		for k, v := range ev.Data {
			data[k] = v
		}
		data["action"] = ev.Action
		if ev.HandlerID != "" {
			data["handler_id"] = ev.HandlerID
		}
		if err := e.recorder.RecordEvent(context.WithoutCancel(ctx), ev.DispatchID, ev.Type, data); err != nil {
			e.logger.Warn("Failed to record event", "type", ev.Type, "dispatch", ev.DispatchID, "error", err)
		}
	}

	if e.publisher != nil {
		raw, err := json.Marshal(ev)
		if err != nil {
			e.logger.Warn("Failed to encode event", "type", ev.Type, "error", err)
			return
		}
		if err := e.publisher.Publish(Subject(e.prefix, ev.Action, ev.Type), raw); err != nil {
			e.logger.Warn("Failed to publish event", "type", ev.Type, "dispatch", ev.DispatchID, "error", err)
		}
	}
}
