package pipeline

import (
	"maps"
	"sync"
)

// Controller is the capability a handler receives for the dispatch it runs
// in. Every method is synchronous and scoped to that one dispatch.
//
// A controller is live while its handler runs. Once the handler returns,
// every method becomes a no-op (getters keep returning the last state).
// After the dispatch settles, the payload, state, and abort methods are
// no-ops; SetResult from a still-running non-blocking handler is recorded.
type Controller interface {
	// ActionName returns the name of the dispatched action.
	ActionName() string
	// HandlerID returns the id of the handler this controller was issued to.
	HandlerID() string

	// Abort stops the chain after the current handler settles. The first
	// reason wins.
	Abort(reason string, err error)
	// Aborted reports whether the dispatch has been aborted.
	Aborted() bool
	// Skip discards this handler's contribution to the results without
	// affecting the rest of the chain.
	Skip(reason string)

	Payload() any
	// ModifyPayload replaces the payload with fn(payload) for later handlers.
	ModifyPayload(fn func(payload any) any)
	// SetPayloadProperty shallow-clones a map payload and sets key on it.
	SetPayloadProperty(key string, value any) error

	// SetResult appends a result for this handler.
	SetResult(value any)
	// Results returns the ordered results recorded so far.
	Results() []HandlerResult
	// Result returns the first result matching pred.
	Result(pred func(HandlerResult) bool) (HandlerResult, bool)

	SetPipelineState(key string, value any)
	PipelineState(key string) (any, bool)
	AllPipelineState() map[string]any
}

// controller binds one handler invocation to its DispatchContext.
type controller struct {
	dc    *DispatchContext
	entry *HandlerEntry

	mu         sync.Mutex
	done       bool
	skipped    bool
	skipReason string
	resultSet  bool
}

var _ Controller = (*controller)(nil)

func newController(dc *DispatchContext, entry *HandlerEntry) *controller {
	return &controller{dc: dc, entry: entry}
}

func (c *controller) live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.done
}

// finish marks the handler as returned and reports its skip state and
// whether it recorded a result itself.
func (c *controller) finish() (skipped bool, skipReason string, resultSet bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = true
	return c.skipped, c.skipReason, c.resultSet
}

func (c *controller) ActionName() string { return c.dc.actionName }
func (c *controller) HandlerID() string  { return c.entry.id }

func (c *controller) Abort(reason string, err error) {
	if !c.live() {
		return
	}
	c.dc.abort(reason, err)
}

func (c *controller) Aborted() bool { return c.dc.Aborted() }

func (c *controller) Skip(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done || c.skipped {
		return
	}
	c.skipped = true
	c.skipReason = reason
}

func (c *controller) Payload() any { return c.dc.Payload() }

func (c *controller) ModifyPayload(fn func(payload any) any) {
	if fn == nil || !c.live() {
		return
	}
	c.dc.modifyPayload(fn)
}

func (c *controller) SetPayloadProperty(key string, value any) error {
	if !c.live() {
		return nil
	}
	var err error
	c.dc.modifyPayload(func(p any) any {
		var m map[string]any
		switch v := p.(type) {
		case nil:
			m = make(map[string]any, 1)
		case map[string]any:
			m = maps.Clone(v)
			if m == nil {
				m = make(map[string]any, 1)
			}
		default:
			err = ErrPayloadNotMap
			return p
		}
		m[key] = value
		return m
	})
	return err
}

func (c *controller) SetResult(value any) {
	c.mu.Lock()
	if c.done || c.skipped {
		c.mu.Unlock()
		return
	}
	c.resultSet = true
	c.mu.Unlock()

	c.dc.record(HandlerResult{HandlerID: c.entry.id, Value: value})
}

func (c *controller) Results() []HandlerResult { return c.dc.Results() }

func (c *controller) Result(pred func(HandlerResult) bool) (HandlerResult, bool) {
	for _, r := range c.dc.Results() {
		if pred(r) {
			return r, true
		}
	}
	return HandlerResult{}, false
}

func (c *controller) SetPipelineState(key string, value any) {
	if !c.live() {
		return
	}
	c.dc.setState(key, value)
}

func (c *controller) PipelineState(key string) (any, bool) { return c.dc.getState(key) }

func (c *controller) AllPipelineState() map[string]any { return c.dc.allState() }
