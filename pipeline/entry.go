package pipeline

import (
	"context"
	"sync/atomic"
)

// DefaultPriority is the priority given to handlers registered without one.
// Higher priorities run first.
const DefaultPriority = 50

// HandlerFunc is the signature of a pipeline handler. A non-nil error is an
// unrecovered failure unless the dispatch was already aborted. A non-nil
// return value is recorded as the handler's result unless the handler called
// SetResult or Skip.
type HandlerFunc func(ctx context.Context, payload any, c Controller) (any, error)

// ConditionFunc decides whether a handler runs for the given payload.
type ConditionFunc func(payload any) bool

// HandlerConfig is the per-registration configuration of a handler.
type HandlerConfig struct {
	ID        string
	Priority  int
	Blocking  bool
	Once      bool
	Condition ConditionFunc
}

// DefaultHandlerConfig returns the configuration applied before options.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Priority: DefaultPriority,
		Blocking: true,
	}
}

// HandlerOption configures a handler registration.
type HandlerOption func(*HandlerConfig)

// WithID sets the handler id. Ids are unique per action name.
func WithID(id string) HandlerOption {
	return func(c *HandlerConfig) { c.ID = id }
}

// WithPriority sets the handler priority.
func WithPriority(p int) HandlerOption {
	return func(c *HandlerConfig) { c.Priority = p }
}

// WithBlocking sets whether the engine waits for the handler before advancing.
func WithBlocking(b bool) HandlerOption {
	return func(c *HandlerConfig) { c.Blocking = b }
}

// NonBlocking is shorthand for WithBlocking(false).
func NonBlocking() HandlerOption {
	return WithBlocking(false)
}

// Once removes the handler from the registry after its first invocation.
func Once() HandlerOption {
	return func(c *HandlerConfig) { c.Once = true }
}

// WithCondition skips the handler when cond returns false for the payload.
func WithCondition(cond ConditionFunc) HandlerOption {
	return func(c *HandlerConfig) { c.Condition = cond }
}

// HandlerEntry is a registered handler plus its configuration. Entries are
// immutable after registration except for the once-claim flag.
type HandlerEntry struct {
	action    string
	id        string
	priority  int
	blocking  bool
	once      bool
	condition ConditionFunc
	handler   HandlerFunc

	fired atomic.Bool
}

func (e *HandlerEntry) ActionName() string { return e.action }
func (e *HandlerEntry) ID() string         { return e.id }
func (e *HandlerEntry) Priority() int      { return e.priority }
func (e *HandlerEntry) Blocking() bool     { return e.blocking }
func (e *HandlerEntry) Once() bool         { return e.once }

// claim reports whether this invocation may run the handler. Once entries
// can be claimed a single time across all dispatches.
func (e *HandlerEntry) claim() bool {
	if !e.once {
		return true
	}
	return e.fired.CompareAndSwap(false, true)
}
