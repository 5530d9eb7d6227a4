package pipeline

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry holds the handler entries of every action name.
//
// Each action's entry list is copy-on-write: writers build a new sorted slice
// under the lock and swap it in, so a slice handed to a reader is never
// modified afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]*HandlerEntry // action name -> entries (sorted by priority)
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string][]*HandlerEntry),
	}
}

// Register adds a handler for an action name and returns a function that
// removes exactly this entry. The returned function is idempotent.
func (r *Registry) Register(actionName string, fn HandlerFunc, opts ...HandlerOption) (func(), error) {
	if actionName == "" {
		return nil, ErrEmptyActionName
	}
	if fn == nil {
		return nil, ErrNilHandler
	}

	cfg := DefaultHandlerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.handlers[actionName]
	for _, existing := range current {
		if existing.id == cfg.ID {
			return nil, fmt.Errorf("%w: %q for action %q", ErrDuplicateHandlerID, cfg.ID, actionName)
		}
	}

	entry := &HandlerEntry{
		action:    actionName,
		id:        cfg.ID,
		priority:  cfg.Priority,
		blocking:  cfg.Blocking,
		once:      cfg.Once,
		condition: cfg.Condition,
		handler:   fn,
	}

	next := make([]*HandlerEntry, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, entry)
	slices.SortStableFunc(next, func(a, b *HandlerEntry) int {
		return cmp.Compare(b.priority, a.priority)
	})
	r.handlers[actionName] = next

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(actionName, entry) })
	}, nil
}

// Unregister removes the handler with the given id. Absent ids are ignored.
func (r *Registry) Unregister(actionName, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.handlers[actionName] {
		if e.id == id {
			r.removeLocked(actionName, e)
			return
		}
	}
}

// remove deletes entry by identity and reports whether it was present.
func (r *Registry) remove(actionName string, entry *HandlerEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(actionName, entry)
}

func (r *Registry) removeLocked(actionName string, entry *HandlerEntry) bool {
	current := r.handlers[actionName]
	idx := slices.Index(current, entry)
	if idx < 0 {
		return false
	}
	if len(current) == 1 {
		delete(r.handlers, actionName)
		return true
	}
	next := make([]*HandlerEntry, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)
	r.handlers[actionName] = next
	return true
}

// Snapshot returns the entries of an action in execution order. The result
// is a private copy; later registry mutations do not affect it.
func (r *Registry) Snapshot(actionName string) []*HandlerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.handlers[actionName])
}

// Has returns true if at least one handler is registered for the action.
func (r *Registry) Has(actionName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[actionName]) > 0
}

// Len returns the number of handlers registered for the action.
func (r *Registry) Len(actionName string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[actionName])
}

// Actions returns all action names with registered handlers, sorted.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes every registered handler.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string][]*HandlerEntry)
}
