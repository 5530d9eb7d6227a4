package store

import (
	"fmt"
	"slices"
	"sync"

	"github.com/GoCodeAlone/actionpipe/interfaces"
)

var _ interfaces.StoreProvider = (*Registry)(nil)

// Registry holds named stores so declarative handler bindings can refer to
// them by name.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]interfaces.Store
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]interfaces.Store)}
}

// Add registers s under name.
func (r *Registry) Add(name string, s interfaces.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stores[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	r.stores[name] = s
	return nil
}

// Store returns the store registered under name.
func (r *Registry) Store(name string) (interfaces.Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[name]
	return s, ok
}

// Lookup is like Store but returns ErrNotFound for unknown names.
func (r *Registry) Lookup(name string) (interfaces.Store, error) {
	s, ok := r.Store(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s, nil
}

// Names returns the registered store names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
