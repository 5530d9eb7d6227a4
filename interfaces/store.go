// Package interfaces defines the boundary types shared by the pipeline
// handlers, the event emitters, and the stores. Placing them here keeps the
// handlers package free of concrete store and transport dependencies so each
// side can be tested in isolation.
package interfaces

import "context"

// Store is the reactive value container handlers read from and write to.
// *store.Memory and *redis.Store satisfy this interface.
type Store interface {
	// GetValue returns the current value.
	GetValue(ctx context.Context) (any, error)

	// SetValue replaces the current value and notifies subscribers.
	SetValue(ctx context.Context, value any) error

	// Update applies fn to the current value atomically and stores the
	// result. Subscribers are notified once with the new value.
	Update(ctx context.Context, fn func(current any) any) error

	// Subscribe registers fn to be called synchronously with every new
	// value. The returned function removes the subscription.
	Subscribe(fn func(value any)) (unsubscribe func())
}

// StoreProvider resolves named stores for declarative handler bindings.
type StoreProvider interface {
	Store(name string) (Store, bool)
}
