// Package store provides Store implementations for handlers that share
// reactive state across dispatches.
package store

import (
	"context"
	"sync"

	"github.com/GoCodeAlone/actionpipe/interfaces"
)

var _ interfaces.Store = (*Memory)(nil)

type subscriber struct {
	fn func(any)
}

// Memory is a thread-safe in-memory Store. Subscribers are called
// synchronously, in subscription order, after each write and outside the
// store lock, so a subscriber may read the store again.
type Memory struct {
	mu    sync.Mutex
	value any
	subs  []*subscriber
}

// NewMemory creates a Memory store holding initial.
func NewMemory(initial any) *Memory {
	return &Memory{value: initial}
}

// GetValue returns the current value.
func (m *Memory) GetValue(_ context.Context) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, nil
}

// SetValue replaces the current value.
func (m *Memory) SetValue(_ context.Context, value any) error {
	m.mu.Lock()
	m.value = value
	subs := m.subs
	m.mu.Unlock()

	notify(subs, value)
	return nil
}

// Update applies fn to the current value under the store lock.
func (m *Memory) Update(_ context.Context, fn func(any) any) error {
	m.mu.Lock()
	next := fn(m.value)
	m.value = next
	subs := m.subs
	m.mu.Unlock()

	notify(subs, next)
	return nil
}

// Subscribe registers fn for change notifications.
func (m *Memory) Subscribe(fn func(any)) func() {
	s := &subscriber{fn: fn}
	m.mu.Lock()
	m.subs = append(m.subs[:len(m.subs):len(m.subs)], s)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			next := make([]*subscriber, 0, len(m.subs))
			for _, existing := range m.subs {
				if existing != s {
					next = append(next, existing)
				}
			}
			m.subs = next
		})
	}
}

func notify(subs []*subscriber, value any) {
	for _, s := range subs {
		s.fn(value)
	}
}
