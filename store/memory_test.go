package store

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemory_GetSetValue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1)

	v, err := m.GetValue(ctx)
	if err != nil || v != 1 {
		t.Fatalf("expected 1, got %v (%v)", v, err)
	}
	if err := m.SetValue(ctx, "two"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if v, _ := m.GetValue(ctx); v != "two" {
		t.Errorf("expected two, got %v", v)
	}
}

func TestMemory_SubscribersNotifiedSynchronously(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	var order []string
	var seen []any
	m.Subscribe(func(v any) {
		order = append(order, "first")
		seen = append(seen, v)
	})
	unsubscribe := m.Subscribe(func(any) { order = append(order, "second") })

	if err := m.SetValue(ctx, 5); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected synchronous ordered notification, got %v", order)
	}

	unsubscribe()
	unsubscribe()
	if err := m.Update(ctx, func(v any) any { return v.(int) + 1 }); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(order) != 3 {
		t.Errorf("expected only the remaining subscriber notified, got %v", order)
	}
	if len(seen) != 2 || seen[1] != 6 {
		t.Errorf("expected subscriber to see 5 then 6, got %v", seen)
	}
}

func TestMemory_SubscriberMayReadStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("a")
	var read any
	m.Subscribe(func(any) { read, _ = m.GetValue(ctx) })

	if err := m.SetValue(ctx, "b"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if read != "b" {
		t.Errorf("expected subscriber to read b, got %v", read)
	}
}

func TestMemory_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Update(ctx, func(v any) any { return v.(int) + 1 })
		}()
	}
	wg.Wait()

	if v, _ := m.GetValue(ctx); v != 100 {
		t.Errorf("expected 100, got %v", v)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Add("counter", NewMemory(0)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add("counter", NewMemory(0)); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if _, ok := r.Store("counter"); !ok {
		t.Error("expected counter store")
	}
	if _, err := r.Lookup("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if names := r.Names(); len(names) != 1 || names[0] != "counter" {
		t.Errorf("unexpected names %v", names)
	}
}
