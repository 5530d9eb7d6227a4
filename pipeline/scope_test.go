package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// blockUntilCancelled registers a handler that signals entered and waits for
// its context to be cancelled (or release to be closed).
func blockUntilCancelled(t *testing.T, e *Engine, action string, entered chan<- struct{}, release <-chan struct{}) {
	t.Helper()
	mustRegister(t, e, action, func(ctx context.Context, _ any, _ Controller) (any, error) {
		entered <- struct{}{}
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-release:
			return "released", nil
		}
	}, WithID("wait"), WithPriority(20))
}

func TestScope_AbortAllAbortsActiveDispatches(t *testing.T) {
	e := newTestEngine(t)
	entered := make(chan struct{}, 3)
	release := make(chan struct{})
	defer close(release)
	blockUntilCancelled(t, e, "act", entered, release)

	var afterRan int
	mustRegister(t, e, "act", func(context.Context, any, Controller) (any, error) {
		afterRan++
		return nil, nil
	}, WithPriority(10))

	done := make(chan *DispatchResult, 3)
	for i := 0; i < 3; i++ {
		go func() { done <- e.Dispatch(context.Background(), "act", i) }()
	}
	for i := 0; i < 3; i++ {
		<-entered
	}
	if n := e.Scopes().Active(DefaultScope); n != 3 {
		t.Fatalf("expected 3 active dispatches, got %d", n)
	}

	if n := e.Scopes().AbortAll(""); n != 3 {
		t.Errorf("expected 3 dispatches aborted, got %d", n)
	}

	for i := 0; i < 3; i++ {
		res := <-done
		if res.Status != StatusAborted {
			t.Errorf("expected aborted, got %s", res.Status)
		}
		if res.AbortReason != AbortReasonAbortAll {
			t.Errorf("expected reason %q, got %q", AbortReasonAbortAll, res.AbortReason)
		}
	}
	if afterRan != 0 {
		t.Errorf("handlers after abortAll ran %d times", afterRan)
	}
	if n := e.Scopes().Active(DefaultScope); n != 0 {
		t.Errorf("expected settled dispatches removed from scope, %d left", n)
	}
}

func TestScope_AbortedGenerationRejectsNewDispatches(t *testing.T) {
	e := newTestEngine(t)
	var calls int
	mustRegister(t, e, "act", func(context.Context, any, Controller) (any, error) {
		calls++
		return nil, nil
	})

	e.Scopes().AbortAll(DefaultScope)
	if !e.Scopes().Aborted(DefaultScope) {
		t.Fatal("expected scope generation marked aborted")
	}

	res := e.Dispatch(context.Background(), "act", nil)
	if res.Status != StatusAborted || calls != 0 {
		t.Fatalf("expected aborted without handlers, got %s calls=%d", res.Status, calls)
	}

	e.Scopes().Reset(DefaultScope)
	res = e.Dispatch(context.Background(), "act", nil)
	if res.Status != StatusCompleted || calls != 1 {
		t.Errorf("expected fresh scope to run handlers, got %s calls=%d", res.Status, calls)
	}
}

func TestScope_SettledScopesAreReleased(t *testing.T) {
	e := newTestEngine(t)
	mustRegister(t, e, "act", func(context.Context, any, Controller) (any, error) {
		return "ok", nil
	})

	for i := 0; i < 200; i++ {
		ctx := WithScope(context.Background(), fmt.Sprintf("req-%d", i))
		if res := e.Dispatch(ctx, "act", nil); res.Status != StatusCompleted {
			t.Fatalf("dispatch %d: expected completed, got %s", i, res.Status)
		}
	}
	e.Dispatch(context.Background(), "act", nil)

	if current, tracked := e.Scopes().size(); current != 0 || tracked != 0 {
		t.Errorf("expected no scope state after dispatches settled, got current=%d tracked=%d", current, tracked)
	}
}

func TestScope_AbortedScopeOutlivesItsDispatches(t *testing.T) {
	e := newTestEngine(t)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	blockUntilCancelled(t, e, "act", entered, release)

	ctx := WithScope(context.Background(), "ui")
	done := make(chan *DispatchResult, 1)
	go func() { done <- e.Dispatch(ctx, "act", nil) }()
	<-entered

	if n := e.Scopes().AbortAll("ui"); n != 1 {
		t.Fatalf("expected one dispatch aborted, got %d", n)
	}
	if res := <-done; res.Status != StatusAborted {
		t.Fatalf("expected aborted, got %s", res.Status)
	}

	if !e.Scopes().Aborted("ui") {
		t.Fatal("aborted scope must stay aborted after its last dispatch left")
	}
	if res := e.Dispatch(ctx, "act", nil); res.Status != StatusAborted {
		t.Errorf("expected new dispatch in aborted scope rejected, got %s", res.Status)
	}
	if current, tracked := e.Scopes().size(); current != 1 || tracked != 1 {
		t.Errorf("expected only the aborted scope tracked, got current=%d tracked=%d", current, tracked)
	}

	e.Scopes().Reset("ui")
	close(release)
	if res := e.Dispatch(ctx, "act", nil); res.Status != StatusCompleted {
		t.Errorf("expected dispatch after reset to complete, got %s", res.Status)
	}
	if current, tracked := e.Scopes().size(); current != 0 || tracked != 0 {
		t.Errorf("expected scope released after reset, got current=%d tracked=%d", current, tracked)
	}
}

func TestScope_ResetDetachesEarlierDispatches(t *testing.T) {
	e := newTestEngine(t)
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	blockUntilCancelled(t, e, "act", entered, release)

	before := make(chan *DispatchResult, 1)
	go func() { before <- e.Dispatch(context.Background(), "act", "before") }()
	<-entered

	oldToken := e.Scopes().Token(DefaultScope)
	e.Scopes().Reset(DefaultScope)
	if e.Scopes().Token(DefaultScope) == oldToken {
		t.Fatal("expected a new scope identity after reset")
	}

	after := make(chan *DispatchResult, 1)
	go func() { after <- e.Dispatch(context.Background(), "act", "after") }()
	<-entered

	if n := e.Scopes().AbortAll(DefaultScope); n != 1 {
		t.Errorf("expected only the post-reset dispatch aborted, got %d", n)
	}

	res := <-after
	if res.Status != StatusAborted {
		t.Errorf("expected post-reset dispatch aborted, got %s", res.Status)
	}

	select {
	case res := <-before:
		t.Fatalf("pre-reset dispatch should still be running, settled as %s", res.Status)
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	if res := <-before; res.Status != StatusCompleted {
		t.Errorf("expected pre-reset dispatch completed, got %s", res.Status)
	}
}

func TestScope_NamedScopesAreIndependent(t *testing.T) {
	e := newTestEngine(t)
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	blockUntilCancelled(t, e, "act", entered, release)

	ui := make(chan *DispatchResult, 1)
	bg := make(chan *DispatchResult, 1)
	go func() { ui <- e.Dispatch(WithScope(context.Background(), "ui"), "act", nil) }()
	go func() { bg <- e.Dispatch(WithScope(context.Background(), "jobs"), "act", nil) }()
	<-entered
	<-entered

	e.Scopes().AbortAll("ui")
	if res := <-ui; res.Status != StatusAborted || res.ScopeID != "ui" {
		t.Errorf("expected ui dispatch aborted, got %s in %q", res.Status, res.ScopeID)
	}

	close(release)
	if res := <-bg; res.Status != StatusCompleted {
		t.Errorf("expected jobs dispatch unaffected, got %s", res.Status)
	}
}

func TestScope_FromContext(t *testing.T) {
	if _, ok := ScopeFromContext(context.Background()); ok {
		t.Error("expected no scope on bare context")
	}
	if _, ok := ScopeFromContext(WithScope(context.Background(), "")); ok {
		t.Error("expected empty scope id to be ignored")
	}
	if id, ok := ScopeFromContext(WithScope(context.Background(), "s1")); !ok || id != "s1" {
		t.Errorf("expected s1, got %q", id)
	}
}
