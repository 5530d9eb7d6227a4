package pipeline

import (
	"context"
	"testing"
)

func TestController_PipelineState(t *testing.T) {
	e := newTestEngine(t)
	var snapshot map[string]any
	mustRegister(t, e, "act", func(_ context.Context, _ any, c Controller) (any, error) {
		c.SetPipelineState("user", "ada")
		c.SetPipelineState("attempt", 1)
		return nil, nil
	}, WithPriority(20))
	mustRegister(t, e, "act", func(_ context.Context, _ any, c Controller) (any, error) {
		if v, ok := c.PipelineState("user"); !ok || v != "ada" {
			t.Errorf("expected user=ada, got %v (%v)", v, ok)
		}
		if _, ok := c.PipelineState("missing"); ok {
			t.Error("expected missing key to report false")
		}
		snapshot = c.AllPipelineState()
		snapshot["mutated"] = true
		return nil, nil
	}, WithPriority(10))
	mustRegister(t, e, "act", func(_ context.Context, _ any, c Controller) (any, error) {
		if _, ok := c.PipelineState("mutated"); ok {
			t.Error("AllPipelineState must return a copy")
		}
		return nil, nil
	}, WithPriority(1))

	e.Dispatch(context.Background(), "act", nil)
	if len(snapshot) != 3 {
		t.Errorf("expected 2 state keys plus local mutation, got %v", snapshot)
	}

	// State does not survive the dispatch.
	e2 := newTestEngine(t)
	mustRegister(t, e2, "act", func(_ context.Context, _ any, c Controller) (any, error) {
		c.SetPipelineState("k", "v")
		return nil, nil
	})
	mustRegister(t, e2, "other", func(_ context.Context, _ any, c Controller) (any, error) {
		if len(c.AllPipelineState()) != 0 {
			t.Error("pipeline state leaked into another dispatch")
		}
		return nil, nil
	})
	e2.Dispatch(context.Background(), "act", nil)
	e2.Dispatch(context.Background(), "other", nil)
}

func TestController_Identity(t *testing.T) {
	e := newTestEngine(t)
	mustRegister(t, e, "greet", func(_ context.Context, _ any, c Controller) (any, error) {
		if c.ActionName() != "greet" || c.HandlerID() != "hello" {
			t.Errorf("unexpected identity %q/%q", c.ActionName(), c.HandlerID())
		}
		if c.Aborted() {
			t.Error("expected not aborted")
		}
		c.Abort("done", nil)
		if !c.Aborted() {
			t.Error("expected aborted after Abort")
		}
		return nil, nil
	}, WithID("hello"))

	e.Dispatch(context.Background(), "greet", nil)
}

func TestController_NoOpAfterReturn(t *testing.T) {
	e := newTestEngine(t)
	var leaked Controller
	mustRegister(t, e, "act", func(_ context.Context, _ any, c Controller) (any, error) {
		leaked = c
		return nil, nil
	})

	res := e.Dispatch(context.Background(), "act", map[string]any{"a": 1})

	leaked.Abort("late", nil)
	leaked.ModifyPayload(func(any) any { return "replaced" })
	leaked.SetResult("late result")
	leaked.SetPipelineState("late", true)
	if err := leaked.SetPayloadProperty("late", true); err != nil {
		t.Errorf("expected no-op without error, got %v", err)
	}

	if res.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", res.Status)
	}
	all, _ := res.Wait(context.Background())
	if len(all) != 0 {
		t.Errorf("late SetResult must be ignored, got %v", all)
	}
	if p := leaked.Payload().(map[string]any); p["a"] != 1 || len(p) != 1 {
		t.Errorf("late payload change applied: %v", p)
	}
	if _, ok := leaked.PipelineState("late"); ok {
		t.Error("late pipeline state change applied")
	}
}

func TestController_NonBlockingAfterSettlement(t *testing.T) {
	e := newTestEngine(t)
	settled := make(chan struct{})
	mustRegister(t, e, "act", func(_ context.Context, _ any, c Controller) (any, error) {
		<-settled
		c.ModifyPayload(func(any) any { return "too late" })
		c.Abort("too late", nil)
		c.SetResult("recorded")
		return nil, nil
	}, WithID("bg"), NonBlocking())

	res := e.Dispatch(context.Background(), "act", "original")
	close(settled)
	all, err := res.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}

	if res.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", res.Status)
	}
	if res.dc.Payload() != "original" {
		t.Errorf("payload changed after settlement: %v", res.dc.Payload())
	}
	if res.dc.Aborted() {
		t.Error("abort applied after settlement")
	}
	if len(all) != 1 || all[0].Value != "recorded" {
		t.Errorf("expected background SetResult recorded, got %v", all)
	}
}
