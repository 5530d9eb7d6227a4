package events

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/GoCodeAlone/actionpipe/interfaces"
)

func recordSequence(t *testing.T, rec interfaces.EventRecorder, dispatchID, action, final string) {
	t.Helper()
	ctx := context.Background()
	steps := []struct {
		eventType string
		data      map[string]any
	}{
		{DispatchStarted, map[string]any{"action": action, "scope": "default"}},
		{HandlerStarted, map[string]any{"action": action, "handler_id": "a"}},
		{HandlerCompleted, map[string]any{"action": action, "handler_id": "a", "blocking": true}},
		{final, map[string]any{"action": action, "status": "x"}},
	}
	for _, s := range steps {
		if err := rec.RecordEvent(ctx, dispatchID, s.eventType, s.data); err != nil {
			t.Fatalf("RecordEvent(%s): %v", s.eventType, err)
		}
	}
}

func TestMemoryRecorder_Timelines(t *testing.T) {
	ctx := context.Background()
	rec := NewMemoryRecorder()
	recordSequence(t, rec, "d1", "checkout", DispatchCompleted)
	recordSequence(t, rec, "d2", "checkout", DispatchAborted)
	recordSequence(t, rec, "d3", "refund", DispatchCompleted)

	events, err := rec.Events(ctx, "d1")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 4 || events[3].SequenceNum != 4 {
		t.Fatalf("unexpected events %+v", events)
	}

	all, _ := rec.Timelines(ctx, TimelineFilter{Action: "checkout"})
	if len(all) != 2 {
		t.Errorf("expected 2 checkout timelines, got %d", len(all))
	}
	aborted, _ := rec.Timelines(ctx, TimelineFilter{Status: "aborted"})
	if len(aborted) != 1 || aborted[0].DispatchID != "d2" {
		t.Errorf("expected d2 aborted, got %+v", aborted)
	}
	limited, _ := rec.Timelines(ctx, TimelineFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}

	if _, err := rec.Timeline(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteRecorder(t *testing.T) {
	ctx := context.Background()
	rec, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRecorder failed: %v", err)
	}
	t.Cleanup(func() { rec.Close() })

	recordSequence(t, rec, "d1", "checkout", DispatchCompleted)
	recordSequence(t, rec, "d2", "refund", DispatchFailed)

	tl, err := rec.Timeline(ctx, "d1")
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	if tl.Status != "completed" || tl.Action != "checkout" || tl.EventCount != 4 {
		t.Errorf("unexpected timeline %+v", tl)
	}
	if len(tl.Handlers) != 1 || tl.Handlers[0].Status != "completed" {
		t.Errorf("unexpected handlers %+v", tl.Handlers)
	}

	failed, err := rec.Timelines(ctx, TimelineFilter{Status: "failed"})
	if err != nil {
		t.Fatalf("Timelines failed: %v", err)
	}
	if len(failed) != 1 || failed[0].DispatchID != "d2" {
		t.Errorf("expected d2 failed, got %+v", failed)
	}

	if _, err := rec.Timeline(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
