package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/actionpipe/interfaces"
)

// ErrNotFound is returned when no events exist for a dispatch.
var ErrNotFound = errors.New("dispatch not found")

var _ interfaces.EventRecorder = (*MemoryRecorder)(nil)

// MemoryRecorder is a thread-safe in-memory event log.
// Suitable for testing and single-process use.
type MemoryRecorder struct {
	mu     sync.RWMutex
	events map[string][]RecordedEvent
}

// NewMemoryRecorder creates an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{events: make(map[string][]RecordedEvent)}
}

func (r *MemoryRecorder) RecordEvent(_ context.Context, dispatchID, eventType string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.events[dispatchID]
	r.events[dispatchID] = append(log, RecordedEvent{
		ID:          uuid.NewString(),
		DispatchID:  dispatchID,
		SequenceNum: int64(len(log) + 1),
		EventType:   eventType,
		EventData:   raw,
		CreatedAt:   time.Now(),
	})
	return nil
}

// Events returns a copy of the event log of a dispatch.
func (r *MemoryRecorder) Events(_ context.Context, dispatchID string) ([]RecordedEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	log := r.events[dispatchID]
	out := make([]RecordedEvent, len(log))
	copy(out, log)
	return out, nil
}

// Timeline materializes the view of one dispatch.
func (r *MemoryRecorder) Timeline(ctx context.Context, dispatchID string) (*DispatchTimeline, error) {
	events, _ := r.Events(ctx, dispatchID)
	t := materialize(events)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dispatchID)
	}
	return t, nil
}

// Timelines returns the views matching filter, most recent first.
func (r *MemoryRecorder) Timelines(_ context.Context, filter TimelineFilter) ([]DispatchTimeline, error) {
	r.mu.RLock()
	var results []DispatchTimeline
	for _, log := range r.events {
		cp := make([]RecordedEvent, len(log))
		copy(cp, log)
		if t := materialize(cp); t != nil && filter.match(t) {
			results = append(results, *t)
		}
	}
	r.mu.RUnlock()

	sortTimelines(results)
	if filter.Limit > 0 && filter.Limit < len(results) {
		results = results[:filter.Limit]
	}
	return results, nil
}

func sortTimelines(ts []DispatchTimeline) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i].StartedAt, ts[j].StartedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})
}
