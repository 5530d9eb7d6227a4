package events

import (
	"encoding/json"
	"time"
)

// RecordedEvent is a single immutable entry in a dispatch's event log.
type RecordedEvent struct {
	ID          string          `json:"id"`
	DispatchID  string          `json:"dispatch_id"`
	SequenceNum int64           `json:"sequence_num"`
	EventType   string          `json:"event_type"`
	EventData   json.RawMessage `json:"event_data"`
	CreatedAt   time.Time       `json:"created_at"`
}

// HandlerTimeline is a read-optimized view of one handler invocation.
type HandlerTimeline struct {
	HandlerID   string     `json:"handler_id"`
	Status      string     `json:"status"`
	Blocking    bool       `json:"blocking"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DispatchTimeline is a read-optimized view of a complete dispatch,
// materialized from its event log.
type DispatchTimeline struct {
	DispatchID  string            `json:"dispatch_id"`
	Action      string            `json:"action,omitempty"`
	Scope       string            `json:"scope,omitempty"`
	Status      string            `json:"status"`
	Handlers    []HandlerTimeline `json:"handlers,omitempty"`
	AbortReason string            `json:"abort_reason,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	EventCount  int               `json:"event_count"`
}

// TimelineFilter specifies criteria for listing timelines.
type TimelineFilter struct {
	Action string
	Status string
	Limit  int
}

func (f TimelineFilter) match(t *DispatchTimeline) bool {
	if f.Action != "" && t.Action != f.Action {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

// materialize replays an event log into a DispatchTimeline.
func materialize(events []RecordedEvent) *DispatchTimeline {
	if len(events) == 0 {
		return nil
	}

	t := &DispatchTimeline{
		DispatchID: events[0].DispatchID,
		Status:     "unknown",
		EventCount: len(events),
	}
	// handler id -> index in t.Handlers; non-blocking handlers may settle
	// after the dispatch itself.
	index := make(map[string]int)

	for i := range events {
		ev := &events[i]
		var data map[string]any
		if len(ev.EventData) > 0 {
			_ = json.Unmarshal(ev.EventData, &data)
		}
		if data == nil {
			data = map[string]any{}
		}
		at := ev.CreatedAt
		handlerID, _ := data["handler_id"].(string)

		switch ev.EventType {
		case DispatchStarted:
			t.Status = "running"
			t.StartedAt = &at
			t.Action, _ = data["action"].(string)
			t.Scope, _ = data["scope"].(string)

		case HandlerStarted:
			if handlerID == "" {
				continue
			}
			index[handlerID] = len(t.Handlers)
			t.Handlers = append(t.Handlers, HandlerTimeline{
				HandlerID: handlerID,
				Status:    "running",
				StartedAt: &at,
			})

		case HandlerCompleted, HandlerSkipped, HandlerFailed:
			idx, ok := index[handlerID]
			if !ok {
				continue
			}
			h := &t.Handlers[idx]
			h.CompletedAt = &at
			h.Blocking, _ = data["blocking"].(bool)
			switch ev.EventType {
			case HandlerCompleted:
				h.Status = "completed"
			case HandlerSkipped:
				h.Status = "skipped"
			default:
				h.Status = "failed"
				h.Error, _ = data["error"].(string)
			}

		case DispatchCompleted:
			t.Status = "completed"
			t.CompletedAt = &at

		case DispatchAborted:
			t.Status = "aborted"
			t.CompletedAt = &at
			t.AbortReason, _ = data["reason"].(string)

		case DispatchFailed:
			t.Status = "failed"
			t.CompletedAt = &at
			t.Error, _ = data["error"].(string)
		}
	}

	return t
}
