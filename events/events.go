// Package events turns dispatch and handler lifecycle notifications into
// recorded events and NATS messages.
package events

import "time"

// Event type constants.
const (
	DispatchStarted   = "dispatch.started"
	DispatchCompleted = "dispatch.completed"
	DispatchAborted   = "dispatch.aborted"
	DispatchFailed    = "dispatch.failed"
	HandlerStarted    = "handler.started"
	HandlerCompleted  = "handler.completed"
	HandlerSkipped    = "handler.skipped"
	HandlerFailed     = "handler.failed"
)

// DefaultSubjectPrefix is the NATS subject prefix used when none is configured.
const DefaultSubjectPrefix = "actionpipe"

// Subject returns the NATS subject for an event.
// Format: "<prefix>.<action>.<eventType>"
func Subject(prefix, actionName, eventType string) string {
	return prefix + "." + actionName + "." + eventType
}

// Event is the payload published for every lifecycle event.
type Event struct {
	Type       string         `json:"type"`
	DispatchID string         `json:"dispatchId"`
	Action     string         `json:"action"`
	HandlerID  string         `json:"handlerId,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}
