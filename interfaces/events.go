package interfaces

import "context"

// EventRecorder records dispatch lifecycle events for observability.
// *events.MemoryRecorder and *events.SQLiteRecorder satisfy this interface.
type EventRecorder interface {
	RecordEvent(ctx context.Context, dispatchID string, eventType string, data map[string]any) error
}

// Publisher sends a message on a subject. *nats.Conn satisfies this
// interface, which lets tests substitute an in-process fake.
type Publisher interface {
	Publish(subject string, data []byte) error
}
