package pipeline

import (
	"errors"
	"fmt"
)

// Abort reasons set by the engine itself.
const (
	AbortReasonHandlerThrew = "handler threw"
	AbortReasonAbortAll     = "abortAll invoked"
)

var (
	// ErrDuplicateHandlerID is returned by Registry.Register when the id is
	// already registered for the action.
	ErrDuplicateHandlerID = errors.New("duplicate handler id")

	// ErrEmptyActionName is returned when registering under an empty action name.
	ErrEmptyActionName = errors.New("action name must not be empty")

	// ErrNilHandler is returned when registering a nil HandlerFunc.
	ErrNilHandler = errors.New("handler must not be nil")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrPayloadNotMap is returned by SetPayloadProperty when the payload is
	// not a map[string]any.
	ErrPayloadNotMap = errors.New("payload is not a map[string]any")

	// ErrAborted is the cancellation cause attached to a dispatch context
	// once the dispatch has been aborted.
	ErrAborted = errors.New("dispatch aborted")
)

// HandlerError reports an unrecovered failure of a blocking handler.
type HandlerError struct {
	ActionName string
	HandlerID  string
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("action %q: handler %q failed: %v", e.ActionName, e.HandlerID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func abortCause(reason string) error {
	return fmt.Errorf("%w: %s", ErrAborted, reason)
}
