package pipeline

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// DispatchContext is the mutable execution state of a single dispatch. It is
// created by the Engine at dispatch start and never shared between
// dispatches. Handlers reach it only through a Controller.
type DispatchContext struct {
	id         string
	actionName string
	scopeID    string
	scopeToken string
	handlers   []*HandlerEntry
	startedAt  time.Time

	mu          sync.Mutex
	payload     any
	cursor      int
	status      Status
	aborted     bool
	abortReason string
	abortErr    error
	failErr     error
	results     []HandlerResult
	skipped     []SkipRecord
	state       map[string]any
	settled     bool

	cancel        context.CancelCauseFunc
	background    sync.WaitGroup
	hasBackground bool
}

func newDispatchContext(id, actionName, scopeID string, payload any, handlers []*HandlerEntry) *DispatchContext {
	return &DispatchContext{
		id:         id,
		actionName: actionName,
		scopeID:    scopeID,
		handlers:   handlers,
		startedAt:  time.Now(),
		payload:    payload,
		status:     StatusPending,
		state:      make(map[string]any),
	}
}

func (dc *DispatchContext) ID() string         { return dc.id }
func (dc *DispatchContext) ActionName() string { return dc.actionName }
func (dc *DispatchContext) ScopeID() string    { return dc.scopeID }

// Payload returns the current payload.
func (dc *DispatchContext) Payload() any {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.payload
}

// Status returns the current lifecycle state.
func (dc *DispatchContext) Status() Status {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.status
}

// Aborted reports whether the dispatch has been aborted or failed.
func (dc *DispatchContext) Aborted() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.aborted
}

// AbortReason returns the reason recorded by the first abort.
func (dc *DispatchContext) AbortReason() string {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.abortReason
}

// Cursor returns the index of the handler currently being processed.
func (dc *DispatchContext) Cursor() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.cursor
}

// Results returns a copy of the results recorded so far.
func (dc *DispatchContext) Results() []HandlerResult {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return slices.Clone(dc.results)
}

// Skipped returns a copy of the skip records noted so far.
func (dc *DispatchContext) Skipped() []SkipRecord {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return slices.Clone(dc.skipped)
}

// abort marks the dispatch aborted. Only the first reason is kept; later
// calls and calls after settlement report false.
func (dc *DispatchContext) abort(reason string, err error) bool {
	dc.mu.Lock()
	if dc.aborted || dc.settled {
		dc.mu.Unlock()
		return false
	}
	dc.aborted = true
	dc.abortReason = reason
	dc.abortErr = err
	cancel := dc.cancel
	dc.mu.Unlock()

	if cancel != nil {
		cancel(abortCause(reason))
	}
	return true
}

// fail records the error of a blocking handler. If the dispatch was not
// already aborted the error is unrecovered: the dispatch is aborted with
// AbortReasonHandlerThrew and the returned *HandlerError will fail it.
// Otherwise the error is only recorded and fail returns nil.
func (dc *DispatchContext) fail(entry *HandlerEntry, err error) *HandlerError {
	dc.mu.Lock()
	dc.results = append(dc.results, HandlerResult{HandlerID: entry.id, Err: err})
	if dc.aborted || dc.settled {
		dc.mu.Unlock()
		return nil
	}
	herr := &HandlerError{ActionName: dc.actionName, HandlerID: entry.id, Err: err}
	dc.failErr = herr
	dc.aborted = true
	dc.abortReason = AbortReasonHandlerThrew
	dc.abortErr = herr
	cancel := dc.cancel
	dc.mu.Unlock()

	if cancel != nil {
		cancel(abortCause(AbortReasonHandlerThrew))
	}
	return herr
}

func (dc *DispatchContext) record(r HandlerResult) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.results = append(dc.results, r)
}

// recordSkip records s and withdraws any result the skipped handler already
// contributed through SetResult.
func (dc *DispatchContext) recordSkip(s SkipRecord) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.results = slices.DeleteFunc(dc.results, func(r HandlerResult) bool {
		return r.HandlerID == s.HandlerID
	})
	dc.skipped = append(dc.skipped, s)
}

func (dc *DispatchContext) setCursor(i int) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.cursor = i
}

func (dc *DispatchContext) setStatus(s Status) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.status = s
}

// modifyPayload replaces the payload with fn(payload). fn runs without the
// lock held so it may read the controller. Concurrent modifications from
// non-blocking handlers are last-writer-wins.
func (dc *DispatchContext) modifyPayload(fn func(any) any) bool {
	dc.mu.Lock()
	if dc.settled {
		dc.mu.Unlock()
		return false
	}
	current := dc.payload
	dc.mu.Unlock()

	next := fn(current)

	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.settled {
		return false
	}
	dc.payload = next
	return true
}

func (dc *DispatchContext) setState(key string, value any) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.settled {
		return false
	}
	dc.state[key] = value
	return true
}

func (dc *DispatchContext) getState(key string) (any, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	v, ok := dc.state[key]
	return v, ok
}

func (dc *DispatchContext) allState() map[string]any {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return maps.Clone(dc.state)
}

// settle moves the dispatch into its terminal state and returns the result
// as seen at this instant.
func (dc *DispatchContext) settle() *DispatchResult {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	switch {
	case dc.failErr != nil:
		dc.status = StatusFailed
	case dc.aborted:
		dc.status = StatusAborted
	default:
		dc.status = StatusCompleted
	}
	dc.settled = true

	return &DispatchResult{
		ID:          dc.id,
		ActionName:  dc.actionName,
		ScopeID:     dc.scopeID,
		Status:      dc.status,
		Payload:     dc.payload,
		Results:     slices.Clone(dc.results),
		Skipped:     slices.Clone(dc.skipped),
		AbortReason: dc.abortReason,
		AbortErr:    dc.abortErr,
		Err:         dc.failErr,
		Duration:    time.Since(dc.startedAt),
		dc:          dc,
	}
}
