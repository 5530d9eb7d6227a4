package pipeline

import (
	"context"
	"time"
)

// Status is the lifecycle state of a dispatch.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a settled state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusFailed
}

// HandlerResult is one entry of a dispatch's result list. Exactly one of
// Value and Err is meaningful.
type HandlerResult struct {
	HandlerID string `json:"id"`
	Value     any    `json:"value,omitempty"`
	Err       error  `json:"-"`
}

// Failed reports whether the entry records a handler error.
func (r HandlerResult) Failed() bool { return r.Err != nil }

// SkipRecord notes a handler that called Controller.Skip.
type SkipRecord struct {
	HandlerID string `json:"id"`
	Reason    string `json:"reason,omitempty"`
}

// DispatchResult is the settled outcome of one dispatch.
type DispatchResult struct {
	ID          string          `json:"id"`
	ActionName  string          `json:"action"`
	ScopeID     string          `json:"scope"`
	Status      Status          `json:"status"`
	Payload     any             `json:"payload"`
	Results     []HandlerResult `json:"results"`
	Skipped     []SkipRecord    `json:"skipped,omitempty"`
	AbortReason string          `json:"abortReason,omitempty"`
	AbortErr    error           `json:"-"`
	// Err is the *HandlerError that failed the dispatch, nil unless Status is failed.
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`

	dc *DispatchContext
}

// Result returns the first result recorded by handlerID.
func (r *DispatchResult) Result(handlerID string) (HandlerResult, bool) {
	for _, hr := range r.Results {
		if hr.HandlerID == handlerID {
			return hr, true
		}
	}
	return HandlerResult{}, false
}

// Wait blocks until every non-blocking handler of the dispatch has settled
// and returns the complete result list, including entries recorded after the
// dispatch itself settled.
func (r *DispatchResult) Wait(ctx context.Context) ([]HandlerResult, error) {
	if r.dc == nil {
		return r.Results, nil
	}
	done := make(chan struct{})
	go func() {
		r.dc.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return r.dc.Results(), nil
	case <-ctx.Done():
		return r.dc.Results(), ctx.Err()
	}
}

// Skips returns the skip records of the dispatch, including those noted by
// non-blocking handlers after the dispatch settled. The list is final once
// Wait has returned without error.
func (r *DispatchResult) Skips() []SkipRecord {
	if r.dc == nil {
		return r.Skipped
	}
	return r.dc.Skipped()
}
