package main

import (
	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// dispatchOutput is the JSON form of a settled dispatch. Handler errors are
// rendered as strings since error values do not marshal.
type dispatchOutput struct {
	ID          string                `json:"id"`
	Action      string                `json:"action"`
	Scope       string                `json:"scope"`
	Status      pipeline.Status       `json:"status"`
	Payload     any                   `json:"payload,omitempty"`
	Results     []handlerOutput       `json:"results"`
	Skipped     []pipeline.SkipRecord `json:"skipped,omitempty"`
	AbortReason string                `json:"abortReason,omitempty"`
	Error       string                `json:"error,omitempty"`
	DurationMS  float64               `json:"durationMs"`
}

type handlerOutput struct {
	ID    string `json:"id"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// newDispatchOutput renders res using results and skipped in place of the
// settle-time lists, so callers that waited can report the final ones.
func newDispatchOutput(res *pipeline.DispatchResult, results []pipeline.HandlerResult, skipped []pipeline.SkipRecord) dispatchOutput {
	out := dispatchOutput{
		ID:          res.ID,
		Action:      res.ActionName,
		Scope:       res.ScopeID,
		Status:      res.Status,
		Payload:     res.Payload,
		Results:     make([]handlerOutput, 0, len(results)),
		Skipped:     skipped,
		AbortReason: res.AbortReason,
		DurationMS:  float64(res.Duration.Microseconds()) / 1000,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	for _, hr := range results {
		ho := handlerOutput{ID: hr.HandlerID, Value: hr.Value}
		if hr.Err != nil {
			ho.Error = hr.Err.Error()
		}
		out.Results = append(out.Results, ho)
	}
	return out
}
