// Package actionpipe is an in-process action pipeline: callers register
// prioritized handlers under action names and dispatch payloads through
// them.
//
//	reg := actionpipe.New(actionpipe.WithLogger(logger))
//	unregister, err := reg.Register("calc", validate, pipeline.WithID("v"), pipeline.WithPriority(100))
//	res := reg.DispatchWithResult(ctx, "calc", map[string]any{"x": 5})
//
// Dispatch returns the first unrecovered handler error; DispatchWithResult
// never fails and reports the status, final payload, and per-handler results.
// AbortAll cancels every running dispatch of an abort scope, and
// ResetAbortScope starts a fresh scope identity. Dispatches join the scope
// named by pipeline.WithScope on their context, or the default scope.
//
// The engine itself lives in package pipeline; declarative handler bindings
// loaded from YAML live in packages config and handlers.
package actionpipe
