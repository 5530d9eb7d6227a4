// Package pipeline implements the action pipeline execution engine.
//
// Handlers are registered per action name in a Registry and kept in
// non-increasing priority order (ties keep registration order). Each dispatch
// takes an immutable snapshot of the handler list, builds a DispatchContext,
// and drives it through the Engine. Handlers receive a Controller bound to
// that context which lets them abort the chain, skip their own contribution,
// replace or patch the payload, record results, and share scratch state with
// later handlers.
//
// Blocking handlers run on the dispatching goroutine; non-blocking handlers
// run on their own goroutine and record their outcome when they settle.
// Cancellation is cooperative: Controller.Abort, ScopeManager.AbortAll, or a
// cancelled caller context stop the cursor at the next handler boundary and
// cancel the context passed to running handlers.
package pipeline
