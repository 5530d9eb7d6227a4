package tracing

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware wraps next so every request gets a server span, with trace
// context extracted from incoming headers. Dispatches started by the
// request become children of that span.
func HTTPMiddleware(next http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(next, operation)
}
