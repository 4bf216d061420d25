package util

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

const traceIDHeader = "X-Trace-ID"

// SetTraceID adds the trace id of the active span to the response headers
func SetTraceID(w http.ResponseWriter, span trace.Span) {
	if span != nil && span.SpanContext().IsValid() {
		w.Header().Set(traceIDHeader, span.SpanContext().TraceID().String())
	}
}
