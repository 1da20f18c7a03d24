package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/pulse-labs/pulse/event"
)

// Annotate stamps the event with the trace and span IDs of the span active
// in ctx, so downstream consumers (archive rows, SSE clients) can correlate
// the event with its originating operation. When no span is active the event
// is returned unchanged.
func Annotate(ctx context.Context, e event.Event) event.Event {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return e
	}
	e.TraceID = sc.TraceID().String()
	e.SpanID = sc.SpanID().String()
	return e
}

// AnnotatingHandler wraps a handler so every event it forwards carries the
// trace context active in ctx at wrap time. Useful when a producer emits
// from a fixed operation scope.
func AnnotatingHandler(ctx context.Context, next event.Handler) event.Handler {
	return func(e event.Event) {
		next(Annotate(ctx, e))
	}
}
