package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for Ember spans.
var (
	AttrRequestID = attribute.Key("ember.request.id")
	AttrTaskKind  = attribute.Key("ember.task.kind")
	AttrProjectID = attribute.Key("ember.project.id")
	AttrOutcome   = attribute.Key("ember.task.outcome")
	AttrErrorKind = attribute.Key("ember.error.kind")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
