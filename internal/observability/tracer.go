package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan creates a new server span (for incoming requests)
func StartServerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// SpanFromContext returns the current span from context
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// SetSpanError marks the span as errored
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Common attribute keys for relay spans: outbox/inbox claim-and-dispatch,
// lease acquire/renew, and the store/owner identity each span is scoped to.
var (
	AttrStoreKey    = attribute.Key("relay.store.key")
	AttrOwnerToken  = attribute.Key("relay.owner_token")
	AttrTopic       = attribute.Key("relay.topic")
	AttrMessageID   = attribute.Key("relay.message_id")
	AttrRetryCount  = attribute.Key("relay.retry_count")
	AttrLeaseName   = attribute.Key("relay.lease.name")
	AttrLeaseFencing = attribute.Key("relay.lease.fencing")
	AttrClaimedRows = attribute.Key("relay.claimed_rows")
)
