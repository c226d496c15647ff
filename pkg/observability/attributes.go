package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// actsafe semantic convention attributes.
var (
	AttrOperation     = attribute.Key("actsafe.operation")
	AttrRequestID     = attribute.Key("actsafe.request_id")
	AttrActionKind    = attribute.Key("actsafe.action.kind")
	AttrReceiptStatus = attribute.Key("actsafe.receipt.status")
	AttrFinality      = attribute.Key("actsafe.finality")
	AttrPolicyCode    = attribute.Key("actsafe.policy.code")
	AttrErrorKind     = attribute.Key("actsafe.error.kind")
	AttrSignature     = attribute.Key("actsafe.signature")
)

// ActionAttrs identifies an action on a span.
func ActionAttrs(requestID, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRequestID.String(requestID),
		AttrActionKind.String(kind),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes annotates the current span.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
