package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new internal span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan creates a span for an outgoing call to the storage service
func StartClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
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

// Common attribute keys for s3cache spans
var (
	AttrBackend    = attribute.Key("s3cache.backend")
	AttrBucket     = attribute.Key("s3cache.bucket")
	AttrKeyPrefix  = attribute.Key("s3cache.key_prefix")
	AttrKey        = attribute.Key("s3cache.key")
	AttrPrefix     = attribute.Key("s3cache.prefix")
	AttrSize       = attribute.Key("s3cache.size_bytes")
	AttrKeyCount   = attribute.Key("s3cache.key_count")
	AttrFailedKeys = attribute.Key("s3cache.failed_keys")
	AttrOperation  = attribute.Key("s3cache.operation")
	AttrResult     = attribute.Key("s3cache.result")
)
