package objstore

import (
	"context"

	"github.com/oriys/s3cache/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Traced wraps a Store so that every call runs inside a span. Missing
// objects are an expected outcome and do not mark the span as failed.
type Traced struct {
	next Store
}

// NewTraced returns next wrapped with tracing.
func NewTraced(next Store) *Traced {
	return &Traced{next: next}
}

func (t *Traced) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, observability.AttrBucket.String(t.next.Bucket()))
	return observability.StartClientSpan(ctx, "s3cache.store."+op, attrs...)
}

func finish(span trace.Span, err error) {
	if err != nil && !IsNotFound(err) {
		observability.SetSpanError(span, err)
	} else {
		observability.SetSpanOK(span)
	}
	span.End()
}

func (t *Traced) Put(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	ctx, span := t.start(ctx, "put", observability.AttrKey.String(key), observability.AttrSize.Int(len(body)))
	err := t.next.Put(ctx, key, body, metadata)
	finish(span, err)
	return err
}

func (t *Traced) Get(ctx context.Context, key string) (*Object, error) {
	ctx, span := t.start(ctx, "get", observability.AttrKey.String(key))
	obj, err := t.next.Get(ctx, key)
	if err == nil {
		span.SetAttributes(observability.AttrSize.Int(len(obj.Body)))
	}
	finish(span, err)
	return obj, err
}

func (t *Traced) Head(ctx context.Context, key string) (map[string]string, error) {
	ctx, span := t.start(ctx, "head", observability.AttrKey.String(key))
	md, err := t.next.Head(ctx, key)
	finish(span, err)
	return md, err
}

func (t *Traced) DeleteBatch(ctx context.Context, keys []string) ([]DeleteError, error) {
	ctx, span := t.start(ctx, "delete_batch", observability.AttrKeyCount.Int(len(keys)))
	errs, err := t.next.DeleteBatch(ctx, keys)
	span.SetAttributes(observability.AttrFailedKeys.Int(len(errs)))
	finish(span, err)
	return errs, err
}

func (t *Traced) DeletePrefix(ctx context.Context, prefix string) error {
	ctx, span := t.start(ctx, "delete_prefix", observability.AttrPrefix.String(prefix))
	err := t.next.DeletePrefix(ctx, prefix)
	finish(span, err)
	return err
}

func (t *Traced) Bucket() string { return t.next.Bucket() }

func (t *Traced) Close() error { return t.next.Close() }
