// Package objstore defines the object-storage collaborator the cache is built
// on. A Store addresses one bucket: a flat namespace of keyed objects, each an
// opaque body plus a small map of string metadata. Implementations exist for
// S3-compatible services, Redis and process memory.
package objstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the addressed object does not exist.
	ErrNotFound = errors.New("objstore: object not found")

	// ErrUnauthorized is returned when the bucket is missing or the
	// credentials are not allowed to access it.
	ErrUnauthorized = errors.New("objstore: bucket inaccessible or unauthorized")
)

// ClientError is any storage failure that is neither a missing object nor an
// authorization problem: throttling, timeouts, malformed requests, outages.
type ClientError struct {
	Code    string
	Message string
	Err     error
}

func (e *ClientError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("objstore: %s", e.Code)
	}
	return fmt.Sprintf("objstore: %s: %s", e.Code, e.Message)
}

func (e *ClientError) Unwrap() error { return e.Err }

// DeleteError reports a single key that a batch delete could not remove.
type DeleteError struct {
	Key     string
	Code    string
	Message string
}

// Object is a stored body together with its user metadata.
type Object struct {
	Body     []byte
	Metadata map[string]string
}

// Store is the primitive operation set of one bucket.
// All operations are safe for concurrent use.
type Store interface {
	// Put writes body and metadata at key, replacing any existing object.
	Put(ctx context.Context, key string, body []byte, metadata map[string]string) error

	// Get returns the object at key.
	// Fails with ErrNotFound, ErrUnauthorized or a *ClientError.
	Get(ctx context.Context, key string) (*Object, error)

	// Head returns only the metadata of the object at key; the body is
	// never transferred. Fails like Get.
	Head(ctx context.Context, key string) (map[string]string, error)

	// DeleteBatch removes keys in as few requests as the backend allows.
	// Removing a missing key succeeds. The returned slice lists the keys
	// that could not be removed; a non-nil error means the request itself
	// failed and nothing can be assumed about the keys.
	DeleteBatch(ctx context.Context, keys []string) ([]DeleteError, error)

	// DeletePrefix removes every object whose key starts with prefix.
	// An empty prefix empties the bucket. It stops at the first failure
	// without restoring what was already removed.
	DeletePrefix(ctx context.Context, prefix string) error

	// Bucket names the bucket this store addresses.
	Bucket() string

	// Close releases the resources held by the store.
	Close() error
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized reports whether err means the bucket cannot be accessed.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// AsClientError returns err as a *ClientError. Errors of any other type are
// wrapped with the given fallback code so callers can always log a code.
func AsClientError(err error, fallbackCode string) *ClientError {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce
	}
	return &ClientError{Code: fallbackCode, Message: err.Error(), Err: err}
}

func copyMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
