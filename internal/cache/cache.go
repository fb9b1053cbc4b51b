// Package cache implements an expiring key/value cache on top of an object
// store. Expiration is not delegated to the store: each object carries its
// absolute expiry in metadata and reads decide whether the entry is still
// live. Storage failures never reach the caller; they degrade to a miss or a
// false result and are logged.
package cache

import (
	"context"
	"time"
)

// DefaultTimeout selects the cache's configured default timeout in Set, Add
// and SetMany. Any negative timeout has the same effect.
const DefaultTimeout time.Duration = -1

// Cache abstracts a text key-value cache with per-entry timeouts.
// All operations are safe for concurrent use.
type Cache interface {
	// Get returns the value stored under key. ok is false when the key is
	// absent, expired, corrupt, or the storage could not be read.
	Get(ctx context.Context, key string) (value string, ok bool)

	// GetMany returns the live entries among keys. Missing keys are left
	// out of the result.
	GetMany(ctx context.Context, keys ...string) map[string]string

	// Set stores value under key for timeout, replacing any existing entry.
	// A zero timeout means the entry never expires.
	Set(ctx context.Context, key, value string, timeout time.Duration) bool

	// SetMany stores every item with the same timeout and returns the keys
	// that could not be written.
	SetMany(ctx context.Context, items map[string]string, timeout time.Duration) []string

	// Add works like Set but never replaces a live entry.
	Add(ctx context.Context, key, value string, timeout time.Duration) bool

	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) bool

	// DeleteMany removes all keys in one batch.
	DeleteMany(ctx context.Context, keys ...string) bool

	// Has reports whether key holds a live entry without reading its value.
	Has(ctx context.Context, key string) bool

	// Clear removes every entry under the cache's key prefix.
	Clear(ctx context.Context) bool

	// Close releases the underlying store.
	Close() error
}
