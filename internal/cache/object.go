package cache

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/oriys/s3cache/internal/logging"
	"github.com/oriys/s3cache/internal/metrics"
	"github.com/oriys/s3cache/internal/objstore"
	"github.com/oriys/s3cache/internal/observability"
)

// Options holds the immutable settings of an ObjectCache.
type Options struct {
	// KeyPrefix is prepended to every key. No separator is inserted.
	KeyPrefix string

	// DefaultTimeout applies when Set or Add are called with DefaultTimeout.
	// Zero means entries never expire.
	DefaultTimeout time.Duration

	// PurgeExpiredOnRead deletes expired objects found by Get and Has.
	// Corrupt objects are deleted regardless.
	PurgeExpiredOnRead bool
}

// DefaultOptions returns the stock settings: no prefix, a 300 second
// timeout and no purging of expired entries.
func DefaultOptions() Options {
	return Options{DefaultTimeout: 300 * time.Second}
}

// Option customises an ObjectCache.
type Option func(*ObjectCache)

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(c *ObjectCache) { c.now = now }
}

// WithMetrics records operation outcomes on m.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(c *ObjectCache) { c.metrics = m }
}

// WithLogger logs to l instead of the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *ObjectCache) { c.logger = l }
}

// ObjectCache implements Cache on one bucket of an objstore.Store.
//
// Add is a check followed by a write, two separate storage round trips.
// A concurrent writer may slip in between; the last write wins and Add may
// report success for a key another client has just created.
type ObjectCache struct {
	store   objstore.Store
	opts    Options
	now     func() time.Time
	metrics *metrics.PrometheusMetrics
	logger  *slog.Logger
}

var _ Cache = (*ObjectCache)(nil)

// NewObjectCache creates a cache on store.
func NewObjectCache(store objstore.Store, opts Options, options ...Option) *ObjectCache {
	c := &ObjectCache{
		store: store,
		opts:  opts,
		now:   time.Now,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Options returns the settings the cache was created with.
func (c *ObjectCache) Options() Options { return c.opts }

// Metrics returns the collectors the cache records into, or nil.
func (c *ObjectCache) Metrics() *metrics.PrometheusMetrics { return c.metrics }

func (c *ObjectCache) key(k string) string {
	return c.opts.KeyPrefix + k
}

func (c *ObjectCache) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return logging.Op()
}

// begin opens a span for op and returns a function that closes it and
// records the duration.
func (c *ObjectCache) begin(ctx context.Context, op string) (context.Context, func(result string)) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "s3cache.cache."+op,
		observability.AttrOperation.String(op),
		observability.AttrBucket.String(c.store.Bucket()),
	)
	return ctx, func(result string) {
		span.SetAttributes(observability.AttrResult.String(result))
		span.End()
		c.metrics.ObserveDuration(op, time.Since(start))
	}
}

type lookupState int

const (
	lookupAbsent  lookupState = iota // missing, unreadable or corrupt
	lookupExpired                    // present but past its expiry
	lookupValid
)

// lookup fetches fullKey and applies the expiry policy shared by Get and
// Has. Has passes withBody=false so only metadata is transferred.
func (c *ObjectCache) lookup(ctx context.Context, op, fullKey string, withBody bool) (lookupState, []byte) {
	var (
		body []byte
		md   map[string]string
		err  error
	)
	if withBody {
		var obj *objstore.Object
		obj, err = c.store.Get(ctx, fullKey)
		if err == nil {
			body, md = obj.Body, obj.Metadata
		}
	} else {
		md, err = c.store.Head(ctx, fullKey)
	}

	if err != nil {
		switch {
		case objstore.IsNotFound(err):
			c.log().Debug(op+" key -> miss", "key", fullKey)
			c.metrics.RecordLookup(op, metrics.ResultAbsent)
		case objstore.IsUnauthorized(err):
			c.log().Error(op+" key -> unauthorized", "key", fullKey, "bucket", c.store.Bucket(), "error", err)
			c.metrics.RecordLookup(op, metrics.ResultUnauthorized)
			c.metrics.RecordStorageError(op, "unauthorized")
		default:
			ce := objstore.AsClientError(err, "ClientError")
			c.log().Error(op+" key -> error", "key", fullKey, "code", ce.Code, "error", err)
			c.metrics.RecordLookup(op, metrics.ResultError)
			c.metrics.RecordStorageError(op, "client_error")
		}
		return lookupAbsent, nil
	}

	exp, raw := expirationFromMetadata(md)
	switch {
	case exp.Kind == ExpirationInvalid:
		c.log().Error(op+" key -> invalid expiration metadata, purging", "key", fullKey, "expires_at", raw, "metadata", md)
		c.metrics.RecordLookup(op, metrics.ResultInvalid)
		c.purge(ctx, op, fullKey, metrics.ResultInvalid)
		return lookupAbsent, nil
	case exp.ExpiredAt(c.now()):
		c.log().Debug(op+" key -> expired", "key", fullKey, "expires_at", exp.At)
		c.metrics.RecordLookup(op, metrics.ResultExpired)
		if c.opts.PurgeExpiredOnRead {
			c.purge(ctx, op, fullKey, metrics.ResultExpired)
		}
		return lookupExpired, nil
	}

	c.metrics.RecordLookup(op, metrics.ResultHit)
	return lookupValid, body
}

// purge deletes an object found unusable by a read. Failures are logged;
// the read reports a miss either way.
func (c *ObjectCache) purge(ctx context.Context, op, fullKey, reason string) {
	errs, err := c.store.DeleteBatch(ctx, []string{fullKey})
	if err == nil && len(errs) == 0 {
		c.log().Debug(op+" key -> purged", "key", fullKey, "reason", reason)
		c.metrics.RecordPurge(reason)
		return
	}
	if err != nil {
		c.log().Error(op+" key -> purge failed", "key", fullKey, "error", err)
	}
	for _, e := range errs {
		c.log().Error(op+" key -> purge failed", "key", e.Key, "code", e.Code, "message", e.Message)
	}
	c.metrics.RecordStorageError("purge", "client_error")
}

// Get returns the value stored under key.
func (c *ObjectCache) Get(ctx context.Context, key string) (string, bool) {
	ctx, end := c.begin(ctx, "get")
	state, body := c.lookup(ctx, "get", c.key(key), true)
	if state != lookupValid {
		end("miss")
		return "", false
	}
	end("hit")
	return string(body), true
}

// GetMany returns the live entries among keys.
func (c *ObjectCache) GetMany(ctx context.Context, keys ...string) map[string]string {
	found := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := c.Get(ctx, k); ok {
			found[k] = v
		}
	}
	return found
}

// Has reports whether key holds a live entry. Only metadata is fetched.
func (c *ObjectCache) Has(ctx context.Context, key string) bool {
	ctx, end := c.begin(ctx, "has")
	state, _ := c.lookup(ctx, "has", c.key(key), false)
	if state != lookupValid {
		end("miss")
		return false
	}
	c.log().Debug("has key", "key", c.key(key))
	end("hit")
	return true
}

// normalizeTimeout resolves DefaultTimeout and rounds positive timeouts up
// to whole seconds, the resolution of the stored expiry.
func (c *ObjectCache) normalizeTimeout(timeout time.Duration) int64 {
	if timeout < 0 {
		timeout = c.opts.DefaultTimeout
	}
	if timeout <= 0 {
		return 0
	}
	secs := int64(timeout / time.Second)
	if timeout%time.Second != 0 {
		secs++
	}
	return secs
}

// Set stores value under key, replacing any existing object.
func (c *ObjectCache) Set(ctx context.Context, key, value string, timeout time.Duration) bool {
	ctx, end := c.begin(ctx, "set")
	ok := c.set(ctx, "set", key, value, timeout)
	end(writeStatus(ok))
	return ok
}

func (c *ObjectCache) set(ctx context.Context, op, key, value string, timeout time.Duration) bool {
	fullKey := c.key(key)
	md := map[string]string{}
	if secs := c.normalizeTimeout(timeout); secs > 0 {
		md[ExpiresAtKey] = EncodeExpiration(time.Unix(c.now().Unix()+secs, 0))
	}

	if err := c.store.Put(ctx, fullKey, []byte(value), md); err != nil {
		c.log().Error(op+" key -> error", "key", fullKey, "error", err)
		c.metrics.RecordStorageError(op, storageErrorKind(err))
		c.metrics.RecordWrite(op, "failed")
		return false
	}
	c.log().Debug(op+" key -> stored", "key", fullKey, "metadata", md)
	c.metrics.RecordWrite(op, "stored")
	return true
}

// SetMany stores every item and returns the keys that failed, sorted.
func (c *ObjectCache) SetMany(ctx context.Context, items map[string]string, timeout time.Duration) []string {
	var failed []string
	for k, v := range items {
		if !c.Set(ctx, k, v, timeout) {
			failed = append(failed, k)
		}
	}
	sort.Strings(failed)
	return failed
}

// Add stores value only when key holds no live entry.
func (c *ObjectCache) Add(ctx context.Context, key, value string, timeout time.Duration) bool {
	ctx, end := c.begin(ctx, "add")
	if c.Has(ctx, key) {
		c.log().Debug("add key -> not added", "key", c.key(key))
		c.metrics.RecordWrite("add", "skipped")
		end("skipped")
		return false
	}
	ok := c.set(ctx, "add", key, value, timeout)
	end(writeStatus(ok))
	return ok
}

// Delete removes key.
func (c *ObjectCache) Delete(ctx context.Context, key string) bool {
	ctx, end := c.begin(ctx, "delete")
	ok := c.deleteMany(ctx, "delete", []string{c.key(key)})
	end(deleteStatus(ok))
	return ok
}

// DeleteMany removes keys in one batch. Any per-key failure makes the whole
// call report false; which keys failed is only logged.
func (c *ObjectCache) DeleteMany(ctx context.Context, keys ...string) bool {
	ctx, end := c.begin(ctx, "delete_many")
	fullKeys := make([]string, len(keys))
	for i, k := range keys {
		fullKeys[i] = c.key(k)
	}
	ok := c.deleteMany(ctx, "delete_many", fullKeys)
	end(deleteStatus(ok))
	return ok
}

func (c *ObjectCache) deleteMany(ctx context.Context, op string, fullKeys []string) bool {
	if len(fullKeys) == 0 {
		c.log().Debug(op + " -> no keys provided, no-op")
		return true
	}

	errs, err := c.store.DeleteBatch(ctx, fullKeys)
	if err != nil {
		c.log().Error("could not delete keys", "count", len(fullKeys), "error", err)
		c.metrics.RecordStorageError(op, storageErrorKind(err))
		c.metrics.RecordDelete(op, false)
		return false
	}
	if len(errs) > 0 {
		for _, e := range errs {
			c.log().Error("could not delete key", "key", e.Key, "code", e.Code, "message", e.Message)
		}
		c.metrics.RecordStorageError(op, "partial")
		c.metrics.RecordDelete(op, false)
		return false
	}
	c.metrics.RecordDelete(op, true)
	return true
}

// Clear removes every object under the key prefix. With an empty prefix
// that is the whole bucket.
func (c *ObjectCache) Clear(ctx context.Context) bool {
	ctx, end := c.begin(ctx, "clear")
	if err := c.store.DeletePrefix(ctx, c.opts.KeyPrefix); err != nil {
		c.log().Error("could not clear cache", "bucket", c.store.Bucket(), "prefix", c.opts.KeyPrefix, "error", err)
		c.metrics.RecordStorageError("clear", storageErrorKind(err))
		c.metrics.RecordDelete("clear", false)
		end(deleteStatus(false))
		return false
	}
	c.metrics.RecordDelete("clear", true)
	end(deleteStatus(true))
	return true
}

// Close releases the store.
func (c *ObjectCache) Close() error {
	return c.store.Close()
}

func storageErrorKind(err error) string {
	if objstore.IsUnauthorized(err) {
		return "unauthorized"
	}
	return "client_error"
}

func writeStatus(ok bool) string {
	if ok {
		return "stored"
	}
	return "failed"
}

func deleteStatus(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}
