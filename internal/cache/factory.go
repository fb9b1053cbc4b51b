package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/s3cache/internal/config"
	"github.com/oriys/s3cache/internal/logging"
	"github.com/oriys/s3cache/internal/metrics"
	"github.com/oriys/s3cache/internal/objstore"
)

const defaultBucket = "default"

// NewStore creates the object store selected by cfg.Cache.Backend, wrapped
// in a tracing decorator.
func NewStore(ctx context.Context, cfg *config.Config) (objstore.Store, error) {
	bucket := cfg.Cache.Bucket
	var (
		store objstore.Store
		err   error
	)
	switch cfg.Cache.Backend {
	case config.BackendS3, "":
		store, err = objstore.NewS3Store(ctx, objstore.S3Config{
			Bucket:          bucket,
			Region:          cfg.S3.Region,
			EndpointURL:     cfg.S3.EndpointURL,
			UsePathStyle:    cfg.S3.UsePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			DeleteWorkers:   cfg.S3.DeleteWorkers,
		})
	case config.BackendRedis:
		if bucket == "" {
			bucket = defaultBucket
		}
		store, err = objstore.NewRedisStore(objstore.RedisStoreConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Bucket:   bucket,
		})
	case config.BackendMemory:
		if bucket == "" {
			bucket = defaultBucket
		}
		store = objstore.NewMemoryStore(bucket)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Cache.Backend, err)
	}
	return objstore.NewTraced(store), nil
}

// Open validates cfg and builds a cache on the configured store. When
// cfg.Metrics.Enabled is set the cache records into a fresh Prometheus
// registry, reachable through ObjectCache.Metrics. Extra options are applied
// after the defaults derived from cfg.
func Open(ctx context.Context, cfg *config.Config, options ...Option) (*ObjectCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := NewStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := Options{
		KeyPrefix:          cfg.Cache.KeyPrefix,
		DefaultTimeout:     time.Duration(cfg.Cache.DefaultTimeout) * time.Second,
		PurgeExpiredOnRead: cfg.Cache.PurgeExpiredOnRead,
	}

	if cfg.Metrics.Enabled {
		options = append([]Option{WithMetrics(metrics.NewPrometheus(cfg.Metrics.Namespace, nil))}, options...)
	}

	logging.Op().Debug("cache opened",
		"backend", cfg.Cache.Backend,
		"bucket", store.Bucket(),
		"key_prefix", opts.KeyPrefix,
		"default_timeout", opts.DefaultTimeout,
		"purge_expired_on_read", opts.PurgeExpiredOnRead,
	)
	return NewObjectCache(store, opts, options...), nil
}
