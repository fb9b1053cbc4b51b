package cache

import (
	"context"
	"testing"
	"time"

	"github.com/oriys/s3cache/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemoryBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Backend = config.BackendMemory
	cfg.Cache.KeyPrefix = "app:"
	cfg.Cache.DefaultTimeout = 60
	cfg.Cache.PurgeExpiredOnRead = true

	c, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	opts := c.Options()
	assert.Equal(t, "app:", opts.KeyPrefix)
	assert.Equal(t, time.Minute, opts.DefaultTimeout)
	assert.True(t, opts.PurgeExpiredOnRead)
	assert.Equal(t, "default", c.store.Bucket())
	assert.Nil(t, c.Metrics(), "metrics are off by default")

	ctx := context.Background()
	require.True(t, c.Set(ctx, "k", "v", DefaultTimeout))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestOpenS3Backend(t *testing.T) {
	cfg, err := config.FromMapping(map[string]any{
		"CACHE_S3_BUCKET":       "my-bucket",
		"CACHE_KEY_PREFIX":      "test_",
		"CACHE_S3_ENDPOINT_URL": "http://127.0.0.1:4566",
	})
	require.NoError(t, err)
	cfg.S3.Region = "us-east-1"
	cfg.S3.AccessKeyID = "test"
	cfg.S3.SecretAccessKey = "test"

	c, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "my-bucket", c.store.Bucket())
	assert.Equal(t, "test_", c.Options().KeyPrefix)
	assert.Equal(t, 300*time.Second, c.Options().DefaultTimeout)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	t.Run("missing bucket", func(t *testing.T) {
		cfg := config.DefaultConfig()
		_, err := Open(context.Background(), cfg)
		assert.ErrorIs(t, err, config.ErrMissingBucket)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Cache.Backend = "dynamo"
		_, err := Open(context.Background(), cfg)
		assert.ErrorContains(t, err, "unknown cache backend")
	})
}

func TestOpenWithMetrics(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Backend = config.BackendMemory
	cfg.Metrics.Enabled = true
	cfg.Metrics.Namespace = "opentest"

	c, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()
	require.NotNil(t, c.Metrics())

	c.Get(context.Background(), "missing")

	families, err := c.Metrics().Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "opentest_lookups_total")
}
