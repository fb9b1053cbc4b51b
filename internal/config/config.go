package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted in CacheConfig.Backend.
const (
	BackendS3     = "s3"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// MaxDefaultTimeout is the largest default_timeout, in seconds, that fits a
// time.Duration.
const MaxDefaultTimeout = math.MaxInt64 / int64(time.Second)

// ErrMissingBucket is returned when the S3 backend is configured without a bucket.
var ErrMissingBucket = errors.New("config: cache bucket name is required")

// CacheConfig holds the cache instance settings
type CacheConfig struct {
	Backend            string `yaml:"backend"`
	Bucket             string `yaml:"bucket"`
	KeyPrefix          string `yaml:"key_prefix"`
	DefaultTimeout     int    `yaml:"default_timeout"` // seconds, 0 = never expire
	PurgeExpiredOnRead bool   `yaml:"purge_expired_on_read"`
}

// S3Config holds S3 client settings
type S3Config struct {
	Region          string `yaml:"region"`
	EndpointURL     string `yaml:"endpoint_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	DeleteWorkers   int    `yaml:"delete_workers"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Cache   CacheConfig   `yaml:"cache"`
	S3      S3Config      `yaml:"s3"`
	Redis   RedisConfig   `yaml:"redis"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Backend:        BackendS3,
			DefaultTimeout: 300,
		},
		S3: S3Config{
			DeleteWorkers: 4,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "s3cache",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Namespace: "s3cache",
		},
	}
}

// LoadFromFile loads configuration from a YAML (or JSON) file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("S3CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("S3CACHE_BUCKET"); v != "" {
		cfg.Cache.Bucket = v
	}
	if v, ok := os.LookupEnv("S3CACHE_KEY_PREFIX"); ok {
		cfg.Cache.KeyPrefix = v
	}
	if v := os.Getenv("S3CACHE_DEFAULT_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DefaultTimeout = n
		}
	}
	if v := os.Getenv("S3CACHE_PURGE_EXPIRED_ON_READ"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.PurgeExpiredOnRead = b
		}
	}
	if v := os.Getenv("S3CACHE_S3_ENDPOINT_URL"); v != "" {
		cfg.S3.EndpointURL = v
	}
	if v := os.Getenv("S3CACHE_S3_REGION"); v != "" {
		cfg.S3.Region = v
	}
	if v := os.Getenv("S3CACHE_S3_USE_PATH_STYLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.S3.UsePathStyle = b
		}
	}
	if v := os.Getenv("S3CACHE_S3_ACCESS_KEY_ID"); v != "" {
		cfg.S3.AccessKeyID = v
	}
	if v := os.Getenv("S3CACHE_S3_SECRET_ACCESS_KEY"); v != "" {
		cfg.S3.SecretAccessKey = v
	}
	if v := os.Getenv("S3CACHE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("S3CACHE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("S3CACHE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("S3CACHE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("S3CACHE_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = v
	}
}

// FromMapping builds a Config from a host settings mapping. Recognized keys
// are CACHE_S3_BUCKET (required), CACHE_KEY_PREFIX, CACHE_DEFAULT_TIMEOUT,
// CACHE_S3_ENDPOINT_URL and CACHE_OPTIONS, a nested mapping that may carry
// purge_expired_on_read, default_timeout and key_prefix. Unknown keys are
// ignored.
func FromMapping(m map[string]any) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Cache.Backend = BackendS3

	bucket, err := stringValue(m, "CACHE_S3_BUCKET")
	if err != nil {
		return nil, err
	}
	if bucket == "" {
		return nil, ErrMissingBucket
	}
	cfg.Cache.Bucket = bucket

	if cfg.Cache.KeyPrefix, err = stringValue(m, "CACHE_KEY_PREFIX"); err != nil {
		return nil, err
	}
	if cfg.S3.EndpointURL, err = stringValue(m, "CACHE_S3_ENDPOINT_URL"); err != nil {
		return nil, err
	}
	if _, ok := m["CACHE_DEFAULT_TIMEOUT"]; ok {
		if cfg.Cache.DefaultTimeout, err = intValue(m, "CACHE_DEFAULT_TIMEOUT"); err != nil {
			return nil, err
		}
	}

	if raw, ok := m["CACHE_OPTIONS"]; ok && raw != nil {
		opts, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config: CACHE_OPTIONS must be a mapping, got %T", raw)
		}
		if _, ok := opts["purge_expired_on_read"]; ok {
			if cfg.Cache.PurgeExpiredOnRead, err = boolValue(opts, "purge_expired_on_read"); err != nil {
				return nil, err
			}
		}
		if _, ok := opts["default_timeout"]; ok {
			if cfg.Cache.DefaultTimeout, err = intValue(opts, "default_timeout"); err != nil {
				return nil, err
			}
		}
		if _, ok := opts["key_prefix"]; ok {
			if cfg.Cache.KeyPrefix, err = stringValue(opts, "key_prefix"); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings needed to open a cache.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendS3:
		if strings.TrimSpace(c.Cache.Bucket) == "" {
			return ErrMissingBucket
		}
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.DefaultTimeout < 0 {
		return fmt.Errorf("config: default_timeout must be >= 0, got %d", c.Cache.DefaultTimeout)
	}
	if int64(c.Cache.DefaultTimeout) > MaxDefaultTimeout {
		return fmt.Errorf("config: default_timeout must be <= %d seconds, got %d", MaxDefaultTimeout, c.Cache.DefaultTimeout)
	}
	if c.S3.DeleteWorkers < 0 {
		return fmt.Errorf("config: s3.delete_workers must be >= 0, got %d", c.S3.DeleteWorkers)
	}
	return nil
}

func stringValue(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config: %s must be a string, got %T", key, v)
	}
	return s, nil
}

func intValue(m map[string]any, key string) (int, error) {
	switch v := m[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("config: %s must be a whole number, got %v", key, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("config: %s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("config: %s must be an integer, got %T", key, v)
	}
}

func boolValue(m map[string]any, key string) (bool, error) {
	switch v := m[key].(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("config: %s: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("config: %s must be a boolean, got %T", key, v)
	}
}
