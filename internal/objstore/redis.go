package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis database. Each object is a string
// key holding the body plus a hash holding its metadata:
//
//	<namespace>data:<key>  -> body
//	<namespace>meta:<key>  -> {"v": "1", "m:<name>": <value>, ...}
//
// The "v" field keeps the hash alive when an object has no metadata.
type RedisStore struct {
	client    *redis.Client
	bucket    string
	namespace string
}

// RedisStoreConfig holds configuration for the Redis store.
type RedisStoreConfig struct {
	Addr     string // Redis address (e.g. "localhost:6379")
	Password string
	DB       int
	Bucket   string // logical bucket name; part of the default namespace
}

const (
	redisMarkerField = "v"
	redisMetaPrefix  = "m:"
)

// NewRedisStore connects to Redis and creates a store for cfg.Bucket.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("redis bucket is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.Bucket), nil
}

// NewRedisStoreFromClient creates a Redis store using an existing client.
func NewRedisStoreFromClient(client *redis.Client, bucket string) *RedisStore {
	return &RedisStore{
		client:    client,
		bucket:    bucket,
		namespace: "s3cache:" + bucket + ":",
	}
}

func (s *RedisStore) dataKey(k string) string { return s.namespace + "data:" + k }
func (s *RedisStore) metaKey(k string) string { return s.namespace + "meta:" + k }

func (s *RedisStore) Put(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	fields := make([]any, 0, 2+2*len(metadata))
	fields = append(fields, redisMarkerField, "1")
	for k, v := range metadata {
		fields = append(fields, redisMetaPrefix+k, v)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.dataKey(key), body, 0)
		pipe.Del(ctx, s.metaKey(key))
		pipe.HSet(ctx, s.metaKey(key), fields...)
		return nil
	})
	return classifyRedisError(err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Object, error) {
	pipe := s.client.Pipeline()
	dataCmd := pipe.Get(ctx, s.dataKey(key))
	metaCmd := pipe.HGetAll(ctx, s.metaKey(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, classifyRedisError(err)
	}

	body, err := dataCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyRedisError(err)
	}
	return &Object{Body: body, Metadata: decodeRedisMeta(metaCmd.Val())}, nil
}

func (s *RedisStore) Head(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, s.metaKey(key)).Result()
	if err != nil {
		return nil, classifyRedisError(err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeRedisMeta(fields), nil
}

func (s *RedisStore) DeleteBatch(ctx context.Context, keys []string) ([]DeleteError, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, s.dataKey(k), s.metaKey(k))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, classifyRedisError(err)
	}
	return nil, nil
}

func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) error {
	pattern := s.scanPattern(prefix)
	dataPrefix := s.dataKey("")

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return classifyRedisError(err)
		}
		if len(keys) > 0 {
			base := make([]string, len(keys))
			for i, k := range keys {
				base[i] = strings.TrimPrefix(k, dataPrefix)
			}
			if _, err := s.DeleteBatch(ctx, base); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// scanPattern matches the data keys under prefix in this store's namespace
// only; the bucket name is quoted along with the prefix.
func (s *RedisStore) scanPattern(prefix string) string {
	return escapeGlob(s.dataKey(prefix)) + "*"
}

func (s *RedisStore) Bucket() string { return s.bucket }

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeRedisMeta(fields map[string]string) map[string]string {
	md := make(map[string]string, len(fields))
	for k, v := range fields {
		if name, ok := strings.CutPrefix(k, redisMetaPrefix); ok {
			md[name] = v
		}
	}
	return md
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func classifyRedisError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	code, _, _ := strings.Cut(msg, " ")
	switch code {
	case "NOAUTH", "WRONGPASS", "NOPERM":
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	var redisErr redis.Error
	if !errors.As(err, &redisErr) {
		code = "RedisError"
	}
	return &ClientError{Code: code, Message: msg, Err: err}
}
