// Package cache implements the write-through result cache: a result
// computed by a cacheable job is written here before its completion row
// becomes visible, so a concurrent reader can never observe a completed
// job whose cache entry hasn't landed yet.
package cache

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Writer is the pipeline's view of the cache: save a result under a path.
type Writer interface {
	SaveInCache(ctx context.Context, path string, result []byte, ttl time.Duration) error
}

// RedisWriter backs Writer with Redis.
type RedisWriter struct {
	client *goredis.Client
}

// Options configures the Redis connection pool, matching the pattern
// real deployments in this corpus use for their Redis clients.
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisWriter connects to Redis with the given options.
func NewRedisWriter(opts Options) *RedisWriter {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		MaxRetries:   opts.MaxRetries,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	return &RedisWriter{client: client}
}

// Ping verifies connectivity, used by the CLI's status command.
func (w *RedisWriter) Ping(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (w *RedisWriter) Close() error {
	return w.client.Close()
}

// SaveInCache writes a result under its cache path with the given TTL. A
// zero TTL means no expiry.
func (w *RedisWriter) SaveInCache(ctx context.Context, path string, result []byte, ttl time.Duration) error {
	if err := w.client.Set(ctx, path, result, ttl).Err(); err != nil {
		return fmt.Errorf("cache: saving %q: %w", path, err)
	}
	return nil
}
