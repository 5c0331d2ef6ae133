package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Remote is a shared cache tier behind the in-process stores.
type Remote interface {
	// Get decodes the value under key into out. Returns ErrCacheMiss if the
	// key doesn't exist.
	Get(ctx context.Context, key CacheKey, out any) error

	// Set stores value under key for ttl.
	Set(ctx context.Context, key CacheKey, value any, ttl time.Duration) error

	// Delete removes key.
	Delete(ctx context.Context, key CacheKey) error

	// ClearNamespace removes every key of a namespace.
	ClearNamespace(ctx context.Context, namespace string) error
}

// RedisStore is a Remote backed by Redis. Values are stored as JSON and
// expire through Redis TTLs.
type RedisStore struct {
	redis *redis.Client
}

var _ Remote = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed shared tier.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
	}
}

// Get retrieves and decodes the value under key.
func (r *RedisStore) Get(ctx context.Context, key CacheKey, out any) error {
	data, err := r.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return fmt.Errorf("redis get: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		// drop the corrupt entry so the next read recomputes it
		_ = r.Delete(ctx, key)
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	return nil
}

// Set stores value as JSON with the given TTL. A non-positive TTL is a no-op.
func (r *RedisStore) Set(ctx context.Context, key CacheKey, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := r.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry.
func (r *RedisStore) Delete(ctx context.Context, key CacheKey) error {
	if err := r.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// ClearNamespace scans and deletes every key of namespace.
func (r *RedisStore) ClearNamespace(ctx context.Context, namespace string) error {
	var cursor uint64
	pattern := namespacePattern(namespace)

	for {
		keys, nextCursor, err := r.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			return fmt.Errorf("redis scan: %w", err)
		}

		if len(keys) > 0 {
			if err := r.redis.Del(ctx, keys...).Err(); err != nil {
				CacheErrors.WithLabelValues("clear").Inc()
				return fmt.Errorf("redis del: %w", err)
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			return nil
		}
	}
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx).Err()
}
