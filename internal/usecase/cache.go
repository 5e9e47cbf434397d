package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// PredictionKey derives the cache key for an upload classified by model. The
// pipeline is deterministic, so identical bytes always map to the same result.
func PredictionKey(model string, imageBytes []byte) string {
	hash := sha1.Sum(imageBytes)
	return "prediction:" + model + ":" + hex.EncodeToString(hash[:])
}

// Cache abstracts the Redis operations used to memoize predictions.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis. A miss is reported as redis.Nil.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// retryPolicy retries cache calls that failed with a timeout, doubling the
// wait between attempts up to maxBackoff.
type retryPolicy struct {
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
}

// do calls fn until it succeeds, fails permanently or runs out of attempts,
// and reports how many attempts were made.
func (p retryPolicy) do(ctx context.Context, fn func() error) (int, error) {
	wait := p.backoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || attempt >= p.attempts || !timedOut(err) {
			return attempt, err
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, p.maxBackoff)
	}
}

func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
