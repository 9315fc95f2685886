// Package storage backs the solver's two persistence needs: a Redis-backed
// cache for admission-rate limiting and trader blacklisting (internal/risk's
// collaborator), and a Postgres audit log of settlements for reproducibility
// (§8 I4 — identical inputs must produce a byte-identical Settlement, which
// an append-only audit trail lets operators verify after the fact).
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache wraps a Redis client with the narrow surface the risk layer
// needs: fixed-window rate limiting and a blacklist with TTL-based
// expiry, both namespaced per trader.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache builds a RedisCache from a connection address
// ("host:port").
func NewRedisCache(addr string, db int) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
	}
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func rateLimitKey(trader, action string) string {
	return fmt.Sprintf("ratelimit:%s:%s", action, trader)
}

// Increment bumps a named windowed counter and returns its new value. The
// key's TTL is set to window only when the counter is first created, so the
// window runs from the first observed event and later increments do not
// extend it; the count starts over once the key expires.
func (c *RedisCache) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("storage: counter incr failed: %w", err)
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("storage: counter expire failed: %w", err)
		}
	}
	return count, nil
}

// RateLimitCheck increments the windowed counter for (trader, action) and
// reports whether the caller is still within limit for the given window.
func (c *RedisCache) RateLimitCheck(ctx context.Context, trader, action string, limit int, window time.Duration) (bool, error) {
	count, err := c.Increment(ctx, rateLimitKey(trader, action), window)
	if err != nil {
		return false, err
	}
	return count <= int64(limit), nil
}

func blacklistKey(trader string) string {
	return fmt.Sprintf("blacklist:%s", trader)
}

// AddToBlacklist marks trader as blacklisted for duration, recording a
// reason for audit.
func (c *RedisCache) AddToBlacklist(ctx context.Context, trader, reason string, duration time.Duration) error {
	if err := c.client.Set(ctx, blacklistKey(trader), reason, duration).Err(); err != nil {
		return fmt.Errorf("storage: blacklist set failed: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether trader is currently blacklisted.
func (c *RedisCache) IsBlacklisted(ctx context.Context, trader string) (bool, error) {
	_, err := c.client.Get(ctx, blacklistKey(trader)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: blacklist lookup failed: %w", err)
	}
	return true, nil
}
