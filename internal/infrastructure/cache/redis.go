package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache provides caching layer
type RedisCache struct {
	client *redis.Client
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisCache creates a new Redis cache client
func NewRedisCache(config *CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return fmt.Errorf("cache miss: %s", key)
	}
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(val), dest)
}

// Set stores a value in cache with TTL
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes a value from cache
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// DeletePattern deletes all keys matching a pattern
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return nil
}

// Exists checks if a key exists
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Increment increments a counter
func (c *RedisCache) Increment(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

// IncrementBy increments a counter by a specific amount
func (c *RedisCache) IncrementBy(ctx context.Context, key string, value int64) (int64, error) {
	return c.client.IncrBy(ctx, key, value).Result()
}

// SetWithNX sets a value only if it doesn't exist (for distributed locks)
func (c *RedisCache) SetWithNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}

	return c.client.SetNX(ctx, key, data, ttl).Result()
}

// GetTTL returns the remaining TTL of a key
func (c *RedisCache) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	return c.client.TTL(ctx, key).Result()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Common cache keys and TTLs
const (
	// Score cache: the engine's recomputation pass rebuilds the full graph
	// from the store on every call, so a short-lived cache of a single
	// owner's TrustTreeStats (a read-only, operator-facing query) avoids
	// repeating that pass for repeated reads within the TTL.
	TrustTreeCachePrefix = "wot:trusttree:"
	TrustTreeCacheTTL    = 30 * time.Second

	// Identity cache: get_identity_by_id/uri lookups outside an active Tx.
	IdentityCachePrefix = "wot:identity:"
	IdentityCacheTTL    = 5 * time.Minute

	// StoreLockKey is the single key used to enforce "at most one engine
	// instance may hold the store open" (spec §4.6).
	StoreLockKey = "wot:store:lock"
	StoreLockTTL = 30 * time.Second

	// FetchWorkerRateLimitPrefix bounds how often one identity's edition is
	// re-fetched, independent of golang.org/x/time/rate's in-process limiter
	// (shared across replicas, where the in-process limiter is not).
	FetchWorkerRateLimitPrefix = "wot:fetchrate:"
)

// CacheTrustTreeStats caches one owner's TrustTreeStats.
func (c *RedisCache) CacheTrustTreeStats(ctx context.Context, ownerID string, stats interface{}) error {
	return c.Set(ctx, TrustTreeCachePrefix+ownerID, stats, TrustTreeCacheTTL)
}

// GetCachedTrustTreeStats retrieves cached TrustTreeStats.
func (c *RedisCache) GetCachedTrustTreeStats(ctx context.Context, ownerID string, dest interface{}) error {
	return c.Get(ctx, TrustTreeCachePrefix+ownerID, dest)
}

// InvalidateTrustTreeStats drops one owner's cached stats; callers do this
// after any mutation that could change ranks (mirrors engine.RankCache).
func (c *RedisCache) InvalidateTrustTreeStats(ctx context.Context, ownerID string) error {
	return c.Delete(ctx, TrustTreeCachePrefix+ownerID)
}

// AcquireStoreLock implements the database lock (spec §4.6): at most one
// engine instance may hold the store open, and a second attempt fails fast
// rather than blocking.
func (c *RedisCache) AcquireStoreLock(ctx context.Context, holderID string) (bool, error) {
	return c.SetWithNX(ctx, StoreLockKey, holderID, StoreLockTTL)
}

// RenewStoreLock extends the lock's TTL; callers renew periodically for as
// long as the process holds the store open.
func (c *RedisCache) RenewStoreLock(ctx context.Context, holderID string) error {
	ok, err := c.SetWithNX(ctx, StoreLockKey, holderID, StoreLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		// Already held (by us or another instance); refresh expiry only if
		// it is still ours.
		var current string
		if gerr := c.Get(ctx, StoreLockKey, &current); gerr == nil && current == holderID {
			return c.client.Expire(ctx, StoreLockKey, StoreLockTTL).Err()
		}
	}
	return nil
}

// ReleaseStoreLock releases the lock unconditionally; called on graceful
// shutdown.
func (c *RedisCache) ReleaseStoreLock(ctx context.Context) error {
	return c.Delete(ctx, StoreLockKey)
}

// RateLimitFetch bounds the fetch worker's re-fetch rate for one identity
// across replicas (spec §1 fetch-eligibility policy).
func (c *RedisCache) RateLimitFetch(ctx context.Context, identityID string, limit int64, window time.Duration) (bool, error) {
	fullKey := FetchWorkerRateLimitPrefix + identityID
	count, err := c.Increment(ctx, fullKey)
	if err != nil {
		return false, err
	}
	if count == 1 {
		c.client.Expire(ctx, fullKey, window)
	}
	return count <= limit, nil
}
