package repository

import (
	"context"

	"github.com/opena2a/wot/internal/infrastructure/cache"
	"github.com/opena2a/wot/internal/store"
)

// LockedStore wraps a store.Store with the Redis-backed database lock
// (spec §4.6): "at most one engine instance may hold the store file open".
// Close releases the lock so a restarted instance can reacquire it.
type LockedStore struct {
	store.Store
	redis    *cache.RedisCache
	holderID string
}

// OpenLocked acquires the store lock before returning, failing fast with
// store.ErrAlreadyLocked if another instance already holds it.
func OpenLocked(ctx context.Context, underlying store.Store, redis *cache.RedisCache, holderID string) (*LockedStore, error) {
	ok, err := redis.AcquireStoreLock(ctx, holderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrAlreadyLocked
	}
	return &LockedStore{Store: underlying, redis: redis, holderID: holderID}, nil
}

// Renew extends the lock's TTL; the caller's owning process should call
// this on a periodic tick for as long as it keeps the store open.
func (l *LockedStore) Renew(ctx context.Context) error {
	return l.redis.RenewStoreLock(ctx, l.holderID)
}

// Close releases the lock, then closes the underlying store.
func (l *LockedStore) Close() error {
	_ = l.redis.ReleaseStoreLock(context.Background())
	return l.Store.Close()
}
