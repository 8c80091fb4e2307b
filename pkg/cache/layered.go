package cache

import (
	"context"
	"errors"
	"time"
)

// LayeredCache reads memory first, then Redis, and writes through to both.
type LayeredCache struct {
	mem    *MemoryCache
	remote Service
	l1TTL  time.Duration
}

// NewLayeredCache caps the memory copy's lifetime at l1TTL so other relays' writes show up.
func NewLayeredCache(mem *MemoryCache, remote Service, l1TTL time.Duration) *LayeredCache {
	return &LayeredCache{mem: mem, remote: remote, l1TTL: l1TTL}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	if err := lc.remote.Set(ctx, key, data, ttl); err != nil {
		return err
	}
	return lc.mem.Set(ctx, key, data, lc.memTTL(ttl))
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.mem.Get(ctx, key, dest); err == nil {
		return nil
	}
	var data []byte
	if err := lc.remote.Get(ctx, key, &data); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, data, lc.l1TTL)
	return unmarshal(data, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.remote.Delete(ctx, keys...)
}

func (lc *LayeredCache) Close() error {
	return errors.Join(lc.mem.Close(), lc.remote.Close())
}

func (lc *LayeredCache) memTTL(ttl time.Duration) time.Duration {
	if lc.l1TTL > 0 && (ttl <= 0 || ttl > lc.l1TTL) {
		return lc.l1TTL
	}
	return ttl
}
