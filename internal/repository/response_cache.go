package repository

import (
	"context"
	"errors"
	"time"

	"ArbRelay/pkg/cache"
)

// ResponseCache adapts a cache.Service to the relay's hit/miss contract.
type ResponseCache struct {
	svc cache.Service
}

func NewResponseCache(svc cache.Service) *ResponseCache {
	return &ResponseCache{svc: svc}
}

func (c *ResponseCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	err := c.svc.Get(ctx, key, dest)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, cache.ErrCacheMiss):
		return false, nil
	default:
		return false, err
	}
}

func (c *ResponseCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.svc.Set(ctx, key, value, ttl)
}
