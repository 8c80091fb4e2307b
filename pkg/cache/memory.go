package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key      string
	data     []byte
	expireAt time.Time
}

// MemoryCache is a bounded LRU of JSON-encoded values.
type MemoryCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryCache(cfg MemoryConfig) *MemoryCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	mc := &MemoryCache{
		max:     cfg.MaxEntries,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go mc.cleanup(cfg.CleanupInterval)
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if el, ok := mc.entries[key]; ok {
		e := el.Value.(*memoryEntry)
		e.data, e.expireAt = data, mc.now().Add(ttl)
		mc.order.MoveToFront(el)
		return nil
	}
	for mc.order.Len() >= mc.max {
		mc.removeLocked(mc.order.Back())
	}
	mc.entries[key] = mc.order.PushFront(&memoryEntry{key: key, data: data, expireAt: mc.now().Add(ttl)})
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	el, ok := mc.entries[key]
	if !ok {
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	e := el.Value.(*memoryEntry)
	if mc.now().After(e.expireAt) {
		mc.removeLocked(el)
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	mc.order.MoveToFront(el)
	data := e.data
	mc.mu.Unlock()
	return unmarshal(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		if el, ok := mc.entries[k]; ok {
			mc.removeLocked(el)
		}
	}
	return nil
}

func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.order.Len()
}

func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stop) })
	return nil
}

func (mc *MemoryCache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	mc.order.Remove(el)
	delete(mc.entries, el.Value.(*memoryEntry).key)
}

func (mc *MemoryCache) cleanup(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case <-t.C:
			mc.mu.Lock()
			now := mc.now()
			for el := mc.order.Back(); el != nil; {
				prev := el.Prev()
				if now.After(el.Value.(*memoryEntry).expireAt) {
					mc.removeLocked(el)
				}
				el = prev
			}
			mc.mu.Unlock()
		}
	}
}
