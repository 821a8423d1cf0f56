package cachesvc

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/elimu/core"
)

type (
	memoryCache struct {
		sync.RWMutex
		items map[string]memoryItem
	}

	memoryItem struct {
		val     []byte
		expires time.Time // zero: never
	}
)

var _ core.Cache = (*memoryCache)(nil)

// NewMemoryCache returns a process local cache, used when no Redis server is configured and in tests.
func NewMemoryCache() core.Cache {
	return &memoryCache{items: make(map[string]memoryItem)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.RLock()
	item, ok := c.items[key]
	c.RUnlock()

	if !ok {
		return nil, core.ErrCacheMiss
	}
	if !item.expires.IsZero() && !time.Now().Before(item.expires) {
		c.Lock()
		delete(c.items, key)
		c.Unlock()
		return nil, core.ErrCacheMiss
	}
	val := make([]byte, len(item.val))
	copy(val, item.val)
	return val, nil
}

func (c *memoryCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	item := memoryItem{val: make([]byte, len(val))}
	copy(item.val, val)
	if ttl > 0 {
		item.expires = time.Now().Add(ttl)
	}

	c.Lock()
	c.items[key] = item
	c.Unlock()
	return nil
}

func (c *memoryCache) Delete(_ context.Context, keys ...string) error {
	c.Lock()
	defer c.Unlock()
	for _, key := range keys {
		delete(c.items, key)
	}
	return nil
}
