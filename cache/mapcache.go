package cache

import (
	"context"
	"sync"
)

// MapCache is a mutex-guarded map implementing Cache. It is the in-process
// shape the reaper was designed against.
type MapCache struct {
	mu sync.RWMutex
	m  map[string]any
}

func NewMapCache() *MapCache {
	return &MapCache{m: make(map[string]any)}
}

// Set stores value under key, replacing any previous value.
func (c *MapCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.m[key] = value
}

// Get returns the value for key.
func (c *MapCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.m[key]
	return v, ok
}

func (c *MapCache) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.m), nil
}

// Entries returns a snapshot of the cache contents.
func (c *MapCache) Entries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.m))
	for k, v := range c.m {
		out = append(out, Entry{Key: k, Value: v})
	}
	return out, nil
}

func (c *MapCache) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		delete(c.m, k)
	}
	return nil
}
