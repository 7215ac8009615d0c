// Package ristretto implements the cache port using dgraph-io/ristretto as an
// in-process L1 cache.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/chathub/internal/port/cache"
)

// CostFunc estimates the memory cost of a cached value in bytes.
type CostFunc[V any] func(V) int64

// Cache wraps a ristretto cache keyed by string.
type Cache[V any] struct {
	c    *ristretto.Cache[string, V]
	cost CostFunc[V]
}

var _ cache.Cache[string] = (*Cache[string])(nil)

// New creates a ristretto-backed cache bounded to maxCostBytes. cost
// estimates each value's size; nil charges every entry a cost of 1.
func New[V any](maxCostBytes int64, cost CostFunc[V]) (*Cache[V], error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: max(maxCostBytes/100*10, 1000), // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	if cost == nil {
		cost = func(V) int64 { return 1 }
	}
	return &Cache[V]{c: c, cost: cost}, nil
}

// Get retrieves a value from the cache.
func (c *Cache[V]) Get(_ context.Context, key string) (V, bool, error) {
	v, ok := c.c.Get(key)
	return v, ok, nil
}

// Set stores a value with the given TTL. Admission is best-effort: ristretto
// may reject or delay the write, so a Get right after Set can miss.
func (c *Cache[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.c.SetWithTTL(key, value, c.cost(value), ttl)
	return nil
}

// Delete removes a value from the cache.
func (c *Cache[V]) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Wait blocks until pending writes are applied.
func (c *Cache[V]) Wait() {
	c.c.Wait()
}

// Close shuts down the cache and releases resources.
func (c *Cache[V]) Close() {
	c.c.Close()
}
