// Package tiered implements a two-level (L1 + L2) cache adapter.
package tiered

import (
	"context"
	"time"

	"github.com/Strob0t/chathub/internal/port/cache"
)

// Remote is an L2 cache that reports how long a hit remains valid.
type Remote[V any] interface {
	cache.Cache[V]
	GetTTL(ctx context.Context, key string) (V, time.Duration, bool, error)
}

// Cache combines an L1 (in-process) and L2 (remote) cache.
// Get checks L1 first, then L2 (backfilling L1 on L2 hit).
// Set and Delete operate on both levels.
type Cache[V any] struct {
	l1       cache.Cache[V]
	l2       Remote[V]
	l1Expire time.Duration
}

var _ cache.Cache[struct{}] = (*Cache[struct{}])(nil)

// New creates a tiered cache with the given L1 and L2 backends.
// l1Expire caps how long L2 backfill entries live in L1; they never outlive
// the L2 entry.
func New[V any](l1 cache.Cache[V], l2 Remote[V], l1Expire time.Duration) *Cache[V] {
	return &Cache[V]{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2. On L2 hit, backfills L1.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	v, ok, err := c.l1.Get(ctx, key)
	if err != nil {
		return v, false, err
	}
	if ok {
		return v, true, nil
	}

	v, remaining, ok, err := c.l2.GetTTL(ctx, key)
	if err != nil || !ok {
		return v, false, err
	}
	// Backfill L1
	_ = c.l1.Set(ctx, key, v, min(remaining, c.l1Expire))
	return v, true, nil
}

// Set writes to both L1 and L2.
func (c *Cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.l2.Set(ctx, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *Cache[V]) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}
