// Package natskv implements the cache port on a NATS JetStream KV bucket,
// used as the L2 verified-token cache shared by all chathub nodes.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/chathub/internal/port/cache"
)

// entry is the stored envelope. The bucket TTL is only an upper bound, so
// each entry carries its own expiry and is treated as a miss once past it.
type entry[V any] struct {
	Value     V         `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Cache wraps a JetStream KeyValue bucket as a typed cache.
type Cache[V any] struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

var _ cache.Cache[struct{}] = (*Cache[struct{}])(nil)

// New creates a KV-backed cache over kv.
func New[V any](kv jetstream.KeyValue) *Cache[V] {
	return &Cache[V]{kv: kv, now: time.Now}
}

// Get retrieves a live value. A missing or expired key is a miss, not an error.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	v, _, ok, err := c.GetTTL(ctx, key)
	return v, ok, err
}

// GetTTL is Get plus the remaining lifetime of the entry.
func (c *Cache[V]) GetTTL(ctx context.Context, key string) (V, time.Duration, bool, error) {
	var zero V
	kve, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return zero, 0, false, nil
		}
		return zero, 0, false, fmt.Errorf("natskv get %s: %w", key, err)
	}

	var e entry[V]
	if err := json.Unmarshal(kve.Value(), &e); err != nil {
		return zero, 0, false, fmt.Errorf("natskv decode %s: %w", key, err)
	}
	remaining := e.ExpiresAt.Sub(c.now())
	if remaining <= 0 {
		return zero, 0, false, nil
	}
	return e.Value, remaining, true, nil
}

// Set stores value until ttl elapses. A non-positive ttl is not stored.
func (c *Cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry[V]{Value: value, ExpiresAt: c.now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("natskv encode %s: %w", key, err)
	}
	if _, err := c.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("natskv put %s: %w", key, err)
	}
	return nil
}

// Delete removes a value from the bucket. Deleting a missing key is not an error.
func (c *Cache[V]) Delete(ctx context.Context, key string) error {
	if err := c.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("natskv delete %s: %w", key, err)
	}
	return nil
}
