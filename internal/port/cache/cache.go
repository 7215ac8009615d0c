// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for typed key-value caching.
// A miss is reported through ok with a nil error; a non-nil error means the
// backend failed and ok says nothing about the key.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (value V, ok bool, err error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
