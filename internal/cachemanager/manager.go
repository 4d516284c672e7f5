// Package cachemanager provides TTL caches for values that are expensive to
// recompute during a run, such as executable path lookups.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager stores values under keys with a per-entry TTL.
type CacheManager[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
}
