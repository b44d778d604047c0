// Package cache defines the key-value cache contract used by the resource
// mutex and provides in-process and Redis backends.
//
// Every operation is namespaced by a cache name so independent users (for
// example lock markers and idempotency keys) never collide on a key.
package cache

import (
	"context"
	"strings"
	"time"
)

// Cache stores string values with a per-entry time-to-live.
//
// Implementations must give read-after-write visibility: once Put returns, a
// Get from any caller observes the value until it expires or is removed.
type Cache interface {
	Put(ctx context.Context, cacheName, key, value string, ttl time.Duration) error
	Get(ctx context.Context, cacheName, key string) (string, bool, error)
	Remove(ctx context.Context, cacheName, key string) error
}

// Adder is implemented by caches that can store a value only when the key is
// absent (or expired) in a single atomic step.
type Adder interface {
	PutIfAbsent(ctx context.Context, cacheName, key, value string, ttl time.Duration) (bool, error)
}

func namespaced(cacheName, key string) string {
	cacheName = strings.TrimSpace(cacheName)
	if cacheName == "" {
		return key
	}
	return cacheName + ":" + key
}
