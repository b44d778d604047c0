package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryMaxEntries = 65536

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is a size-bounded in-process cache. Expired entries are dropped
// lazily on read. MaxEntries must comfortably exceed the number of live lock
// markers: LRU eviction of a live marker releases that lock early.
type Memory struct {
	mu      sync.Mutex
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock replaces the wall clock used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an in-process cache holding at most maxEntries entries;
// zero selects the default size.
func NewMemory(maxEntries int, opts ...MemoryOption) (*Memory, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryMaxEntries
	}
	entries, err := lru.New[string, memoryEntry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	m := &Memory{entries: entries, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Put stores value under key until ttl elapses. A non-positive ttl never expires.
func (m *Memory) Put(ctx context.Context, cacheName, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Add(namespaced(cacheName, key), m.entry(value, ttl))
	return nil
}

// Get returns the live value stored under key.
func (m *Memory) Get(ctx context.Context, cacheName, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.live(namespaced(cacheName, key))
	return entry.value, ok, nil
}

// Remove deletes key; removing an absent key is a no-op.
func (m *Memory) Remove(ctx context.Context, cacheName, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Remove(namespaced(cacheName, key))
	return nil
}

// PutIfAbsent stores value only when no live entry exists under key.
func (m *Memory) PutIfAbsent(ctx context.Context, cacheName, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	full := namespaced(cacheName, key)
	if _, ok := m.live(full); ok {
		return false, nil
	}
	m.entries.Add(full, m.entry(value, ttl))
	return true, nil
}

func (m *Memory) entry(value string, ttl time.Duration) memoryEntry {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	return entry
}

// live must be called with m.mu held.
func (m *Memory) live(key string) (memoryEntry, bool) {
	entry, ok := m.entries.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.entries.Remove(key)
		return memoryEntry{}, false
	}
	return entry, true
}

var (
	_ Cache = (*Memory)(nil)
	_ Adder = (*Memory)(nil)
)
