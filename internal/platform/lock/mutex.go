// Package lock implements the keyed resource mutex that serializes command
// application per aggregate.
//
// A lock is a marker with a fixed time-to-live in a cache.Cache. TryLock never
// blocks: it either stores the marker or reports that the key is held. A
// holder that crashes without unlocking is released when the marker expires,
// so a resource can never be locked forever. The cost is that a holder that
// outlives the TTL no longer has exclusive access; keep units of work well
// under the TTL.
//
// Exclusion is scoped to callers sharing the same cache. With the in-process
// cache that is one process; a shared Redis cache extends the marker across
// processes but gives no consensus guarantees.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/ledger.space/internal/platform/cache"
	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/platform/id"
	"github.com/louisbranch/ledger.space/internal/platform/timeouts"
)

// CacheName namespaces lock markers inside the shared cache.
const CacheName = "resource-locks"

// Result is the outcome of a TryLock attempt.
type Result int

const (
	// Acquired means the caller now holds the lock.
	Acquired Result = iota + 1
	// AlreadyHeld means another holder has a live marker for the key.
	AlreadyHeld
)

// String returns the metric label for r.
func (r Result) String() string {
	switch r {
	case Acquired:
		return "acquired"
	case AlreadyHeld:
		return "already_held"
	default:
		return "unknown"
	}
}

// Key builds the lock key for one resource instance, e.g. "wallet-lock:u1".
func Key(resource, resourceID string) string {
	return strings.TrimSpace(resource) + "-lock:" + strings.TrimSpace(resourceID)
}

// Observer receives every TryLock outcome.
type Observer interface {
	ObserveLock(result Result)
}

// Mutex is a TTL-bounded keyed mutex over a cache.
type Mutex struct {
	cache    cache.Cache
	ttl      time.Duration
	observer Observer

	// mu serializes the get-then-put sequence for caches without Adder.
	mu sync.Mutex
}

// Option configures a Mutex.
type Option func(*Mutex)

// WithTTL overrides the marker lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Mutex) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithObserver reports lock outcomes to o.
func WithObserver(o Observer) Option {
	return func(m *Mutex) {
		m.observer = o
	}
}

// New creates a mutex over c with the default TTL of timeouts.LockTTL.
func New(c cache.Cache, opts ...Option) (*Mutex, error) {
	if c == nil {
		return nil, errors.New("lock cache is required")
	}
	m := &Mutex{cache: c, ttl: timeouts.LockTTL}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the marker lifetime.
func (m *Mutex) TTL() time.Duration {
	return m.ttl
}

// TryLock stores a marker for key unless a live one exists. It never waits.
func (m *Mutex) TryLock(ctx context.Context, key string) (Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, apperrors.Validation("key", "lock key is required")
	}
	token, err := id.NewID()
	if err != nil {
		return 0, err
	}

	var stored bool
	if adder, ok := m.cache.(cache.Adder); ok {
		stored, err = adder.PutIfAbsent(ctx, CacheName, key, token, m.ttl)
	} else {
		stored, err = m.getThenPut(ctx, key, token)
	}
	if err != nil {
		return 0, apperrors.Unavailable("lock", key, err)
	}

	result := AlreadyHeld
	if stored {
		result = Acquired
	}
	if m.observer != nil {
		m.observer.ObserveLock(result)
	}
	return result, nil
}

func (m *Mutex) getThenPut(ctx context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held, err := m.cache.Get(ctx, CacheName, key); err != nil || held {
		return false, err
	}
	if err := m.cache.Put(ctx, CacheName, key, token, m.ttl); err != nil {
		return false, err
	}
	return true, nil
}

// Unlock clears the marker for key whoever holds it. Unlocking a free key is
// a no-op.
func (m *Mutex) Unlock(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return apperrors.Validation("key", "lock key is required")
	}
	if err := m.cache.Remove(ctx, CacheName, key); err != nil {
		return apperrors.Unavailable("unlock", key, err)
	}
	return nil
}

// WithLock runs fn while holding key. It fails with a LOCKED error, without
// running fn, when the key is already held. The marker is released on every
// exit path of fn, including a panic, and even when ctx has been cancelled.
func (m *Mutex) WithLock(ctx context.Context, key string, fn func(context.Context) error) (err error) {
	if fn == nil {
		return errors.New("lock action is required")
	}
	result, err := m.TryLock(ctx, key)
	if err != nil {
		return err
	}
	if result != Acquired {
		return apperrors.Locked(key)
	}
	defer func() {
		if unlockErr := m.Unlock(context.WithoutCancel(ctx), key); unlockErr != nil {
			err = errors.Join(err, fmt.Errorf("release %s: %w", key, unlockErr))
		}
	}()
	return fn(ctx)
}
