package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is a Cache backed by a Redis server, shared by every process that
// points at the same instance.
type Redis struct {
	client redis.Cmdable
}

// NewRedis wraps an existing client.
func NewRedis(client redis.Cmdable) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Redis{client: client}, nil
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr string) (*Redis, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &Redis{client: client}, client, nil
}

// Put stores value under key with ttl; zero ttl keeps the key until removed.
func (r *Redis) Put(ctx context.Context, cacheName, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, namespaced(cacheName, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", namespaced(cacheName, key), err)
	}
	return nil
}

// Get returns the value stored under key.
func (r *Redis) Get(ctx context.Context, cacheName, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, namespaced(cacheName, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", namespaced(cacheName, key), err)
	}
	return value, true, nil
}

// Remove deletes key; removing an absent key is a no-op.
func (r *Redis) Remove(ctx context.Context, cacheName, key string) error {
	if err := r.client.Del(ctx, namespaced(cacheName, key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", namespaced(cacheName, key), err)
	}
	return nil
}

// PutIfAbsent stores value with SET NX so the check and the write are one step.
func (r *Redis) PutIfAbsent(ctx context.Context, cacheName, key, value string, ttl time.Duration) (bool, error) {
	stored, err := r.client.SetNX(ctx, namespaced(cacheName, key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", namespaced(cacheName, key), err)
	}
	return stored, nil
}

var (
	_ Cache = (*Redis)(nil)
	_ Adder = (*Redis)(nil)
)
