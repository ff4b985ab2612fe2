// Package memory implements an in-process cache.Cache for single-node
// deployments and tests, following the mutex-guarded-map idiom used
// throughout this cache layer.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gcp-broker/tokenbroker/internal/broker/cache"
)

type entry struct {
	value     []byte
	expiresAt time.Time
	noExpiry  bool
}

func (e entry) expired(now time.Time) bool {
	return !e.noExpiry && now.After(e.expiresAt)
}

// Cache is an in-process cache.Cache. Locks are per-name buffered channels
// used as single-token mutexes, so AcquireLock can respect context
// cancellation while blocking.
type Cache struct {
	mu     sync.Mutex
	values map[string]entry
	locks  map[string]chan struct{}
}

func New() *Cache {
	return &Cache{
		values: make(map[string]entry),
		locks:  make(map[string]chan struct{}),
	}
}

var _ cache.Cache = (*Cache)(nil)

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.values[key]
	if !ok || e.expired(time.Now()) {
		delete(c.values, key)
		return nil, cache.ErrNotFound
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)

	e := entry{value: stored}
	if ttl <= 0 {
		e.noExpiry = true
	} else {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.values[key] = e
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *Cache) tokenChan(name string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		c.locks[name] = ch
	}
	return ch
}

type lock struct {
	ch chan struct{}
}

func (l *lock) Release(ctx context.Context) error {
	l.ch <- struct{}{}
	return nil
}

// AcquireLock blocks until the named lock's single token is available or
// ctx is cancelled. ttl is accepted for interface parity with the remote
// backend but is not independently enforced here: Release always frees it.
func (c *Cache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (cache.Lock, error) {
	ch := c.tokenChan(name)
	select {
	case <-ch:
		return &lock{ch: ch}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
