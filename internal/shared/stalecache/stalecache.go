// Package stalecache provides a generic get-or-refresh cache with a bounded
// staleness window. It backs the in-memory views of slow persistent stores
// (IP block list, revocation list) so staleness bounds are testable in one
// place instead of being re-implemented per service.
package stalecache

import (
	"context"
	"sync"
	"time"
)

// RefreshFunc loads a fresh value from the backing store. It is always
// invoked without any cache lock held, so implementations may perform
// blocking I/O or take their own locks safely.
type RefreshFunc[T any] func(ctx context.Context) (T, error)

// Cache holds a single value refreshed at most once per staleness window.
type Cache[T any] struct {
	mu          sync.RWMutex
	value       T
	loaded      bool
	refreshedAt time.Time

	// refreshMu serializes refreshes so concurrent callers do not stampede
	// the backing store. It is never held together with mu.
	refreshMu sync.Mutex

	maxStale time.Duration
	refresh  RefreshFunc[T]
	now      func() time.Time
}

// New creates a cache that considers its value stale after maxStale.
func New[T any](maxStale time.Duration, refresh RefreshFunc[T]) *Cache[T] {
	return &Cache[T]{
		maxStale: maxStale,
		refresh:  refresh,
		now:      time.Now,
	}
}

// NewWithClock creates a cache with an injectable clock for tests.
func NewWithClock[T any](maxStale time.Duration, refresh RefreshFunc[T], now func() time.Time) *Cache[T] {
	c := New(maxStale, refresh)
	c.now = now
	return c
}

// Get returns the cached value, refreshing synchronously when the value has
// never been loaded or has exceeded the staleness window. If a refresh fails
// but a previously loaded value exists, that value is returned alongside the
// error so callers can degrade to last-known state.
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	c.mu.RLock()
	if c.loaded && c.now().Sub(c.refreshedAt) < c.maxStale {
		v := c.value
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	if err := c.Refresh(ctx); err != nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.value, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, nil
}

// Refresh forces a reload from the backing store regardless of staleness.
// The store read happens outside the value lock; the result is swapped in
// under the lock afterward.
func (c *Cache[T]) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	v, err := c.refresh(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.value = v
	c.loaded = true
	c.refreshedAt = c.now()
	c.mu.Unlock()
	return nil
}

// Peek returns the cached value without triggering a refresh. The second
// return reports whether a value has ever been loaded.
func (c *Cache[T]) Peek() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.loaded
}

// Mutate applies fn to the cached value under the lock. It is used by
// services that update the cache in place after writing to the backing
// store (e.g. a new block takes effect without waiting out the window).
func (c *Cache[T]) Mutate(fn func(v T) T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = fn(c.value)
	c.loaded = true
}

// Age returns how long ago the value was refreshed, and false when the
// value has never been loaded.
func (c *Cache[T]) Age() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return 0, false
	}
	return c.now().Sub(c.refreshedAt), true
}
