package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time // zero means no expiration
}

func (e entry[V]) expired(at time.Time) bool {
	return !e.expiresAt.IsZero() && at.After(e.expiresAt)
}

// SimpleCache is a map-backed cache with per-entry TTL and an optional size
// bound. There is no janitor goroutine; expired entries are dropped lazily,
// when the bound is hit, or by PurgeExpired.
type SimpleCache[K comparable, V any] struct {
	// nil when the cache is not shared between goroutines
	mu *sync.RWMutex

	items      map[K]entry[V]
	maxEntries int
}

// Options controls construction of a SimpleCache.
type Options struct {
	// ConcurrencySafe guards every operation with a RWMutex.
	ConcurrencySafe bool
	// MaxEntries bounds the cache. Zero means unbounded.
	MaxEntries int
}

func NewSimpleCache[K comparable, V any](opts Options) *SimpleCache[K, V] {
	c := &SimpleCache[K, V]{
		items:      make(map[K]entry[V]),
		maxEntries: opts.MaxEntries,
	}
	if opts.ConcurrencySafe {
		c.mu = &sync.RWMutex{}
	}
	return c
}

func (c *SimpleCache[K, V]) lockR() func() {
	if c.mu == nil {
		return func() {}
	}
	c.mu.RLock()
	return c.mu.RUnlock
}

func (c *SimpleCache[K, V]) lockW() func() {
	if c.mu == nil {
		return func() {}
	}
	c.mu.Lock()
	return c.mu.Unlock
}

// now is swapped by tests.
var now = time.Now

func (c *SimpleCache[K, V]) Get(key K) (V, bool) {
	unlock := c.lockR()
	defer unlock()

	var zero V
	e, ok := c.items[key]
	if !ok || e.expired(now()) {
		return zero, false
	}
	return e.value, true
}

// Set stores value. When the cache is full it first drops expired entries and
// then, if still full, one arbitrary entry.
func (c *SimpleCache[K, V]) Set(key K, value V, ttl time.Duration) {
	unlock := c.lockW()
	defer unlock()

	ts := now()
	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.purge(ts)
		if len(c.items) >= c.maxEntries {
			for k := range c.items {
				delete(c.items, k)
				break
			}
		}
	}
	var exp time.Time
	if ttl > 0 {
		exp = ts.Add(ttl)
	}
	c.items[key] = entry[V]{value: value, expiresAt: exp}
}

func (c *SimpleCache[K, V]) Delete(key K) {
	unlock := c.lockW()
	defer unlock()
	delete(c.items, key)
}

func (c *SimpleCache[K, V]) Len() int {
	unlock := c.lockR()
	defer unlock()
	ts := now()
	count := 0
	for _, e := range c.items {
		if !e.expired(ts) {
			count++
		}
	}
	return count
}

func (c *SimpleCache[K, V]) PurgeExpired() {
	unlock := c.lockW()
	defer unlock()
	c.purge(now())
}

func (c *SimpleCache[K, V]) purge(ts time.Time) {
	for k, e := range c.items {
		if e.expired(ts) {
			delete(c.items, k)
		}
	}
}

var _ Cache[any, any] = (*SimpleCache[any, any])(nil)
