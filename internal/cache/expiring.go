package cache

import (
	"sync"
	"time"
)

// Sweeper is implemented by every expiring store the janitor visits.
type Sweeper interface {
	Name() string
	Sweep() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// ExpiringCache is a TTL-bound key/value store. Reads lazily ignore expired
// entries; Sweep removes them. All mutations happen under a single mutex so
// a lookup-and-consume is one atomic step.
type ExpiringCache[K comparable, V any] struct {
	mu         sync.Mutex
	name       string
	defaultTTL time.Duration
	entries    map[K]entry[V]
	now        func() time.Time
}

// New creates an ExpiringCache with a default TTL applied by Set.
func New[K comparable, V any](name string, defaultTTL time.Duration) *ExpiringCache[K, V] {
	return &ExpiringCache[K, V]{
		name:       name,
		defaultTTL: defaultTTL,
		entries:    make(map[K]entry[V]),
		now:        time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (c *ExpiringCache[K, V]) WithClock(now func() time.Time) *ExpiringCache[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Name identifies the cache in janitor logs.
func (c *ExpiringCache[K, V]) Name() string {
	return c.name
}

// Set stores a value under the default TTL, replacing any previous entry.
func (c *ExpiringCache[K, V]) Set(key K, value V) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores a value with an explicit TTL overriding the default.
func (c *ExpiringCache[K, V]) SetTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// Get returns the live value for key. Expired entries are treated as absent
// even before the next sweep.
func (c *ExpiringCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Consume returns the live value for key and removes it in the same step.
// This is the single-use primitive: two concurrent consumers cannot both
// observe the same entry.
func (c *ExpiringCache[K, V]) Consume(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(c.entries, key)
	if c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes an entry regardless of expiry.
func (c *ExpiringCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Keys returns the keys of all live entries.
func (c *ExpiringCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.entries))
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// Len counts live entries.
func (c *ExpiringCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	now := c.now()
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			continue
		}
		count++
	}
	return count
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *ExpiringCache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
