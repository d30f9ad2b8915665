// Package cache provides a process-local key-value cache with per-entry TTL.
// Entries expire lazily at read time; there is no background sweep. The cache
// is a pure performance optimization: every operation is total and failures
// degrade to a miss rather than surfacing an error to the caller.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// entry holds one cached value as an encoded snapshot.
// Storing the encoded form prevents callers from mutating cached data through
// shared pointers, and gives encode failures a defined meaning (the value is
// simply not cached).
type entry struct {
	data      []byte
	expiresAt time.Time
}

// Cache is a TTL-based key-value store with lazy expiry.
// Safe for concurrent use: Get performs a read-then-conditional-delete, so all
// operations share a single mutex.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	metrics *Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source. Used by tests to control expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithMetrics attaches Prometheus metrics for cache operations.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves the value stored under key into dest, which must be a pointer.
// Returns false on a missing key, an expired entry, or a decode failure.
// Expired entries are deleted as a side effect of the read.
func (c *Cache) Get(key string, dest any) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.metrics.miss()
		return false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.mu.Unlock()
		c.metrics.expired()
		c.metrics.miss()
		return false
	}
	c.mu.Unlock()

	if err := cbor.Unmarshal(e.data, dest); err != nil {
		// A value that no longer decodes is useless; drop it.
		c.Del(key)
		c.metrics.decodeFailure()
		c.metrics.miss()
		return false
	}
	c.metrics.hit()
	return true
}

// Set stores value under key for ttlSeconds. A non-positive TTL is a no-op so
// nothing is ever cached without an expiry. A value that fails to encode is
// silently not cached.
func (c *Cache) Set(key string, value any, ttlSeconds int) {
	if ttlSeconds <= 0 {
		return
	}
	data, err := cbor.Marshal(value)
	if err != nil {
		c.metrics.encodeFailure()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		data:      data,
		expiresAt: c.now().Add(time.Duration(ttlSeconds) * time.Second),
	}
}

// Del removes the entry for key, if any.
func (c *Cache) Del(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Keys returns all stored keys, including entries that may already have
// expired but have not yet been read. Intended for prefix-based bulk
// invalidation.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// DelPrefix removes every entry whose key starts with prefix and returns the
// number of entries removed. Used for coarse invalidation after writes that
// may affect many cached results.
func (c *Cache) DelPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of physically stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
