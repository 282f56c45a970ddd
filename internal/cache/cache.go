// Package cache provides a TTL-bounded LRU for read-heavy tool results.
// Keys follow a "<kind>:<id>" convention so whole families can be dropped
// with a glob when the underlying entities change.
package cache

import (
	"path"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"orchestro/internal/logging"
)

// Default TTLs. Templates and code patterns change rarely, so they ride a
// longer window.
const (
	DefaultTTL  = 5 * time.Minute
	LongTTL     = 15 * time.Minute
	DefaultSize = 512
)

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// Cache is a size-bounded LRU with per-entry TTLs.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, entry]
}

// New creates a cache holding at most size entries. Size <= 0 uses
// DefaultSize.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	inner, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: inner}, nil
}

// Get returns the cached value, or false when absent or expired. Expired
// entries are removed on the way out.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores a value with its own TTL. ttl <= 0 uses DefaultTTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{value: value, storedAt: time.Now(), ttl: ttl})
}

// Invalidate drops a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// InvalidatePattern drops every key matching the glob (path.Match syntax,
// e.g. "tasks:*"). Returns how many entries were removed.
func (c *Cache) InvalidatePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		ok, err := path.Match(pattern, key)
		if err != nil {
			// malformed pattern matches nothing
			return removed
		}
		if ok {
			c.lru.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		logging.Get(logging.CategoryCache).Debug("Invalidated %d entries for %q", removed, pattern)
	}
	return removed
}

// GetOrSet returns the cached value for key, or computes, stores, and
// returns it. The fill function runs outside the cache lock; on a race the
// first stored value wins for subsequent readers but each caller gets its
// own computed result.
func (c *Cache) GetOrSet(key string, ttl time.Duration, fill func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fill()
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Len returns the live entry count, counting not-yet-swept expired entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops everything.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Sweep removes expired entries. Intended for a periodic background job;
// reads already drop expired entries lazily.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && e.expired(now) {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}
