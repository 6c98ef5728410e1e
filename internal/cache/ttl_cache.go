package cache

import (
	"sync"
	"time"
)

const (
	DefaultCapacity = 10000
	DefaultTTL      = 60 * time.Second

	// evictFraction of the oldest-inserted entries is dropped when purging
	// expired entries was not enough. Insertion order, not LRU.
	evictFraction = 10

	// compactSlackLen keeps Delete from compacting tiny caches on every call.
	compactSlackLen = 64
)

// Stats is a point-in-time snapshot of one cache's counters.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Size    int
	HitRate float64
}

type entry struct {
	value     any
	expiresAt time.Time
}

// TTLCache is a size-bounded map with per-entry expiry. Reads never return
// an entry past its TTL. Eviction first purges expired entries and then, if
// the cache is still full, drops roughly a tenth of the oldest insertions.
type TTLCache struct {
	mu       sync.Mutex
	entries  map[string]entry
	order    []string
	capacity int
	ttl      time.Duration
	hits     uint64
	misses   uint64
	now      func() time.Time
}

type Option func(*TTLCache)

// WithClock overrides the time source for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *TTLCache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(capacity int, ttl time.Duration, opts ...Option) *TTLCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &TTLCache{
		entries:  make(map[string]entry),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value if present and unexpired.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		if ok {
			delete(c.entries, key)
		}
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Set stores a value with the cache's fixed TTL, evicting if necessary.
func (c *TTLCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictLocked()
	}

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Seed inserts a value with an explicit expiry, used by tests to plant stale
// entries.
func (c *TTLCache) Seed(key string, value any, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = entry{value: value, expiresAt: expiresAt}
}

// Delete removes one key. The order slice keeps at most twice the live
// entry count plus a little slack, so delete/re-add churn cannot grow it
// without bound.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	if len(c.order) > 2*len(c.entries)+compactSlackLen {
		c.compactLocked()
	}
}

// Clear drops all entries but keeps the hit/miss counters.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.order = nil
}

// Stats returns current counters.
func (c *TTLCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Size:    len(c.entries),
		HitRate: rate,
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// compactLocked rewrites the order slice, dropping expired entries and keys
// that were deleted out of band.
func (c *TTLCache) compactLocked() {
	now := c.now()
	kept := c.order[:0]
	for _, key := range c.order {
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}

func (c *TTLCache) evictLocked() {
	c.compactLocked()

	if len(c.entries) < c.capacity {
		return
	}

	drop := len(c.order) / evictFraction
	if drop < 1 {
		drop = 1
	}
	for _, key := range c.order[:drop] {
		delete(c.entries, key)
	}
	c.order = append(c.order[:0], c.order[drop:]...)
}
