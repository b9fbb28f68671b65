package sync

import (
	gosync "sync"
	"time"
)

// DefaultCacheTTL is how long a loaded snapshot is reused before
// the next request triggers a fetch.
const DefaultCacheTTL = 5 * time.Minute

// CacheKey identifies a fetch: one project over a lookback
// window of whole days.
type CacheKey struct {
	Project string
	Days    int
}

type cacheEntry struct {
	snap   *Snapshot
	stored time.Time
}

// Cache memoizes snapshots per CacheKey for a fixed TTL. A TTL
// of zero or less disables caching.
type Cache struct {
	mu      gosync.Mutex
	ttl     time.Duration
	entries map[CacheKey]cacheEntry
	now     func() time.Time
}

// NewCache returns an empty cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[CacheKey]cacheEntry),
		now:     time.Now,
	}
}

// TTL returns the configured time to live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the snapshot stored under key if it has not
// expired. Expired entries are dropped.
func (c *Cache) Get(key CacheKey) (*Snapshot, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.stored) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.snap, true
}

// Put stores snap under key.
func (c *Cache) Put(key CacheKey, snap *Snapshot) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{snap: snap, stored: c.now()}
}

// Invalidate drops the entry for key.
func (c *Cache) Invalidate(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
