package client

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash"
)

// statementKey hashes statement text into a compact cache key.
func statementKey(text string) uint64 {
	return xxhash.Sum64String(text)
}

// StatementCache memoizes placeholder rewrites with LRU eviction. Rewrites
// are pure text transforms, so entries never need server-side cleanup;
// eviction is just forgetting.
type StatementCache struct {
	entries     map[uint64]rewrittenStatement
	accessOrder []uint64
	maxSize     int
	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	mu          sync.Mutex
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	CurrentSize int64
}

// NewStatementCache creates a new statement cache with the specified maximum size.
func NewStatementCache(maxSize int) *StatementCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &StatementCache{
		entries:     make(map[uint64]rewrittenStatement, maxSize),
		accessOrder: make([]uint64, 0, maxSize),
		maxSize:     maxSize,
	}
}

// Get retrieves a rewritten statement from the cache.
func (c *StatementCache) Get(key uint64) (rewrittenStatement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stmt, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return rewrittenStatement{}, false
	}

	c.hits.Add(1)
	c.updateAccessOrder(key)
	return stmt, true
}

// Put adds a rewritten statement to the cache, evicting the least
// recently used entry if the cache is full.
func (c *StatementCache) Put(key uint64, stmt rewrittenStatement) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = stmt
		c.updateAccessOrder(key)
		return
	}

	if len(c.accessOrder) >= c.maxSize {
		c.evictLRU()
	}

	c.entries[key] = stmt
	c.accessOrder = append(c.accessOrder, key)
}

// Len returns the number of cached statements.
func (c *StatementCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all statements from the cache.
func (c *StatementCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[uint64]rewrittenStatement, c.maxSize)
	c.accessOrder = c.accessOrder[:0]
}

// Stats returns a snapshot of the cache statistics.
func (c *StatementCache) Stats() CacheStats {
	c.mu.Lock()
	size := int64(len(c.entries))
	c.mu.Unlock()

	return CacheStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: size,
	}
}

// evictLRU removes the least recently used entry.
// Must be called with c.mu locked.
func (c *StatementCache) evictLRU() {
	if len(c.accessOrder) == 0 {
		return
	}

	lru := c.accessOrder[0]
	c.accessOrder = c.accessOrder[1:]
	delete(c.entries, lru)
	c.evictions.Add(1)
}

// updateAccessOrder moves a key to the end (most recently used).
// Must be called with c.mu locked.
func (c *StatementCache) updateAccessOrder(key uint64) {
	for i, k := range c.accessOrder {
		if k == key {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
	c.accessOrder = append(c.accessOrder, key)
}
