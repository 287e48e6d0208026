// Package lcache provides a fixed-capacity LRU keyed by an int64 index,
// independently reused by the term log for idle segments, writers, and
// readers (see §4.5 of the term log design). It wraps
// hashicorp/golang-lru's simplelru.LRU, adapting its eviction-callback shape
// into the "Add returns the evicted victim" shape the term log core wants
// so the caller can release the victim synchronously instead of out of band.
package lcache

import (
	lru "github.com/hashicorp/golang-lru/simplelru"
)

// Cache is a fixed-capacity, int64-keyed LRU. The zero value is not usable;
// construct with New.
type Cache struct {
	inner      *lru.LRU
	evictedKey int64
	evictedVal interface{}
	hasEvicted bool
}

// New returns a Cache holding at most capacity entries.
func New(capacity int) *Cache {
	c := &Cache{}
	inner, err := lru.NewLRU(capacity, func(key, value interface{}) {
		c.evictedKey = key.(int64)
		c.evictedVal = value
		c.hasEvicted = true
	})
	if err != nil {
		// Only returns an error for capacity <= 0; callers pass constants or
		// validated Options defaults, so this can't happen in practice.
		panic(err)
	}
	c.inner = inner
	return c
}

// Add inserts value under key, evicting the least-recently-used entry if the
// cache was already at capacity. It returns the evicted value, if any, so
// the caller can release it (e.g. schedule it for background close).
func (c *Cache) Add(key int64, value interface{}) (evictedKey int64, evictedVal interface{}, evicted bool) {
	c.hasEvicted = false
	c.evictedVal = nil
	c.inner.Add(key, value)
	return c.evictedKey, c.evictedVal, c.hasEvicted
}

// Remove extracts the entry for key, or returns ok=false if absent. A
// removed entry is no longer reachable by a weak lookup on key, so a stale
// caller can never resurrect it from the cache.
func (c *Cache) Remove(key int64) (value interface{}, ok bool) {
	v, ok := c.inner.Peek(key)
	if !ok {
		return nil, false
	}
	c.inner.Remove(key)
	return v, true
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	return c.inner.Len()
}

// Purge evicts every entry without invoking the eviction callback's side
// effects observed through Add; callers that need to release evicted
// resources should drain with Remove first.
func (c *Cache) Purge() {
	c.inner.Purge()
}
