package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCache is a size-bounded cache whose entries also expire after a TTL.
// Size 0 means unbounded, TTL 0 means entries never expire.
type LRUCache[K comparable, V any] struct {
	lru *expirable.LRU[K, V]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewLRUCache creates a new instance of LRUCache.
func NewLRUCache[K comparable, V any](size int, ttl time.Duration) *LRUCache[K, V] {
	c := &LRUCache[K, V]{}
	c.lru = expirable.NewLRU[K, V](size, func(K, V) {
		c.evictions.Add(1)
	}, ttl)
	return c
}

// Set adds or updates an item in the cache
func (c *LRUCache[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// Get retrieves an item from the cache and marks it as recently used
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Del removes an item from the cache
func (c *LRUCache[K, V]) Del(key K) {
	c.lru.Remove(key)
}

// Len returns the number of items in the cache
func (c *LRUCache[K, V]) Len() int {
	return c.lru.Len()
}

// Contains checks if a key exists without touching its recency
func (c *LRUCache[K, V]) Contains(key K) bool {
	return c.lru.Contains(key)
}

// Clear removes all items from the cache
func (c *LRUCache[K, V]) Clear() {
	c.lru.Purge()
}

// Stats returns a snapshot of the hit and miss counters.
func (c *LRUCache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.lru.Len(),
	}
}

var _ Cache[string, int] = (*LRUCache[string, int])(nil)
