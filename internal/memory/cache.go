package memory

import (
	"sync"
	"time"
)

// QueryCache is a small TTL cache fronting Search for the HTTP layer.
type QueryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	hits    []SearchHit
	expires time.Time
}

// NewQueryCache builds a cache. ttl <= 0 disables caching entirely.
func NewQueryCache(ttl time.Duration) *QueryCache {
	return &QueryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached hits for key when fresh.
func (c *QueryCache) Get(key string) ([]SearchHit, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.hits, true
}

// Put stores hits for key and opportunistically drops expired entries.
func (c *QueryCache) Put(key string, hits []SearchHit) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{hits: hits, expires: now.Add(c.ttl)}
}
