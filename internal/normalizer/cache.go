package normalizer

import (
	"sync"
	"time"
)

// cacheEntry is one cached canonicalization result, keyed by origin-path
// family (see originPathKey), with a TTL per spec.md §4.C (default 5 min).
type cacheEntry struct {
	canonicalURL string
	cachedAt     time.Time
}

// canonicalCache is the canonicalization cache, one per Normalizer, modeled
// as a plain mutex-guarded map in the style of the teacher's Deduplicator
// (internal/engine/dedup.go). It has no size cap and no eviction: expired
// entries are ignored by get but stay in the map until put overwrites them.
type canonicalCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

func newCanonicalCache(ttl time.Duration) *canonicalCache {
	return &canonicalCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func (c *canonicalCache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.cachedAt) > c.ttl {
		return "", false
	}
	return e.canonicalURL, true
}

func (c *canonicalCache) put(key, canonicalURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{canonicalURL: canonicalURL, cachedAt: time.Now()}
}

func (c *canonicalCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
