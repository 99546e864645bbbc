// ABOUTME: TTL-memoized lookup cache keyed by ecosystem + lowercased package name.
// ABOUTME: Thread-safe; expired entries are lazily evicted on the next get of the same key.
package osv

import (
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	expiry time.Time
	result Result
}

// cache memoizes OSV lookup results. No background sweep: an expired entry
// is removed on the next get for its key and re-fetched by the caller.
type cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func newCache() *cache {
	return &cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func cacheKey(name, ecosystem string) string {
	return ecosystem + ":" + strings.ToLower(name)
}

func (c *cache) get(name, ecosystem string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(name, ecosystem)
	e, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if c.now().After(e.expiry) {
		delete(c.entries, key)
		return Result{}, false
	}
	return e.result, true
}

func (c *cache) set(name, ecosystem string, res Result, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(name, ecosystem)] = cacheEntry{
		expiry: c.now().Add(ttl),
		result: res,
	}
}
