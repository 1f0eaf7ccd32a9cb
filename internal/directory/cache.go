package directory

import (
	"sync"
	"time"

	"github.com/koltyakov/arca-edge/internal/domain"
)

// cache stores recently resolved username→mapping results, misses included,
// with a short TTL. Local writes invalidate entries explicitly; the TTL
// bounds staleness for writes made by other processes.
type cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	mapping           domain.CustomerMapping
	found             bool
	expiresAtUnixNano int64
}

func newCache(ttl time.Duration) *cache {
	return &cache{ttl: ttl, entries: make(map[string]cacheEntry), now: time.Now}
}

// get returns the cached result for username. ok is false on a cache miss;
// found is false for a cached not-found result.
func (c *cache) get(username string) (m domain.CustomerMapping, found, ok bool) {
	if c.ttl <= 0 {
		return domain.CustomerMapping{}, false, false
	}
	nowUnix := c.now().UnixNano()
	c.mu.RLock()
	e, exists := c.entries[username]
	c.mu.RUnlock()
	if !exists {
		return domain.CustomerMapping{}, false, false
	}
	if nowUnix > e.expiresAtUnixNano {
		c.mu.Lock()
		if stale, still := c.entries[username]; still && nowUnix > stale.expiresAtUnixNano {
			delete(c.entries, username)
		}
		c.mu.Unlock()
		return domain.CustomerMapping{}, false, false
	}
	return e.mapping, e.found, true
}

func (c *cache) set(username string, m domain.CustomerMapping) {
	c.put(username, cacheEntry{mapping: m, found: true})
}

func (c *cache) setMiss(username string) {
	c.put(username, cacheEntry{})
}

func (c *cache) put(username string, e cacheEntry) {
	if c.ttl <= 0 {
		return
	}
	e.expiresAtUnixNano = c.now().Add(c.ttl).UnixNano()
	c.mu.Lock()
	c.entries[username] = e
	c.mu.Unlock()
}

func (c *cache) invalidate(username string) {
	c.mu.Lock()
	delete(c.entries, username)
	c.mu.Unlock()
}

// cleanup removes expired entries and returns how many were dropped.
func (c *cache) cleanup() int {
	nowUnix := c.now().UnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for name, e := range c.entries {
		if nowUnix > e.expiresAtUnixNano {
			delete(c.entries, name)
			removed++
		}
	}
	return removed
}

func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
