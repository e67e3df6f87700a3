package permission

import (
	"sync"
	"time"
)

// AdminCache is the set of admin identities seen by the resolver, keyed by
// Steam64. A nil expiry means permanent. Entries are only added during
// resolution and only removed by an explicit admin removal.
type AdminCache struct {
	mu      sync.RWMutex
	entries map[uint64]*time.Time
}

// NewAdminCache creates an empty cache.
func NewAdminCache() *AdminCache {
	return &AdminCache{entries: make(map[uint64]*time.Time)}
}

// Observe adds id with no expiry if absent and reports whether it was new.
func (c *AdminCache) Observe(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; ok {
		return false
	}
	c.entries[id] = nil
	return true
}

func (c *AdminCache) Contains(id uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// Expiry returns the entry's expiry; ok is false when id is unknown.
func (c *AdminCache) Expiry(id uint64) (expiry *time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	expiry, ok = c.entries[id]
	return expiry, ok
}

func (c *AdminCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of the cache contents.
func (c *AdminCache) Snapshot() map[uint64]*time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint64]*time.Time, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Remove evicts id and reports whether it was present.
func (c *AdminCache) Remove(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		return false
	}
	delete(c.entries, id)
	return true
}
