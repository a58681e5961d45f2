package rbac

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/permitdesk/pkg/observability"
)

// RoleCache holds immutable role snapshots keyed by role id. Entries are
// replaced whole, so a reader sees either the old or the new feature set.
// The TTL bounds how long a snapshot written by another process can be served.
//
// Every Invalidate or Purge bumps a generation. A loader captures the
// generation before reading the database and hands it to Put, which drops
// the snapshot if an invalidation happened in between.
type RoleCache struct {
	lru     *expirable.LRU[int64, *Role]
	metrics *observability.Metrics

	mu         sync.Mutex
	generation uint64
}

// NewRoleCache creates a cache; size <= 0 or ttl <= 0 returns nil, which
// disables caching
func NewRoleCache(size int, ttl time.Duration, metrics *observability.Metrics) *RoleCache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &RoleCache{
		lru:     expirable.NewLRU[int64, *Role](size, nil, ttl),
		metrics: metrics,
	}
}

// Get returns a private copy of the cached role
func (c *RoleCache) Get(id int64) (*Role, bool) {
	if c == nil {
		return nil, false
	}
	role, ok := c.lru.Get(id)
	if c.metrics != nil {
		if ok {
			c.metrics.RoleCacheHitsTotal.Inc()
		} else {
			c.metrics.RoleCacheMissTotal.Inc()
		}
	}
	if !ok {
		return nil, false
	}
	return role.Clone(), true
}

// Generation returns the current invalidation generation
func (c *RoleCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Put stores a snapshot of role loaded at generation gen. It reports false
// and stores nothing when the cache was invalidated since gen.
func (c *RoleCache) Put(role *Role, gen uint64) bool {
	if c == nil || role == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.lru.Add(role.ID, role.Clone())
	return true
}

// Invalidate drops one role
func (c *RoleCache) Invalidate(id int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.lru.Remove(id)
}

// Purge drops every entry
func (c *RoleCache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.lru.Purge()
}

// Len returns the number of live entries
func (c *RoleCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
