package resolver

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/gateway"
)

const cacheShardCount = 16

// cacheEntry is a constructed gateway instance plus the metadata needed to
// decide whether it may be reused.
type cacheEntry struct {
	gateway         gateway.Gateway
	configID        snowflake.ID
	kind            string
	isPrimary       bool
	createdAt       time.Time
	healthStatus    string
	healthCheckedAt time.Time
}

// instanceCache is a sharded TTL cache for gateway instances. Shards keep
// resolution for different tenants independent: a write for one key only
// contends with reads of keys in the same shard.
type instanceCache struct {
	ttl       time.Duration
	healthTTL time.Duration
	shards    [cacheShardCount]*cacheShard
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

func newInstanceCache(ttl, healthTTL time.Duration) *instanceCache {
	c := &instanceCache{ttl: ttl, healthTTL: healthTTL}
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[string]*cacheEntry)}
	}
	return c
}

func cacheKey(orgID snowflake.ID, kind string) string {
	return orgID.String() + "|" + strings.ToLower(strings.TrimSpace(kind))
}

func (c *instanceCache) shard(key string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%cacheShardCount]
}

// get returns a reusable entry. Expired entries miss and are dropped;
// entries with a stale health reading miss but stay cached, so a fresh
// health check can make them eligible again without reconstruction.
// recordHealth mutates the health fields under the shard lock, so every
// read of them happens before the lock is released.
func (c *instanceCache) get(key string, now time.Time) (*cacheEntry, bool) {
	s := c.shard(key)

	s.mu.RLock()
	entry, ok := s.entries[key]
	var expired, eligible bool
	if ok {
		expired = now.Sub(entry.createdAt) >= c.ttl
		eligible = !expired
		if eligible && !entry.healthCheckedAt.IsZero() {
			if now.Sub(entry.healthCheckedAt) >= c.healthTTL || entry.healthStatus == "unhealthy" {
				eligible = false
			}
		}
	}
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if expired {
		s.mu.Lock()
		if current, still := s.entries[key]; still && current == entry {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	if !eligible {
		return nil, false
	}
	return entry, true
}

func (c *instanceCache) set(key string, entry *cacheEntry) {
	s := c.shard(key)
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
}

// recordHealth refreshes the health reading on a cached entry if present.
func (c *instanceCache) recordHealth(key, status string, checkedAt time.Time) {
	s := c.shard(key)
	s.mu.Lock()
	if entry, ok := s.entries[key]; ok {
		entry.healthStatus = status
		entry.healthCheckedAt = checkedAt
	}
	s.mu.Unlock()
}

func (c *instanceCache) delete(key string) {
	s := c.shard(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// deleteOrg evicts every entry belonging to the tenant.
func (c *instanceCache) deleteOrg(orgID snowflake.ID) {
	prefix := orgID.String() + "|"
	for _, s := range c.shards {
		s.mu.Lock()
		for key := range s.entries {
			if strings.HasPrefix(key, prefix) {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}

func (c *instanceCache) clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[string]*cacheEntry)
		s.mu.Unlock()
	}
}
