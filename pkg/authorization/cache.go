package authorization

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultCacheSize bounds the number of cached rule sets.
const DefaultCacheSize = 500

// cacheEntry pairs a computed rule set with its absolute expiration
// deadline. Reads refresh the entry's LRU position but never the deadline: a
// rule set derived from an expiring role must die at that wall-clock time no
// matter how often it is read.
type cacheEntry struct {
	rules     *RuleSet
	expiresAt *time.Time
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Expired uint64 `json:"expired"`
	Entries int    `json:"entries"`
}

// RuleCache is the process-wide LRU of computed rule sets, keyed by
// "userId:environmentId".
type RuleCache struct {
	lru     *lru.Cache[string, cacheEntry]
	now     func() time.Time
	hits    atomic.Uint64
	misses  atomic.Uint64
	expired atomic.Uint64
	metrics *cacheMetrics
}

type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	entries   prometheus.Gauge
}

// NewRuleCache builds a cache with the given capacity; zero or negative
// capacity falls back to DefaultCacheSize. Pass a nil registry to skip
// metric registration (tests do).
func NewRuleCache(capacity int, registry prometheus.Registerer) (*RuleCache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	c := &RuleCache{now: time.Now}

	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowdeck_rule_cache_hits_total",
			Help: "Total number of rule cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowdeck_rule_cache_misses_total",
			Help: "Total number of rule cache misses, including expirations",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowdeck_rule_cache_evictions_total",
			Help: "Total number of rule cache entries evicted by capacity pressure",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowdeck_rule_cache_entries",
			Help: "Current number of cached rule sets",
		}),
	}
	c.metrics = m

	backing, err := lru.NewWithEvict(capacity, func(string, cacheEntry) {
		m.evictions.Inc()
	})
	if err != nil {
		return nil, err
	}
	c.lru = backing

	if registry != nil {
		for _, collector := range []prometheus.Collector{m.hits, m.misses, m.evictions, m.entries} {
			if err := registry.Register(collector); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// CacheKey builds the cache key for a (user, environment) pair.
func CacheKey(userID, environmentID string) string {
	return userID + ":" + environmentID
}

// Get returns the cached rule set, or nil on a miss. An entry past its
// deadline is removed and reported as a miss.
func (c *RuleCache) Get(key string) *RuleSet {
	entry, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		c.metrics.misses.Inc()
		return nil
	}
	if entry.expiresAt != nil && !c.now().Before(*entry.expiresAt) {
		c.lru.Remove(key)
		c.expired.Add(1)
		c.misses.Add(1)
		c.metrics.misses.Inc()
		c.metrics.entries.Set(float64(c.lru.Len()))
		return nil
	}
	c.hits.Add(1)
	c.metrics.hits.Inc()
	return entry.rules
}

// Set stores a rule set. A nil deadline keeps the entry until capacity
// eviction or explicit invalidation.
func (c *RuleCache) Set(key string, rules *RuleSet, expiresAt *time.Time) {
	c.lru.Add(key, cacheEntry{rules: rules, expiresAt: expiresAt})
	c.metrics.entries.Set(float64(c.lru.Len()))
}

// Invalidate drops the entry for one (user, environment) pair.
func (c *RuleCache) Invalidate(userID, environmentID string) {
	c.lru.Remove(CacheKey(userID, environmentID))
	c.metrics.entries.Set(float64(c.lru.Len()))
}

// InvalidateAll flushes the cache.
func (c *RuleCache) InvalidateAll() {
	c.lru.Purge()
	c.metrics.entries.Set(0)
}

// Stats snapshots the hit counters.
func (c *RuleCache) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Expired: c.expired.Load(),
		Entries: c.lru.Len(),
	}
}
