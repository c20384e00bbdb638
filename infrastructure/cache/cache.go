// Package cache provides an in-process TTL cache used to serve node
// analytics reads with a stale-with-age-hint fallback instead of blocking on
// recomputation.
package cache

import (
	"sync"
	"time"
)

// CacheEntry is a single cached value with its expiration and a version tag
// used for bulk invalidation.
type CacheEntry struct {
	Value      interface{}
	Expiration time.Time
	StoredAt   time.Time
	Version    int64
}

// CacheConfig configures a Cache's defaults.
type CacheConfig struct {
	DefaultTTL      time.Duration
	MaxSize         int
	CleanupInterval time.Duration
}

// DefaultConfig returns the cache defaults used when a zero-value
// CacheConfig is supplied.
func DefaultConfig() CacheConfig {
	return CacheConfig{
		DefaultTTL:      5 * time.Minute,
		MaxSize:         1000,
		CleanupInterval: 10 * time.Minute,
	}
}

// Cache is a generic, thread-safe in-memory TTL cache with versioned
// bulk invalidation.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
	config  CacheConfig
	version int64
}

// NewCache constructs a Cache and starts its background cleanup loop.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 1000
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}

	c := &Cache{
		entries: make(map[string]*CacheEntry),
		config:  cfg,
	}

	go c.startCleanup()
	return c
}

func (c *Cache) startCleanup() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.cleanup()
	}
}

func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.Expiration) {
			delete(c.entries, key)
		}
	}
}

// Get returns the value for key if present and unexpired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.Expiration) {
		return nil, false
	}
	return entry.Value, true
}

// GetStale returns the value for key regardless of expiration, along with
// its age and whether it is still fresh. A missing key reports found=false.
func (c *Cache) GetStale(key string) (value interface{}, age time.Duration, fresh bool, found bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, 0, false, false
	}
	now := time.Now()
	return entry.Value, now.Sub(entry.StoredAt), !now.After(entry.Expiration), true
}

// GetVersion returns the value, its version tag, and whether it is present
// and unexpired.
func (c *Cache) GetVersion(key string) (interface{}, int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.Expiration) {
		return nil, 0, false
	}
	return entry.Value, entry.Version, true
}

// Set stores value under key with the given ttl, or the cache's default TTL
// when ttl is zero.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.config.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.entries[key] = &CacheEntry{
		Value:      value,
		Expiration: now.Add(ttl),
		StoredAt:   now,
		Version:    c.version,
	}
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePattern removes every key with the given prefix.
func (c *Cache) InvalidatePattern(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CacheEntry)
}

// InvalidateVersion bumps the cache's version and drops every entry; callers
// that stashed an older version from GetVersion know their copy is stale.
func (c *Cache) InvalidateVersion() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.entries = make(map[string]*CacheEntry)
}

// GetCurrentVersion returns the cache's current version tag.
func (c *Cache) GetCurrentVersion() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Size reports the number of entries currently held, expired or not.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// AnalyticsCache wraps Cache with the node-analytics staleness contract:
// a miss recomputes only once the cached value's age exceeds maxStaleAge;
// otherwise the caller gets the stale value back with its age attached.
type AnalyticsCache struct {
	cache       *Cache
	keyPrefix   string
	maxStaleAge time.Duration
}

// NewAnalyticsCache constructs an AnalyticsCache. maxStaleAge governs when a
// cached value must be treated as a miss rather than served stale (1 hour
// per the node analytics staleness contract).
func NewAnalyticsCache(maxStaleAge time.Duration) *AnalyticsCache {
	if maxStaleAge <= 0 {
		maxStaleAge = time.Hour
	}
	return &AnalyticsCache{
		cache:       NewCache(CacheConfig{DefaultTTL: maxStaleAge}),
		keyPrefix:   "node-analytics:",
		maxStaleAge: maxStaleAge,
	}
}

// AnalyticsLookup is the result of a Lookup call.
type AnalyticsLookup struct {
	Value interface{}
	Found bool
	Stale bool
	Age   time.Duration
}

// Lookup fetches a cached value for key. If the value is older than
// maxStaleAge it is reported as not found so the caller recomputes; between
// the cache's TTL and maxStaleAge it is returned stale with its age.
func (a *AnalyticsCache) Lookup(key string) AnalyticsLookup {
	value, age, fresh, found := a.cache.GetStale(a.keyPrefix + key)
	if !found {
		return AnalyticsLookup{}
	}
	if age > a.maxStaleAge {
		return AnalyticsLookup{}
	}
	return AnalyticsLookup{Value: value, Found: true, Stale: !fresh, Age: age}
}

// Store caches value for key under the cache's default TTL.
func (a *AnalyticsCache) Store(key string, value interface{}) {
	a.cache.Set(a.keyPrefix+key, value, 0)
}

// Invalidate drops a single address/network entry.
func (a *AnalyticsCache) Invalidate(key string) {
	a.cache.Invalidate(a.keyPrefix + key)
}

// InvalidateAll drops every cached analytics record, used when a refresh
// cycle completes and supersedes the whole cache.
func (a *AnalyticsCache) InvalidateAll() {
	a.cache.InvalidatePattern(a.keyPrefix)
}
