package cache

import (
	"sync/atomic"

	lfu "github.com/dgraph-io/ristretto"

	"github.com/trendhive/content-cache/types"
)

// LFUCacheConfig configures the Ristretto micro-tier.
type LFUCacheConfig struct {
	// NumCounters is the number of frequency counters.
	// Recommended: 10 * the expected number of entries.
	NumCounters int64

	// MaxCost is the maximum total cost of cached entries.
	MaxCost int64

	// BufferItems is the number of keys per Get buffer.
	// Recommended: 64.
	BufferItems int64
}

// DefaultLFUCacheConfig returns a config sized for a few hundred
// keyword entries, which is what a single client typically holds.
func DefaultLFUCacheConfig() LFUCacheConfig {
	return LFUCacheConfig{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	}
}

// LFUCacheFactory creates Ristretto micro-tier instances.
type LFUCacheFactory struct {
	config LFUCacheConfig
}

// NewLFUCacheFactory creates a new Ristretto cache factory.
func NewLFUCacheFactory(config LFUCacheConfig) LocalCacheFactory {
	return &LFUCacheFactory{config: config}
}

// Create creates a new Ristretto cache instance.
func (rcf *LFUCacheFactory) Create() (LocalCache, error) {
	return NewLFUCache(rcf.config)
}

// NewLFUCache creates a new Ristretto-based micro-tier.
func NewLFUCache(config LFUCacheConfig) (*LFUCache, error) {
	cache, err := lfu.NewCache(&lfu.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}

	return &LFUCache{
		cache: cache,
	}, nil
}

// LFUCache is an in-process micro-tier backed by Ristretto.
type LFUCache struct {
	cache  *lfu.Cache
	hits   int64
	misses int64
}

// Get retrieves an entry from the micro-tier.
func (rc *LFUCache) Get(key string) (types.CacheEntry, bool) {
	value, found := rc.cache.Get(key)
	if !found {
		atomic.AddInt64(&rc.misses, 1)
		return types.CacheEntry{}, false
	}
	entry, ok := value.(types.CacheEntry)
	if !ok {
		atomic.AddInt64(&rc.misses, 1)
		return types.CacheEntry{}, false
	}
	atomic.AddInt64(&rc.hits, 1)
	return entry, true
}

// Set stores an entry in the micro-tier.
func (rc *LFUCache) Set(key string, entry types.CacheEntry, cost int64) bool {
	return rc.cache.Set(key, entry, cost)
}

// Delete removes an entry from the micro-tier.
func (rc *LFUCache) Delete(key string) {
	rc.cache.Del(key)
}

// Clear removes all entries from the micro-tier.
func (rc *LFUCache) Clear() {
	rc.cache.Clear()
}

// Close closes the micro-tier.
func (rc *LFUCache) Close() {
	rc.cache.Close()
}

// Metrics returns cache metrics.
func (rc *LFUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:   atomic.LoadInt64(&rc.hits),
		Misses: atomic.LoadInt64(&rc.misses),
		Size:   int64(rc.cache.MaxCost()),
	}
}
