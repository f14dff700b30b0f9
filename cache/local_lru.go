package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/trendhive/content-cache/types"
)

// LRUCacheFactory creates LRU micro-tier instances.
type LRUCacheFactory struct {
	maxSize int
}

// NewLRUCacheFactory creates a new LRU cache factory.
func NewLRUCacheFactory(maxSize int) LocalCacheFactory {
	return &LRUCacheFactory{maxSize: maxSize}
}

// Create creates a new LRU cache instance.
func (lcf *LRUCacheFactory) Create() (LocalCache, error) {
	return NewLRUCache(lcf.maxSize)
}

// LRUCache is an in-process micro-tier backed by golang-lru.
type LRUCache struct {
	cache   *lru.Cache[string, types.CacheEntry]
	hits    int64
	misses  int64
	maxSize int64
}

// NewLRUCache creates a new LRU-based micro-tier.
func NewLRUCache(maxSize int) (*LRUCache, error) {
	cache, err := lru.New[string, types.CacheEntry](maxSize)
	if err != nil {
		return nil, err
	}

	return &LRUCache{
		cache:   cache,
		maxSize: int64(maxSize),
	}, nil
}

// Get retrieves an entry from the micro-tier.
func (lc *LRUCache) Get(key string) (types.CacheEntry, bool) {
	entry, found := lc.cache.Get(key)
	if found {
		atomic.AddInt64(&lc.hits, 1)
	} else {
		atomic.AddInt64(&lc.misses, 1)
	}
	return entry, found
}

// Set stores an entry in the micro-tier.
func (lc *LRUCache) Set(key string, entry types.CacheEntry, cost int64) bool {
	lc.cache.Add(key, entry)
	return true
}

// Delete removes an entry from the micro-tier.
func (lc *LRUCache) Delete(key string) {
	lc.cache.Remove(key)
}

// Clear removes all entries from the micro-tier.
func (lc *LRUCache) Clear() {
	lc.cache.Purge()
}

// Close closes the micro-tier.
func (lc *LRUCache) Close() {
	lc.cache.Purge()
}

// Metrics returns cache metrics.
func (lc *LRUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:   atomic.LoadInt64(&lc.hits),
		Misses: atomic.LoadInt64(&lc.misses),
		Size:   lc.maxSize,
	}
}
