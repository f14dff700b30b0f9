package cache

import (
	"context"
	"time"

	"github.com/trendhive/content-cache/types"
)

// Logger defines the interface for logging in the cache manager.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// Fetcher is the external fetch collaborator invoked on a cache miss.
// The manager bounds each call with its configured fetch timeout and
// does not retry; retry policy belongs to the collaborator.
type Fetcher interface {
	// FetchContent produces raw content and processed items for a key.
	FetchContent(ctx context.Context, key string) (string, []types.Note, error)
}

// DurableStore is the persistent cache tier. The SQLite store in the
// storage package implements it.
type DurableStore interface {
	// GetEntry returns the current entry for a key, expired or not.
	GetEntry(ctx context.Context, key string) (types.CacheEntry, error)

	// PutEntry writes an entry, superseding any previous one for the key.
	PutEntry(ctx context.Context, entry types.CacheEntry) error

	// Fallback returns the most recent same-category entry, excluding
	// one key, created no earlier than oldest.
	Fallback(ctx context.Context, category, excludingKey string, oldest time.Time) (types.CacheEntry, error)

	// SweepExpiredEntries deletes rows past expiry and returns the count.
	SweepExpiredEntries(ctx context.Context, now time.Time, ttl time.Duration) (int, error)

	// EntryStats counts total, valid, and expired rows. Rows without an
	// explicit expiry are classified by created_at plus ttl.
	EntryStats(ctx context.Context, now time.Time, ttl time.Duration) (types.TierStats, error)
}

// ShardStore is the file-backed cache tier. The file store in the
// storage package implements it.
type ShardStore interface {
	// GetEntry reads the document for a key.
	GetEntry(ctx context.Context, key string) (types.CacheEntry, error)

	// PutEntry writes the document for a key.
	PutEntry(ctx context.Context, entry types.CacheEntry) error

	// SweepExpired removes expired and corrupt documents.
	SweepExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error)

	// Count reports how many documents the shard holds.
	Count(ctx context.Context) (int, error)
}

// LocalCache is an optional in-process micro-tier in front of the
// durable tiers.
type LocalCache interface {
	// Get retrieves an entry from the local cache.
	Get(key string) (types.CacheEntry, bool)

	// Set stores an entry in the local cache.
	Set(key string, entry types.CacheEntry, cost int64) bool

	// Delete removes an entry from the local cache.
	Delete(key string)

	// Clear removes all entries from the local cache.
	Clear()

	// Close closes the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory defines the interface for creating local cache implementations.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create() (LocalCache, error)
}
