// Package cache implements the tiered content cache: a durable SQLite
// tier and a file shard behind one manager, with TTL expiry and
// category-based fallback when a fresh fetch fails.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/trendhive/content-cache/storage"
	"github.com/trendhive/content-cache/types"
)

// Manager orchestrates lookups across the durable store and the file
// shard. The tiers are independent: either can fail or diverge without
// affecting the other, and no transaction spans both.
type Manager struct {
	store   DurableStore
	shard   ShardStore
	local   LocalCache
	fetcher Fetcher
	clock   clockwork.Clock
	logger  Logger
	opts    Options
	group   singleflight.Group

	localHits int64
	storeHits int64
	shardHits int64
	misses    int64
	fallbacks int64
}

// NewManager creates a cache manager over the two tiers. The fetcher
// may be nil, in which case every miss behaves like a failed fetch and
// goes straight to fallback.
func NewManager(store DurableStore, shard ShardStore, fetcher Fetcher, opts Options) (*Manager, error) {
	if store == nil || shard == nil {
		return nil, ErrInvalidConfig
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if opts.LocalCacheFactory == nil {
		opts.LocalCacheFactory = NewLRUCacheFactory(256)
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	local, err := opts.LocalCacheFactory.Create()
	if err != nil {
		return nil, err
	}

	return &Manager{
		store:   store,
		shard:   shard,
		local:   local,
		fetcher: fetcher,
		clock:   opts.Clock,
		logger:  opts.Logger,
		opts:    opts,
	}, nil
}

// Get returns the unexpired entry for a key, checking the micro-tier,
// then the durable store, then the file shard. A tier error counts as
// a miss for that tier only.
func (m *Manager) Get(ctx context.Context, key string) (types.CacheEntry, bool) {
	if !m.opts.Enabled {
		return types.CacheEntry{}, false
	}
	now := m.clock.Now().UTC()

	if entry, found := m.local.Get(key); found {
		if !entry.Expired(now, m.opts.TTL) {
			atomic.AddInt64(&m.localHits, 1)
			return entry, true
		}
		m.local.Delete(key)
	}

	if entry, ok := m.getTier(ctx, key, now, m.store.GetEntry, "store"); ok {
		atomic.AddInt64(&m.storeHits, 1)
		m.local.Set(key, entry, 1)
		return entry, true
	}

	if entry, ok := m.getTier(ctx, key, now, m.shard.GetEntry, "shard"); ok {
		atomic.AddInt64(&m.shardHits, 1)
		m.local.Set(key, entry, 1)
		return entry, true
	}

	atomic.AddInt64(&m.misses, 1)
	return types.CacheEntry{}, false
}

// Put writes a freshly fetched payload to both tiers. A tier write
// failure is logged and does not abort the other tier's write; partial
// success is a valid outcome.
func (m *Manager) Put(ctx context.Context, key, category, data string, notes []types.Note) (types.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return types.CacheEntry{}, err
	}

	now := m.clock.Now().UTC()
	if category == "" {
		category = m.InferCategory(notes)
	}
	entry := types.CacheEntry{
		Key:            key,
		Category:       category,
		Data:           data,
		ProcessedNotes: notes,
		Source:         types.SourceScraped,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.opts.TTL),
	}

	if !m.opts.Enabled {
		if m.opts.DebugMode {
			m.logger.Debug("Put: cache disabled, skipping write", "key", key)
		}
		return entry, nil
	}

	if err := m.store.PutEntry(ctx, entry); err != nil {
		m.logger.Warn("Put: durable store write failed", "key", key, "error", err)
	}
	if err := m.shard.PutEntry(ctx, entry); err != nil {
		m.logger.Warn("Put: file shard write failed", "key", key, "error", err)
	}
	m.local.Set(key, entry, 1)

	if m.opts.DebugMode {
		m.logger.Debug("Put: cached entry", "key", key, "category", category)
	}
	return entry, nil
}

// GetFallback returns the most recently created same-category entry,
// excluding one key, no older than the fallback ceiling. Used only
// when a fresh fetch fails outright.
func (m *Manager) GetFallback(ctx context.Context, category, excludingKey string) (types.CacheEntry, bool) {
	if !m.opts.Enabled || category == "" {
		return types.CacheEntry{}, false
	}
	now := m.clock.Now().UTC()

	entry, err := m.store.Fallback(ctx, category, excludingKey, now.Add(-m.opts.FallbackMaxAge))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("GetFallback: fallback query failed", "category", category, "error", err)
		}
		return types.CacheEntry{}, false
	}

	entry.Source = types.SourceFallback
	atomic.AddInt64(&m.fallbacks, 1)
	if m.opts.DebugMode {
		m.logger.Debug("GetFallback: serving fallback entry", "key", entry.Key, "category", category)
	}
	return entry, true
}

// Resolve is the main entry point: cache lookup, then fetch, then
// category fallback. Concurrent resolves for one key share a single
// fetch. Only the final "no content available" condition surfaces to
// the caller; tier and fetch errors are absorbed here.
func (m *Manager) Resolve(ctx context.Context, key, category string) (types.CacheEntry, error) {
	if entry, found := m.Get(ctx, key); found {
		return entry, nil
	}

	value, err, _ := m.group.Do(key, func() (any, error) {
		data, notes, fetchErr := m.fetch(ctx, key)
		if fetchErr == nil && len(notes) > 0 {
			entry, putErr := m.Put(ctx, key, category, data, notes)
			if putErr != nil {
				return nil, putErr
			}
			return entry, nil
		}
		if fetchErr != nil {
			m.logger.Warn("Resolve: fetch failed", "key", key, "error", fetchErr)
		}

		fallbackCategory := category
		if fallbackCategory == "" {
			fallbackCategory = m.InferCategoryFromKeyword(key)
		}
		if entry, found := m.GetFallback(ctx, fallbackCategory, key); found {
			return entry, nil
		}
		return nil, ErrNoContent
	})
	if err != nil {
		return types.CacheEntry{}, err
	}
	return value.(types.CacheEntry), nil
}

// SweepExpired removes expired rows and documents from both tiers and
// resets the micro-tier. Per-tier failures are absorbed; the sweep is
// best-effort and not transactional across tiers.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := m.clock.Now().UTC()

	var storeCount, shardCount int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		count, err := m.store.SweepExpiredEntries(gctx, now, m.opts.TTL)
		if err != nil {
			m.logger.Warn("SweepExpired: durable store sweep failed", "error", err)
			return nil
		}
		storeCount = count
		return nil
	})
	g.Go(func() error {
		count, err := m.shard.SweepExpired(gctx, now, m.opts.TTL)
		if err != nil {
			m.logger.Warn("SweepExpired: file shard sweep failed", "error", err)
			return nil
		}
		shardCount = count
		return nil
	})
	_ = g.Wait()

	m.local.Clear()

	total := storeCount + shardCount
	if total > 0 && m.opts.DebugMode {
		m.logger.Debug("SweepExpired: removed expired entries", "count", total)
	}
	return total, nil
}

// InferCategory infers a category from a small prefix of processed notes.
func (m *Manager) InferCategory(notes []types.Note) string {
	if len(notes) == 0 {
		return CategoryOther
	}
	sample := notes
	if len(sample) > 5 {
		sample = sample[:5]
	}
	parts := make([]string, 0, len(sample))
	for _, note := range sample {
		parts = append(parts, note.Title+" "+note.Desc)
	}
	return inferFromText(strings.Join(parts, " "))
}

// InferCategoryFromKeyword infers a category from the lookup keyword itself.
func (m *Manager) InferCategoryFromKeyword(keyword string) string {
	return inferFromText(keyword)
}

// Stats summarizes cache behavior since startup plus current tier sizes.
type Stats struct {
	LocalHits  int64
	StoreHits  int64
	ShardHits  int64
	Misses     int64
	Fallbacks  int64
	Store      types.TierStats
	ShardFiles int
	Local      LocalCacheMetrics
}

// Stats reports hit counters and tier sizes. Tier stat failures are
// absorbed; counters are always returned.
func (m *Manager) Stats(ctx context.Context) Stats {
	stats := Stats{
		LocalHits: atomic.LoadInt64(&m.localHits),
		StoreHits: atomic.LoadInt64(&m.storeHits),
		ShardHits: atomic.LoadInt64(&m.shardHits),
		Misses:    atomic.LoadInt64(&m.misses),
		Fallbacks: atomic.LoadInt64(&m.fallbacks),
		Local:     m.local.Metrics(),
	}
	now := m.clock.Now().UTC()
	if tier, err := m.store.EntryStats(ctx, now, m.opts.TTL); err == nil {
		stats.Store = tier
	} else {
		m.logger.Warn("Stats: durable store stats failed", "error", err)
	}
	if count, err := m.shard.Count(ctx); err == nil {
		stats.ShardFiles = count
	} else {
		m.logger.Warn("Stats: file shard count failed", "error", err)
	}
	return stats
}

// Close releases the micro-tier. The tiers themselves are owned by the
// caller.
func (m *Manager) Close() {
	m.local.Close()
}

type tierGetter func(ctx context.Context, key string) (types.CacheEntry, error)

func (m *Manager) getTier(ctx context.Context, key string, now time.Time, get tierGetter, tier string) (types.CacheEntry, bool) {
	entry, err := get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("Get: tier read failed", "tier", tier, "key", key, "error", err)
		}
		return types.CacheEntry{}, false
	}
	if entry.Expired(now, m.opts.TTL) {
		return types.CacheEntry{}, false
	}
	return entry, true
}

func (m *Manager) fetch(ctx context.Context, key string) (string, []types.Note, error) {
	if m.fetcher == nil {
		return "", nil, ErrNoContent
	}
	fetchCtx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	defer cancel()
	return m.fetcher.FetchContent(fetchCtx, key)
}
