package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/trendhive/content-cache/types"
)

// PutEntry writes one cache entry, superseding any previous entry for
// the same key. Newest write wins; there is no history.
func (s *Store) PutEntry(ctx context.Context, entry types.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	key := strings.TrimSpace(entry.Key)
	if key == "" {
		return fmt.Errorf("entry key is required")
	}

	notes, err := json.Marshal(entry.ProcessedNotes)
	if err != nil {
		return fmt.Errorf("encode processed notes: %w", err)
	}

	var expiresAt any
	if !entry.ExpiresAt.IsZero() {
		expiresAt = toMillis(entry.ExpiresAt)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT OR REPLACE INTO hot_content_cache
    (key, category, raw_data, processed_notes, source, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		key,
		entry.Category,
		entry.Data,
		string(notes),
		string(entry.Source),
		toMillis(entry.CreatedAt),
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// GetEntry returns the current cache entry for a key, expired or not.
// Expiry enforcement belongs to the cache manager.
func (s *Store) GetEntry(ctx context.Context, key string) (types.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return types.CacheEntry{}, err
	}
	if err := s.ready(); err != nil {
		return types.CacheEntry{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT key, category, raw_data, processed_notes, source, created_at, expires_at
FROM hot_content_cache
WHERE key = ?
`, key)
	entry, err := scanCacheEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.CacheEntry{}, ErrNotFound
		}
		return types.CacheEntry{}, fmt.Errorf("get cache entry: %w", err)
	}
	return entry, nil
}

// Fallback returns the most recently created entry with the given
// category, excluding one key, created no earlier than oldest.
func (s *Store) Fallback(ctx context.Context, category, excludingKey string, oldest time.Time) (types.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return types.CacheEntry{}, err
	}
	if err := s.ready(); err != nil {
		return types.CacheEntry{}, err
	}
	if strings.TrimSpace(category) == "" {
		return types.CacheEntry{}, fmt.Errorf("category is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT key, category, raw_data, processed_notes, source, created_at, expires_at
FROM hot_content_cache
WHERE category = ? AND key != ? AND created_at >= ?
ORDER BY created_at DESC
LIMIT 1
`, category, excludingKey, toMillis(oldest))
	entry, err := scanCacheEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.CacheEntry{}, ErrNotFound
		}
		return types.CacheEntry{}, fmt.Errorf("get fallback entry: %w", err)
	}
	return entry, nil
}

// SweepExpiredEntries deletes rows past their expiry. Rows written
// before expiry timestamps were recorded expire at created_at plus ttl.
func (s *Store) SweepExpiredEntries(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ready(); err != nil {
		return 0, err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM hot_content_cache
WHERE (expires_at IS NOT NULL AND expires_at < ?)
   OR (expires_at IS NULL AND created_at + ? < ?)
`, toMillis(now), ttl.Milliseconds(), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("sweep cache entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rows affected: %w", err)
	}
	return int(affected), nil
}

// EntryStats counts total, valid, and expired rows. Rows without an
// explicit expiry are classified by created_at plus ttl, matching the
// sweep, so valid + expired always equals total.
func (s *Store) EntryStats(ctx context.Context, now time.Time, ttl time.Duration) (types.TierStats, error) {
	if err := ctx.Err(); err != nil {
		return types.TierStats{}, err
	}
	if err := s.ready(); err != nil {
		return types.TierStats{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT
    COUNT(*),
    COUNT(CASE WHEN COALESCE(expires_at, created_at + ?) >= ? THEN 1 END),
    COUNT(CASE WHEN COALESCE(expires_at, created_at + ?) < ? THEN 1 END)
FROM hot_content_cache
`, ttl.Milliseconds(), toMillis(now), ttl.Milliseconds(), toMillis(now))
	var stats types.TierStats
	if err := row.Scan(&stats.Total, &stats.Valid, &stats.Expired); err != nil {
		return types.TierStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}

type cacheEntryScanner func(dest ...any) error

func scanCacheEntry(scan cacheEntryScanner) (types.CacheEntry, error) {
	var (
		entry     types.CacheEntry
		notes     string
		source    string
		createdAt int64
		expiresAt sql.NullInt64
	)
	if err := scan(&entry.Key, &entry.Category, &entry.Data, &notes, &source, &createdAt, &expiresAt); err != nil {
		return types.CacheEntry{}, err
	}
	if err := json.Unmarshal([]byte(notes), &entry.ProcessedNotes); err != nil {
		return types.CacheEntry{}, fmt.Errorf("decode processed notes: %w", err)
	}
	entry.Source = types.Source(source)
	entry.CreatedAt = fromMillis(createdAt)
	if expiresAt.Valid {
		entry.ExpiresAt = fromMillis(expiresAt.Int64)
	}
	return entry, nil
}
