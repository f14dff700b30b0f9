package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/trendhive/content-cache/types"
)

// FileStore is the file-backed cache shard: one JSON document per key.
// It has no locking; concurrent writers to the same key race and the
// last writer wins, which is acceptable because entries are idempotently
// derived from the same upstream content.
type FileStore struct {
	dir string
}

// NewFileStore creates the shard directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the shard directory.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// GetEntry reads the document for a key. A corrupt document is removed
// and reported as not found, never surfaced as an error.
func (fs *FileStore) GetEntry(ctx context.Context, key string) (types.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return types.CacheEntry{}, err
	}

	path := fs.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.CacheEntry{}, ErrNotFound
		}
		return types.CacheEntry{}, fmt.Errorf("read cache file: %w", err)
	}

	var entry types.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		_ = os.Remove(path)
		return types.CacheEntry{}, ErrNotFound
	}
	return entry, nil
}

// PutEntry writes the document for a key via rename so readers never
// observe a half-written file.
func (fs *FileStore) PutEntry(ctx context.Context, entry types.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(entry.Key) == "" {
		return fmt.Errorf("entry key is required")
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache file: %w", err)
	}

	path := fs.path(entry.Key)
	tmp, err := os.CreateTemp(fs.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// SweepExpired removes documents past their expiry at now. Documents
// lacking an expiry timestamp expire at createdAt plus ttl. Corrupt
// documents are treated as expired and removed.
func (fs *FileStore) SweepExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache directory: %w", err)
	}

	removed := 0
	for _, dirEntry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := dirEntry.Name()
		if dirEntry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(fs.dir, name)

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry types.CacheEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			if os.Remove(path) == nil {
				removed++
			}
			continue
		}
		if entry.Expired(now, ttl) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Count reports how many documents the shard currently holds.
func (fs *FileStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache directory: %w", err)
	}
	count := 0
	for _, dirEntry := range entries {
		if !dirEntry.IsDir() && strings.HasSuffix(dirEntry.Name(), ".json") {
			count++
		}
	}
	return count, nil
}

// path hashes the key so arbitrary keywords map to safe filenames.
func (fs *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(fs.dir, hex.EncodeToString(sum[:8])+".json")
}
