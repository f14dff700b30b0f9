package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/trendhive/content-cache/types"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "hot_content"))
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}
	return fs
}

func TestFileStorePutGet(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	want := testEntry("火锅推荐", "美食", now, 6*time.Hour)
	if err := fs.PutEntry(ctx, want); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}

	got, err := fs.GetEntry(ctx, "火锅推荐")
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got.Key != want.Key || got.Data != want.Data {
		t.Fatalf("Entry mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("Expected createdAt %v, got %v", want.CreatedAt, got.CreatedAt)
	}
}

func TestFileStoreGetNotFound(t *testing.T) {
	fs := newTestFileStore(t)

	_, err := fs.GetEntry(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreCorruptFileIsAbsent(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	entry := testEntry("shoes", "穿搭", time.Now().UTC(), 6*time.Hour)
	if err := fs.PutEntry(ctx, entry); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}

	if err := os.WriteFile(fs.path("shoes"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("Failed to corrupt file: %v", err)
	}

	_, err := fs.GetEntry(ctx, "shoes")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected corrupt file to read as absent, got %v", err)
	}

	// The corrupt file must be removed opportunistically.
	if _, err := os.Stat(fs.path("shoes")); !os.IsNotExist(err) {
		t.Fatal("Corrupt file should have been deleted")
	}
}

func TestFileStoreSweepExpired(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := testEntry("old", "美食", now.Add(-12*time.Hour), 6*time.Hour)
	fresh := testEntry("new", "美食", now, 6*time.Hour)
	legacy := testEntry("legacy", "美食", now.Add(-12*time.Hour), 0)
	legacy.ExpiresAt = time.Time{}

	for _, entry := range []types.CacheEntry{expired, fresh, legacy} {
		if err := fs.PutEntry(ctx, entry); err != nil {
			t.Fatalf("PutEntry failed: %v", err)
		}
	}

	// Plus one corrupt document.
	if err := os.WriteFile(filepath.Join(fs.Dir(), "broken.json"), []byte("???"), 0o644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	removed, err := fs.SweepExpired(ctx, now, 6*time.Hour)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("Expected 3 documents removed, got %d", removed)
	}

	count, err := fs.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 surviving document, got %d", count)
	}
}

func TestFileStoreLastWriterWins(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := testEntry("shoes", "穿搭", now.Add(-time.Hour), 6*time.Hour)
	second := testEntry("shoes", "穿搭", now, 6*time.Hour)
	second.Data = "newer content"

	if err := fs.PutEntry(ctx, first); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}
	if err := fs.PutEntry(ctx, second); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}

	got, err := fs.GetEntry(ctx, "shoes")
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got.Data != "newer content" {
		t.Fatalf("Expected last write to win, got %q", got.Data)
	}
}
