package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEnqueueOutboxAssignsIncreasingIDs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a, err := store.EnqueueOutbox(ctx, "content_synced", json.RawMessage(`{"n":1}`), now)
	if err != nil {
		t.Fatalf("EnqueueOutbox failed: %v", err)
	}
	b, err := store.EnqueueOutbox(ctx, "content_synced", json.RawMessage(`{"n":2}`), now)
	if err != nil {
		t.Fatalf("EnqueueOutbox failed: %v", err)
	}

	if b.ID <= a.ID {
		t.Fatalf("Expected increasing ids, got %d then %d", a.ID, b.ID)
	}
	if a.Synced || b.Synced {
		t.Fatal("New records must start pending")
	}
}

func TestEnqueueOutboxRequiresAction(t *testing.T) {
	store := openTestStore(t)

	_, err := store.EnqueueOutbox(context.Background(), "  ", nil, time.Now())
	if err == nil {
		t.Fatal("Expected error for empty action")
	}
}

func TestPendingOutboxOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		if _, err := store.EnqueueOutbox(ctx, "publish", nil, now); err != nil {
			t.Fatalf("EnqueueOutbox failed: %v", err)
		}
	}

	records, err := store.PendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("PendingOutbox failed: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("Expected 5 pending records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].ID <= records[i-1].ID {
			t.Fatalf("Records out of order: %d before %d", records[i-1].ID, records[i].ID)
		}
	}
}

func TestMarkOutboxSyncedIsMonotonic(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	record, err := store.EnqueueOutbox(ctx, "publish", nil, time.Now())
	if err != nil {
		t.Fatalf("EnqueueOutbox failed: %v", err)
	}

	if err := store.MarkOutboxSynced(ctx, record.ID); err != nil {
		t.Fatalf("MarkOutboxSynced failed: %v", err)
	}

	// A second mark must not find a pending row.
	if err := store.MarkOutboxSynced(ctx, record.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound on re-mark, got %v", err)
	}

	records, err := store.PendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("PendingOutbox failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("Expected no pending records, got %d", len(records))
	}
}

func TestOutboxSurvivesReopen(t *testing.T) {
	path := openTestStorePath(t)

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()
	if _, err := store.EnqueueOutbox(ctx, "publish", json.RawMessage(`{"post":"a"}`), time.Now()); err != nil {
		t.Fatalf("EnqueueOutbox failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer store.Close()

	count, err := store.PendingOutboxCount(ctx)
	if err != nil {
		t.Fatalf("PendingOutboxCount failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected pending record to survive restart, got %d", count)
	}
}
