package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/trendhive/content-cache/types"
)

// EnqueueOutbox appends one pending record to the sync outbox and
// returns it with its assigned id. The id is monotonically increasing
// and is the flush ordering key.
func (s *Store) EnqueueOutbox(ctx context.Context, action string, payload json.RawMessage, now time.Time) (types.OutboxRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.OutboxRecord{}, err
	}
	if err := s.ready(); err != nil {
		return types.OutboxRecord{}, err
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return types.OutboxRecord{}, fmt.Errorf("action is required")
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	now = now.UTC()

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sync_outbox (action, payload, synced, created_at)
VALUES (?, ?, 0, ?)
`, action, string(payload), toMillis(now))
	if err != nil {
		return types.OutboxRecord{}, fmt.Errorf("enqueue outbox record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return types.OutboxRecord{}, fmt.Errorf("outbox record id: %w", err)
	}

	return types.OutboxRecord{
		ID:        id,
		Action:    action,
		Payload:   payload,
		Synced:    false,
		CreatedAt: now,
	}, nil
}

// PendingOutbox returns pending records in ascending id order.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]types.OutboxRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, action, payload, synced, created_at
FROM sync_outbox
WHERE synced = 0
ORDER BY id ASC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending outbox records: %w", err)
	}
	defer rows.Close()

	records := make([]types.OutboxRecord, 0, limit)
	for rows.Next() {
		var (
			record    types.OutboxRecord
			payload   string
			synced    int
			createdAt int64
		)
		if err := rows.Scan(&record.ID, &record.Action, &payload, &synced, &createdAt); err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		record.Payload = json.RawMessage(payload)
		record.Synced = synced != 0
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox records: %w", err)
	}
	return records, nil
}

// MarkOutboxSynced flips one pending record to synced. The transition
// is monotonic: a record already synced is left untouched.
func (s *Store) MarkOutboxSynced(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE sync_outbox
SET synced = 1
WHERE id = ? AND synced = 0
`, id)
	if err != nil {
		return fmt.Errorf("mark outbox record synced: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark synced rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingOutboxCount reports how many records still await flushing.
func (s *Store) PendingOutboxCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ready(); err != nil {
		return 0, err
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_outbox WHERE synced = 0`)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending outbox records: %w", err)
	}
	return count, nil
}
