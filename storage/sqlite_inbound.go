package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/trendhive/content-cache/types"
)

// ApplySyncMessage records one mutation received from a client.
// Delivery is at-least-once, so the insert is keyed by (client id,
// record id) and a duplicate is a no-op. Returns true when the message
// was applied for the first time.
func (s *Store) ApplySyncMessage(ctx context.Context, msg types.SyncMessage, receivedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ready(); err != nil {
		return false, err
	}

	clientID := strings.TrimSpace(msg.ClientID)
	if clientID == "" {
		return false, fmt.Errorf("client id is required")
	}
	payload := msg.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO synced_mutations
    (client_id, record_id, action, payload, created_at, received_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		clientID,
		msg.RecordID,
		msg.Action,
		string(payload),
		toMillis(msg.CreatedAt),
		toMillis(receivedAt),
	)
	if err != nil {
		return false, fmt.Errorf("apply sync message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply sync rows affected: %w", err)
	}
	return affected > 0, nil
}

// SyncedMutations returns recorded mutations for one client since a
// given instant, oldest first.
func (s *Store) SyncedMutations(ctx context.Context, clientID string, since time.Time) ([]types.SyncMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT client_id, record_id, action, payload, created_at
FROM synced_mutations
WHERE client_id = ? AND created_at > ?
ORDER BY created_at ASC, record_id ASC
`, clientID, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("select synced mutations: %w", err)
	}
	defer rows.Close()

	var messages []types.SyncMessage
	for rows.Next() {
		var (
			msg       types.SyncMessage
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&msg.ClientID, &msg.RecordID, &msg.Action, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan synced mutation: %w", err)
		}
		msg.Payload = json.RawMessage(payload)
		msg.CreatedAt = fromMillis(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate synced mutations: %w", err)
	}
	return messages, nil
}

// MetricSample is one parsed heartbeat metric value.
type MetricSample struct {
	ClientID  string
	Name      string
	Value     float64
	Labels    map[string]string
	Timestamp time.Time
}

// RecordMetricSamples stores parsed heartbeat samples.
func (s *Store) RecordMetricSamples(ctx context.Context, samples []MetricSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	for _, sample := range samples {
		labels := sample.Labels
		if labels == nil {
			labels = map[string]string{}
		}
		encoded, err := json.Marshal(labels)
		if err != nil {
			return fmt.Errorf("encode metric labels: %w", err)
		}
		if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO metric_samples (client_id, metric_name, metric_value, labels, timestamp)
VALUES (?, ?, ?, ?, ?)
`,
			sample.ClientID,
			sample.Name,
			sample.Value,
			string(encoded),
			toMillis(sample.Timestamp),
		); err != nil {
			return fmt.Errorf("record metric sample: %w", err)
		}
	}
	return nil
}

// MetricSamples returns stored samples for one client, newest first.
func (s *Store) MetricSamples(ctx context.Context, clientID, name string, limit int) ([]MetricSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}

	query := `
SELECT client_id, metric_name, metric_value, labels, timestamp
FROM metric_samples
WHERE client_id = ?`
	args := []any{clientID}
	if name != "" {
		query += ` AND metric_name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select metric samples: %w", err)
	}
	defer rows.Close()

	var samples []MetricSample
	for rows.Next() {
		var (
			sample MetricSample
			labels string
			ts     int64
		)
		if err := rows.Scan(&sample.ClientID, &sample.Name, &sample.Value, &labels, &ts); err != nil {
			return nil, fmt.Errorf("scan metric sample: %w", err)
		}
		if err := json.Unmarshal([]byte(labels), &sample.Labels); err != nil {
			return nil, fmt.Errorf("decode metric labels: %w", err)
		}
		sample.Timestamp = fromMillis(ts)
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metric samples: %w", err)
	}
	return samples, nil
}
