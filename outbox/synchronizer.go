// Package outbox implements the durable write-ahead channel between the
// local store and the broker. Mutations are recorded locally first and
// flushed in order whenever a connection is available, so nothing a
// user did while offline is ever lost.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/trendhive/content-cache/metrics"
	"github.com/trendhive/content-cache/transport"
	"github.com/trendhive/content-cache/types"
)

// Publisher is the transport surface the synchronizer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
}

// Store is the durable queue backing the synchronizer.
type Store interface {
	EnqueueOutbox(ctx context.Context, action string, payload json.RawMessage, now time.Time) (types.OutboxRecord, error)
	PendingOutbox(ctx context.Context, limit int) ([]types.OutboxRecord, error)
	MarkOutboxSynced(ctx context.Context, id int64) error
	PendingOutboxCount(ctx context.Context) (int, error)
}

// Logger is the logging interface used by the synchronizer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Options configures a Synchronizer.
type Options struct {
	// ClientID names this process on the sync and metrics topics.
	ClientID string

	// FlushInterval is the period of the background flush and heartbeat
	// timer.
	FlushInterval time.Duration

	// FlushBatchLimit caps how many records one flush pass loads.
	FlushBatchLimit int

	// Logger is the synchronizer logger. If nil, defaults to no-op.
	Logger Logger

	// Clock supplies time. If nil, defaults to the real clock.
	Clock clockwork.Clock

	// Metrics, when set, is included in heartbeats and tracks flush
	// progress.
	Metrics *metrics.Collector
}

// DefaultOptions returns default synchronizer options.
func DefaultOptions() Options {
	return Options{
		FlushInterval:   30 * time.Second,
		FlushBatchLimit: 100,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.ClientID == "" {
		return errors.New("client id is required")
	}
	if o.FlushInterval <= 0 {
		return errors.New("flush interval must be positive")
	}
	return nil
}

// Synchronizer drains the durable outbox to the broker. Delivery is
// at-least-once: a record is marked synced only after the transport
// accepts it, so a crash between publish and mark replays the record.
type Synchronizer struct {
	opts   Options
	store  Store
	pub    Publisher
	logger Logger
	clock  clockwork.Clock

	flushMu sync.Mutex
	flushCh chan struct{}

	flushed atomic.Int64
	failed  atomic.Int64
}

// NewSynchronizer creates a synchronizer over the given store and
// transport.
func NewSynchronizer(store Store, pub Publisher, opts Options) (*Synchronizer, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}
	if opts.FlushBatchLimit <= 0 {
		opts.FlushBatchLimit = 100
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &Synchronizer{
		opts:    opts,
		store:   store,
		pub:     pub,
		logger:  opts.Logger,
		clock:   opts.Clock,
		flushCh: make(chan struct{}, 1),
	}, nil
}

// Enqueue durably records one mutation. It succeeds regardless of
// connection state; when connected, a flush is kicked off in the
// background so the record does not wait for the next timer tick.
func (s *Synchronizer) Enqueue(ctx context.Context, action string, payload json.RawMessage) (types.OutboxRecord, error) {
	record, err := s.store.EnqueueOutbox(ctx, action, payload, s.clock.Now())
	if err != nil {
		return types.OutboxRecord{}, fmt.Errorf("enqueue %q: %w", action, err)
	}
	s.logger.Debug("mutation enqueued", "id", record.ID, "action", record.Action)

	if s.pub.IsConnected() {
		s.TriggerFlush()
	}
	return record, nil
}

// TriggerFlush requests an asynchronous flush pass. Coalesces with any
// pass already requested. Intended as a connect hook on the transport.
func (s *Synchronizer) TriggerFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
}

// FlushPending publishes pending records in ascending id order and
// marks each one synced once the transport accepts it. The pass stops
// at the first failure; the failed record and everything after it stay
// pending for the next pass, preserving order. Returns how many records
// were flushed.
func (s *Synchronizer) FlushPending(ctx context.Context) (int, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if !s.pub.IsConnected() {
		return 0, nil
	}

	records, err := s.store.PendingOutbox(ctx, s.opts.FlushBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("load pending records: %w", err)
	}

	flushed := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return flushed, err
		}

		msg := types.SyncMessage{
			ClientID:  s.opts.ClientID,
			RecordID:  record.ID,
			Action:    record.Action,
			Payload:   record.Payload,
			CreatedAt: record.CreatedAt,
		}
		body, err := json.Marshal(msg)
		if err != nil {
			return flushed, fmt.Errorf("encode record %d: %w", record.ID, err)
		}

		if err := s.pub.Publish(ctx, transport.SyncTopic(s.opts.ClientID), body); err != nil {
			s.failed.Add(1)
			s.logger.Warn("flush stopped, record stays pending",
				"id", record.ID, "action", record.Action, "error", err)
			return flushed, fmt.Errorf("publish record %d: %w", record.ID, err)
		}

		if err := s.store.MarkOutboxSynced(ctx, record.ID); err != nil {
			// The record went out but could not be marked; it will be
			// republished next pass. Receivers dedupe on record id.
			return flushed, fmt.Errorf("mark record %d synced: %w", record.ID, err)
		}

		flushed++
		s.flushed.Add(1)
		if s.opts.Metrics != nil {
			s.opts.Metrics.OutboxFlushed.Inc()
		}
	}

	if flushed > 0 {
		s.logger.Info("outbox flushed", "records", flushed)
	}
	return flushed, nil
}

// EmitHeartbeat publishes one telemetry snapshot on the metrics topic.
// Skipped silently while disconnected; heartbeats are not queued.
func (s *Synchronizer) EmitHeartbeat(ctx context.Context) error {
	if !s.pub.IsConnected() {
		return nil
	}

	snapshot := ""
	if s.opts.Metrics != nil {
		exposed, err := s.opts.Metrics.Expose()
		if err != nil {
			return fmt.Errorf("collect heartbeat metrics: %w", err)
		}
		snapshot = exposed
	}

	msg := types.HeartbeatMessage{
		ClientID:  s.opts.ClientID,
		Timestamp: s.clock.Now().UnixMilli(),
		Metrics:   snapshot,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}

	if err := s.pub.Publish(ctx, transport.MetricsTopic(s.opts.ClientID), body); err != nil {
		return fmt.Errorf("publish heartbeat: %w", err)
	}
	return nil
}

// Run drives periodic flushes and heartbeats until the context is
// canceled. One timer serves both duties. On-demand flush requests from
// Enqueue and connect hooks are served between ticks.
func (s *Synchronizer) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.flushCh:
			if _, err := s.FlushPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("flush pass failed", "error", err)
			}
		case <-ticker.Chan():
			if _, err := s.FlushPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("flush pass failed", "error", err)
			}
			if err := s.EmitHeartbeat(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// Stats reports lifetime flush counters and the current backlog.
type Stats struct {
	Flushed int64 `json:"flushed"`
	Failed  int64 `json:"failed"`
	Pending int   `json:"pending"`
}

// Stats returns a snapshot of synchronizer progress.
func (s *Synchronizer) Stats(ctx context.Context) (Stats, error) {
	pending, err := s.store.PendingOutboxCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Flushed: s.flushed.Load(),
		Failed:  s.failed.Load(),
		Pending: pending,
	}, nil
}
