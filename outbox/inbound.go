package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/common/expfmt"

	"github.com/trendhive/content-cache/storage"
	"github.com/trendhive/content-cache/transport"
	"github.com/trendhive/content-cache/types"
)

// InboundStore is the server-side storage surface for received
// uploads.
type InboundStore interface {
	ApplySyncMessage(ctx context.Context, msg types.SyncMessage, receivedAt time.Time) (bool, error)
	RecordMetricSamples(ctx context.Context, samples []storage.MetricSample) error
}

// Subscriber registers topic pattern handlers on the transport.
type Subscriber interface {
	Subscribe(pattern string, handler transport.Handler)
}

// ReceiverOptions configures a Receiver.
type ReceiverOptions struct {
	// HandleTimeout bounds the processing of one inbound message.
	HandleTimeout time.Duration

	// Logger is the receiver logger. If nil, defaults to no-op.
	Logger Logger

	// Clock supplies time. If nil, defaults to the real clock.
	Clock clockwork.Clock
}

// Receiver is the broker-side consumer of sync and heartbeat uploads
// from every client. Sync messages are applied idempotently keyed by
// (client id, record id), which makes the clients' at-least-once
// delivery safe.
type Receiver struct {
	store  InboundStore
	logger Logger
	clock  clockwork.Clock
	opts   ReceiverOptions

	applied    atomic.Int64
	duplicates atomic.Int64
	heartbeats atomic.Int64
}

// NewReceiver creates a receiver over the given store.
func NewReceiver(store InboundStore, opts ReceiverOptions) (*Receiver, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Receiver{
		store:  store,
		logger: opts.Logger,
		clock:  opts.Clock,
		opts:   opts,
	}, nil
}

// Attach registers the receiver's handlers on the transport. Call
// before the transport connects so the subscriptions ride the first
// connect.
func (r *Receiver) Attach(sub Subscriber) {
	sub.Subscribe(transport.PatternSync, r.handleSync)
	sub.Subscribe(transport.PatternMetrics, r.handleHeartbeat)
}

// Applied reports how many sync messages were applied for the first
// time.
func (r *Receiver) Applied() int64 { return r.applied.Load() }

// Duplicates reports how many redelivered sync messages were dropped.
func (r *Receiver) Duplicates() int64 { return r.duplicates.Load() }

// Heartbeats reports how many heartbeat snapshots were recorded.
func (r *Receiver) Heartbeats() int64 { return r.heartbeats.Load() }

func (r *Receiver) handleSync(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.HandleTimeout)
	defer cancel()

	var msg types.SyncMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Warn("dropping malformed sync message", "topic", topic, "error", err)
		return
	}
	if msg.ClientID == "" {
		msg.ClientID = transport.ClientIDFromTopic(topic)
	}

	fresh, err := r.store.ApplySyncMessage(ctx, msg, r.clock.Now())
	if err != nil {
		r.logger.Error("failed to apply sync message",
			"clientId", msg.ClientID, "recordId", msg.RecordID, "error", err)
		return
	}
	if !fresh {
		r.duplicates.Add(1)
		r.logger.Debug("duplicate sync message dropped",
			"clientId", msg.ClientID, "recordId", msg.RecordID)
		return
	}

	r.applied.Add(1)
	r.logger.Debug("sync message applied",
		"clientId", msg.ClientID, "recordId", msg.RecordID, "action", msg.Action)
}

func (r *Receiver) handleHeartbeat(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.HandleTimeout)
	defer cancel()

	var msg types.HeartbeatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Warn("dropping malformed heartbeat", "topic", topic, "error", err)
		return
	}
	if msg.ClientID == "" {
		msg.ClientID = transport.ClientIDFromTopic(topic)
	}

	samples, err := parseMetricsText(msg.ClientID, msg.Metrics, time.UnixMilli(msg.Timestamp))
	if err != nil {
		r.logger.Warn("dropping unparseable heartbeat metrics",
			"clientId", msg.ClientID, "error", err)
		return
	}
	if len(samples) == 0 {
		r.heartbeats.Add(1)
		return
	}

	if err := r.store.RecordMetricSamples(ctx, samples); err != nil {
		r.logger.Error("failed to record heartbeat samples",
			"clientId", msg.ClientID, "error", err)
		return
	}
	r.heartbeats.Add(1)
}

// parseMetricsText decodes a Prometheus text exposition snapshot into
// flat samples. Only counters and gauges are kept; a heartbeat carries
// nothing else.
func parseMetricsText(clientID, text string, at time.Time) ([]storage.MetricSample, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parse metrics text: %w", err)
	}

	var samples []storage.MetricSample
	for name, family := range families {
		for _, metric := range family.GetMetric() {
			var value float64
			switch {
			case metric.GetCounter() != nil:
				value = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				value = metric.GetGauge().GetValue()
			default:
				continue
			}

			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}

			samples = append(samples, storage.MetricSample{
				ClientID:  clientID,
				Name:      name,
				Value:     value,
				Labels:    labels,
				Timestamp: at,
			})
		}
	}
	return samples, nil
}
