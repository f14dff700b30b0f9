package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/trendhive/content-cache/metrics"
	"github.com/trendhive/content-cache/storage"
	"github.com/trendhive/content-cache/transport"
	"github.com/trendhive/content-cache/types"
)

type publishedMsg struct {
	topic   string
	payload []byte
}

// fakePublisher records publishes and can be scripted to fail the n-th
// attempt, which is how the stop-on-first-failure behavior is probed.
type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	published []publishedMsg
	attempts  int
	failAt    int // 1-based attempt index to fail; 0 means never
}

func (p *fakePublisher) setConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return transport.ErrNotConnected
	}
	p.attempts++
	if p.failAt != 0 && p.attempts == p.failAt {
		return errors.New("broker rejected publish")
	}
	p.published = append(p.published, publishedMsg{topic: topic, payload: append([]byte(nil), payload...)})
	return nil
}

func (p *fakePublisher) messages() []publishedMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishedMsg, len(p.published))
	copy(out, p.published)
	return out
}

func openOutboxStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestSynchronizer(t *testing.T, store Store, pub Publisher, clock clockwork.Clock) *Synchronizer {
	t.Helper()
	opts := DefaultOptions()
	opts.ClientID = "client-test"
	opts.Clock = clock
	syncer, err := NewSynchronizer(store, pub, opts)
	if err != nil {
		t.Fatalf("NewSynchronizer() error = %v", err)
	}
	return syncer
}

func TestEnqueueWhileDisconnected(t *testing.T) {
	store := openOutboxStore(t)
	pub := &fakePublisher{}
	syncer := newTestSynchronizer(t, store, pub, clockwork.NewFakeClock())
	ctx := context.Background()

	record, err := syncer.Enqueue(ctx, "like", json.RawMessage(`{"noteId":"n1"}`))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if record.ID == 0 {
		t.Error("record id not assigned")
	}
	if record.Synced {
		t.Error("new record must start pending")
	}

	// Durability does not depend on the broker: the record is on disk
	// and nothing was sent.
	pending, err := store.PendingOutboxCount(ctx)
	if err != nil {
		t.Fatalf("PendingOutboxCount() error = %v", err)
	}
	if pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}
	if got := pub.messages(); len(got) != 0 {
		t.Errorf("published %d messages while disconnected, want 0", len(got))
	}
}

func TestFlushPendingPreservesOrder(t *testing.T) {
	store := openOutboxStore(t)
	pub := &fakePublisher{connected: true}
	syncer := newTestSynchronizer(t, store, pub, clockwork.NewFakeClock())
	ctx := context.Background()

	first, _ := syncer.Enqueue(ctx, "like", json.RawMessage(`{"noteId":"n1"}`))
	second, _ := syncer.Enqueue(ctx, "collect", json.RawMessage(`{"noteId":"n2"}`))

	flushed, err := syncer.FlushPending(ctx)
	if err != nil {
		t.Fatalf("FlushPending() error = %v", err)
	}
	if flushed != 2 {
		t.Fatalf("flushed = %d, want 2", flushed)
	}

	got := pub.messages()
	if len(got) != 2 {
		t.Fatalf("published %d messages, want 2", len(got))
	}
	wantTopic := transport.SyncTopic("client-test")
	for i, msg := range got {
		if msg.topic != wantTopic {
			t.Errorf("message %d topic = %q, want %q", i, msg.topic, wantTopic)
		}
	}

	var a, b types.SyncMessage
	if err := json.Unmarshal(got[0].payload, &a); err != nil {
		t.Fatalf("decode first message: %v", err)
	}
	if err := json.Unmarshal(got[1].payload, &b); err != nil {
		t.Fatalf("decode second message: %v", err)
	}
	if a.RecordID != first.ID || b.RecordID != second.ID {
		t.Errorf("flush order = [%d, %d], want [%d, %d]", a.RecordID, b.RecordID, first.ID, second.ID)
	}
	if a.ClientID != "client-test" || a.Action != "like" {
		t.Errorf("first message = %+v", a)
	}

	pending, _ := store.PendingOutboxCount(ctx)
	if pending != 0 {
		t.Errorf("pending after flush = %d, want 0", pending)
	}
}

func TestFlushStopsOnFirstFailure(t *testing.T) {
	store := openOutboxStore(t)
	pub := &fakePublisher{connected: true, failAt: 2}
	syncer := newTestSynchronizer(t, store, pub, clockwork.NewFakeClock())
	ctx := context.Background()

	syncer.Enqueue(ctx, "like", nil)
	second, _ := syncer.Enqueue(ctx, "collect", nil)
	syncer.Enqueue(ctx, "comment", nil)

	flushed, err := syncer.FlushPending(ctx)
	if err == nil {
		t.Fatal("FlushPending() should report the failed publish")
	}
	if flushed != 1 {
		t.Errorf("flushed = %d, want 1", flushed)
	}

	// The failed record and everything behind it stay pending; nothing
	// was skipped over.
	pending, _ := store.PendingOutbox(ctx, 10)
	if len(pending) != 2 {
		t.Fatalf("pending records = %d, want 2", len(pending))
	}
	if pending[0].ID != second.ID {
		t.Errorf("first pending id = %d, want %d", pending[0].ID, second.ID)
	}

	// The next pass resumes from the failed record.
	flushed, err = syncer.FlushPending(ctx)
	if err != nil {
		t.Fatalf("retry FlushPending() error = %v", err)
	}
	if flushed != 2 {
		t.Errorf("retry flushed = %d, want 2", flushed)
	}
	count, _ := store.PendingOutboxCount(ctx)
	if count != 0 {
		t.Errorf("pending after retry = %d, want 0", count)
	}
}

func TestFlushPendingSkipsWhileDisconnected(t *testing.T) {
	store := openOutboxStore(t)
	pub := &fakePublisher{}
	syncer := newTestSynchronizer(t, store, pub, clockwork.NewFakeClock())
	ctx := context.Background()

	syncer.Enqueue(ctx, "like", nil)

	flushed, err := syncer.FlushPending(ctx)
	if err != nil {
		t.Fatalf("FlushPending() error = %v", err)
	}
	if flushed != 0 {
		t.Errorf("flushed = %d, want 0", flushed)
	}
	pending, _ := store.PendingOutboxCount(ctx)
	if pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}
}

func TestEnqueueTriggersBackgroundFlush(t *testing.T) {
	store := openOutboxStore(t)
	pub := &fakePublisher{connected: true}
	syncer := newTestSynchronizer(t, store, pub, clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go syncer.Run(ctx)

	if _, err := syncer.Enqueue(ctx, "like", json.RawMessage(`{"noteId":"n1"}`)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// The flush rides the on-demand signal, not the timer, so it lands
	// without advancing the clock.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(pub.messages()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("enqueued record was never flushed")
}

func TestRunTimerFlushesAndEmitsHeartbeat(t *testing.T) {
	store := openOutboxStore(t)
	pub := &fakePublisher{connected: true}
	clock := clockwork.NewFakeClock()

	collector := metrics.NewCollector()
	collector.CacheHits.WithLabelValues("store").Inc()

	opts := DefaultOptions()
	opts.ClientID = "client-test"
	opts.Clock = clock
	opts.Metrics = collector
	syncer, err := NewSynchronizer(store, pub, opts)
	if err != nil {
		t.Fatalf("NewSynchronizer() error = %v", err)
	}

	// Enqueue directly through the store so no on-demand flush fires
	// and the timer alone is exercised.
	if _, err := store.EnqueueOutbox(context.Background(), "like", nil, clock.Now()); err != nil {
		t.Fatalf("EnqueueOutbox() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go syncer.Run(ctx)

	clock.BlockUntil(1)
	clock.Advance(opts.FlushInterval)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(pub.messages()) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := pub.messages()
	if len(got) < 2 {
		t.Fatalf("published %d messages, want sync record and heartbeat", len(got))
	}

	var heartbeat *types.HeartbeatMessage
	for _, msg := range got {
		if msg.topic == transport.MetricsTopic("client-test") {
			var hb types.HeartbeatMessage
			if err := json.Unmarshal(msg.payload, &hb); err != nil {
				t.Fatalf("decode heartbeat: %v", err)
			}
			heartbeat = &hb
		}
	}
	if heartbeat == nil {
		t.Fatal("no heartbeat published")
	}
	if heartbeat.ClientID != "client-test" {
		t.Errorf("heartbeat clientId = %q", heartbeat.ClientID)
	}
	if !strings.Contains(heartbeat.Metrics, "content_cache_hits_total") {
		t.Errorf("heartbeat metrics missing counter:\n%s", heartbeat.Metrics)
	}
	if !strings.Contains(heartbeat.Metrics, "content_outbox_flushed_total 1") {
		t.Errorf("heartbeat metrics missing flush count:\n%s", heartbeat.Metrics)
	}
}

func TestEmitHeartbeatSkippedWhileDisconnected(t *testing.T) {
	store := openOutboxStore(t)
	pub := &fakePublisher{}
	syncer := newTestSynchronizer(t, store, pub, clockwork.NewFakeClock())

	if err := syncer.EmitHeartbeat(context.Background()); err != nil {
		t.Fatalf("EmitHeartbeat() error = %v", err)
	}
	if got := pub.messages(); len(got) != 0 {
		t.Errorf("published %d messages while disconnected, want 0", len(got))
	}
}

func TestSynchronizerStats(t *testing.T) {
	store := openOutboxStore(t)
	pub := &fakePublisher{connected: true}
	syncer := newTestSynchronizer(t, store, pub, clockwork.NewFakeClock())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		syncer.Enqueue(ctx, "like", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
	}
	if _, err := syncer.FlushPending(ctx); err != nil {
		t.Fatalf("FlushPending() error = %v", err)
	}
	syncer.Enqueue(ctx, "collect", nil)

	pub.setConnected(false)
	stats, err := syncer.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Flushed != 3 {
		t.Errorf("Flushed = %d, want 3", stats.Flushed)
	}
	if stats.Pending != 1 {
		t.Errorf("Pending = %d, want 1", stats.Pending)
	}
}

func TestNewSynchronizerValidation(t *testing.T) {
	store := openOutboxStore(t)
	pub := &fakePublisher{}

	if _, err := NewSynchronizer(nil, pub, Options{ClientID: "c"}); err == nil {
		t.Error("nil store accepted")
	}
	if _, err := NewSynchronizer(store, nil, Options{ClientID: "c"}); err == nil {
		t.Error("nil publisher accepted")
	}
	if _, err := NewSynchronizer(store, pub, Options{}); err == nil {
		t.Error("empty client id accepted")
	}
}
