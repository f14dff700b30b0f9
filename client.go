// Package contentcache wires the tiered content cache, the durable sync
// outbox, and the broker transport into one client. A process keeps
// serving cached and fallback content while offline; everything the
// user did meanwhile is flushed from the outbox on reconnect.
package contentcache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/trendhive/content-cache/cache"
	"github.com/trendhive/content-cache/config"
	"github.com/trendhive/content-cache/metrics"
	"github.com/trendhive/content-cache/outbox"
	"github.com/trendhive/content-cache/storage"
	"github.com/trendhive/content-cache/transport"
	"github.com/trendhive/content-cache/types"
)

// Re-exported names so callers only need the root package for common use.
type (
	// CacheEntry is the unit stored in every cache tier.
	CacheEntry = types.CacheEntry

	// Note is one processed content item.
	Note = types.Note

	// Fetcher supplies fresh content on a cache miss.
	Fetcher = cache.Fetcher

	// Logger is the logging interface used across the client.
	Logger = cache.Logger
)

// ControlMessage is a broker-to-client command on the control topic.
type ControlMessage struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Options configures a Client beyond what the environment provides.
type Options struct {
	// Config overrides environment loading when set.
	Config *config.Config

	// Fetcher supplies fresh content on cache misses. May be nil; every
	// miss then resolves through category fallback only.
	Fetcher cache.Fetcher

	// Logger receives client logs. If nil, defaults to slog.
	Logger cache.Logger

	// LocalCacheFactory overrides the in-process micro-tier.
	LocalCacheFactory cache.LocalCacheFactory

	// Clock supplies time. If nil, defaults to the real clock.
	Clock clockwork.Clock
}

// Client is the assembled content cache node.
type Client struct {
	cfg       config.Config
	logger    cache.Logger
	collector *metrics.Collector

	store     *storage.Store
	manager   *cache.Manager
	connector *transport.Connector
	syncer    *outbox.Synchronizer

	mu        sync.RWMutex
	onConfig  []func(payload []byte)
	onControl []func(msg ControlMessage)

	runOnce   sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
}

// New assembles a client from configuration. Storage is opened
// immediately; the broker connection starts with Run.
func New(opts Options) (*Client, error) {
	var cfg config.Config
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := opts.Logger
	if logger == nil {
		logger = cache.NewSlogLogger(nil)
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	collector := metrics.NewCollector()

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	shard, err := storage.NewFileStore(cfg.CacheDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	cacheOpts := cache.DefaultOptions()
	cacheOpts.TTL = cfg.TTL()
	cacheOpts.FetchTimeout = cfg.FetchTimeout
	cacheOpts.Enabled = cfg.CacheEnabled
	cacheOpts.Logger = logger
	cacheOpts.Clock = clock
	cacheOpts.LocalCacheFactory = opts.LocalCacheFactory
	manager, err := cache.NewManager(store, shard, opts.Fetcher, cacheOpts)
	if err != nil {
		store.Close()
		return nil, err
	}

	transportOpts := transport.DefaultOptions()
	transportOpts.Addr = cfg.BrokerAddr
	transportOpts.Password = cfg.BrokerPassword
	transportOpts.DB = cfg.BrokerDB
	transportOpts.ClientID = cfg.ClientID
	transportOpts.ReconnectInterval = cfg.ReconnectInterval
	transportOpts.Logger = logger
	transportOpts.Clock = clock
	connector, err := transport.NewConnector(transportOpts)
	if err != nil {
		manager.Close()
		store.Close()
		return nil, err
	}

	syncOpts := outbox.DefaultOptions()
	syncOpts.ClientID = cfg.ClientID
	syncOpts.FlushInterval = cfg.HeartbeatInterval
	syncOpts.Logger = logger
	syncOpts.Clock = clock
	syncOpts.Metrics = collector
	syncer, err := outbox.NewSynchronizer(store, connector, syncOpts)
	if err != nil {
		connector.Close()
		manager.Close()
		store.Close()
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		store:     store,
		manager:   manager,
		connector: connector,
		syncer:    syncer,
	}

	// Pending records ride every reconnect, not just the flush timer.
	connector.OnConnect(syncer.TriggerFlush)
	connector.Subscribe(transport.ConfigTopic(cfg.ClientID), c.handleConfig)
	connector.Subscribe(transport.ControlTopic(cfg.ClientID), c.handleControl)

	return c, nil
}

// Run starts the broker connection and the background flush loop. It
// returns immediately; the loops run until Close.
func (c *Client) Run(ctx context.Context) {
	c.runOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		c.wg.Add(2)
		go func() {
			defer c.wg.Done()
			c.connector.Run(runCtx)
		}()
		go func() {
			defer c.wg.Done()
			c.syncer.Run(runCtx)
		}()
	})
}

// Resolve returns content for a key: cache, then fetch, then
// same-category fallback.
func (c *Client) Resolve(ctx context.Context, key, category string) (types.CacheEntry, error) {
	if c.closed.Load() {
		return types.CacheEntry{}, ErrClosed
	}
	c.collector.Requests.WithLabelValues("resolve").Inc()

	entry, err := c.manager.Resolve(ctx, key, category)
	if err != nil {
		c.collector.CacheMisses.Inc()
		return types.CacheEntry{}, err
	}
	switch entry.Source {
	case types.SourceFallback:
		c.collector.CacheHits.WithLabelValues("fallback").Inc()
	default:
		c.collector.CacheHits.WithLabelValues("cache").Inc()
	}
	return entry, nil
}

// Get returns the unexpired cached entry for a key, if any.
func (c *Client) Get(ctx context.Context, key string) (types.CacheEntry, bool) {
	if c.closed.Load() {
		return types.CacheEntry{}, false
	}
	return c.manager.Get(ctx, key)
}

// Put caches freshly fetched content under a key.
func (c *Client) Put(ctx context.Context, key, category, data string, notes []types.Note) (types.CacheEntry, error) {
	if c.closed.Load() {
		return types.CacheEntry{}, ErrClosed
	}
	return c.manager.Put(ctx, key, category, data, notes)
}

// RecordMutation durably queues one user mutation for upload. Works
// offline; delivery happens on the next flush.
func (c *Client) RecordMutation(ctx context.Context, action string, payload json.RawMessage) (types.OutboxRecord, error) {
	if c.closed.Load() {
		return types.OutboxRecord{}, ErrClosed
	}
	c.collector.Requests.WithLabelValues("sync").Inc()
	return c.syncer.Enqueue(ctx, action, payload)
}

// SweepExpired removes expired entries from every cache tier.
func (c *Client) SweepExpired(ctx context.Context) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	return c.manager.SweepExpired(ctx)
}

// OnConfigUpdate registers a callback for config pushes addressed to
// this client.
func (c *Client) OnConfigUpdate(fn func(payload []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConfig = append(c.onConfig, fn)
}

// OnControl registers a callback for control commands addressed to this
// client, invoked after built-in handling.
func (c *Client) OnControl(fn func(msg ControlMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onControl = append(c.onControl, fn)
}

// ConnectionState reports the broker connection state.
func (c *Client) ConnectionState() transport.State {
	return c.connector.State()
}

// ClientID returns this process's identity on the broker.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// ClientStats is a combined snapshot of the cache, the outbox, and the
// connection.
type ClientStats struct {
	Cache  cache.Stats  `json:"cache"`
	Outbox outbox.Stats `json:"outbox"`
	State  string       `json:"state"`
}

// Stats returns a combined snapshot.
func (c *Client) Stats(ctx context.Context) (ClientStats, error) {
	if c.closed.Load() {
		return ClientStats{}, ErrClosed
	}
	outboxStats, err := c.syncer.Stats(ctx)
	if err != nil {
		return ClientStats{}, err
	}
	return ClientStats{
		Cache:  c.manager.Stats(ctx),
		Outbox: outboxStats,
		State:  c.connector.State().String(),
	}, nil
}

// Close stops the background loops and releases storage.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.cancel != nil {
			c.cancel()
		}
		c.connector.Close()
		c.wg.Wait()
		c.manager.Close()
		err = c.store.Close()
	})
	return err
}

func (c *Client) handleConfig(topic string, payload []byte) {
	c.logger.Info("config update received", "topic", topic)
	c.mu.RLock()
	callbacks := make([]func([]byte), len(c.onConfig))
	copy(callbacks, c.onConfig)
	c.mu.RUnlock()
	for _, fn := range callbacks {
		fn(payload)
	}
}

func (c *Client) handleControl(topic string, payload []byte) {
	var msg ControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("dropping malformed control message", "topic", topic, "error", err)
		return
	}
	c.logger.Info("control command received", "command", msg.Command)

	switch msg.Command {
	case "clearCache":
		if _, err := c.manager.SweepExpired(context.Background()); err != nil {
			c.logger.Warn("clearCache sweep failed", "error", err)
		}
	case "flushOutbox":
		c.syncer.TriggerFlush()
	}

	c.mu.RLock()
	callbacks := make([]func(ControlMessage), len(c.onControl))
	copy(callbacks, c.onControl)
	c.mu.RUnlock()
	for _, fn := range callbacks {
		fn(msg)
	}
}
