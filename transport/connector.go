// Package transport manages the long-lived pub/sub connection to the
// broker, with automatic reconnection and topic subscription management.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// State is the process-wide connection state. The connector is its
// sole writer; other components only read it.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by Publish while the broker is unreachable.
// The connector never buffers; durability belongs to the outbox.
var ErrNotConnected = errors.New("transport not connected")

// Handler receives messages for a subscribed topic pattern.
type Handler func(topic string, payload []byte)

// Logger is the logging interface used by the connector.
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

// Options configures a Connector.
type Options struct {
	// Addr is the broker address (e.g. "localhost:6379").
	Addr string

	// Password is the optional broker password.
	Password string

	// DB is the broker database number.
	DB int

	// ClientID identifies this process in logs and heartbeats.
	ClientID string

	// ReconnectInterval is the fixed delay between connection attempts.
	// The connector never gives up; broker outages are expected to be
	// transient.
	ReconnectInterval time.Duration

	// PublishTimeout bounds each publish call.
	PublishTimeout time.Duration

	// Logger is the connector logger. If nil, defaults to no-op.
	Logger Logger

	// Clock supplies time. If nil, defaults to the real clock.
	Clock clockwork.Clock
}

// DefaultOptions returns default connector options.
func DefaultOptions() Options {
	return Options{
		Addr:              "localhost:6379",
		ReconnectInterval: 5 * time.Second,
		PublishTimeout:    5 * time.Second,
	}
}

// Connector supervises one broker connection and fans incoming
// messages out to registered handlers.
type Connector struct {
	opts   Options
	client *redis.Client
	logger Logger
	clock  clockwork.Clock

	state atomic.Int32

	mu        sync.RWMutex
	handlers  map[string][]Handler
	pubsub    *redis.PubSub
	connHooks []func()

	done      chan struct{}
	closeOnce sync.Once
}

// NewConnector creates a connector. The connection is not opened until
// Run is called.
func NewConnector(opts Options) (*Connector, error) {
	if opts.Addr == "" {
		return nil, errors.New("broker address is required")
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	return &Connector{
		opts:     opts,
		client:   client,
		logger:   opts.Logger,
		clock:    opts.Clock,
		handlers: map[string][]Handler{},
		done:     make(chan struct{}),
	}, nil
}

// State returns the current connection state.
func (c *Connector) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether publishes can currently be attempted.
func (c *Connector) IsConnected() bool {
	return c.State() == StateConnected
}

// Subscribe registers a handler for a topic pattern (Redis glob form,
// e.g. "content/config/*"). The subscription is re-established on
// every reconnect. Safe to call before Run and while connected.
func (c *Connector) Subscribe(pattern string, handler Handler) {
	c.mu.Lock()
	c.handlers[pattern] = append(c.handlers[pattern], handler)
	pubsub := c.pubsub
	c.mu.Unlock()

	if pubsub != nil {
		if err := pubsub.PSubscribe(context.Background(), pattern); err != nil {
			c.logger.Warn("subscribe failed, will retry on reconnect", "pattern", pattern, "error", err)
		}
	}
}

// OnConnect registers a hook invoked on every transition to connected,
// after subscriptions are re-established.
func (c *Connector) OnConnect(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connHooks = append(c.connHooks, hook)
}

// Publish sends one message. It fails fast when disconnected and never
// buffers internally.
func (c *Connector) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.PublishTimeout)
	defer cancel()

	if err := c.client.Publish(ctx, topic, payload).Err(); err != nil {
		return err
	}
	return nil
}

// Run drives the connect/consume/reconnect cycle until the context is
// canceled or Close is called.
func (c *Connector) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		c.setState(StateConnecting)
		if err := c.client.Ping(ctx).Err(); err != nil {
			c.logger.Warn("broker unreachable", "addr", c.opts.Addr, "error", err)
			c.setState(StateDisconnected)
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		pubsub := c.resubscribe(ctx)
		c.setState(StateConnected)
		c.logger.Info("broker connected", "addr", c.opts.Addr, "clientId", c.opts.ClientID)
		c.notifyConnected()

		c.consume(ctx, pubsub)

		c.setState(StateDisconnected)
		c.logger.Warn("broker connection lost", "addr", c.opts.Addr)
		_ = pubsub.Close()
		c.mu.Lock()
		c.pubsub = nil
		c.mu.Unlock()

		if !c.sleep(ctx) {
			return
		}
	}
}

// Close tears the connection down permanently.
func (c *Connector) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		pubsub := c.pubsub
		c.pubsub = nil
		c.mu.Unlock()
		if pubsub != nil {
			_ = pubsub.Close()
		}
		c.setState(StateDisconnected)
		err = c.client.Close()
	})
	return err
}

func (c *Connector) setState(state State) {
	c.state.Store(int32(state))
}

// resubscribe opens a fresh pattern subscription for every registered
// pattern. Subscriptions do not survive a disconnect on the broker
// side, so this runs on every connect. The subscription is opened even
// when no patterns are registered yet, so a Subscribe made while
// connected always has a live subscription to attach to.
func (c *Connector) resubscribe(ctx context.Context) *redis.PubSub {
	c.mu.Lock()
	patterns := make([]string, 0, len(c.handlers))
	for pattern := range c.handlers {
		patterns = append(patterns, pattern)
	}
	c.mu.Unlock()

	pubsub := c.client.PSubscribe(ctx, patterns...)
	c.mu.Lock()
	c.pubsub = pubsub
	c.mu.Unlock()
	return pubsub
}

func (c *Connector) notifyConnected() {
	c.mu.RLock()
	hooks := make([]func(), len(c.connHooks))
	copy(hooks, c.connHooks)
	c.mu.RUnlock()

	for _, hook := range hooks {
		hook()
	}
}

// consume pumps incoming messages and probes broker health until the
// connection drops. With no patterns registered the message channel
// simply stays silent and the loop idles on the health probe.
func (c *Connector) consume(ctx context.Context, pubsub *redis.PubSub) {
	messages := pubsub.Channel()

	probe := c.clock.NewTicker(c.opts.ReconnectInterval)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			c.dispatch(msg)
		case <-probe.Chan():
			pingCtx, cancel := context.WithTimeout(ctx, c.opts.PublishTimeout)
			err := c.client.Ping(pingCtx).Err()
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// dispatch routes one message to every handler registered for its
// pattern. A panicking handler is isolated so the others still run.
func (c *Connector) dispatch(msg *redis.Message) {
	key := msg.Pattern
	if key == "" {
		key = msg.Channel
	}

	c.mu.RLock()
	handlers := make([]Handler, len(c.handlers[key]))
	copy(handlers, c.handlers[key])
	c.mu.RUnlock()

	for _, handler := range handlers {
		c.invoke(handler, msg.Channel, []byte(msg.Payload))
	}
}

func (c *Connector) invoke(handler Handler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked", "topic", topic, "panic", r)
		}
	}()
	handler(topic, payload)
}

// sleep waits one reconnect interval. Returns false when shut down.
func (c *Connector) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	case <-c.clock.After(c.opts.ReconnectInterval):
		return true
	}
}
