package crossproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"proxysync/internal/bus"
	"proxysync/internal/presence"
	"proxysync/internal/protocol"
)

// Channel is the cluster-wide bus channel every instance subscribes to.
const Channel = "proxysync:bus"

const (
	BackendRedis = "redis"
	BackendMQTT  = "mqtt"
)

// ErrMisconfigured means required settings are missing; the feature stays off.
var ErrMisconfigured = errors.New("cross-proxy sync misconfigured")

// State is the lifecycle state of a Client.
type State int32

const (
	StateDisabled State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}

// Options configures the transport.
type Options struct {
	Enabled       bool
	RedisURL      string // redis://[:password@]host:port[/db]
	RedisPassword string // overrides the URL password when set
	Secret        string
	Identity      string
	Backend       string // BackendRedis (default) or BackendMQTT
	MQTTBrokerURL string
	DialTimeout   time.Duration
	QueueSize     int           // outbound payloads waiting to be published
	ReconnectMin  time.Duration // first backoff step after a lost subscription
	ReconnectMax  time.Duration // backoff ceiling
	PresenceTTL   time.Duration
}

func (o *Options) applyDefaults() {
	if o.Backend == "" {
		o.Backend = BackendRedis
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = 500 * time.Millisecond
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = 30 * time.Second
	}
}

func (o Options) validate() error {
	var problems []string

	u, err := url.Parse(strings.TrimSpace(o.RedisURL))
	if err != nil || u.Hostname() == "" {
		problems = append(problems, "redis endpoint host is missing")
	} else if _, err := redis.ParseURL(o.RedisURL); err != nil {
		problems = append(problems, fmt.Sprintf("redis url is invalid: %v", err))
	}
	if strings.TrimSpace(o.Secret) == "" {
		problems = append(problems, "shared secret is missing")
	} else if strings.Contains(o.Secret, protocol.Separator) {
		problems = append(problems, "shared secret contains the field separator")
	}
	if strings.TrimSpace(o.Identity) == "" {
		problems = append(problems, "instance identity is missing")
	} else if strings.Contains(o.Identity, protocol.Separator) {
		problems = append(problems, "instance identity contains the field separator")
	}
	switch o.Backend {
	case BackendRedis:
	case BackendMQTT:
		if o.MQTTBrokerURL == "" {
			problems = append(problems, "mqtt broker url is missing")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown bus backend %q", o.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrMisconfigured, strings.Join(problems, "; "))
	}
	return nil
}

// Receiver consumes raw bus payloads on the receiver goroutine.
type Receiver interface {
	Receive(ctx context.Context, raw string)
}

// Client owns the command connection (publish and key/value operations) and
// the subscription connection, plus the two goroutines serving them.
type Client struct {
	opts     Options
	receiver Receiver
	logger   *slog.Logger

	state    atomic.Int32
	presence atomic.Pointer[presence.Store]
	outbound chan string

	mu      sync.Mutex // serializes Start and Shutdown
	started bool
	rdb     *redis.Client
	bus     bus.Bus
	sub     bus.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewClient builds an idle client. Nothing is dialled until Start.
func NewClient(opts Options, receiver Receiver, logger *slog.Logger) *Client {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		opts:     opts,
		receiver: receiver,
		logger:   logger.With("component", "cross_proxy"),
		outbound: make(chan string, opts.QueueSize),
	}
	c.state.Store(int32(StateDisabled))
	return c
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Identity is the instance id stamped on every outgoing message.
func (c *Client) Identity() string {
	return c.opts.Identity
}

// Presence returns the presence store, or nil (a no-op store) while the
// client is not running.
func (c *Client) Presence() *presence.Store {
	return c.presence.Load()
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// Start validates the configuration, connects and launches the receiver.
// A disabled client returns nil without doing anything. Misconfiguration
// and connection failures are logged and returned; the caller keeps running.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	if !c.opts.Enabled {
		c.logger.Info("cross_proxy_disabled")
		return nil
	}
	if err := c.opts.validate(); err != nil {
		c.logger.Error("cross_proxy_misconfigured", "error", err)
		return err
	}

	c.setState(StateConnecting)
	c.logger.Info("cross_proxy_connecting",
		"identity", c.opts.Identity,
		"backend", c.opts.Backend,
		"channel", Channel,
	)

	rdb, b, sub, err := c.connect(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		c.logger.Error("cross_proxy_connect_failed", "error", err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.rdb, c.bus, c.sub, c.cancel = rdb, b, sub, cancel
	c.presence.Store(presence.NewStore(rdb, c.opts.PresenceTTL, c.logger))
	c.started = true
	c.setState(StateConnected)

	c.wg.Add(2)
	go c.receiveLoop(runCtx)
	go c.sendLoop(runCtx)

	c.logger.Info("cross_proxy_connected", "identity", c.opts.Identity)
	return nil
}

func (c *Client) connect(ctx context.Context) (*redis.Client, bus.Bus, bus.Subscription, error) {
	ro, err := redis.ParseURL(c.opts.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	if c.opts.RedisPassword != "" {
		ro.Password = c.opts.RedisPassword
	}
	ro.DialTimeout = c.opts.DialTimeout
	ro.ReadTimeout = 3 * time.Second
	ro.WriteTimeout = 3 * time.Second
	rdb := redis.NewClient(ro)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	if err := rdb.Ping(dialCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	var b bus.Bus
	switch c.opts.Backend {
	case BackendMQTT:
		m, err := bus.DialMQTT(bus.MQTTOptions{
			BrokerURL:      c.opts.MQTTBrokerURL,
			ClientID:       c.opts.Identity,
			ConnectTimeout: c.opts.DialTimeout,
			Buffer:         c.opts.QueueSize,
		})
		if err != nil {
			rdb.Close()
			return nil, nil, nil, err
		}
		b = m
	default:
		b = bus.NewRedis(rdb)
	}

	sub, err := b.Subscribe(dialCtx, Channel)
	if err != nil {
		b.Close()
		rdb.Close()
		return nil, nil, nil, err
	}
	return rdb, b, sub, nil
}

// receiveLoop is the only goroutine reading the subscription. It hands raw
// payloads to the receiver and never touches session state itself.
func (c *Client) receiveLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		raw, err := c.sub.Receive(ctx)
		if err == nil {
			c.receiver.Receive(ctx, raw)
			continue
		}
		if ctx.Err() != nil || errors.Is(err, bus.ErrClosed) {
			return
		}

		c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected))
		c.logger.Warn("bus_receive_failed", "error", err)
		if !c.reconnect(ctx) {
			return
		}
	}
}

// reconnect waits with exponential backoff until the store answers again.
// The subscription itself re-dials on the next Receive.
func (c *Client) reconnect(ctx context.Context) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReconnectMin
	b.MaxInterval = c.opts.ReconnectMax
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0 // retry until shutdown
	b.Reset()

	for {
		wait := b.NextBackOff()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting))
		pingCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
		err := c.rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			c.state.CompareAndSwap(int32(StateConnecting), int32(StateDisconnected))
			c.logger.Warn("bus_reconnect_failed", "error", err, "waited", wait)
			continue
		}

		if c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
			c.logger.Info("bus_reconnected")
		}
		return true
	}
}

// sendLoop publishes queued payloads in order. On shutdown it flushes what
// is already queued, bounded by the dial timeout.
func (c *Client) sendLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case raw := <-c.outbound:
			c.send(ctx, raw)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
			defer cancel()
			for {
				select {
				case raw := <-c.outbound:
					c.send(flushCtx, raw)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) send(parent context.Context, raw string) {
	if parent.Err() != nil {
		// flushing after shutdown began
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, c.opts.DialTimeout)
	defer cancel()
	if err := c.bus.Publish(ctx, Channel, raw); err != nil {
		c.logger.Warn("bus_publish_failed", "error", err)
	}
}

// publish stamps m with this instance's identity and secret and queues it.
// It never blocks: while not connected, or with a full queue, the message is
// dropped and false is returned.
func (c *Client) publish(m protocol.Message) bool {
	if c.State() != StateConnected {
		return false
	}
	raw, err := protocol.Encode(protocol.WithEnvelope(m, c.envelope()))
	if err != nil {
		c.logger.Warn("bus_encode_failed", "kind", m.Kind().String(), "error", err)
		return false
	}
	select {
	case c.outbound <- raw:
		return true
	default:
		c.logger.Warn("bus_outbound_full", "kind", m.Kind().String(), "capacity", cap(c.outbound))
		return false
	}
}

func (c *Client) envelope() protocol.Envelope {
	return protocol.Envelope{Secret: c.opts.Secret, Origin: c.opts.Identity}
}

// Shutdown stops both goroutines and closes both connections. Safe to call
// on a client that never started or already stopped.
func (c *Client) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	c.setState(StateShuttingDown)
	c.cancel()
	// unblocks a Receive waiting on the wire
	if err := c.sub.Close(); err != nil {
		c.logger.Warn("bus_subscription_close_failed", "error", err)
	}
	c.wg.Wait()

	if err := c.bus.Close(); err != nil {
		c.logger.Warn("bus_close_failed", "error", err)
	}
	if err := c.rdb.Close(); err != nil {
		c.logger.Warn("redis_close_failed", "error", err)
	}

	c.presence.Store(nil)
	c.rdb, c.bus, c.sub, c.cancel = nil, nil, nil, nil
	c.started = false
	c.setState(StateDisabled)
	c.logger.Info("cross_proxy_stopped")
}
