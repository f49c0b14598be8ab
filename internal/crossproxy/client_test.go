package crossproxy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxysync/internal/protocol"
)

type discardReceiver struct{}

func (discardReceiver) Receive(context.Context, string) {}

func testOptions(mr *miniredis.Miniredis) Options {
	return Options{
		Enabled:     true,
		RedisURL:    "redis://" + mr.Addr(),
		Secret:      testSecret,
		Identity:    selfID,
		DialTimeout: time.Second,
		QueueSize:   16,
	}
}

// watchChannel subscribes a plain client so tests can observe raw traffic.
func watchChannel(t *testing.T, mr *miniredis.Miniredis) <-chan *redis.Message {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ps := rdb.Subscribe(context.Background(), Channel)
	_, err := ps.Receive(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		ps.Close()
		rdb.Close()
	})
	return ps.Channel()
}

func nextPayload(t *testing.T, ch <-chan *redis.Message) string {
	t.Helper()
	select {
	case msg := <-ch:
		return msg.Payload
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
		return ""
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disabled", StateDisabled.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestClient_Disabled(t *testing.T) {
	c := NewClient(Options{Enabled: false}, discardReceiver{}, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateDisabled, c.State())
	assert.Nil(t, c.Presence())
	assert.False(t, c.PublishKick("u1", "bye"))
	assert.NotPanics(t, c.Shutdown)
}

func TestClient_Misconfigured(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"missing secret", func(o *Options) { o.Secret = "" }},
		{"blank secret", func(o *Options) { o.Secret = "   " }},
		{"secret with separator", func(o *Options) { o.Secret = "s3" + protocol.Separator + "cret" }},
		{"missing identity", func(o *Options) { o.Identity = "" }},
		{"identity with separator", func(o *Options) { o.Identity = "proxy" + protocol.Separator + "a" }},
		{"missing host", func(o *Options) { o.RedisURL = "redis://" }},
		{"no scheme", func(o *Options) { o.RedisURL = "localhost:6379" }},
		{"mqtt without broker", func(o *Options) { o.Backend = BackendMQTT; o.MQTTBrokerURL = "" }},
		{"unknown backend", func(o *Options) { o.Backend = "carrier-pigeon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{
				Enabled:  true,
				RedisURL: "redis://localhost:6379",
				Secret:   testSecret,
				Identity: selfID,
			}
			tt.mutate(&opts)
			c := NewClient(opts, discardReceiver{}, nil)

			err := c.Start(context.Background())
			assert.ErrorIs(t, err, ErrMisconfigured)
			assert.Equal(t, StateDisabled, c.State())
			assert.False(t, c.PublishBroadcast("hi"))
		})
	}
}

func TestClient_ConnectFailureLeavesDisconnected(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := testOptions(mr)
	mr.Close()

	c := NewClient(opts, discardReceiver{}, nil)
	err := c.Start(context.Background())

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMisconfigured)
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.PublishTeamChat("hi"))
	assert.Nil(t, c.Presence())
	assert.NotPanics(t, c.Shutdown)
}

func TestClient_PublishStampsEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	watched := watchChannel(t, mr)

	c := NewClient(testOptions(mr), discardReceiver{}, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown()

	assert.Equal(t, StateConnected, c.State())
	assert.NotNil(t, c.Presence())
	require.True(t, c.PublishKick("u1", "&cBad"))

	msg, ok := protocol.Decode(nextPayload(t, watched))
	require.True(t, ok)
	assert.Equal(t, protocol.Kick{
		Envelope: protocol.Envelope{Secret: testSecret, Origin: selfID},
		TargetID: "u1",
		Reason:   "&cBad",
	}, msg)
}

func TestClient_PreservesPublishOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	watched := watchChannel(t, mr)

	c := NewClient(testOptions(mr), discardReceiver{}, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown()

	texts := []string{"one", "two", "three", "four"}
	for _, txt := range texts {
		require.True(t, c.PublishBroadcast(txt))
	}
	for _, want := range texts {
		msg, ok := protocol.Decode(nextPayload(t, watched))
		require.True(t, ok)
		assert.Equal(t, want, msg.(protocol.Broadcast).Text)
	}
}

func TestClient_EncodeFailureNotQueued(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewClient(testOptions(mr), discardReceiver{}, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown()

	assert.False(t, c.PublishSendAll("lob\x1fby"))
}

func TestClient_ReceiverGetsTraffic(t *testing.T) {
	mr := miniredis.RunT(t)
	got := make(chan string, 1)
	c := NewClient(testOptions(mr), receiverFunc(func(_ context.Context, raw string) { got <- raw }), nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown()

	mr.Publish(Channel, "hello")
	select {
	case raw := <-got:
		assert.Equal(t, "hello", raw)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver not called")
	}
}

func TestClient_ShutdownFlushesAndIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	watched := watchChannel(t, mr)

	c := NewClient(testOptions(mr), discardReceiver{}, nil)
	require.NoError(t, c.Start(context.Background()))
	require.True(t, c.PublishBroadcast("last words"))
	c.Shutdown()

	msg, ok := protocol.Decode(nextPayload(t, watched))
	require.True(t, ok)
	assert.Equal(t, "last words", msg.(protocol.Broadcast).Text)

	assert.Equal(t, StateDisabled, c.State())
	assert.Nil(t, c.Presence())
	assert.False(t, c.PublishBroadcast("too late"))
	assert.NotPanics(t, c.Shutdown)
}

func TestClient_ReconnectsAfterOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	got := make(chan string, 16)
	opts := testOptions(mr)
	opts.ReconnectMin = 100 * time.Millisecond
	opts.ReconnectMax = 200 * time.Millisecond

	c := NewClient(opts, receiverFunc(func(_ context.Context, raw string) {
		select {
		case got <- raw:
		default:
		}
	}), nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown()

	mr.Close()
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, c.PublishBroadcast("while down"))

	require.NoError(t, mr.StartAddr(addr))
	require.Eventually(t, func() bool { return c.State() == StateConnected }, 5*time.Second, 10*time.Millisecond)

	// the subscription re-dials on its next read
	require.Eventually(t, func() bool { return mr.Publish(Channel, "after outage") > 0 }, 5*time.Second, 20*time.Millisecond)
	select {
	case raw := <-got:
		assert.Equal(t, "after outage", raw)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver not called after reconnect")
	}
	assert.True(t, c.PublishBroadcast("back online"))
}

func TestClient_ShutdownDuringBackoff(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := testOptions(mr)
	opts.ReconnectMin = time.Minute
	opts.ReconnectMax = time.Hour

	c := NewClient(opts, discardReceiver{}, nil)
	require.NoError(t, c.Start(context.Background()))

	mr.Close()
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, 5*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown blocked on reconnect backoff")
	}
	assert.Equal(t, StateDisabled, c.State())
}

type receiverFunc func(ctx context.Context, raw string)

func (f receiverFunc) Receive(ctx context.Context, raw string) { f(ctx, raw) }
