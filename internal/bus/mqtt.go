package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configures the MQTT backend.
type MQTTOptions struct {
	BrokerURL      string // e.g. tcp://localhost:1883
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	Buffer         int // inbound payloads held per subscription
}

// MQTT is a Bus backed by an MQTT broker using QoS 1.
type MQTT struct {
	client mqtt.Client
	opts   MQTTOptions
}

// DialMQTT connects to the broker and returns the bus.
func DialMQTT(opts MQTTOptions) (*MQTT, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.BrokerURL)
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetConnectTimeout(opts.ConnectTimeout)
	co.SetAutoReconnect(true)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.SetKeepAlive(60 * time.Second)
	// persistent session: the broker keeps our subscription across reconnects
	co.SetCleanSession(false)

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out after %s", opts.BrokerURL, opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.BrokerURL, err)
	}
	return &MQTT{client: client, opts: opts}, nil
}

func (m *MQTT) Publish(ctx context.Context, channel, payload string) error {
	if !m.client.IsConnected() {
		return fmt.Errorf("mqtt publish: not connected")
	}
	token := m.client.Publish(channel, 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTT) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := &mqttSubscription{
		client:  m.client,
		topic:   channel,
		payload: make(chan string, m.opts.Buffer),
		closed:  make(chan struct{}),
	}
	token := m.client.Subscribe(channel, 1, sub.deliver)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("mqtt subscribe %s: %w", channel, err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return sub, nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

type mqttSubscription struct {
	client  mqtt.Client
	topic   string
	payload chan string
	closed  chan struct{}
	once    sync.Once
}

// deliver runs on the paho router goroutine. It blocks when the buffer is
// full, which applies backpressure to the broker connection.
func (s *mqttSubscription) deliver(_ mqtt.Client, msg mqtt.Message) {
	select {
	case s.payload <- string(msg.Payload()):
	case <-s.closed:
	}
}

func (s *mqttSubscription) Receive(ctx context.Context) (string, error) {
	select {
	case p := <-s.payload:
		return p, nil
	case <-s.closed:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *mqttSubscription) Close() error {
	s.once.Do(func() {
		close(s.closed)
		if s.client.IsConnected() {
			s.client.Unsubscribe(s.topic).WaitTimeout(time.Second)
		}
	})
	return nil
}
