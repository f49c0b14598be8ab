package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// pollInterval bounds each blocking read so Receive can observe ctx; the
// pub/sub reader itself is not context aware.
const pollInterval = time.Second

// Redis is a Bus backed by Redis pub/sub. Publishing goes over the shared
// command client; each subscription holds its own dedicated connection.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps client. Closing the bus does not close the client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Publish(ctx context.Context, channel, payload string) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe opens the subscription and waits for the server confirmation so
// that nothing published after it returns is missed.
func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	return &redisSubscription{ps: ps}, nil
}

func (r *Redis) Close() error { return nil }

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Receive(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		msg, err := s.ps.ReceiveTimeout(ctx, pollInterval)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, redis.ErrClosed) {
				return "", ErrClosed
			}
			return "", err
		}
		switch m := msg.(type) {
		case *redis.Message:
			return m.Payload, nil
		default:
			// subscription confirmations and pongs
			continue
		}
	}
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
