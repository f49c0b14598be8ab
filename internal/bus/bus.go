// Package bus abstracts the publish/subscribe transport shared by every proxy
// instance. Redis pub/sub is the default backend; MQTT is available for
// deployments that already run a broker.
package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by Receive once the subscription has been closed.
var ErrClosed = errors.New("bus: subscription closed")

// Bus publishes text payloads and opens subscriptions on a channel.
type Bus interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

// Subscription delivers payloads received on one channel in bus order.
type Subscription interface {
	// Receive blocks until the next payload arrives, ctx ends or the
	// subscription is closed.
	Receive(ctx context.Context) (string, error)
	Close() error
}
