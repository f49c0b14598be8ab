// Package crossproxy keeps independent proxy instances in step over a shared
// bus: it publishes local actions, receives everyone else's, and applies them
// to the sessions this instance hosts.
package crossproxy

import (
	"context"

	"proxysync/internal/protocol"
	"proxysync/internal/text"
)

// Session is one client session hosted by this instance.
type Session interface {
	ID() string
	Name() string
	Disconnect(reason text.Component)
	Connect(server string) error
	SendMessage(msg text.Component)
	HasPermission(permission string) bool
}

// Proxy is the local session registry. Lookups must be safe to call from any
// goroutine; mutations happen only on the host loop.
type Proxy interface {
	Session(id string) (Session, bool)
	SessionByName(name string) (Session, bool)
	Sessions() []Session
	HasServer(name string) bool
}

// Renderer turns legacy formatted text into displayable text.
type Renderer interface {
	Render(legacy string) text.Component
}

// Executor is the single-threaded context that owns session state.
type Executor interface {
	Submit(ctx context.Context, task func()) error
	Call(ctx context.Context, fn func()) error
}

// Recorder receives every cross-instance action after it was applied locally.
type Recorder interface {
	Record(kind protocol.Kind, target, origin string)
}
