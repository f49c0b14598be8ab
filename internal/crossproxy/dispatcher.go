package crossproxy

import (
	"context"
	"fmt"
	"log/slog"

	"proxysync/internal/protocol"
)

// Dispatcher turns raw bus payloads into handler calls on the host loop.
type Dispatcher struct {
	identity string
	secret   string
	handlers *Handlers
	exec     Executor
	recorder Recorder
	logger   *slog.Logger
}

// NewDispatcher wires the inbound pipeline. recorder may be nil.
func NewDispatcher(identity, secret string, handlers *Handlers, exec Executor, recorder Recorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		identity: identity,
		secret:   secret,
		handlers: handlers,
		exec:     exec,
		recorder: recorder,
		logger:   logger.With("component", "cross_proxy_dispatcher"),
	}
}

// suppressesSelfOrigin reports kinds an instance must not apply when it
// published them itself.
func suppressesSelfOrigin(k protocol.Kind) bool {
	return k == protocol.KindKick || k == protocol.KindPlayerConnect
}

// Receive runs on the receiver goroutine. It filters the payload and hands
// the message to the host loop; it never touches session state.
func (d *Dispatcher) Receive(ctx context.Context, raw string) {
	msg, ok := protocol.Decode(raw)
	if !ok {
		d.logger.Debug("bus_message_malformed", "size", len(raw))
		return
	}
	env := msg.Env()
	if env.Secret != d.secret {
		d.logger.Debug("bus_message_rejected")
		return
	}
	if suppressesSelfOrigin(msg.Kind()) && env.Origin == d.identity {
		return
	}

	if err := d.exec.Submit(ctx, func() { d.route(msg) }); err != nil {
		d.logger.Warn("bus_message_dropped", "kind", msg.Kind().String(), "error", err)
	}
}

// route runs on the host loop.
func (d *Dispatcher) route(msg protocol.Message) {
	kind := msg.Kind()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler_panicked", "kind", kind.String(), "panic", r)
		}
	}()

	var (
		err    error
		target string
	)
	switch m := msg.(type) {
	case protocol.Kick:
		target, err = m.TargetID, d.handlers.Kick(m)
	case protocol.KickByName:
		target, err = m.TargetName, d.handlers.KickByName(m)
	case protocol.SendAll:
		target, err = m.Server, d.handlers.SendAll(m)
	case protocol.PlayerConnect:
		target, err = m.TargetID, d.handlers.PlayerConnect(m)
	case protocol.SendPlayer:
		target, err = m.TargetID, d.handlers.SendPlayer(m)
	case protocol.MuteApplied:
		target, err = m.TargetID, d.handlers.MuteApplied(m)
	case protocol.PrivateMessage:
		target, err = m.TargetName, d.handlers.PrivateMessage(m)
	case protocol.Broadcast:
		err = d.handlers.Broadcast(m)
	case protocol.TeamChat:
		err = d.handlers.TeamChat(m)
	default:
		err = fmt.Errorf("route %T: %w", msg, protocol.ErrUnknownKind)
	}

	if err != nil {
		d.logger.Error("handler_failed", "kind", kind.String(), "origin", msg.Env().Origin, "error", err)
		return
	}
	if d.recorder != nil {
		d.recorder.Record(kind, target, msg.Env().Origin)
	}
}
