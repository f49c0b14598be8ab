package crossproxy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"proxysync/internal/presence"
	"proxysync/internal/protocol"
)

// ServiceOptions configures the whole cross-proxy feature.
type ServiceOptions struct {
	Client   Options
	Handlers HandlerOptions
}

// Service composes the transport client, the inbound dispatcher and the
// handlers, and exposes the network actions the rest of the process uses.
type Service struct {
	client     *Client
	dispatcher *Dispatcher
	handlers   *Handlers
	proxy      Proxy
	exec       Executor
	logger     *slog.Logger

	heartbeatCancel context.CancelFunc
	heartbeatWG     sync.WaitGroup
}

// NewService builds the feature. recorder may be nil.
func NewService(opts ServiceOptions, proxy Proxy, renderer Renderer, exec Executor, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	handlers := NewHandlers(proxy, renderer, opts.Handlers, logger)
	dispatcher := NewDispatcher(opts.Client.Identity, opts.Client.Secret, handlers, exec, recorder, logger)
	return &Service{
		client:     NewClient(opts.Client, dispatcher, logger),
		dispatcher: dispatcher,
		handlers:   handlers,
		proxy:      proxy,
		exec:       exec,
		logger:     logger.With("component", "cross_proxy_service"),
	}
}

// Start connects the client. A failure is returned for logging only; the
// host keeps serving local sessions either way.
func (s *Service) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return err
	}
	if ttl := s.client.opts.PresenceTTL; ttl > 0 && s.client.State() == StateConnected {
		hbCtx, cancel := context.WithCancel(context.Background())
		s.heartbeatCancel = cancel
		s.heartbeatWG.Add(1)
		go s.heartbeat(hbCtx, ttl/2)
	}
	return nil
}

// Shutdown clears presence still owned by this instance and stops the client.
func (s *Service) Shutdown(ctx context.Context) {
	if s.heartbeatCancel != nil {
		s.heartbeatCancel()
		s.heartbeatWG.Wait()
		s.heartbeatCancel = nil
	}

	store := s.client.Presence()
	cleared := 0
	for _, sess := range s.proxy.Sessions() {
		if ok, err := store.RemoveIfOwner(ctx, sess.ID(), s.client.Identity()); err != nil {
			s.logger.Warn("presence_cleanup_failed", "session_id", sess.ID(), "error", err)
		} else if ok {
			cleared++
		}
	}
	if store != nil {
		s.logger.Info("presence_cleared", "sessions", cleared)
	}

	s.client.Shutdown()
}

func (s *Service) Client() *Client { return s.client }

func (s *Service) State() State { return s.client.State() }

func (s *Service) Identity() string { return s.client.Identity() }

// Presence returns the presence store; nil (a no-op) while not connected.
func (s *Service) Presence() *presence.Store { return s.client.Presence() }

// Receive feeds one raw bus payload through the inbound pipeline.
func (s *Service) Receive(ctx context.Context, raw string) {
	s.dispatcher.Receive(ctx, raw)
}

// Locate returns the instance hosting sessionID. ok is false when the answer
// is unknown, including when the store could not be read.
func (s *Service) Locate(ctx context.Context, sessionID string) (string, bool) {
	return s.client.Presence().Get(ctx, sessionID)
}

// SessionJoined records presence and tells other instances to drop their
// copy of the session. Call it after the session is registered locally.
func (s *Service) SessionJoined(ctx context.Context, sessionID string) {
	if err := s.client.Presence().Set(ctx, sessionID, s.client.Identity()); err != nil {
		s.logger.Warn("presence_write_failed", "session_id", sessionID, "error", err)
	}
	s.client.PublishPlayerConnect(sessionID)
}

// SessionLeft clears presence if this instance still owns the entry.
func (s *Service) SessionLeft(ctx context.Context, sessionID string) {
	if _, err := s.client.Presence().RemoveIfOwner(ctx, sessionID, s.client.Identity()); err != nil {
		s.logger.Warn("presence_remove_failed", "session_id", sessionID, "error", err)
	}
}

func (s *Service) heartbeat(ctx context.Context, every time.Duration) {
	defer s.heartbeatWG.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store := s.client.Presence()
			for _, sess := range s.proxy.Sessions() {
				owned, err := store.Refresh(ctx, sess.ID(), s.client.Identity())
				if err != nil {
					s.logger.Warn("presence_refresh_failed", "session_id", sess.ID(), "error", err)
					break
				}
				if !owned {
					// a newer login elsewhere owns the entry
					s.logger.Debug("presence_owned_elsewhere", "session_id", sess.ID())
				}
			}
		}
	}
}

// Network actions. Kick is applied here first and then published, because
// the echo of a Kick is ignored by its origin. The remaining kinds are only
// published and reach local sessions through the echo. While disconnected,
// every action is applied locally only.

func (s *Service) Kick(ctx context.Context, targetID, reason string) error {
	return s.execute(ctx, protocol.Kick{TargetID: targetID, Reason: reason})
}

func (s *Service) KickByName(ctx context.Context, targetName, reason string) error {
	return s.execute(ctx, protocol.KickByName{TargetName: targetName, Reason: reason})
}

func (s *Service) SendAll(ctx context.Context, server string) error {
	return s.execute(ctx, protocol.SendAll{Server: server})
}

func (s *Service) SendPlayer(ctx context.Context, targetID, server string) error {
	return s.execute(ctx, protocol.SendPlayer{TargetID: targetID, Server: server})
}

func (s *Service) MuteApplied(ctx context.Context, targetID, reason, duration string) error {
	return s.execute(ctx, protocol.MuteApplied{TargetID: targetID, Reason: reason, Duration: duration})
}

func (s *Service) PrivateMessage(ctx context.Context, targetName, text string) error {
	return s.execute(ctx, protocol.PrivateMessage{TargetName: targetName, Text: text})
}

func (s *Service) Broadcast(ctx context.Context, text string) error {
	return s.execute(ctx, protocol.Broadcast{Text: text})
}

func (s *Service) TeamChat(ctx context.Context, text string) error {
	return s.execute(ctx, protocol.TeamChat{Text: text})
}

func (s *Service) execute(ctx context.Context, m protocol.Message) error {
	m = protocol.WithEnvelope(m, s.client.envelope())
	connected := s.client.State() == StateConnected

	local := !connected || suppressesSelfOrigin(m.Kind())
	if local {
		if err := s.applyLocal(ctx, m); err != nil {
			return err
		}
	}
	if connected && !s.client.publish(m) {
		s.logger.Warn("network_action_not_published", "kind", m.Kind().String())
		if !local {
			// no echo is coming
			return s.applyLocal(ctx, m)
		}
	}
	return nil
}

func (s *Service) applyLocal(ctx context.Context, m protocol.Message) error {
	return s.exec.Call(ctx, func() { s.dispatcher.route(m) })
}

// Entries lists every presence entry in the cluster.
func (s *Service) Entries(ctx context.Context) (map[string]string, error) {
	return s.client.Presence().Entries(ctx)
}
