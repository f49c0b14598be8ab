package crossproxy

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"proxysync/internal/protocol"
)

// ErrUnknownServer is returned when a backend server is not configured here.
var ErrUnknownServer = errors.New("unknown backend server")

const (
	DefaultKickReason             = "&cYou have been kicked from the network."
	DefaultDuplicateSessionReason = "&cYou logged in from another location."
	DefaultTeamChatPermission     = "proxysync.teamchat"
)

// HandlerOptions tunes the local effect of received messages.
type HandlerOptions struct {
	AllowDuplicateSessions bool
	KickDefaultReason      string
	DuplicateSessionReason string
	TeamChatPermission     string
}

// Handlers applies one decoded message to local sessions. Every method runs
// on the host loop and treats a missing target as a no-op.
type Handlers struct {
	proxy    Proxy
	renderer Renderer
	opts     HandlerOptions
	logger   *slog.Logger
}

func NewHandlers(proxy Proxy, renderer Renderer, opts HandlerOptions, logger *slog.Logger) *Handlers {
	if opts.KickDefaultReason == "" {
		opts.KickDefaultReason = DefaultKickReason
	}
	if opts.DuplicateSessionReason == "" {
		opts.DuplicateSessionReason = DefaultDuplicateSessionReason
	}
	if opts.TeamChatPermission == "" {
		opts.TeamChatPermission = DefaultTeamChatPermission
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		proxy:    proxy,
		renderer: renderer,
		opts:     opts,
		logger:   logger.With("component", "cross_proxy_handlers"),
	}
}

func (h *Handlers) Kick(m protocol.Kick) error {
	s, ok := h.proxy.Session(m.TargetID)
	if !ok {
		return nil
	}
	s.Disconnect(h.renderer.Render(h.kickReason(m.Reason)))
	h.logger.Info("session_kicked", "session_id", m.TargetID, "origin", m.Origin)
	return nil
}

func (h *Handlers) KickByName(m protocol.KickByName) error {
	s, ok := h.proxy.SessionByName(m.TargetName)
	if !ok {
		return nil
	}
	s.Disconnect(h.renderer.Render(h.kickReason(m.Reason)))
	h.logger.Info("session_kicked", "session_id", s.ID(), "username", m.TargetName, "origin", m.Origin)
	return nil
}

func (h *Handlers) kickReason(reason string) string {
	if reason == "" {
		return h.opts.KickDefaultReason
	}
	return reason
}

func (h *Handlers) SendAll(m protocol.SendAll) error {
	if !h.proxy.HasServer(m.Server) {
		h.logger.Debug("send_all_skipped", "server", m.Server, "reason", "unknown server")
		return nil
	}
	moved := 0
	for _, s := range h.proxy.Sessions() {
		if err := s.Connect(m.Server); err != nil {
			h.logger.Warn("session_transfer_failed", "session_id", s.ID(), "server", m.Server, "error", err)
			continue
		}
		moved++
	}
	h.logger.Info("send_all_applied", "server", m.Server, "moved", moved, "origin", m.Origin)
	return nil
}

// PlayerConnect enforces one live session per id across the cluster: the
// instance that did not just accept the login drops its copy.
func (h *Handlers) PlayerConnect(m protocol.PlayerConnect) error {
	if h.opts.AllowDuplicateSessions {
		return nil
	}
	s, ok := h.proxy.Session(m.TargetID)
	if !ok {
		return nil
	}
	s.Disconnect(h.renderer.Render(h.opts.DuplicateSessionReason))
	h.logger.Info("duplicate_session_closed", "session_id", m.TargetID, "origin", m.Origin)
	return nil
}

func (h *Handlers) SendPlayer(m protocol.SendPlayer) error {
	if !h.proxy.HasServer(m.Server) {
		h.logger.Debug("send_player_skipped", "server", m.Server, "reason", "unknown server")
		return nil
	}
	s, ok := h.proxy.Session(m.TargetID)
	if !ok {
		return nil
	}
	if err := s.Connect(m.Server); err != nil {
		return fmt.Errorf("send %s to %s: %w", m.TargetID, m.Server, err)
	}
	return nil
}

func (h *Handlers) MuteApplied(m protocol.MuteApplied) error {
	s, ok := h.proxy.Session(m.TargetID)
	if !ok {
		return nil
	}
	s.SendMessage(h.renderer.Render(MuteNotice(m.Reason, m.Duration)))
	return nil
}

// MuteNotice formats the text shown to a muted session.
func MuteNotice(reason, duration string) string {
	span := "permanently"
	if strings.TrimSpace(duration) != "" {
		span = "for " + duration
	}
	notice := "&cYou have been muted " + span + "."
	if strings.TrimSpace(reason) != "" {
		notice += " &7Reason: &f" + reason
	}
	return notice
}

func (h *Handlers) PrivateMessage(m protocol.PrivateMessage) error {
	s, ok := h.proxy.SessionByName(m.TargetName)
	if !ok {
		return nil
	}
	s.SendMessage(h.renderer.Render(m.Text))
	return nil
}

func (h *Handlers) Broadcast(m protocol.Broadcast) error {
	msg := h.renderer.Render(m.Text)
	for _, s := range h.proxy.Sessions() {
		s.SendMessage(msg)
	}
	return nil
}

func (h *Handlers) TeamChat(m protocol.TeamChat) error {
	msg := h.renderer.Render(m.Text)
	for _, s := range h.proxy.Sessions() {
		if s.HasPermission(h.opts.TeamChatPermission) {
			s.SendMessage(msg)
		}
	}
	return nil
}
