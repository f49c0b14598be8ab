package service

import (
	"context"

	"proxysync/internal/crossproxy"
)

// ClusterService is the cross-proxy feature as the admin API sees it.
// *crossproxy.Service implements it.
type ClusterService interface {
	State() crossproxy.State
	Identity() string
	Locate(ctx context.Context, sessionID string) (string, bool)
	Entries(ctx context.Context) (map[string]string, error)
	Kick(ctx context.Context, sessionID, reason string) error
	KickByName(ctx context.Context, username, reason string) error
	SendPlayer(ctx context.Context, sessionID, server string) error
	SendAll(ctx context.Context, server string) error
	Broadcast(ctx context.Context, text string) error
	MuteApplied(ctx context.Context, sessionID, reason, duration string) error
}

var _ ClusterService = (*crossproxy.Service)(nil)
