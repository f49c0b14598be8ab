package dto

// DTOs for cluster operations in the admin HTTP API

type KickRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Reason    string `json:"reason"`
}

type KickByNameRequest struct {
	Username string `json:"username" binding:"required"`
	Reason   string `json:"reason"`
}

type SendRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Server    string `json:"server" binding:"required"`
}

type SendAllRequest struct {
	Server string `json:"server" binding:"required"`
}

type BroadcastRequest struct {
	Text string `json:"text" binding:"required"`
}

type MuteRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Reason    string `json:"reason"`
	Duration  string `json:"duration"` // empty means permanent
}

type PresenceResponse struct {
	SessionID string `json:"session_id"`
	Instance  string `json:"instance"`
}

type PresenceListResponse struct {
	Count    int               `json:"count"`
	Sessions map[string]string `json:"sessions"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Identity string `json:"identity"`
	Sync     string `json:"sync"`
}
