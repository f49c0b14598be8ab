package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"proxysync/internal/microservices/http-api/dto"
	"proxysync/internal/microservices/http-api/middleware"
	"proxysync/internal/microservices/http-api/service"
)

const requestTimeout = 5 * time.Second

type ClusterHandler struct {
	cluster service.ClusterService
	logger  *slog.Logger
}

func NewClusterHandler(cluster service.ClusterService, logger *slog.Logger) *ClusterHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClusterHandler{cluster: cluster, logger: logger.With("component", "admin_api")}
}

// NewRouter builds the admin API: a public health check plus the cluster
// routes behind operator tokens.
func NewRouter(h *ClusterHandler, tokens middleware.TokenValidator) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.Health)

	api := r.Group("/api/v1/cluster", middleware.AuthMiddleware(tokens))
	h.RegisterRoutes(api)
	return r
}

// RegisterRoutes registers the cluster routes
func (h *ClusterHandler) RegisterRoutes(rg *gin.RouterGroup) {
	read := rg.Group("", middleware.RequireScopes(service.ScopeClusterRead))
	read.GET("/presence", h.ListPresence)
	read.GET("/presence/:id", h.GetPresence)

	write := rg.Group("", middleware.RequireScopes(service.ScopeClusterWrite))
	write.POST("/kick", h.Kick)
	write.POST("/kick-by-name", h.KickByName)
	write.POST("/send", h.Send)
	write.POST("/send-all", h.SendAll)
	write.POST("/broadcast", h.Broadcast)
	write.POST("/mute", h.Mute)
}

func (h *ClusterHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:   "ok",
		Identity: h.cluster.Identity(),
		Sync:     h.cluster.State().String(),
	})
}

func (h *ClusterHandler) ListPresence(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	entries, err := h.cluster.Entries(ctx)
	if err != nil {
		h.logger.Error("presence_list_failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence store unavailable"})
		return
	}
	c.JSON(http.StatusOK, dto.PresenceListResponse{Count: len(entries), Sessions: entries})
}

func (h *ClusterHandler) GetPresence(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	instance, ok := h.cluster.Locate(ctx, id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session location unknown"})
		return
	}
	c.JSON(http.StatusOK, dto.PresenceResponse{SessionID: id, Instance: instance})
}

func (h *ClusterHandler) Kick(c *gin.Context) {
	var req dto.KickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.run(c, "kick", func(ctx context.Context) error {
		return h.cluster.Kick(ctx, req.SessionID, req.Reason)
	})
}

func (h *ClusterHandler) KickByName(c *gin.Context) {
	var req dto.KickByNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.run(c, "kick_by_name", func(ctx context.Context) error {
		return h.cluster.KickByName(ctx, req.Username, req.Reason)
	})
}

func (h *ClusterHandler) Send(c *gin.Context) {
	var req dto.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.run(c, "send", func(ctx context.Context) error {
		return h.cluster.SendPlayer(ctx, req.SessionID, req.Server)
	})
}

func (h *ClusterHandler) SendAll(c *gin.Context) {
	var req dto.SendAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.run(c, "send_all", func(ctx context.Context) error {
		return h.cluster.SendAll(ctx, req.Server)
	})
}

func (h *ClusterHandler) Broadcast(c *gin.Context) {
	var req dto.BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.run(c, "broadcast", func(ctx context.Context) error {
		return h.cluster.Broadcast(ctx, req.Text)
	})
}

func (h *ClusterHandler) Mute(c *gin.Context) {
	var req dto.MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.run(c, "mute", func(ctx context.Context) error {
		return h.cluster.MuteApplied(ctx, req.SessionID, req.Reason, req.Duration)
	})
}

// run executes a network action and maps the outcome to a response.
func (h *ClusterHandler) run(c *gin.Context, action string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		h.logger.Error("network_action_failed", "action", action, "operator", c.GetString("operator"), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("network_action_accepted", "action", action, "operator", c.GetString("operator"))
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
