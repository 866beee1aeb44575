package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"companion-service/internal/delivery"
	"companion-service/internal/models"
	"companion-service/internal/push"
	"companion-service/internal/relationship"
	"companion-service/internal/repository"
	"companion-service/internal/turn_processor"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TurnProcessor runs conversation turns.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, req turn_processor.Request) (*turn_processor.Result, error)
}

// ProvidersInfo reports the configured text generators.
type ProvidersInfo interface {
	GetProvidersInfo() []map[string]interface{}
}

// Handler handles HTTP requests
type Handler struct {
	processor TurnProcessor
	profiles  repository.ProfileRepository
	registry  *delivery.Registry
	hub       *push.Hub
	providers ProvidersInfo
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new API handler. providers may be nil.
func NewHandler(processor TurnProcessor, profiles repository.ProfileRepository, registry *delivery.Registry, hub *push.Hub, providers ProvidersInfo, logger *zap.Logger) *Handler {
	return &Handler{
		processor: processor,
		profiles:  profiles,
		registry:  registry,
		hub:       hub,
		providers: providers,
		heartbeat: 15 * time.Second,
		logger:    logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1/conversations/:id")
	{
		api.POST("/messages", h.SendMessage)
		api.POST("/greeting", h.Greet)
		api.GET("/events", h.Events)
		api.GET("/profile", h.GetProfile)
		api.GET("/delivery", h.GetDelivery)
		api.DELETE("", h.Disconnect)
	}

	r.GET("/health", h.HealthCheck)
}

// SendMessageRequest is the body of POST /messages.
type SendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// SendMessage handles POST /api/v1/conversations/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	h.runTurn(c, turn_processor.Request{
		ConversationID: c.Param("id"),
		Message:        &req.Message,
	})
}

// Greet handles POST /api/v1/conversations/:id/greeting
func (h *Handler) Greet(c *gin.Context) {
	h.runTurn(c, turn_processor.Request{
		ConversationID: c.Param("id"),
		IsGreeting:     true,
	})
}

func (h *Handler) runTurn(c *gin.Context, req turn_processor.Request) {
	result, err := h.processor.ProcessTurn(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, turn_processor.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, delivery.ErrTurnInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": "still replying to the previous message"})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			c.JSON(http.StatusRequestTimeout, gin.H{"error": "request cancelled"})
		default:
			h.logger.Error("Failed to process turn",
				zap.String("conversation_id", req.ConversationID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process message"})
		}
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// Events handles GET /api/v1/conversations/:id/events as a server-sent
// event stream.
func (h *Handler) Events(c *gin.Context) {
	id := c.Param("id")
	if err := turn_processor.ValidateConversationID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, unsubscribe := h.hub.Subscribe(id, push.DefaultSubscriberBuffer)
	defer unsubscribe()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	h.logger.Debug("Event stream opened", zap.String("conversation_id", id))

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"conversation_id": id})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Kind), event)
			return true
		}
	})

	h.logger.Debug("Event stream closed", zap.String("conversation_id", id))
}

// GetProfile handles GET /api/v1/conversations/:id/profile
func (h *Handler) GetProfile(c *gin.Context) {
	id := c.Param("id")
	profile, err := h.profiles.Get(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get profile", zap.String("conversation_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve profile"})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile": profile,
		"tier":    tierOf(profile),
	})
}

// GetDelivery handles GET /api/v1/conversations/:id/delivery
func (h *Handler) GetDelivery(c *gin.Context) {
	sched, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active conversation"})
		return
	}
	c.JSON(http.StatusOK, sched.Snapshot())
}

// Disconnect handles DELETE /api/v1/conversations/:id. Pending fragments
// are dropped.
func (h *Handler) Disconnect(c *gin.Context) {
	if !h.registry.Dispose(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active conversation"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	resp := gin.H{
		"status":        "ok",
		"conversations": h.registry.Len(),
		"dropped":       h.hub.Dropped(),
	}
	if h.providers != nil {
		resp["providers"] = h.providers.GetProvidersInfo()
	}
	c.JSON(http.StatusOK, resp)
}

func tierOf(p *models.RelationshipProfile) gin.H {
	tier := relationship.TierFor(p.BondScore)
	return gin.H{"name": tier, "description": tier.Description()}
}
