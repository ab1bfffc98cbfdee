package webhooks

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/acethrift/ace/internal/idgen"
	"github.com/acethrift/ace/internal/security"
)

// Handler exposes subscription management over HTTP.
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler creates a new webhooks HTTP handler.
func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// RegisterProtectedRoutes registers endpoints requiring authentication.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.Create)
	r.GET("/webhooks", h.List)
	r.DELETE("/webhooks/:id", h.Delete)
}

// CreateRequest registers a new endpoint.
type CreateRequest struct {
	URL        string   `json:"url" binding:"required"`
	EventTypes []string `json:"eventTypes"`
}

// Create handles POST /webhooks. The signing secret is returned exactly
// once; deliveries are signed with it from then on.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	secret, err := NewSecret()
	if err != nil {
		h.logger.Error("secret generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	sub := &Subscription{
		ID:         idgen.WithPrefix("wh_"),
		Owner:      strings.ToLower(c.GetString("authAddr")),
		URL:        req.URL,
		Secret:     secret,
		EventTypes: req.EventTypes,
		Active:     true,
		CreatedAt:  time.Now(),
	}
	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		h.logger.Error("subscription create failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.logger.Info("webhook registered", "subscription", sub.ID, "url", sub.URL)
	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       secret,
		"note":         "Store this secret securely. It will not be shown again.",
	})
}

// List handles GET /webhooks.
func (h *Handler) List(c *gin.Context) {
	subs, err := h.store.ListByOwner(c.Request.Context(), c.GetString("authAddr"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// Delete handles DELETE /webhooks/:id.
func (h *Handler) Delete(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrSubscriptionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !strings.EqualFold(sub.Owner, c.GetString("authAddr")) {
		c.JSON(http.StatusForbidden, gin.H{"error": ErrNotOwner.Error()})
		return
	}

	if err := h.store.Delete(c.Request.Context(), sub.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
