package auth

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/acethrift/ace/internal/validation"
)

// Handler provides HTTP endpoints for key management.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a new auth handler.
func NewHandler(m *Manager, logger *slog.Logger) *Handler {
	return &Handler{manager: m, logger: logger}
}

// RegisterRoutes registers public auth endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/register", h.Register)
}

// RegisterProtectedRoutes registers endpoints requiring authentication.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/keys", h.ListKeys)
	r.POST("/auth/keys", h.CreateKey)
	r.DELETE("/auth/keys/:id", h.RevokeKey)
}

// RegisterRequest binds an address to a fresh key.
type RegisterRequest struct {
	Address string `json:"address" binding:"required"`
	Name    string `json:"name"`
}

// Register handles POST /auth/register. Issues a key for a wallet
// address; the raw key is returned exactly once.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !validation.IsValidAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	raw, key, err := h.manager.GenerateKey(c.Request.Context(), req.Address, req.Name)
	if err != nil {
		h.logger.Error("key generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.logger.Info("account registered", "address", key.Address, "keyId", key.ID)
	c.JSON(http.StatusCreated, gin.H{
		"apiKey": raw,
		"key":    key,
		"note":   "Store this key securely. It will not be shown again.",
	})
}

// CreateKey handles POST /auth/keys. Issues an additional key for the
// already-authenticated address.
func (h *Handler) CreateKey(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	c.ShouldBindJSON(&req)

	addr := GetAuthenticatedAddress(c)
	raw, key, err := h.manager.GenerateKey(c.Request.Context(), addr, req.Name)
	if err != nil {
		h.logger.Error("key generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"apiKey": raw, "key": key})
}

// ListKeys handles GET /auth/keys.
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.manager.ListKeys(c.Request.Context(), GetAuthenticatedAddress(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list keys"})
		return
	}
	if keys == nil {
		keys = []*APIKey{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// RevokeKey handles DELETE /auth/keys/:id.
func (h *Handler) RevokeKey(c *gin.Context) {
	err := h.manager.RevokeKey(c.Request.Context(), c.Param("id"), GetAuthenticatedAddress(c))
	if err == ErrKeyNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
