package escrow

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/acethrift/ace/internal/catalog"
	"github.com/acethrift/ace/internal/ledger"
)

// Handler exposes escrow operations over HTTP.
type Handler struct {
	engine *Engine
	logger *slog.Logger
}

// NewHandler creates a new escrow HTTP handler.
func NewHandler(engine *Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// RegisterRoutes registers public read endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/:id", h.Get)
	r.GET("/escrows", h.GetBatch)
	r.GET("/accounts/:address/escrows", h.ListByUser)
	r.GET("/stats/escrows", h.Stats)
}

// RegisterProtectedRoutes registers endpoints requiring authentication.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.Create)
	r.POST("/escrows/:id/confirm", h.Confirm)
	r.POST("/escrows/:id/refund", h.Refund)
}

// RegisterAdminRoutes registers admin-only endpoints.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/escrows/:id/refund", h.AdminRefund)
}

// Create handles POST /escrows.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Buyer = c.GetString("authAddr")

	e, err := h.engine.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("escrow created",
		"escrow", e.ID, "product", e.ProductID, "buyer", e.Buyer,
		"amount", e.Amount, "denom", e.Denom, "quantity", e.Quantity)
	c.JSON(http.StatusCreated, e)
}

// Confirm handles POST /escrows/:id/confirm.
func (h *Handler) Confirm(c *gin.Context) {
	id, ok := escrowID(c)
	if !ok {
		return
	}
	e, err := h.engine.Confirm(c.Request.Context(), id, c.GetString("authAddr"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if e.Completed {
		h.logger.Info("escrow completed", "escrow", e.ID, "product", e.ProductID)
	}
	c.JSON(http.StatusOK, e)
}

// Refund handles POST /escrows/:id/refund.
func (h *Handler) Refund(c *gin.Context) {
	id, ok := escrowID(c)
	if !ok {
		return
	}
	e, err := h.engine.Refund(c.Request.Context(), id, c.GetString("authAddr"), false)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("escrow refunded", "escrow", e.ID, "product", e.ProductID)
	c.JSON(http.StatusOK, e)
}

// AdminRefund handles POST /admin/escrows/:id/refund. Bypasses the party
// and deadline checks for dispute resolution.
func (h *Handler) AdminRefund(c *gin.Context) {
	id, ok := escrowID(c)
	if !ok {
		return
	}
	e, err := h.engine.Refund(c.Request.Context(), id, "", true)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Warn("escrow refunded by admin", "escrow", e.ID, "product", e.ProductID)
	c.JSON(http.StatusOK, e)
}

// Get handles GET /escrows/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := escrowID(c)
	if !ok {
		return
	}
	e, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GetBatch handles GET /escrows?ids=1,2,3.
func (h *Handler) GetBatch(c *gin.Context) {
	raw := strings.Split(c.Query("ids"), ",")
	if len(raw) == 0 || raw[0] == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids parameter required"})
		return
	}
	if len(raw) > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many ids"})
		return
	}
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid escrow id"})
			return
		}
		ids = append(ids, id)
	}

	escrows, err := h.engine.GetBatch(c.Request.Context(), ids)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if escrows == nil {
		escrows = []*Escrow{}
	}
	c.JSON(http.StatusOK, gin.H{"escrows": escrows})
}

// ListByUser handles GET /accounts/:address/escrows.
func (h *Handler) ListByUser(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	escrows, err := h.engine.ListByUser(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if escrows == nil {
		escrows = []*Escrow{}
	}
	c.JSON(http.StatusOK, gin.H{"escrows": escrows})
}

// Stats handles GET /stats/escrows.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context(), c.Query("seller"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func escrowID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid escrow id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEscrowNotFound), errors.Is(err, catalog.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrAlreadyFinalized), errors.Is(err, ErrDeadlineNotReached),
		errors.Is(err, catalog.ErrProductUnavailable), errors.Is(err, catalog.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrPaymentMismatch), errors.Is(err, ErrInvalidDenom),
		errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientAllowance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	default:
		h.logger.Error("escrow request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
