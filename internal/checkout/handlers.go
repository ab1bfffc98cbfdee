package checkout

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/acethrift/ace/internal/catalog"
	"github.com/acethrift/ace/internal/escrow"
	"github.com/acethrift/ace/internal/ledger"
)

// Handler exposes bulk settlement over HTTP.
type Handler struct {
	coordinator *Coordinator
	logger      *slog.Logger
}

// NewHandler creates a new checkout HTTP handler.
func NewHandler(coordinator *Coordinator, logger *slog.Logger) *Handler {
	return &Handler{coordinator: coordinator, logger: logger}
}

// RegisterProtectedRoutes registers endpoints requiring authentication.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/checkout/bulk", h.Purchase)
}

// Purchase handles POST /checkout/bulk.
func (h *Handler) Purchase(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	buyer := c.GetString("authAddr")
	escrows, err := h.coordinator.Purchase(c.Request.Context(), buyer, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	ids := make([]int64, len(escrows))
	for i, e := range escrows {
		ids[i] = e.ID
	}
	h.logger.Info("bulk purchase settled", "buyer", buyer, "lines", len(escrows), "escrows", ids)
	c.JSON(http.StatusCreated, gin.H{"escrowIds": ids, "escrows": escrows})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrArrayLengthMismatch), errors.Is(err, ErrBulkLimitExceeded),
		errors.Is(err, ErrEmptyBatch), errors.Is(err, escrow.ErrPaymentMismatch),
		errors.Is(err, escrow.ErrInvalidDenom), errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, catalog.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, catalog.ErrProductUnavailable), errors.Is(err, catalog.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientAllowance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	default:
		h.logger.Error("bulk purchase failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
