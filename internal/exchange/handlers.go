package exchange

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/acethrift/ace/internal/catalog"
	"github.com/acethrift/ace/internal/ledger"
)

// Handler exposes exchange offer operations over HTTP.
type Handler struct {
	registry *Registry
	logger   *slog.Logger
}

// NewHandler creates a new exchange HTTP handler.
func NewHandler(registry *Registry, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// RegisterRoutes registers public read endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/products/:id/offers", h.ListByProduct)
	r.GET("/products/:id/offers/:index", h.Get)
	r.GET("/accounts/:address/offers", h.ListByOfferer)
}

// RegisterProtectedRoutes registers endpoints requiring authentication.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/offers", h.Create)
	r.POST("/products/:id/offers/:index/accept", h.Accept)
	r.POST("/products/:id/offers/:index/cancel", h.Cancel)
}

// Create handles POST /offers.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Offerer = c.GetString("authAddr")

	o, err := h.registry.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("exchange offer created",
		"wanted", o.WantedProductID, "offered", o.OfferedProductID,
		"index", o.Index, "topUp", o.TokenTopUp)
	c.JSON(http.StatusCreated, o)
}

// Accept handles POST /products/:id/offers/:index/accept.
func (h *Handler) Accept(c *gin.Context) {
	index, ok := offerIndex(c)
	if !ok {
		return
	}
	o, e, err := h.registry.Accept(c.Request.Context(), c.Param("id"), index, c.GetString("authAddr"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("exchange offer accepted",
		"wanted", o.WantedProductID, "index", o.Index, "escrow", e.ID)
	c.JSON(http.StatusOK, gin.H{"offer": o, "escrow": e})
}

// Cancel handles POST /products/:id/offers/:index/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	index, ok := offerIndex(c)
	if !ok {
		return
	}
	o, err := h.registry.Cancel(c.Request.Context(), c.Param("id"), index, c.GetString("authAddr"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// Get handles GET /products/:id/offers/:index.
func (h *Handler) Get(c *gin.Context) {
	index, ok := offerIndex(c)
	if !ok {
		return
	}
	o, err := h.registry.Get(c.Request.Context(), c.Param("id"), index)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// ListByProduct handles GET /products/:id/offers.
func (h *Handler) ListByProduct(c *gin.Context) {
	offers, err := h.registry.ListByProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if offers == nil {
		offers = []*Offer{}
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

// ListByOfferer handles GET /accounts/:address/offers.
func (h *Handler) ListByOfferer(c *gin.Context) {
	offers, err := h.registry.ListByOfferer(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if offers == nil {
		offers = []*Offer{}
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

func offerIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offer index"})
		return 0, false
	}
	return index, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOfferNotFound), errors.Is(err, catalog.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrOfferInactive), errors.Is(err, catalog.ErrProductUnavailable),
		errors.Is(err, catalog.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrSelfExchange), errors.Is(err, ErrNotExchangeable),
		errors.Is(err, ErrInvalidTopUp):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientAllowance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	default:
		h.logger.Error("exchange request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
