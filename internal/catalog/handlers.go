package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/acethrift/ace/internal/pagination"
	"github.com/acethrift/ace/internal/validation"
)

// Handler exposes catalog operations over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new catalog HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers public read endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/products", h.List)
	r.GET("/products/:id", h.Get)
}

// RegisterProtectedRoutes registers endpoints requiring authentication.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/products", h.Create)
	r.PATCH("/products/:id", h.Update)
	r.DELETE("/products/:id", h.Delete)
}

// Create handles POST /products.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Seller = c.GetString("authAddr")

	if err := validation.Validate(
		validation.Required("name", req.Name),
		validation.MaxLength("name", req.Name, 200),
		validation.MaxLength("description", req.Description, 2000),
		validation.NonNegativeAmount("tokenPrice", req.TokenPrice),
		validation.NonNegativeAmount("ethPrice", req.EthPrice),
	); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("product listed", "product", p.ID, "seller", p.Seller, "quantity", p.Quantity)
	c.JSON(http.StatusCreated, p)
}

// Get handles GET /products/:id.
func (h *Handler) Get(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// List handles GET /products. Supports seller, category, gender and
// exchangeOnly filters plus cursor pagination.
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	q := Query{
		Seller:       c.Query("seller"),
		Category:     c.Query("category"),
		Gender:       c.Query("gender"),
		ExchangeOnly: c.Query("exchangeOnly") == "true",
		Cursor:       c.Query("cursor"),
		Limit:        limit,
	}

	products, next, err := h.service.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}
	if products == nil {
		products = []*Product{}
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "nextCursor": next})
}

// Update handles PATCH /products/:id.
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	p, err := h.service.Update(c.Request.Context(), c.Param("id"), c.GetString("authAddr"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Delete handles DELETE /products/:id.
func (h *Handler) Delete(c *gin.Context) {
	err := h.service.Delete(c.Request.Context(), c.Param("id"), c.GetString("authAddr"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotSeller):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrProductUnavailable), errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidQuantity):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, pagination.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
	default:
		h.logger.Error("catalog request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
