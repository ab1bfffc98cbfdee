package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/acethrift/ace/internal/token"
	"github.com/acethrift/ace/internal/validation"
)

// Handler provides HTTP endpoints for ledger operations.
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler creates a new ledger handler.
func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// RegisterRoutes sets up public (read-only) ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:address/balance", h.GetBalance)
	r.GET("/accounts/:address/ledger", h.GetHistory)
	r.GET("/accounts/:address/allowance", h.GetAllowance)
}

// RegisterProtectedRoutes sets up auth-required ledger routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/accounts/:address/withdraw", h.Withdraw)
	r.POST("/accounts/:address/transfer", h.Transfer)
	r.POST("/accounts/:address/approve", h.Approve)
}

// RegisterAdminRoutes sets up admin-only ledger routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/deposits", h.Deposit)
	r.GET("/admin/reconcile/:address", h.Reconcile)
}

// GetBalance handles GET /v1/accounts/:address/balance
func (h *Handler) GetBalance(c *gin.Context) {
	address := c.Param("address")
	denom, ok := denomQuery(c)
	if !ok {
		return
	}

	bal, err := h.ledger.GetBalance(c.Request.Context(), address, denom)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "balance_error", "message": "Failed to load balance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

// GetHistory handles GET /v1/accounts/:address/ledger
func (h *Handler) GetHistory(c *gin.Context) {
	address := c.Param("address")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.ledger.History(c.Request.Context(), address, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_error", "message": "Failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// GetAllowance handles GET /v1/accounts/:address/allowance
func (h *Handler) GetAllowance(c *gin.Context) {
	address := c.Param("address")
	denom, ok := denomQuery(c)
	if !ok {
		return
	}

	amount, err := h.ledger.Allowance(c.Request.Context(), address, denom)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "allowance_error", "message": "Failed to load allowance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowance": amount, "denom": denom, "spender": SpenderMarketplace})
}

// DepositRequest credits an account after an observed on-ramp deposit.
type DepositRequest struct {
	Address string `json:"address" binding:"required"`
	Denom   string `json:"denom" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
	TxHash  string `json:"txHash"`
}

// Deposit handles POST /v1/admin/deposits
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if errs := validation.Validate(
		validation.ValidAddress("address", req.Address),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}
	denom := token.Denom(strings.ToLower(req.Denom))
	if !denom.Valid() {
		badRequest(c, "denom must be ace or eth")
		return
	}

	err := h.ledger.Deposit(c.Request.Context(), req.Address, denom, req.Amount, req.TxHash)
	if err != nil {
		if errors.Is(err, ErrDuplicateDeposit) {
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate_deposit", "message": "Deposit already processed"})
			return
		}
		h.logger.Error("deposit failed", "address", req.Address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deposit_failed", "message": "Failed to process deposit"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "credited"})
}

// WithdrawRequest debits an account's available balance.
type WithdrawRequest struct {
	Denom  string `json:"denom" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// Withdraw handles POST /v1/accounts/:address/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	address := c.Param("address")
	if !callerIs(c, address) {
		return
	}

	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if errs := validation.Validate(validation.ValidAmount("amount", req.Amount)); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}
	denom := token.Denom(strings.ToLower(req.Denom))
	if !denom.Valid() {
		badRequest(c, "denom must be ace or eth")
		return
	}

	err := h.ledger.Withdraw(c.Request.Context(), address, denom, req.Amount, "withdrawal")
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_balance", "message": "Insufficient available balance"})
			return
		}
		h.logger.Error("withdrawal failed", "address", address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "withdraw_failed", "message": "Failed to process withdrawal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "withdrawn"})
}

// TransferRequest moves available funds to another account.
type TransferRequest struct {
	To     string `json:"to" binding:"required"`
	Denom  string `json:"denom" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// Transfer handles POST /v1/accounts/:address/transfer
func (h *Handler) Transfer(c *gin.Context) {
	address := c.Param("address")
	if !callerIs(c, address) {
		return
	}

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if errs := validation.Validate(
		validation.ValidAddress("to", req.To),
		validation.Required("to", req.To),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}
	denom := token.Denom(strings.ToLower(req.Denom))
	if !denom.Valid() {
		badRequest(c, "denom must be ace or eth")
		return
	}

	err := h.ledger.Transfer(c.Request.Context(), address, req.To, denom, req.Amount, "transfer")
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_balance", "message": "Insufficient available balance"})
			return
		}
		h.logger.Error("transfer failed", "from", address, "to", req.To, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transfer_failed", "message": "Failed to transfer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "transferred"})
}

// ApproveRequest sets the marketplace spending allowance.
type ApproveRequest struct {
	Denom  string `json:"denom" binding:"required"`
	Amount string `json:"amount"`
}

// Approve handles POST /v1/accounts/:address/approve
func (h *Handler) Approve(c *gin.Context) {
	address := c.Param("address")
	if !callerIs(c, address) {
		return
	}

	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if errs := validation.Validate(validation.NonNegativeAmount("amount", req.Amount)); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}
	denom := token.Denom(strings.ToLower(req.Denom))
	if !denom.Valid() {
		badRequest(c, "denom must be ace or eth")
		return
	}

	if err := h.ledger.Approve(c.Request.Context(), address, denom, req.Amount); err != nil {
		h.logger.Error("approve failed", "address", address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "approve_failed", "message": "Failed to set allowance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

// Reconcile handles GET /v1/admin/reconcile/:address. It replays the
// entry log and diffs it against the stored balance in each denomination.
func (h *Handler) Reconcile(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	results := make([]*ReconciliationResult, 0, 2)
	for _, denom := range []token.Denom{token.DenomACE, token.DenomETH} {
		bal, err := h.ledger.GetBalance(c.Request.Context(), address, denom)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile_error", "message": "Failed to load balance"})
			return
		}
		entries, err := h.ledger.AllEntries(c.Request.Context(), address)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile_error", "message": "Failed to load entries"})
			return
		}
		results = append(results, Reconcile(bal, entries))
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func denomQuery(c *gin.Context) (token.Denom, bool) {
	denom := token.Denom(strings.ToLower(c.DefaultQuery("denom", string(token.DenomACE))))
	if !denom.Valid() {
		badRequest(c, "denom must be ace or eth")
		return "", false
	}
	return denom, true
}

func callerIs(c *gin.Context, address string) bool {
	caller := c.GetString("authAddr")
	if !strings.EqualFold(caller, address) {
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized", "message": "Authenticated account does not match address"})
		return false
	}
	return true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": msg})
}

func validationFailed(c *gin.Context, errs validation.ValidationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error(), "details": errs})
}
