package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moneta/money-transfer/internal/domain"
	"github.com/moneta/money-transfer/internal/engine"
	"github.com/moneta/money-transfer/internal/queue"
)

// Handler contains all HTTP handlers.
type Handler struct {
	engine *engine.Engine
	queue  *queue.NATSClient
}

// NewHandler creates a new handler around the transfer engine. The queue
// client backs the async transfer endpoint and may be nil when the service
// runs without NATS.
func NewHandler(eng *engine.Engine, q *queue.NATSClient) *Handler {
	return &Handler{engine: eng, queue: q}
}

// TransferRequest is the request body for the transfer endpoint.
type TransferRequest struct {
	Currency      string `json:"currency" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	FromAccount   string `json:"from_account" binding:"required"`
	ToAccount     string `json:"to_account" binding:"required"`
	TransactionID string `json:"transaction_id"` // Optional, generated if not provided
}

// TransferResponse is the response body for the transfer endpoint.
type TransferResponse struct {
	TransactionID string `json:"transaction_id"`
	Success       bool   `json:"success"`
	Kind          string `json:"kind,omitempty"`
	Message       string `json:"message,omitempty"`
}

// bindTransfer parses the request body into a command, writing the error
// response itself when the body is unusable.
func bindTransfer(c *gin.Context) (domain.TransferRequest, bool) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return domain.TransferRequest{}, false
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal number"})
		return domain.TransferRequest{}, false
	}

	txnID := req.TransactionID
	if txnID == "" {
		txnID = uuid.Must(uuid.NewV7()).String()
	}

	return domain.TransferRequest{
		TransactionID: txnID,
		Currency:      req.Currency,
		Amount:        amount,
		FromAccount:   req.FromAccount,
		ToAccount:     req.ToAccount,
	}, true
}

// Transfer handles POST /v1/transfers
func (h *Handler) Transfer(c *gin.Context) {
	cmd, ok := bindTransfer(c)
	if !ok {
		return
	}

	if err := h.engine.Transfer(c.Request.Context(), cmd); err != nil {
		c.JSON(statusFor(err), TransferResponse{
			TransactionID: cmd.TransactionID,
			Success:       false,
			Kind:          string(domain.KindOf(err)),
			Message:       err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, TransferResponse{
		TransactionID: cmd.TransactionID,
		Success:       true,
		Message:       "transfer completed",
	})
}

// TransferAsync handles POST /v1/transfers/async. The command is queued for
// the engine's NATS consumer; the caller gets the transaction id back right
// away and can watch the completion event for the outcome.
func (h *Handler) TransferAsync(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transfer queue is not configured"})
		return
	}

	cmd, ok := bindTransfer(c)
	if !ok {
		return
	}

	if err := h.queue.PublishTransferAsync(cmd); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, TransferResponse{
		TransactionID: cmd.TransactionID,
		Success:       true,
		Message:       "transfer accepted",
	})
}

// AdjustRequest is the request body for the balance adjustment endpoint.
type AdjustRequest struct {
	Delta string `json:"delta" binding:"required"`
}

// Adjust handles POST /v1/accounts/:account_id/adjust
func (h *Handler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "delta must be a decimal number"})
		return
	}

	accountID := c.Param("account_id")
	if err := h.engine.AdjustBalance(c.Request.Context(), domain.AdjustRequest{
		AccountID: accountID,
		Delta:     delta,
	}); err != nil {
		c.JSON(statusFor(err), gin.H{
			"kind":  string(domain.KindOf(err)),
			"error": err.Error(),
		})
		return
	}

	acc, err := h.engine.GetAccount(accountID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toAccountResponse(acc))
}

// CreateAccountRequest is the request body for account creation.
type CreateAccountRequest struct {
	Owner    string `json:"owner" binding:"required"`
	Balance  string `json:"balance" binding:"required"`
	Currency string `json:"currency" binding:"required"`
}

// CreateAccount handles POST /v1/accounts
func (h *Handler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	balance, err := decimal.NewFromString(req.Balance)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "balance must be a decimal number"})
		return
	}

	acc, err := h.engine.CreateAccount(req.Owner, balance, req.Currency)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"kind":  string(domain.KindOf(err)),
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, toAccountResponse(acc))
}

// AccountResponse is the JSON shape of an account.
type AccountResponse struct {
	ID       string `json:"id"`
	Owner    string `json:"owner"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

func toAccountResponse(acc domain.Account) AccountResponse {
	return AccountResponse{
		ID:       acc.ID,
		Owner:    acc.Owner,
		Balance:  acc.Balance.StringFixed(domain.BalanceScale),
		Currency: acc.Currency,
	}
}

// GetAccount handles GET /v1/accounts/:account_id
func (h *Handler) GetAccount(c *gin.Context) {
	acc, err := h.engine.GetAccount(c.Param("account_id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toAccountResponse(acc))
}

// ListAccounts handles GET /v1/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	accounts := h.engine.ListAccounts()
	out := make([]AccountResponse, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, toAccountResponse(acc))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out, "count": len(out)})
}

// DeleteAccount handles DELETE /v1/accounts/:account_id
func (h *Handler) DeleteAccount(c *gin.Context) {
	if err := h.engine.DeleteAccount(c.Request.Context(), c.Param("account_id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// statusFor maps a failure kind to its HTTP status code.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidRequest, domain.KindCurrencyMismatch:
		return http.StatusBadRequest
	case domain.KindAccountNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientFunds:
		return http.StatusConflict
	case domain.KindLockTimeout:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// SetupRoutes configures all API routes.
func SetupRoutes(r *gin.Engine, h *Handler) {
	// Health check
	r.GET("/health", h.Health)

	// API v1
	v1 := r.Group("/v1")
	{
		v1.POST("/transfers", h.Transfer)
		v1.POST("/transfers/async", h.TransferAsync)
		v1.POST("/accounts", h.CreateAccount)
		v1.GET("/accounts", h.ListAccounts)
		v1.GET("/accounts/:account_id", h.GetAccount)
		v1.DELETE("/accounts/:account_id", h.DeleteAccount)
		v1.POST("/accounts/:account_id/adjust", h.Adjust)
	}
}
