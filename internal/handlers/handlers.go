package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"gigworks/api_credits/internal/boost"
	"gigworks/api_credits/internal/payments"
	"gigworks/api_credits/internal/wallet"
	"gigworks/api_credits/pkg/logging"
	"gigworks/api_credits/pkg/models"
)

// ErrorResponse is the uniform error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// BursarMetrics counts credit-surface operations
type BursarMetrics struct {
	BoostPurchases *prometheus.CounterVec // labels: boost_type, status
	CreditOps      *prometheus.CounterVec // labels: operation, status
}

func (m *BursarMetrics) countBoost(boostType models.BoostType, status string) {
	if m == nil || m.BoostPurchases == nil {
		return
	}
	m.BoostPurchases.WithLabelValues(string(boostType), status).Inc()
}

func (m *BursarMetrics) countCredit(operation, status string) {
	if m == nil || m.CreditOps == nil {
		return
	}
	m.CreditOps.WithLabelValues(operation, status).Inc()
}

// Handlers carries the request-surface dependencies. Everything is injected
// at construction; there is no package-level mutable state.
type Handlers struct {
	wallets  *wallet.Store
	boosts   *boost.Manager
	payments *payments.Service
	metrics  *BursarMetrics
	logger   logging.Logger
}

// New creates the HTTP handlers
func New(wallets *wallet.Store, boosts *boost.Manager, paymentsService *payments.Service, metrics *BursarMetrics, logger logging.Logger) *Handlers {
	return &Handlers{
		wallets:  wallets,
		boosts:   boosts,
		payments: paymentsService,
		metrics:  metrics,
		logger:   logger,
	}
}

// GetWallet returns the caller's wallet, creating it on first reference
func (h *Handlers) GetWallet(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "User context required"})
		return
	}

	w, err := h.wallets.GetOrCreate(c.Request.Context(), userID, models.OwnerUser)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load wallet")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load wallet"})
		return
	}

	c.JSON(http.StatusOK, w)
}

// TransactionsResponse is a page of ledger history
type TransactionsResponse struct {
	Transactions []models.CreditTransaction `json:"transactions"`
	Total        int64                      `json:"total"`
	Page         int                        `json:"page"`
	Limit        int                        `json:"limit"`
}

// GetTransactions returns a page of the caller's ledger history
func (h *Handlers) GetTransactions(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "User context required"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	txType := models.TransactionType(c.Query("type"))

	w, err := h.wallets.GetOrCreate(c.Request.Context(), userID, models.OwnerUser)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load wallet")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load wallet"})
		return
	}

	txns, total, err := h.wallets.Transactions(c.Request.Context(), w.ID, page, limit, txType)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load transactions")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load transactions"})
		return
	}

	c.JSON(http.StatusOK, TransactionsResponse{
		Transactions: txns,
		Total:        total,
		Page:         page,
		Limit:        limit,
	})
}

// GetBoosts returns all boosts bought from the caller's wallet
func (h *Handlers) GetBoosts(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "User context required"})
		return
	}

	w, err := h.wallets.GetOrCreate(c.Request.Context(), userID, models.OwnerUser)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load wallet")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load wallet"})
		return
	}

	boosts, err := h.boosts.ListByWallet(c.Request.Context(), w.ID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load boosts")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load boosts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"boosts": boosts, "count": len(boosts)})
}

// PurchaseCreditsRequest starts a credit purchase
type PurchaseCreditsRequest struct {
	PackageID string `json:"package_id" binding:"required"`
	Gateway   string `json:"gateway" binding:"required"`
}

// PurchaseCredits creates a gateway order for a credit package
func (h *Handlers) PurchaseCredits(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "User context required"})
		return
	}

	var req PurchaseCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "package_id and gateway are required"})
		return
	}

	result, err := h.payments.CreateOrder(c.Request.Context(), userID, req.PackageID, req.Gateway)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrPackageNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Credit package not found"})
		case errors.Is(err, payments.ErrUnknownGateway):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Unknown payment gateway"})
		default:
			h.logger.WithError(err).Error("Failed to create payment order")
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to create payment order"})
		}
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ConfirmPaymentRequest carries a gateway confirmation callback
type ConfirmPaymentRequest struct {
	PaymentID        string `json:"payment_id" binding:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
}

// ConfirmPayment verifies a gateway confirmation and credits the wallet.
// Duplicate confirmations are no-ops.
func (h *Handlers) ConfirmPayment(c *gin.Context) {
	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "payment_id, gateway_payment_id and signature are required"})
		return
	}

	result, err := h.payments.Confirm(c.Request.Context(), req.PaymentID, req.GatewayPaymentID, req.Signature)
	if err != nil {
		h.metrics.countCredit("confirm", "error")
		switch {
		case errors.Is(err, payments.ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Payment not found"})
		case errors.Is(err, payments.ErrVerificationFailed):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Payment verification failed"})
		default:
			h.logger.WithError(err).Error("Failed to confirm payment")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to confirm payment"})
		}
		return
	}

	h.metrics.countCredit("confirm", "success")
	c.JSON(http.StatusOK, result)
}

// BoostProfileRequest boosts the caller's own profile
type BoostProfileRequest struct {
	DurationHours int `json:"duration_hours"`
}

// BoostProfile buys a profile boost for the caller
func (h *Handlers) BoostProfile(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "User context required"})
		return
	}

	var req BoostProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	h.purchaseBoost(c, userID, models.BoostProfile, boost.Target{ID: userID, Type: "user"}, req.DurationHours)
}

// BoostGigRequest boosts a gig
type BoostGigRequest struct {
	GigID         string `json:"gig_id" binding:"required"`
	DurationHours int    `json:"duration_hours"`
}

// BoostGig buys a gig boost
func (h *Handlers) BoostGig(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "User context required"})
		return
	}

	var req BoostGigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "gig_id is required"})
		return
	}

	h.purchaseBoost(c, userID, models.BoostGig, boost.Target{ID: req.GigID, Type: "gig"}, req.DurationHours)
}

// BoostClanRequest boosts a clan
type BoostClanRequest struct {
	ClanID        string `json:"clan_id" binding:"required"`
	DurationHours int    `json:"duration_hours"`
}

// BoostClan buys a clan boost
func (h *Handlers) BoostClan(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "User context required"})
		return
	}

	var req BoostClanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "clan_id is required"})
		return
	}

	h.purchaseBoost(c, userID, models.BoostClan, boost.Target{ID: req.ClanID, Type: "clan"}, req.DurationHours)
}

func (h *Handlers) purchaseBoost(c *gin.Context, userID string, boostType models.BoostType, target boost.Target, durationHours int) {
	result, err := h.boosts.Purchase(c.Request.Context(), userID, boostType, target, durationHours)
	if err != nil {
		h.metrics.countBoost(boostType, "error")
		switch {
		case errors.Is(err, wallet.ErrInsufficientBalance):
			c.JSON(http.StatusPaymentRequired, ErrorResponse{Error: "Insufficient credit balance"})
		case errors.Is(err, boost.ErrAlreadyBoosted):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Target already has an active boost"})
		case errors.Is(err, boost.ErrTargetNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Boost target not found"})
		case errors.Is(err, boost.ErrInvalidDuration):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid boost duration"})
		case errors.Is(err, boost.ErrExternalServiceUnavailable):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Service unavailable, no credits were spent"})
		default:
			h.logger.WithError(err).Error("Failed to purchase boost")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to purchase boost"})
		}
		return
	}

	h.metrics.countBoost(boostType, "success")
	c.JSON(http.StatusCreated, result)
}

// ContributeRequest donates credits to a clan
type ContributeRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// Contribute transfers credits from the caller to a clan wallet
func (h *Handlers) Contribute(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "User context required"})
		return
	}

	clanID := c.Param("clan_id")
	if clanID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Clan ID required"})
		return
	}

	var req ContributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "amount is required"})
		return
	}

	result, err := h.boosts.Contribute(c.Request.Context(), userID, clanID, req.Amount)
	if err != nil {
		h.metrics.countCredit("contribute", "error")
		switch {
		case errors.Is(err, wallet.ErrInsufficientBalance):
			c.JSON(http.StatusPaymentRequired, ErrorResponse{Error: "Insufficient credit balance"})
		case errors.Is(err, boost.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Contribution amount must be positive"})
		case errors.Is(err, boost.ErrTargetNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Clan not found"})
		case errors.Is(err, boost.ErrExternalServiceUnavailable):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Service unavailable, no credits were spent"})
		default:
			h.logger.WithError(err).Error("Failed to contribute to clan")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to contribute"})
		}
		return
	}

	h.metrics.countCredit("contribute", "success")
	c.JSON(http.StatusOK, result)
}

// AwardCreditsRequest grants credits outside the purchase flow
type AwardCreditsRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Description string `json:"description"`
}

// AwardCredits credits a user's wallet; reachable with a service token or
// an admin session
func (h *Handlers) AwardCredits(c *gin.Context) {
	var req AwardCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "user_id, amount and type are required"})
		return
	}

	w, txn, err := h.payments.Award(c.Request.Context(), req.UserID, req.Amount, models.TransactionType(req.Type), req.Description)
	if err != nil {
		h.metrics.countCredit("award", "error")
		if errors.Is(err, payments.ErrInvalidAward) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid award amount or type"})
			return
		}
		h.logger.WithError(err).Error("Failed to award credits")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to award credits"})
		return
	}

	h.metrics.countCredit("award", "success")
	c.JSON(http.StatusOK, gin.H{"wallet": w, "transaction": txn})
}

// GetPackages lists the purchasable credit bundles
func (h *Handlers) GetPackages(c *gin.Context) {
	pkgs := h.payments.Packages()
	c.JSON(http.StatusOK, gin.H{"packages": pkgs, "count": len(pkgs)})
}

// GetBoostPricing lists boost costs and duration bounds
func (h *Handlers) GetBoostPricing(c *gin.Context) {
	pricing := h.boosts.Config().PricingList()
	c.JSON(http.StatusOK, gin.H{"pricing": pricing})
}
