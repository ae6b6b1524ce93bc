package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"raspadinha-platform/internal/commission"
	"raspadinha-platform/internal/database"
	"raspadinha-platform/internal/wallet"
)

// depositWebhookRequest is the deposit-completed payload from the payments
// provider
type depositWebhookRequest struct {
	DepositID string          `json:"deposit_id" binding:"required"`
	UserID    int64           `json:"user_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
}

// handleDepositCompleted processes a confirmed deposit webhook. Replays
// return 200 with a duplicate marker so the provider stops retrying; a
// partial credit failure returns 500 so it retries and heals the gap.
func (s *Server) handleDepositCompleted(c *gin.Context) {
	var req depositWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := s.commissionSvc.HandleDepositCompleted(c.Request.Context(), commission.DepositEvent{
		DepositID: req.DepositID,
		UserID:    req.UserID,
		Amount:    req.Amount,
	})
	if err != nil {
		if errors.Is(err, commission.ErrInvalidDeposit) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var partial *commission.PartialCreditError
		if errors.As(err, &partial) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":       "Commission partially credited, retry to heal",
				"deposit_id":  partial.DepositID,
				"failed_legs": partial.FailedLegs,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if result.Duplicate {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate", "deposit_id": result.DepositID})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "processed",
		"deposit_id": result.DepositID,
		"attributed": result.Attributed,
		"legs":       result.Legs,
	})
}

type registrationWebhookRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// handleRegistration records a zero-value registration conversion for a
// newly referred user
func (s *Server) handleRegistration(c *gin.Context) {
	var req registrationWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := s.commissionSvc.RecordRegistration(c.Request.Context(), req.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded", "user_id": req.UserID})
}

type payoutResultRequest struct {
	WithdrawalID int64   `json:"withdrawal_id" binding:"required"`
	Status       string  `json:"status" binding:"required"` // completed, failed, rejected
	EndToEndID   *string `json:"end_to_end_id,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

// handlePayoutResult settles a withdrawal from the payout provider's result
func (s *Server) handlePayoutResult(c *gin.Context) {
	var req payoutResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	var w *database.Withdrawal
	var err error
	switch req.Status {
	case database.WithdrawalStatusCompleted:
		w, err = s.walletSvc.ConfirmPayout(c.Request.Context(), req.WithdrawalID, req.EndToEndID)
	case database.WithdrawalStatusFailed, database.WithdrawalStatusRejected:
		w, err = s.walletSvc.FailPayout(c.Request.Context(), req.WithdrawalID, req.Status, req.Reason)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be completed, failed or rejected"})
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Withdrawal not found"})
		case errors.Is(err, database.ErrWithdrawalNotPending):
			// Provider retried a result we already applied
			c.JSON(http.StatusOK, gin.H{"status": "already_settled", "withdrawal_id": req.WithdrawalID})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": w.Status, "withdrawal": w})
}

// principalParams parses and validates the :type/:id path segments
func principalParams(c *gin.Context) (string, int64, bool) {
	principalType := c.Param("type")
	if principalType != database.PrincipalAffiliate && principalType != database.PrincipalPartner {
		c.JSON(http.StatusBadRequest, gin.H{"error": "principal type must be affiliate or partner"})
		return "", 0, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid principal ID"})
		return "", 0, false
	}
	return principalType, id, true
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// handleGetWallet returns a principal's wallet
func (s *Server) handleGetWallet(c *gin.Context) {
	principalType, id, ok := principalParams(c)
	if !ok {
		return
	}

	w, err := s.walletSvc.GetWallet(c.Request.Context(), principalType, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, w)
}

// handleListTransactions returns a principal's transaction history
func (s *Server) handleListTransactions(c *gin.Context) {
	principalType, id, ok := principalParams(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)

	txns, err := s.walletSvc.ListTransactions(c.Request.Context(), principalType, id, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns, "count": len(txns)})
}

// handleListConversions returns a principal's conversion history
func (s *Server) handleListConversions(c *gin.Context) {
	principalType, id, ok := principalParams(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)

	filter := database.ConversionFilter{
		Status:         c.Query("status"),
		ConversionType: c.Query("conversion_type"),
		Limit:          limit,
		Offset:         offset,
	}
	conversions, err := s.store.ListConversionsByPrincipal(c.Request.Context(), principalType, id, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversions": conversions, "count": len(conversions)})
}

// handleListWithdrawals returns a principal's withdrawal history
func (s *Server) handleListWithdrawals(c *gin.Context) {
	principalType, id, ok := principalParams(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)

	withdrawals, err := s.walletSvc.ListWithdrawals(c.Request.Context(), principalType, id, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": withdrawals, "count": len(withdrawals)})
}

type withdrawalRequest struct {
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	PixKey     string          `json:"pix_key"`
	PixKeyType *string         `json:"pix_key_type,omitempty"`
}

// handleRequestWithdrawal places a payout request for a principal
func (s *Server) handleRequestWithdrawal(c *gin.Context) {
	principalType, id, ok := principalParams(c)
	if !ok {
		return
	}

	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	w, err := s.walletSvc.RequestWithdrawal(c.Request.Context(), principalType, id, req.Amount, req.PixKey, req.PixKeyType)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrAmountBelowMinimum),
			errors.Is(err, wallet.ErrAmountAboveMaximum),
			errors.Is(err, wallet.ErrMissingPixKey):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, database.ErrInsufficientFunds):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Insufficient funds"})
		case errors.Is(err, database.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Principal not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, w)
}

// handleDepositConversions returns every conversion leg recorded for one
// deposit, for support tooling
func (s *Server) handleDepositConversions(c *gin.Context) {
	depositID := c.Param("depositId")
	conversions, err := s.store.GetConversionsByDeposit(c.Request.Context(), depositID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deposit_id": depositID, "conversions": conversions})
}
