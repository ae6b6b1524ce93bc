package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"raspadinha-platform/internal/database"
)

// handleListTiers returns the tier commission table
func (s *Server) handleListTiers(c *gin.Context) {
	tiers, err := s.store.ListTierConfigs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tiers": tiers})
}

type updateTierRequest struct {
	PercentageRate decimal.Decimal `json:"percentage_rate" binding:"required"`
	FixedAmount    decimal.Decimal `json:"fixed_amount" binding:"required"`
	MinEarnings    decimal.Decimal `json:"min_earnings"`
}

// handleUpdateTier updates one tier's commission defaults. Rate changes
// apply to future conversions only, recorded commissions are immutable.
func (s *Server) handleUpdateTier(c *gin.Context) {
	tier := c.Param("tier")

	var req updateTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.PercentageRate.IsNegative() || req.FixedAmount.IsNegative() || req.MinEarnings.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Tier values must not be negative"})
		return
	}

	err := s.store.UpdateTierConfig(c.Request.Context(), tier, req.PercentageRate, req.FixedAmount, req.MinEarnings)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tier not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "tier": tier})
}

// handlePromoteTiers runs the tier promotion sweep over approved earnings
func (s *Server) handlePromoteTiers(c *gin.Context) {
	promoted, err := s.store.PromoteEligibleAffiliates(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if promoted > 0 {
		s.eventBus.PublishTierPromoted(promoted)
	}
	c.JSON(http.StatusOK, gin.H{"promoted": promoted})
}

type cancelConversionRequest struct {
	Reason string `json:"reason"`
}

// handleCancelConversion voids a conversion (chargeback, fraud) and claws
// back the credited commission
func (s *Server) handleCancelConversion(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversion ID"})
		return
	}

	var req cancelConversionRequest
	_ = c.ShouldBindJSON(&req) // reason is optional

	conversion, clawback, err := s.store.CancelConversion(c.Request.Context(), id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversion not found"})
		case errors.Is(err, database.ErrConversionNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"error": "Conversion already paid, cannot cancel"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	clawbackAmount := ""
	if clawback != nil {
		clawbackAmount = clawback.Amount.StringFixed(2)
	}
	s.eventBus.PublishConversionCancelled(conversion.ID, conversion.DepositID, req.Reason, clawbackAmount)

	c.JSON(http.StatusOK, gin.H{
		"status":     "cancelled",
		"conversion": conversion,
		"clawback":   clawback,
	})
}

type markPaidRequest struct {
	ConversionIDs []int64 `json:"conversion_ids" binding:"required"`
}

// handleMarkConversionsPaid bulk-moves completed conversions to paid after
// a payout cycle
func (s *Server) handleMarkConversionsPaid(c *gin.Context) {
	var req markPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	updated, err := s.store.MarkConversionsPaid(c.Request.Context(), req.ConversionIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// handleReconcile runs a reconciliation sweep on demand. dry_run=true
// reports drift without repairing it.
func (s *Server) handleReconcile(c *gin.Context) {
	if s.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Reconciliation not available"})
		return
	}

	dryRun := c.DefaultQuery("dry_run", "false") == "true"
	report, err := s.reconciler.Run(c.Request.Context(), dryRun)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "partial_report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}
