package database

import (
	"time"

	"github.com/shopspring/decimal"
)

// Principal types
const (
	PrincipalAffiliate = "affiliate"
	PrincipalPartner   = "partner"
)

// Conversion legs
const (
	LegAffiliate = "affiliate"
	LegPartner   = "partner"
)

// Conversion types
const (
	ConversionDeposit      = "deposit"
	ConversionRegistration = "registration"
)

// Conversion statuses
const (
	ConversionStatusPending   = "pending"
	ConversionStatusCompleted = "completed"
	ConversionStatusCancelled = "cancelled"
	ConversionStatusPaid      = "paid"
)

// Wallet transaction types
const (
	TxTypeCommission = "commission"
	TxTypeWithdrawal = "withdrawal"
	TxTypeAdjustment = "adjustment"
	TxTypeRefund     = "refund"
	TxTypeBonus      = "bonus"
)

// Wallet transaction statuses
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusCancelled = "cancelled"
	TxStatusFailed    = "failed"
)

// Withdrawal statuses
const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusRejected   = "rejected"
	WithdrawalStatusFailed     = "failed"
)

// Commission rule types
const (
	CommissionPercentage = "percentage"
	CommissionFixed      = "fixed"
)

// Affiliate represents a top-level marketing principal. Custom commission
// fields override the tier defaults when set.
type Affiliate struct {
	ID                   int64            `json:"id"`
	Name                 string           `json:"name"`
	Email                string           `json:"email"`
	Code                 string           `json:"code"`
	Tier                 string           `json:"tier"`
	CommissionType       string           `json:"commission_type"`
	CustomCommissionRate *decimal.Decimal `json:"custom_commission_rate,omitempty"`
	CustomFixedAmount    *decimal.Decimal `json:"custom_fixed_amount,omitempty"`
	ApprovedEarnings     decimal.Decimal  `json:"approved_earnings"`
	PixKeyType           *string          `json:"pix_key_type,omitempty"`
	PixKey               *string          `json:"pix_key,omitempty"`
	IsActive             bool             `json:"is_active"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Partner represents a sub-affiliate recruited by an affiliate. Its rule is
// independent of the parent's, but its share always comes out of the same
// deposit pool.
type Partner struct {
	ID                    int64           `json:"id"`
	AffiliateID           int64           `json:"affiliate_id"`
	Name                  string          `json:"name"`
	Email                 string          `json:"email"`
	Code                  string          `json:"code"`
	CommissionType        string          `json:"commission_type"`
	CommissionRate        decimal.Decimal `json:"commission_rate"`
	FixedCommissionAmount decimal.Decimal `json:"fixed_commission_amount"`
	PixKeyType            *string         `json:"pix_key_type,omitempty"`
	PixKey                *string         `json:"pix_key,omitempty"`
	IsActive              bool            `json:"is_active"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// TierConfig holds the commission defaults for one affiliate tier
type TierConfig struct {
	ID             int64           `json:"id"`
	Tier           string          `json:"tier"`
	PercentageRate decimal.Decimal `json:"percentage_rate"`
	FixedAmount    decimal.Decimal `json:"fixed_amount"`
	MinEarnings    decimal.Decimal `json:"min_earnings"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ReferralAttribution is a user's referral chain, fixed at registration
type ReferralAttribution struct {
	UserID      int64  `json:"user_id"`
	AffiliateID *int64 `json:"affiliate_id,omitempty"`
	PartnerID   *int64 `json:"partner_id,omitempty"`
}

// Conversion is one commission-earning event for a single deposit and leg.
// The affiliate leg always exists; the partner leg exists only when the
// referred user was brought in through a partner. Both legs of the same
// deposit are linked by DepositID.
type Conversion struct {
	ID                  int64            `json:"id"`
	Leg                 string           `json:"leg"`
	AffiliateID         int64            `json:"affiliate_id"`
	PartnerID           *int64           `json:"partner_id,omitempty"`
	UserID              int64            `json:"user_id"`
	DepositID           string           `json:"deposit_id"`
	ConversionType      string           `json:"conversion_type"`
	ConversionValue     decimal.Decimal  `json:"conversion_value"`
	AffiliateCommission decimal.Decimal  `json:"affiliate_commission"`
	PartnerCommission   *decimal.Decimal `json:"partner_commission,omitempty"`
	CommissionRate      *decimal.Decimal `json:"commission_rate,omitempty"`
	CommissionType      *string          `json:"commission_type,omitempty"`
	Status              string           `json:"status"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// PrincipalID returns the principal this leg pays out to
func (c *Conversion) PrincipalID() (string, int64) {
	if c.Leg == LegPartner && c.PartnerID != nil {
		return PrincipalPartner, *c.PartnerID
	}
	return PrincipalAffiliate, c.AffiliateID
}

// CommissionAmount returns the amount owed to this leg's principal
func (c *Conversion) CommissionAmount() decimal.Decimal {
	if c.Leg == LegPartner && c.PartnerCommission != nil {
		return *c.PartnerCommission
	}
	return c.AffiliateCommission
}

// Wallet is one principal's running balance. The balance column is a
// materialized view over wallet_transactions; reconciliation recomputes it
// from the log when drift is suspected.
type Wallet struct {
	ID                int64           `json:"id"`
	PrincipalType     string          `json:"principal_type"`
	PrincipalID       int64           `json:"principal_id"`
	Balance           decimal.Decimal `json:"balance"`
	TotalEarned       decimal.Decimal `json:"total_earned"`
	TotalWithdrawn    decimal.Decimal `json:"total_withdrawn"`
	LastTransactionAt *time.Time      `json:"last_transaction_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// WalletTransaction is one immutable balance delta. amount is signed:
// positive for credits, negative for debits. Only status may change after
// creation (a withdrawal moving pending to completed or failed).
type WalletTransaction struct {
	ID            int64           `json:"id"`
	WalletID      int64           `json:"wallet_id"`
	PrincipalType string          `json:"principal_type"`
	PrincipalID   int64           `json:"principal_id"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   *string         `json:"description,omitempty"`
	ReferenceID   *string         `json:"reference_id,omitempty"`
	ReferenceType *string         `json:"reference_type,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

// Withdrawal is a principal-initiated payout request. It points at the
// pending wallet transaction that holds the funds until the payout provider
// confirms or fails.
type Withdrawal struct {
	ID                  int64           `json:"id"`
	DisplayID           int             `json:"display_id"`
	PrincipalType       string          `json:"principal_type"`
	PrincipalID         int64           `json:"principal_id"`
	WalletTransactionID int64           `json:"wallet_transaction_id"`
	Amount              decimal.Decimal `json:"amount"`
	PixKey              string          `json:"pix_key"`
	PixKeyType          *string         `json:"pix_key_type,omitempty"`
	Status              string          `json:"status"`
	EndToEndID          *string         `json:"end_to_end_id,omitempty"`
	RejectionReason     *string         `json:"rejection_reason,omitempty"`
	RequestedAt         time.Time       `json:"requested_at"`
	ProcessedAt         *time.Time      `json:"processed_at,omitempty"`
}

// ConversionFilter narrows ListConversions results
type ConversionFilter struct {
	Status         string
	ConversionType string
	Since          *time.Time
	Until          *time.Time
	Limit          int
	Offset         int
}

// parseDecimal converts a NUMERIC column scanned as text. Empty or malformed
// values decode to zero, matching how the rest of the platform treats
// uninitialized balances.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseDecimalPtr converts a nullable NUMERIC column scanned as *string
func parseDecimalPtr(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d := parseDecimal(*s)
	return &d
}
