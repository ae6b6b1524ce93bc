// Package commission implements the two-tier commission engine: rule
// resolution, deposit splitting between an affiliate and its partner, and
// idempotent recording of the resulting ledger entries.
package commission

import (
	"time"

	"github.com/shopspring/decimal"

	"raspadinha-platform/internal/database"
)

// Rule is one resolved commission rule: a percentage of the deposit or a
// fixed BRL amount per deposit
type Rule struct {
	Type  string          `json:"type"` // percentage or fixed
	Value decimal.Decimal `json:"value"`
}

// DepositEvent is a confirmed deposit notification from the payments side
type DepositEvent struct {
	DepositID  string          `json:"deposit_id"`
	UserID     int64           `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// LegResult is the outcome of processing one commission leg
type LegResult struct {
	Leg         string                      `json:"leg"`
	Conversion  *database.Conversion        `json:"conversion"`
	Transaction *database.WalletTransaction `json:"transaction,omitempty"`
	Created     bool                        `json:"created"`
	Amount      decimal.Decimal             `json:"amount"`
}

// Result is the outcome of processing one deposit event
type Result struct {
	DepositID  string      `json:"deposit_id"`
	Attributed bool        `json:"attributed"`
	Duplicate  bool        `json:"duplicate"`
	Legs       []LegResult `json:"legs,omitempty"`
}
