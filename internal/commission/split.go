package commission

import (
	"github.com/shopspring/decimal"

	"raspadinha-platform/internal/database"
)

var half = decimal.NewFromFloat(0.5)

// SplitResult is the outcome of dividing one deposit's commission pool
type SplitResult struct {
	Total          decimal.Decimal // commission pool from the affiliate rule
	AffiliateShare decimal.Decimal
	PartnerShare   decimal.Decimal
}

// Apply evaluates a rule against a deposit amount. Percentage values are
// expressed as 0-100.
func Apply(rule Rule, deposit decimal.Decimal) decimal.Decimal {
	switch rule.Type {
	case database.CommissionFixed:
		return rule.Value
	default:
		return deposit.Mul(rule.Value).Div(decimal.NewFromInt(100))
	}
}

// Split divides one deposit's commission pool between the affiliate and,
// when present, its partner. The affiliate rule defines the pool; the
// partner rule is evaluated independently against the same deposit. A
// partner claim exceeding the pool is capped at half of it, so the partner
// can never out-earn the affiliate that recruited it. The affiliate keeps
// the remainder, floored at zero.
func Split(affiliateRule Rule, partnerRule *Rule, deposit decimal.Decimal) SplitResult {
	total := Apply(affiliateRule, deposit)
	if total.IsNegative() {
		total = decimal.Zero
	}

	if partnerRule == nil {
		return SplitResult{Total: total, AffiliateShare: total, PartnerShare: decimal.Zero}
	}

	partnerShare := Apply(*partnerRule, deposit)
	if partnerShare.IsNegative() {
		partnerShare = decimal.Zero
	}
	if partnerShare.GreaterThan(total) {
		partnerShare = total.Mul(half)
	}

	affiliateShare := total.Sub(partnerShare)
	if affiliateShare.IsNegative() {
		affiliateShare = decimal.Zero
	}

	return SplitResult{
		Total:          total,
		AffiliateShare: affiliateShare,
		PartnerShare:   partnerShare,
	}
}
