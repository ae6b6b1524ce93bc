package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"raspadinha-platform/config"
	"raspadinha-platform/internal/database"
)

// TierStore provides the tier-default commission table
type TierStore interface {
	GetTierConfig(ctx context.Context, tier string) (*database.TierConfig, error)
}

// Resolver turns a principal's stored commission settings into a concrete
// Rule. Resolution order for affiliates: custom override, then the tier
// default, then the configured fallback. Partners carry their own rule with
// the configured fallback behind it.
type Resolver struct {
	tiers TierStore
	cfg   config.CommissionConfig
}

// NewResolver creates a new rate resolver
func NewResolver(tiers TierStore, cfg config.CommissionConfig) *Resolver {
	return &Resolver{tiers: tiers, cfg: cfg}
}

// AffiliateRule resolves the commission rule for an affiliate
func (r *Resolver) AffiliateRule(ctx context.Context, a *database.Affiliate) (Rule, error) {
	if a.CommissionType == database.CommissionFixed {
		if a.CustomFixedAmount != nil && a.CustomFixedAmount.IsPositive() {
			return Rule{Type: database.CommissionFixed, Value: *a.CustomFixedAmount}, nil
		}
		tc, err := r.tierConfig(ctx, a.Tier)
		if err != nil {
			return Rule{}, err
		}
		if tc != nil && tc.FixedAmount.IsPositive() {
			return Rule{Type: database.CommissionFixed, Value: tc.FixedAmount}, nil
		}
		return Rule{Type: database.CommissionFixed, Value: decimal.NewFromFloat(r.cfg.DefaultAffiliateFixed)}, nil
	}

	if a.CustomCommissionRate != nil && a.CustomCommissionRate.IsPositive() {
		return Rule{Type: database.CommissionPercentage, Value: *a.CustomCommissionRate}, nil
	}
	tc, err := r.tierConfig(ctx, a.Tier)
	if err != nil {
		return Rule{}, err
	}
	if tc != nil && tc.PercentageRate.IsPositive() {
		return Rule{Type: database.CommissionPercentage, Value: tc.PercentageRate}, nil
	}
	return Rule{Type: database.CommissionPercentage, Value: decimal.NewFromFloat(r.cfg.DefaultAffiliateRate)}, nil
}

// PartnerRule resolves the commission rule for a partner
func (r *Resolver) PartnerRule(p *database.Partner) Rule {
	if p.CommissionType == database.CommissionFixed {
		if p.FixedCommissionAmount.IsPositive() {
			return Rule{Type: database.CommissionFixed, Value: p.FixedCommissionAmount}
		}
		return Rule{Type: database.CommissionFixed, Value: decimal.NewFromFloat(r.cfg.DefaultPartnerFixed)}
	}

	if p.CommissionRate.IsPositive() {
		return Rule{Type: database.CommissionPercentage, Value: p.CommissionRate}
	}
	return Rule{Type: database.CommissionPercentage, Value: decimal.NewFromFloat(r.cfg.DefaultPartnerRate)}
}

// tierConfig loads a tier row, treating a missing row as no-default rather
// than an error
func (r *Resolver) tierConfig(ctx context.Context, tier string) (*database.TierConfig, error) {
	tc, err := r.tiers.GetTierConfig(ctx, tier)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tier %q: %w", tier, err)
	}
	return tc, nil
}
