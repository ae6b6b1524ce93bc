package commission

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"raspadinha-platform/config"
	"raspadinha-platform/internal/database"
)

type fakeTierStore struct {
	tiers map[string]*database.TierConfig
}

func (f *fakeTierStore) GetTierConfig(ctx context.Context, tier string) (*database.TierConfig, error) {
	tc, ok := f.tiers[tier]
	if !ok {
		return nil, database.ErrNotFound
	}
	return tc, nil
}

func testCommissionConfig() config.CommissionConfig {
	return config.CommissionConfig{
		DefaultAffiliateRate:  40.0,
		DefaultAffiliateFixed: 6.0,
		DefaultPartnerRate:    5.0,
		DefaultPartnerFixed:   3.0,
		CreditRetryAttempts:   1,
	}
}

// ============================================================================
// TEST: Affiliate rule resolution order (custom > tier > fallback)
// ============================================================================

func TestAffiliateRule_ResolutionOrder(t *testing.T) {
	tiers := &fakeTierStore{tiers: map[string]*database.TierConfig{
		"gold": {Tier: "gold", PercentageRate: dec("50"), FixedAmount: dec("8")},
	}}
	r := NewResolver(tiers, testCommissionConfig())
	ctx := context.Background()

	customRate := dec("65")
	customFixed := dec("12")

	testCases := []struct {
		name      string
		affiliate *database.Affiliate
		wantType  string
		wantValue string
	}{
		{
			name: "custom percentage override wins over tier",
			affiliate: &database.Affiliate{
				Tier: "gold", CommissionType: database.CommissionPercentage,
				CustomCommissionRate: &customRate,
			},
			wantType: database.CommissionPercentage, wantValue: "65",
		},
		{
			name: "tier default when no override",
			affiliate: &database.Affiliate{
				Tier: "gold", CommissionType: database.CommissionPercentage,
			},
			wantType: database.CommissionPercentage, wantValue: "50",
		},
		{
			name: "fallback when tier row missing",
			affiliate: &database.Affiliate{
				Tier: "bronze", CommissionType: database.CommissionPercentage,
			},
			wantType: database.CommissionPercentage, wantValue: "40",
		},
		{
			name: "custom fixed override",
			affiliate: &database.Affiliate{
				Tier: "gold", CommissionType: database.CommissionFixed,
				CustomFixedAmount: &customFixed,
			},
			wantType: database.CommissionFixed, wantValue: "12",
		},
		{
			name: "tier fixed default",
			affiliate: &database.Affiliate{
				Tier: "gold", CommissionType: database.CommissionFixed,
			},
			wantType: database.CommissionFixed, wantValue: "8",
		},
		{
			name: "fixed fallback when tier row missing",
			affiliate: &database.Affiliate{
				Tier: "bronze", CommissionType: database.CommissionFixed,
			},
			wantType: database.CommissionFixed, wantValue: "6",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rule, err := r.AffiliateRule(ctx, tc.affiliate)
			if err != nil {
				t.Fatalf("AffiliateRule() error: %v", err)
			}
			if rule.Type != tc.wantType {
				t.Errorf("Type = %s, want %s", rule.Type, tc.wantType)
			}
			if !rule.Value.Equal(dec(tc.wantValue)) {
				t.Errorf("Value = %s, want %s", rule.Value, tc.wantValue)
			}
		})
	}
}

// ============================================================================
// TEST: Partner rule resolution
// ============================================================================

func TestPartnerRule(t *testing.T) {
	r := NewResolver(&fakeTierStore{}, testCommissionConfig())

	testCases := []struct {
		name      string
		partner   *database.Partner
		wantType  string
		wantValue string
	}{
		{
			name: "own percentage rate",
			partner: &database.Partner{
				CommissionType: database.CommissionPercentage,
				CommissionRate: dec("10"),
			},
			wantType: database.CommissionPercentage, wantValue: "10",
		},
		{
			name: "percentage fallback when rate unset",
			partner: &database.Partner{
				CommissionType: database.CommissionPercentage,
				CommissionRate: decimal.Zero,
			},
			wantType: database.CommissionPercentage, wantValue: "5",
		},
		{
			name: "own fixed amount",
			partner: &database.Partner{
				CommissionType:        database.CommissionFixed,
				FixedCommissionAmount: dec("4.50"),
			},
			wantType: database.CommissionFixed, wantValue: "4.50",
		},
		{
			name: "fixed fallback when amount unset",
			partner: &database.Partner{
				CommissionType:        database.CommissionFixed,
				FixedCommissionAmount: decimal.Zero,
			},
			wantType: database.CommissionFixed, wantValue: "3",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rule := r.PartnerRule(tc.partner)
			if rule.Type != tc.wantType {
				t.Errorf("Type = %s, want %s", rule.Type, tc.wantType)
			}
			if !rule.Value.Equal(dec(tc.wantValue)) {
				t.Errorf("Value = %s, want %s", rule.Value, tc.wantValue)
			}
		})
	}
}
