package database

import (
	"testing"

	"github.com/shopspring/decimal"
)

func tierRow(tier, minEarnings string) *TierConfig {
	return &TierConfig{Tier: tier, MinEarnings: decimal.RequireFromString(minEarnings)}
}

func TestPromotionTarget(t *testing.T) {
	tiers := []*TierConfig{
		tierRow("bronze", "0"),
		tierRow("silver", "5000"),
		tierRow("gold", "20000"),
		tierRow("platinum", "50000"),
		tierRow("diamond", "100000"),
		tierRow("special", "0"),
	}

	tests := []struct {
		name     string
		current  string
		earnings string
		want     string
		wantOK   bool
	}{
		{"bronze climbs to gold", "bronze", "20000", "gold", true},
		{"threshold is inclusive", "bronze", "5000", "silver", true},
		{"just below threshold stays", "bronze", "4999.99", "", false},
		{"silver skips straight to diamond", "silver", "150000", "diamond", true},
		{"manual gold with no earnings is never demoted", "gold", "0", "", false},
		{"manual platinum with silver earnings is never demoted", "platinum", "6000", "", false},
		{"special is never a promotion target", "diamond", "999999", "", false},
		{"unknown tier is left alone", "vip", "100000", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := promotionTarget(tiers, tt.current, decimal.RequireFromString(tt.earnings))
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("promotionTarget(%s, %s) = (%q, %v), want (%q, %v)",
					tt.current, tt.earnings, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
