package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// GetDB returns the underlying DB instance
func (r *Repository) GetDB() *DB {
	return r.db
}

// ============================================================================
// PRINCIPALS
// ============================================================================

// GetAffiliate retrieves an affiliate by ID
func (r *Repository) GetAffiliate(ctx context.Context, id int64) (*Affiliate, error) {
	query := `
		SELECT id, name, email, code, tier, commission_type,
		       custom_commission_rate::text, custom_fixed_amount::text,
		       approved_earnings::text, pix_key_type, pix_key, is_active,
		       created_at, updated_at
		FROM affiliates
		WHERE id = $1
	`
	a := &Affiliate{}
	var customRate, customFixed *string
	var approved string
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.Name, &a.Email, &a.Code, &a.Tier, &a.CommissionType,
		&customRate, &customFixed, &approved, &a.PixKeyType, &a.PixKey,
		&a.IsActive, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get affiliate %d: %w", id, err)
	}
	a.CustomCommissionRate = parseDecimalPtr(customRate)
	a.CustomFixedAmount = parseDecimalPtr(customFixed)
	a.ApprovedEarnings = parseDecimal(approved)
	return a, nil
}

// GetPartner retrieves a partner by ID
func (r *Repository) GetPartner(ctx context.Context, id int64) (*Partner, error) {
	query := `
		SELECT id, affiliate_id, name, email, code, commission_type,
		       commission_rate::text, fixed_commission_amount::text,
		       pix_key_type, pix_key, is_active, created_at, updated_at
		FROM partners
		WHERE id = $1
	`
	p := &Partner{}
	var rate, fixed string
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.AffiliateID, &p.Name, &p.Email, &p.Code, &p.CommissionType,
		&rate, &fixed, &p.PixKeyType, &p.PixKey, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get partner %d: %w", id, err)
	}
	p.CommissionRate = parseDecimal(rate)
	p.FixedCommissionAmount = parseDecimal(fixed)
	return p, nil
}

// GetReferralAttribution returns the referral chain a user was registered
// under. Attribution is written once at registration and never changes.
func (r *Repository) GetReferralAttribution(ctx context.Context, userID int64) (*ReferralAttribution, error) {
	query := `SELECT id, affiliate_id, partner_id FROM users WHERE id = $1`
	attr := &ReferralAttribution{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&attr.UserID, &attr.AffiliateID, &attr.PartnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral attribution for user %d: %w", userID, err)
	}
	return attr, nil
}

// ============================================================================
// TIER CONFIG
// ============================================================================

// GetTierConfig retrieves the commission defaults for one tier
func (r *Repository) GetTierConfig(ctx context.Context, tier string) (*TierConfig, error) {
	query := `
		SELECT id, tier, percentage_rate::text, fixed_amount::text, min_earnings::text,
		       created_at, updated_at
		FROM affiliate_tier_config
		WHERE tier = $1
	`
	tc := &TierConfig{}
	var rate, fixed, minEarnings string
	err := r.db.Pool.QueryRow(ctx, query, tier).Scan(
		&tc.ID, &tc.Tier, &rate, &fixed, &minEarnings, &tc.CreatedAt, &tc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tier config %s: %w", tier, err)
	}
	tc.PercentageRate = parseDecimal(rate)
	tc.FixedAmount = parseDecimal(fixed)
	tc.MinEarnings = parseDecimal(minEarnings)
	return tc, nil
}

// ListTierConfigs retrieves all tiers ordered by their earnings threshold
func (r *Repository) ListTierConfigs(ctx context.Context) ([]*TierConfig, error) {
	query := `
		SELECT id, tier, percentage_rate::text, fixed_amount::text, min_earnings::text,
		       created_at, updated_at
		FROM affiliate_tier_config
		ORDER BY min_earnings
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tier configs: %w", err)
	}
	defer rows.Close()

	var configs []*TierConfig
	for rows.Next() {
		tc := &TierConfig{}
		var rate, fixed, minEarnings string
		if err := rows.Scan(&tc.ID, &tc.Tier, &rate, &fixed, &minEarnings, &tc.CreatedAt, &tc.UpdatedAt); err != nil {
			return nil, err
		}
		tc.PercentageRate = parseDecimal(rate)
		tc.FixedAmount = parseDecimal(fixed)
		tc.MinEarnings = parseDecimal(minEarnings)
		configs = append(configs, tc)
	}
	return configs, rows.Err()
}

// UpdateTierConfig updates the commission defaults for one tier
func (r *Repository) UpdateTierConfig(ctx context.Context, tier string, rate, fixed, minEarnings decimal.Decimal) error {
	query := `
		UPDATE affiliate_tier_config
		SET percentage_rate = $2, fixed_amount = $3, min_earnings = $4, updated_at = CURRENT_TIMESTAMP
		WHERE tier = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		tier, rate.Round(2).String(), fixed.Round(2).String(), minEarnings.Round(2).String())
	if err != nil {
		return fmt.Errorf("failed to update tier config %s: %w", tier, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PromoteEligibleAffiliates upgrades the tier of any affiliate whose approved
// earnings crossed a higher tier's threshold. The special tier is manual and
// never assigned here, and tiers are only ever raised: an affiliate placed on
// a high tier by hand keeps it even with low earnings. Returns the number of
// affiliates promoted.
func (r *Repository) PromoteEligibleAffiliates(ctx context.Context) (int64, error) {
	tiers, err := r.ListTierConfigs(ctx)
	if err != nil {
		return 0, err
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, tier, approved_earnings::text
		FROM affiliates
		WHERE tier <> 'special'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to list affiliates for promotion: %w", err)
	}
	defer rows.Close()

	upgrades := make(map[string][]int64)
	for rows.Next() {
		var id int64
		var tier, earnings string
		if err := rows.Scan(&id, &tier, &earnings); err != nil {
			return 0, err
		}
		if target, ok := promotionTarget(tiers, tier, parseDecimal(earnings)); ok {
			upgrades[target] = append(upgrades[target], id)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var promoted int64
	for target, ids := range upgrades {
		tag, err := r.db.Pool.Exec(ctx,
			`UPDATE affiliates SET tier = $1 WHERE id = ANY($2)`, target, ids)
		if err != nil {
			return promoted, fmt.Errorf("failed to promote affiliates to %s: %w", target, err)
		}
		promoted += tag.RowsAffected()
	}
	return promoted, nil
}

// promotionTarget picks the highest tier whose threshold the earnings have
// crossed, but only above the current tier's own threshold. An unknown
// current tier is left alone.
func promotionTarget(tiers []*TierConfig, currentTier string, earnings decimal.Decimal) (string, bool) {
	var currentMin decimal.Decimal
	found := false
	for _, t := range tiers {
		if t.Tier == currentTier {
			currentMin = t.MinEarnings
			found = true
			break
		}
	}
	if !found {
		return "", false
	}

	target := ""
	targetMin := currentMin
	for _, t := range tiers {
		if t.Tier == "special" {
			continue
		}
		if t.MinEarnings.GreaterThan(targetMin) && t.MinEarnings.LessThanOrEqual(earnings) {
			target = t.Tier
			targetMin = t.MinEarnings
		}
	}
	return target, target != ""
}

// AddApprovedEarnings accumulates an affiliate's earnings counter used for
// tier promotion
func (r *Repository) AddApprovedEarnings(ctx context.Context, affiliateID int64, amount decimal.Decimal) error {
	query := `
		UPDATE affiliates
		SET approved_earnings = approved_earnings + $2
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, affiliateID, amount.Round(2).String())
	if err != nil {
		return fmt.Errorf("failed to add approved earnings for affiliate %d: %w", affiliateID, err)
	}
	return nil
}
