package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ErrConversionNotCancellable is returned when a cancellation targets a
// conversion already paid out to the principal
var ErrConversionNotCancellable = errors.New("conversion already paid, cannot cancel")

const conversionColumns = `
	id, leg, affiliate_id, partner_id, user_id, deposit_id, conversion_type,
	conversion_value::text, affiliate_commission::text, partner_commission::text,
	commission_rate::text, commission_type, status, created_at, updated_at
`

func scanConversion(row pgx.Row) (*Conversion, error) {
	c := &Conversion{}
	var value, affCommission string
	var partnerCommission, rate *string
	err := row.Scan(
		&c.ID, &c.Leg, &c.AffiliateID, &c.PartnerID, &c.UserID, &c.DepositID,
		&c.ConversionType, &value, &affCommission, &partnerCommission,
		&rate, &c.CommissionType, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ConversionValue = parseDecimal(value)
	c.AffiliateCommission = parseDecimal(affCommission)
	c.PartnerCommission = parseDecimalPtr(partnerCommission)
	c.CommissionRate = parseDecimalPtr(rate)
	return c, nil
}

// RecordConversionLegs inserts the conversion rows for one deposit event.
// The unique (deposit_id, leg) index makes replays harmless: a leg that
// already exists is returned as-is instead of inserted twice, and the result
// reports per leg whether this call created it. All legs of one deposit
// commit together.
func (r *Repository) RecordConversionLegs(ctx context.Context, legs []*Conversion) ([]*Conversion, []bool, error) {
	if len(legs) == 0 {
		return nil, nil, nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO conversions (
			leg, affiliate_id, partner_id, user_id, deposit_id, conversion_type,
			conversion_value, affiliate_commission, partner_commission,
			commission_rate, commission_type, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (deposit_id, leg)
			DO NOTHING
		RETURNING ` + conversionColumns

	existingQuery := `
		SELECT ` + conversionColumns + `
		FROM conversions
		WHERE deposit_id = $1 AND leg = $2
	`

	out := make([]*Conversion, 0, len(legs))
	created := make([]bool, 0, len(legs))
	for _, leg := range legs {
		var partnerCommission, rate *string
		if leg.PartnerCommission != nil {
			s := leg.PartnerCommission.Round(2).String()
			partnerCommission = &s
		}
		if leg.CommissionRate != nil {
			s := leg.CommissionRate.String()
			rate = &s
		}

		c, err := scanConversion(tx.QueryRow(ctx, insertQuery,
			leg.Leg, leg.AffiliateID, leg.PartnerID, leg.UserID, leg.DepositID,
			leg.ConversionType, leg.ConversionValue.Round(2).String(),
			leg.AffiliateCommission.Round(2).String(), partnerCommission,
			rate, leg.CommissionType, leg.Status,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			// Replayed deposit event: the leg already exists
			c, err = scanConversion(tx.QueryRow(ctx, existingQuery, leg.DepositID, leg.Leg))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to load existing conversion leg: %w", err)
			}
			out = append(out, c)
			created = append(created, false)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to insert conversion leg: %w", err)
		}
		out = append(out, c)
		created = append(created, true)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit conversion legs: %w", err)
	}
	return out, created, nil
}

// GetConversion retrieves one conversion by ID
func (r *Repository) GetConversion(ctx context.Context, id int64) (*Conversion, error) {
	query := `SELECT ` + conversionColumns + ` FROM conversions WHERE id = $1`
	c, err := scanConversion(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversion %d: %w", id, err)
	}
	return c, nil
}

// GetConversionsByDeposit returns all legs recorded for one deposit
func (r *Repository) GetConversionsByDeposit(ctx context.Context, depositID string) ([]*Conversion, error) {
	query := `
		SELECT ` + conversionColumns + `
		FROM conversions
		WHERE deposit_id = $1 AND conversion_type = 'deposit'
		ORDER BY leg
	`
	rows, err := r.db.Pool.Query(ctx, query, depositID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversions for deposit %s: %w", depositID, err)
	}
	defer rows.Close()
	return collectConversions(rows)
}

// ListConversionsByPrincipal returns a principal's conversion history, newest
// first
func (r *Repository) ListConversionsByPrincipal(ctx context.Context, principalType string, principalID int64, filter ConversionFilter) ([]*Conversion, error) {
	var where []string
	var args []interface{}

	switch principalType {
	case PrincipalAffiliate:
		args = append(args, principalID)
		where = append(where, fmt.Sprintf("affiliate_id = $%d AND leg = 'affiliate'", len(args)))
	case PrincipalPartner:
		args = append(args, principalID)
		where = append(where, fmt.Sprintf("partner_id = $%d AND leg = 'partner'", len(args)))
	default:
		return nil, fmt.Errorf("unknown principal type %q", principalType)
	}

	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ConversionType != "" {
		args = append(args, filter.ConversionType)
		where = append(where, fmt.Sprintf("conversion_type = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM conversions
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, conversionColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()
	return collectConversions(rows)
}

func collectConversions(rows pgx.Rows) ([]*Conversion, error) {
	var out []*Conversion
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConversionStatus moves a conversion to a new status
func (r *Repository) UpdateConversionStatus(ctx context.Context, id int64, status string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE conversions SET status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to update conversion %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkConversionsPaid bulk-moves completed conversions to paid after a payout
// cycle. Returns the number of conversions updated.
func (r *Repository) MarkConversionsPaid(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE conversions
		SET status = 'paid', updated_at = CURRENT_TIMESTAMP
		WHERE id = ANY($1) AND status = 'completed'
	`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversions paid: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CancelConversion voids a conversion and claws the credited commission back
// with a compensating refund debit. The conversion row itself is never
// deleted. Cancelling an already-cancelled conversion is a no-op; cancelling
// a paid conversion is refused. The status flip and the clawback commit
// atomically.
func (r *Repository) CancelConversion(ctx context.Context, id int64, reason string) (*Conversion, *WalletTransaction, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := scanConversion(tx.QueryRow(ctx,
		`SELECT `+conversionColumns+` FROM conversions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock conversion %d: %w", id, err)
	}

	flip, needsClawback, err := cancelOutcome(c.Status)
	if err != nil {
		return nil, nil, err
	}
	if !flip {
		return c, nil, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx,
		`UPDATE conversions SET status = 'cancelled', updated_at = CURRENT_TIMESTAMP WHERE id = $1`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to cancel conversion %d: %w", id, err)
	}

	// The clawback may push the balance negative; a reversal is not optional.
	var clawback *WalletTransaction
	if needsClawback && c.CommissionAmount().IsPositive() {
		clawback, err = applyDelta(ctx, tx, clawbackDelta(c, reason))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to claw back commission for conversion %d: %w", id, err)
		}
	}
	c.Status = ConversionStatusCancelled

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return c, clawback, nil
}

// cancelOutcome decides what cancelling a conversion in the given status
// does: whether the row flips to cancelled and whether a compensating
// clawback is owed. Only completed conversions had their commission
// credited.
func cancelOutcome(status string) (flip, clawback bool, err error) {
	switch status {
	case ConversionStatusCancelled:
		return false, false, nil
	case ConversionStatusPaid:
		return false, false, ErrConversionNotCancellable
	case ConversionStatusCompleted:
		return true, true, nil
	default:
		return true, false, nil
	}
}

// clawbackDelta builds the compensating refund debit that reverses a
// credited commission. The original transaction row is never edited.
func clawbackDelta(c *Conversion, reason string) walletDelta {
	principalType, principalID := c.PrincipalID()
	refID := fmt.Sprintf("conversion:%d", c.ID)
	refType := "conversion_cancellation"
	desc := fmt.Sprintf("commission reversal for deposit %s", c.DepositID)
	if reason != "" {
		desc = fmt.Sprintf("%s (%s)", desc, reason)
	}
	return walletDelta{
		principalType: principalType,
		principalID:   principalID,
		txType:        TxTypeRefund,
		status:        TxStatusCompleted,
		amount:        c.CommissionAmount().Neg(),
		description:   desc,
		referenceID:   &refID,
		referenceType: &refType,
	}
}
