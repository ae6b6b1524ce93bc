package database

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ErrWithdrawalNotPending is returned when a payout result arrives for a
// withdrawal that already reached a terminal status
var ErrWithdrawalNotPending = errors.New("withdrawal is not pending")

const withdrawalColumns = `
	id, display_id, principal_type, principal_id, wallet_transaction_id,
	amount::text, pix_key, pix_key_type, status, end_to_end_id,
	rejection_reason, requested_at, processed_at
`

func scanWithdrawal(row pgx.Row) (*Withdrawal, error) {
	w := &Withdrawal{}
	var amount string
	err := row.Scan(
		&w.ID, &w.DisplayID, &w.PrincipalType, &w.PrincipalID,
		&w.WalletTransactionID, &amount, &w.PixKey, &w.PixKeyType,
		&w.Status, &w.EndToEndID, &w.RejectionReason,
		&w.RequestedAt, &w.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Amount = parseDecimal(amount)
	return w, nil
}

// CreateWithdrawal places a payout request: one transaction holds the funds
// with a pending debit and records the withdrawal dossier pointing at it.
// Insufficient balance aborts both. The short display ID is what support and
// the payout provider see; collisions retry with a fresh number.
func (r *Repository) CreateWithdrawal(ctx context.Context, principalType string, principalID int64, amount decimal.Decimal, pixKey string, pixKeyType *string) (*Withdrawal, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	wt, err := applyDelta(ctx, tx, walletDelta{
		principalType:  principalType,
		principalID:    principalID,
		txType:         TxTypeWithdrawal,
		status:         TxStatusPending,
		amount:         amount.Neg(),
		description:    "withdrawal request",
		withdrawnDelta: amount,
		enforceFunds:   true,
	})
	if err != nil {
		return nil, err
	}

	insertQuery := `
		INSERT INTO withdrawals (
			display_id, principal_type, principal_id, wallet_transaction_id,
			amount, pix_key, pix_key_type, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		ON CONFLICT (display_id) DO NOTHING
		RETURNING ` + withdrawalColumns

	var w *Withdrawal
	for attempt := 0; attempt < 5; attempt++ {
		w, err = scanWithdrawal(tx.QueryRow(ctx, insertQuery,
			randomDisplayID(), principalType, principalID, wt.ID,
			amount.Round(2).String(), pixKey, pixKeyType,
		))
		if err == nil {
			break
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to insert withdrawal: %w", err)
		}
	}
	if w == nil {
		return nil, errors.New("failed to allocate withdrawal display ID")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit withdrawal: %w", err)
	}
	return w, nil
}

// randomDisplayID produces a 5-digit human-facing withdrawal number
func randomDisplayID() int {
	return 10000 + rand.Intn(90000)
}

// CompleteWithdrawal finalizes a withdrawal after the payout provider
// confirmed the transfer. The held debit flips from pending to completed; the
// balance already reflects it.
func (r *Repository) CompleteWithdrawal(ctx context.Context, id int64, endToEndID *string) (*Withdrawal, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := lockPendingWithdrawal(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE withdrawals
		SET status = 'completed', end_to_end_id = $2, processed_at = $3
		WHERE id = $1
	`, id, endToEndID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to complete withdrawal %d: %w", id, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = 'completed', processed_at = $2
		WHERE id = $1
	`, w.WalletTransactionID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to complete withdrawal transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit withdrawal completion: %w", err)
	}
	w.Status = WithdrawalStatusCompleted
	w.EndToEndID = endToEndID
	w.ProcessedAt = &now
	return w, nil
}

// FailWithdrawal voids a withdrawal after the payout provider rejected or
// failed the transfer. The held debit keeps counting toward the ledger sum;
// its failed status is settlement metadata only, and the compensating refund
// is what restores the balance, netting the pair to zero. rejected is for
// provider refusals, failed for transfer errors.
func (r *Repository) FailWithdrawal(ctx context.Context, id int64, status, reason string) (*Withdrawal, *WalletTransaction, error) {
	if status != WithdrawalStatusRejected && status != WithdrawalStatusFailed {
		return nil, nil, fmt.Errorf("invalid terminal withdrawal status %q", status)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := lockPendingWithdrawal(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE withdrawals
		SET status = $2, rejection_reason = $3, processed_at = $4
		WHERE id = $1
	`, id, status, nullIfEmpty(reason), now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fail withdrawal %d: %w", id, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = 'failed', processed_at = $2
		WHERE id = $1
	`, w.WalletTransactionID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fail withdrawal transaction: %w", err)
	}

	refID := fmt.Sprintf("withdrawal:%d", w.ID)
	refType := "withdrawal_failure"
	refund, err := applyDelta(ctx, tx, walletDelta{
		principalType:  w.PrincipalType,
		principalID:    w.PrincipalID,
		txType:         TxTypeRefund,
		status:         TxStatusCompleted,
		amount:         w.Amount,
		description:    fmt.Sprintf("returned funds for withdrawal #%d", w.DisplayID),
		referenceID:    &refID,
		referenceType:  &refType,
		withdrawnDelta: w.Amount.Neg(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to refund withdrawal %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit withdrawal failure: %w", err)
	}
	w.Status = status
	w.ProcessedAt = &now
	return w, refund, nil
}

func lockPendingWithdrawal(ctx context.Context, tx pgx.Tx, id int64) (*Withdrawal, error) {
	w, err := scanWithdrawal(tx.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock withdrawal %d: %w", id, err)
	}
	if w.Status != WithdrawalStatusPending && w.Status != WithdrawalStatusProcessing {
		return nil, ErrWithdrawalNotPending
	}
	return w, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetWithdrawal retrieves one withdrawal by ID
func (r *Repository) GetWithdrawal(ctx context.Context, id int64) (*Withdrawal, error) {
	w, err := scanWithdrawal(r.db.Pool.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal %d: %w", id, err)
	}
	return w, nil
}

// GetWithdrawalByDisplayID retrieves one withdrawal by its human-facing
// number
func (r *Repository) GetWithdrawalByDisplayID(ctx context.Context, displayID int) (*Withdrawal, error) {
	w, err := scanWithdrawal(r.db.Pool.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE display_id = $1`, displayID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal #%d: %w", displayID, err)
	}
	return w, nil
}

// ListWithdrawals retrieves a principal's withdrawal history, newest first
func (r *Repository) ListWithdrawals(ctx context.Context, principalType string, principalID int64, limit, offset int) ([]*Withdrawal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE principal_type = $1 AND principal_id = $2
		ORDER BY requested_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, principalType, principalID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	var out []*Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
