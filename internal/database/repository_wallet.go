package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Wallet errors
var (
	// ErrInsufficientFunds is returned when a debit exceeds the wallet
	// balance at the instant of the atomic step
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction is returned when a credit for the same
	// (principal, type, reference) already exists
	ErrDuplicateTransaction = errors.New("duplicate wallet transaction")
)

// ReferenceReconciliation marks drift-repair adjustments. These rows document
// a recomputation of the cached balance column and are excluded from the
// conservation sum.
const ReferenceReconciliation = "reconciliation"

// walletDelta describes one balance mutation applied inside a transaction
type walletDelta struct {
	principalType  string
	principalID    int64
	txType         string
	status         string
	amount         decimal.Decimal // signed
	description    string
	referenceID    *string
	referenceType  *string
	earnedDelta    decimal.Decimal
	withdrawnDelta decimal.Decimal
	enforceFunds   bool
}

// lockWallet loads the wallet row FOR UPDATE, creating it lazily inside the
// same transaction. Lazy creation and the first credit therefore commit
// together or not at all.
func lockWallet(ctx context.Context, tx pgx.Tx, principalType string, principalID int64) (*Wallet, error) {
	const selectQuery = `
		SELECT id, principal_type, principal_id, balance::text, total_earned::text,
		       total_withdrawn::text, last_transaction_at, created_at, updated_at
		FROM wallets
		WHERE principal_type = $1 AND principal_id = $2
		FOR UPDATE
	`

	scan := func() (*Wallet, error) {
		w := &Wallet{}
		var balance, earned, withdrawn string
		err := tx.QueryRow(ctx, selectQuery, principalType, principalID).Scan(
			&w.ID, &w.PrincipalType, &w.PrincipalID, &balance, &earned,
			&withdrawn, &w.LastTransactionAt, &w.CreatedAt, &w.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		w.Balance = parseDecimal(balance)
		w.TotalEarned = parseDecimal(earned)
		w.TotalWithdrawn = parseDecimal(withdrawn)
		return w, nil
	}

	w, err := scan()
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}

	// Wallet does not exist yet. Insert and re-lock; ON CONFLICT covers the
	// race with a concurrent first credit.
	_, err = tx.Exec(ctx, `
		INSERT INTO wallets (principal_type, principal_id)
		VALUES ($1, $2)
		ON CONFLICT (principal_type, principal_id) DO NOTHING
	`, principalType, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	w, err = scan()
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet after create: %w", err)
	}
	return w, nil
}

// applyDelta performs one wallet mutation: lock (or lazily create) the wallet
// row, insert the immutable transaction with both balance brackets, then
// update the materialized balance. All inside the caller's transaction, so a
// crash can never leave a transaction row without its balance update or vice
// versa.
func applyDelta(ctx context.Context, tx pgx.Tx, d walletDelta) (*WalletTransaction, error) {
	wallet, err := lockWallet(ctx, tx, d.principalType, d.principalID)
	if err != nil {
		return nil, err
	}

	if d.enforceFunds && d.amount.IsNegative() && d.amount.Neg().GreaterThan(wallet.Balance) {
		return nil, ErrInsufficientFunds
	}

	balanceBefore := wallet.Balance
	balanceAfter := balanceBefore.Add(d.amount).Round(2)

	wt := &WalletTransaction{
		WalletID:      wallet.ID,
		PrincipalType: d.principalType,
		PrincipalID:   d.principalID,
		Type:          d.txType,
		Status:        d.status,
		Amount:        d.amount.Round(2),
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		ReferenceID:   d.referenceID,
		ReferenceType: d.referenceType,
	}
	if d.description != "" {
		wt.Description = &d.description
	}

	var processedAt *time.Time
	if d.status == TxStatusCompleted {
		now := time.Now()
		processedAt = &now
	}

	insertQuery := `
		INSERT INTO wallet_transactions (
			wallet_id, principal_type, principal_id, type, status, amount,
			balance_before, balance_after, description, reference_id,
			reference_type, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (principal_type, principal_id, type, reference_type, reference_id)
			WHERE reference_id IS NOT NULL AND type IN ('commission', 'refund')
			DO NOTHING
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, insertQuery,
		wt.WalletID, wt.PrincipalType, wt.PrincipalID, wt.Type, wt.Status,
		wt.Amount.String(), wt.BalanceBefore.String(), wt.BalanceAfter.String(),
		wt.Description, wt.ReferenceID, wt.ReferenceType, processedAt,
	).Scan(&wt.ID, &wt.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// The unique reference index rejected the insert: this exact credit
		// was already applied. The wallet row stays untouched.
		return nil, ErrDuplicateTransaction
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert wallet transaction: %w", err)
	}
	wt.ProcessedAt = processedAt

	updateQuery := `
		UPDATE wallets
		SET balance = $2,
		    total_earned = total_earned + $3,
		    total_withdrawn = total_withdrawn + $4,
		    last_transaction_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err = tx.Exec(ctx, updateQuery,
		wallet.ID, balanceAfter.String(),
		d.earnedDelta.Round(2).String(), d.withdrawnDelta.Round(2).String())
	if err != nil {
		return nil, fmt.Errorf("failed to update wallet balance: %w", err)
	}

	return wt, nil
}

// CreditWallet credits a principal's wallet with a completed transaction.
// Credits carrying a reference are idempotent: replaying the same reference
// returns ErrDuplicateTransaction and leaves the wallet untouched.
func (r *Repository) CreditWallet(ctx context.Context, principalType string, principalID int64, amount decimal.Decimal, txType, description string, referenceID, referenceType *string) (*WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive, got %s", amount)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	earned := decimal.Zero
	if txType == TxTypeCommission || txType == TxTypeBonus {
		earned = amount
	}

	wt, err := applyDelta(ctx, tx, walletDelta{
		principalType: principalType,
		principalID:   principalID,
		txType:        txType,
		status:        TxStatusCompleted,
		amount:        amount,
		description:   description,
		referenceID:   referenceID,
		referenceType: referenceType,
		earnedDelta:   earned,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}
	return wt, nil
}

// DebitWallet debits a principal's wallet. The funds check and the mutation
// share one transaction with the wallet row locked, so two concurrent debits
// can never both pass against a stale balance. status is pending for
// withdrawal holds and completed for direct debits.
func (r *Repository) DebitWallet(ctx context.Context, principalType string, principalID int64, amount decimal.Decimal, txType, status, description string, referenceID, referenceType *string) (*WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("debit amount must be positive, got %s", amount)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	withdrawn := decimal.Zero
	if txType == TxTypeWithdrawal {
		withdrawn = amount
	}

	wt, err := applyDelta(ctx, tx, walletDelta{
		principalType:  principalType,
		principalID:    principalID,
		txType:         txType,
		status:         status,
		amount:         amount.Neg(),
		description:    description,
		referenceID:    referenceID,
		referenceType:  referenceType,
		withdrawnDelta: withdrawn,
		enforceFunds:   true,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit debit: %w", err)
	}
	return wt, nil
}

// GetWallet retrieves a principal's wallet without locking. Returns
// ErrNotFound when no wallet exists yet (no credit has ever happened).
func (r *Repository) GetWallet(ctx context.Context, principalType string, principalID int64) (*Wallet, error) {
	query := `
		SELECT id, principal_type, principal_id, balance::text, total_earned::text,
		       total_withdrawn::text, last_transaction_at, created_at, updated_at
		FROM wallets
		WHERE principal_type = $1 AND principal_id = $2
	`
	w := &Wallet{}
	var balance, earned, withdrawn string
	err := r.db.Pool.QueryRow(ctx, query, principalType, principalID).Scan(
		&w.ID, &w.PrincipalType, &w.PrincipalID, &balance, &earned,
		&withdrawn, &w.LastTransactionAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	w.Balance = parseDecimal(balance)
	w.TotalEarned = parseDecimal(earned)
	w.TotalWithdrawn = parseDecimal(withdrawn)
	return w, nil
}

// ListWalletTransactions retrieves a principal's transaction history, newest
// first
func (r *Repository) ListWalletTransactions(ctx context.Context, principalType string, principalID int64, limit, offset int) ([]*WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, wallet_id, principal_type, principal_id, type, status,
		       amount::text, balance_before::text, balance_after::text,
		       description, reference_id, reference_type, created_at, processed_at
		FROM wallet_transactions
		WHERE principal_type = $1 AND principal_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Pool.Query(ctx, query, principalType, principalID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet transactions: %w", err)
	}
	defer rows.Close()

	var txns []*WalletTransaction
	for rows.Next() {
		wt := &WalletTransaction{}
		var amount, before, after string
		err := rows.Scan(
			&wt.ID, &wt.WalletID, &wt.PrincipalType, &wt.PrincipalID,
			&wt.Type, &wt.Status, &amount, &before, &after,
			&wt.Description, &wt.ReferenceID, &wt.ReferenceType,
			&wt.CreatedAt, &wt.ProcessedAt,
		)
		if err != nil {
			return nil, err
		}
		wt.Amount = parseDecimal(amount)
		wt.BalanceBefore = parseDecimal(before)
		wt.BalanceAfter = parseDecimal(after)
		txns = append(txns, wt)
	}
	return txns, rows.Err()
}

// ComputeLedgerBalance recomputes a wallet's balance as the signed sum of its
// money-movement transactions. Every row counts regardless of status: a
// pending withdrawal holds funds, and a failed one is reversed by a separate
// refund row rather than dropped from the sum. Drift-repair adjustments are
// excluded because they correct the cached column, they do not move money.
func (r *Repository) ComputeLedgerBalance(ctx context.Context, principalType string, principalID int64) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM wallet_transactions
		WHERE principal_type = $1 AND principal_id = $2
		  AND (reference_type IS NULL OR reference_type <> $3)
	`
	var sum string
	err := r.db.Pool.QueryRow(ctx, query, principalType, principalID, ReferenceReconciliation).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute ledger balance: %w", err)
	}
	return parseDecimal(sum), nil
}

// RepairWalletDrift converges the cached balance column onto the
// log-derived value, recording the correction as an adjustment row. The row
// and the balance update commit atomically; the adjustment is excluded from
// future conservation sums (see ComputeLedgerBalance). Returns the repair
// transaction, or nil when the wallet holds no drift.
func (r *Repository) RepairWalletDrift(ctx context.Context, principalType string, principalID int64) (*WalletTransaction, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	wallet, err := lockWallet(ctx, tx, principalType, principalID)
	if err != nil {
		return nil, err
	}

	var sum string
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM wallet_transactions
		WHERE wallet_id = $1
		  AND (reference_type IS NULL OR reference_type <> $2)
	`, wallet.ID, ReferenceReconciliation).Scan(&sum)
	if err != nil {
		return nil, fmt.Errorf("failed to sum transactions: %w", err)
	}

	expected := parseDecimal(sum)
	drift := expected.Sub(wallet.Balance)
	if drift.IsZero() {
		return nil, tx.Commit(ctx)
	}

	refType := ReferenceReconciliation
	wt, err := applyDelta(ctx, tx, walletDelta{
		principalType: principalType,
		principalID:   principalID,
		txType:        TxTypeAdjustment,
		status:        TxStatusCompleted,
		amount:        drift,
		description:   fmt.Sprintf("balance recomputed from transaction log (drift %s)", drift.StringFixed(2)),
		referenceType: &refType,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit drift repair: %w", err)
	}
	return wt, nil
}

// ListWalletPrincipals returns the identities of all wallets, for the
// reconciliation sweep
func (r *Repository) ListWalletPrincipals(ctx context.Context, limit, offset int) ([]struct {
	PrincipalType string
	PrincipalID   int64
}, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT principal_type, principal_id
		FROM wallets
		ORDER BY id
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet principals: %w", err)
	}
	defer rows.Close()

	var out []struct {
		PrincipalType string
		PrincipalID   int64
	}
	for rows.Next() {
		var p struct {
			PrincipalType string
			PrincipalID   int64
		}
		if err := rows.Scan(&p.PrincipalType, &p.PrincipalID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
