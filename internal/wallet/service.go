// Package wallet provides wallet reads, withdrawal processing and the
// periodic balance reconciliation sweep.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"raspadinha-platform/config"
	"raspadinha-platform/internal/database"
	"raspadinha-platform/internal/events"
)

// Withdrawal validation errors
var (
	ErrAmountBelowMinimum = errors.New("withdrawal amount below minimum")
	ErrAmountAboveMaximum = errors.New("withdrawal amount above maximum")
	ErrMissingPixKey      = errors.New("no pix key provided and none on file")
)

// Store is the persistence surface the wallet service needs
type Store interface {
	GetWallet(ctx context.Context, principalType string, principalID int64) (*database.Wallet, error)
	ListWalletTransactions(ctx context.Context, principalType string, principalID int64, limit, offset int) ([]*database.WalletTransaction, error)
	CreateWithdrawal(ctx context.Context, principalType string, principalID int64, amount decimal.Decimal, pixKey string, pixKeyType *string) (*database.Withdrawal, error)
	CompleteWithdrawal(ctx context.Context, id int64, endToEndID *string) (*database.Withdrawal, error)
	FailWithdrawal(ctx context.Context, id int64, status, reason string) (*database.Withdrawal, *database.WalletTransaction, error)
	GetWithdrawal(ctx context.Context, id int64) (*database.Withdrawal, error)
	ListWithdrawals(ctx context.Context, principalType string, principalID int64, limit, offset int) ([]*database.Withdrawal, error)
	GetAffiliate(ctx context.Context, id int64) (*database.Affiliate, error)
	GetPartner(ctx context.Context, id int64) (*database.Partner, error)
}

// Service handles wallet reads and the withdrawal lifecycle
type Service struct {
	store  Store
	bus    *events.EventBus
	cfg    config.WithdrawalConfig
	logger zerolog.Logger
}

// NewService creates a new wallet service
func NewService(store Store, bus *events.EventBus, cfg config.WithdrawalConfig, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With().Str("component", "WalletService").Logger(),
	}
}

// GetWallet returns a principal's wallet. A principal who never earned
// anything gets an empty wallet instead of an error.
func (s *Service) GetWallet(ctx context.Context, principalType string, principalID int64) (*database.Wallet, error) {
	w, err := s.store.GetWallet(ctx, principalType, principalID)
	if errors.Is(err, database.ErrNotFound) {
		return &database.Wallet{
			PrincipalType:  principalType,
			PrincipalID:    principalID,
			Balance:        decimal.Zero,
			TotalEarned:    decimal.Zero,
			TotalWithdrawn: decimal.Zero,
		}, nil
	}
	return w, err
}

// ListTransactions returns a principal's transaction history
func (s *Service) ListTransactions(ctx context.Context, principalType string, principalID int64, limit, offset int) ([]*database.WalletTransaction, error) {
	return s.store.ListWalletTransactions(ctx, principalType, principalID, limit, offset)
}

// ListWithdrawals returns a principal's withdrawal history
func (s *Service) ListWithdrawals(ctx context.Context, principalType string, principalID int64, limit, offset int) ([]*database.Withdrawal, error) {
	return s.store.ListWithdrawals(ctx, principalType, principalID, limit, offset)
}

// RequestWithdrawal validates and places a payout request. The funds are
// held with a pending debit until the payout provider settles. An empty pix
// key falls back to the key stored on the principal's profile.
func (s *Service) RequestWithdrawal(ctx context.Context, principalType string, principalID int64, amount decimal.Decimal, pixKey string, pixKeyType *string) (*database.Withdrawal, error) {
	min := decimal.NewFromFloat(s.cfg.MinAmount)
	if amount.LessThan(min) {
		return nil, fmt.Errorf("%w: %s < %s", ErrAmountBelowMinimum, amount.StringFixed(2), min.StringFixed(2))
	}
	if s.cfg.MaxAmount > 0 {
		max := decimal.NewFromFloat(s.cfg.MaxAmount)
		if amount.GreaterThan(max) {
			return nil, fmt.Errorf("%w: %s > %s", ErrAmountAboveMaximum, amount.StringFixed(2), max.StringFixed(2))
		}
	}

	if pixKey == "" {
		storedKey, storedType, err := s.profilePixKey(ctx, principalType, principalID)
		if err != nil {
			return nil, err
		}
		pixKey, pixKeyType = storedKey, storedType
	}
	if pixKey == "" {
		return nil, ErrMissingPixKey
	}

	w, err := s.store.CreateWithdrawal(ctx, principalType, principalID, amount, pixKey, pixKeyType)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("withdrawal_id", w.ID).Int("display_id", w.DisplayID).
		Str("principal_type", principalType).Int64("principal_id", principalID).
		Str("amount", amount.StringFixed(2)).Msg("withdrawal requested")
	s.bus.PublishWithdrawalRequested(w.ID, w.DisplayID, principalType, principalID, amount.StringFixed(2))
	return w, nil
}

// ConfirmPayout finalizes a withdrawal after the provider confirmed the
// transfer
func (s *Service) ConfirmPayout(ctx context.Context, withdrawalID int64, endToEndID *string) (*database.Withdrawal, error) {
	w, err := s.store.CompleteWithdrawal(ctx, withdrawalID, endToEndID)
	if err != nil {
		return nil, err
	}

	e2e := ""
	if endToEndID != nil {
		e2e = *endToEndID
	}
	s.logger.Info().Int64("withdrawal_id", w.ID).Int("display_id", w.DisplayID).
		Str("end_to_end_id", e2e).Msg("withdrawal completed")
	s.bus.PublishWithdrawalCompleted(w.ID, w.DisplayID, e2e)
	return w, nil
}

// FailPayout voids a withdrawal after the provider rejected or failed the
// transfer; the held funds return to the wallet
func (s *Service) FailPayout(ctx context.Context, withdrawalID int64, status, reason string) (*database.Withdrawal, error) {
	w, refund, err := s.store.FailWithdrawal(ctx, withdrawalID, status, reason)
	if err != nil {
		return nil, err
	}

	s.logger.Warn().Int64("withdrawal_id", w.ID).Int("display_id", w.DisplayID).
		Str("status", status).Str("reason", reason).
		Str("refunded", refund.Amount.StringFixed(2)).Msg("withdrawal failed, funds returned")
	s.bus.PublishWithdrawalFailed(w.ID, w.DisplayID, status, reason)
	return w, nil
}

// GetWithdrawal returns one withdrawal by ID
func (s *Service) GetWithdrawal(ctx context.Context, id int64) (*database.Withdrawal, error) {
	return s.store.GetWithdrawal(ctx, id)
}

func (s *Service) profilePixKey(ctx context.Context, principalType string, principalID int64) (string, *string, error) {
	switch principalType {
	case database.PrincipalAffiliate:
		a, err := s.store.GetAffiliate(ctx, principalID)
		if err != nil {
			return "", nil, err
		}
		if a.PixKey == nil {
			return "", nil, nil
		}
		return *a.PixKey, a.PixKeyType, nil
	case database.PrincipalPartner:
		p, err := s.store.GetPartner(ctx, principalID)
		if err != nil {
			return "", nil, err
		}
		if p.PixKey == nil {
			return "", nil, nil
		}
		return *p.PixKey, p.PixKeyType, nil
	default:
		return "", nil, fmt.Errorf("unknown principal type %q", principalType)
	}
}
