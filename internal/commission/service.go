package commission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"raspadinha-platform/config"
	"raspadinha-platform/internal/database"
	"raspadinha-platform/internal/events"
)

// Commission processing errors
var (
	ErrInvalidDeposit = errors.New("invalid deposit event")
)

// PartialCreditError reports a deposit whose conversion rows were written
// but whose wallet credits did not all land. The conversions stay pending;
// replaying the event retries only the missing credits.
type PartialCreditError struct {
	DepositID  string
	FailedLegs []string
	Errs       []error
}

func (e *PartialCreditError) Error() string {
	return fmt.Sprintf("deposit %s: credits failed for legs [%s]: %v",
		e.DepositID, strings.Join(e.FailedLegs, ", "), errors.Join(e.Errs...))
}

// LedgerStore is the persistence surface the commission engine needs
type LedgerStore interface {
	TierStore
	GetReferralAttribution(ctx context.Context, userID int64) (*database.ReferralAttribution, error)
	GetAffiliate(ctx context.Context, id int64) (*database.Affiliate, error)
	GetPartner(ctx context.Context, id int64) (*database.Partner, error)
	RecordConversionLegs(ctx context.Context, legs []*database.Conversion) ([]*database.Conversion, []bool, error)
	CreditWallet(ctx context.Context, principalType string, principalID int64, amount decimal.Decimal, txType, description string, referenceID, referenceType *string) (*database.WalletTransaction, error)
	UpdateConversionStatus(ctx context.Context, id int64, status string) error
	AddApprovedEarnings(ctx context.Context, affiliateID int64, amount decimal.Decimal) error
}

// Dedup is the fast-path replay check in front of the database index
type Dedup interface {
	Seen(ctx context.Context, depositID, leg string) bool
	Mark(ctx context.Context, depositID, leg string)
}

// Service orchestrates deposit event processing end to end
type Service struct {
	store    LedgerStore
	dedup    Dedup
	resolver *Resolver
	bus      *events.EventBus
	cfg      config.CommissionConfig
	logger   zerolog.Logger
}

// NewService creates a new commission service
func NewService(store LedgerStore, dedup Dedup, bus *events.EventBus, cfg config.CommissionConfig, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		dedup:    dedup,
		resolver: NewResolver(store, cfg),
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With().Str("component", "CommissionService").Logger(),
	}
}

const referenceTypeConversion = "conversion"

// HandleDepositCompleted processes one confirmed deposit: resolve the
// referral chain, split the commission pool, record the conversion legs and
// credit the wallets. Safe to replay: the conversion table's unique
// (deposit, leg) index and the wallet reference index make every step
// idempotent, and a crash mid-way is healed by re-sending the same event.
func (s *Service) HandleDepositCompleted(ctx context.Context, evt DepositEvent) (*Result, error) {
	if evt.DepositID == "" || evt.UserID == 0 || !evt.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit_id=%q user_id=%d amount=%s",
			ErrInvalidDeposit, evt.DepositID, evt.UserID, evt.Amount)
	}

	result := &Result{DepositID: evt.DepositID}

	attr, err := s.store.GetReferralAttribution(ctx, evt.UserID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && attr.AffiliateID == nil) {
		// Organic deposit, nobody earns
		s.logger.Debug().Str("deposit_id", evt.DepositID).Int64("user_id", evt.UserID).
			Msg("deposit has no referral attribution, skipping")
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	affiliate, err := s.store.GetAffiliate(ctx, *attr.AffiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load affiliate %d: %w", *attr.AffiliateID, err)
	}
	if !affiliate.IsActive {
		s.logger.Warn().Str("deposit_id", evt.DepositID).Int64("affiliate_id", affiliate.ID).
			Msg("affiliate inactive, no commission recorded")
		return result, nil
	}
	result.Attributed = true

	var partner *database.Partner
	if attr.PartnerID != nil {
		partner, err = s.store.GetPartner(ctx, *attr.PartnerID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("failed to load partner %d: %w", *attr.PartnerID, err)
		}
		if partner != nil && !partner.IsActive {
			// Inactive partner loses its leg; the whole pool goes to the affiliate
			partner = nil
		}
	}

	if s.alreadyProcessed(ctx, evt.DepositID, partner != nil) {
		s.logger.Info().Str("deposit_id", evt.DepositID).Msg("deposit already processed, skipping")
		result.Duplicate = true
		return result, nil
	}

	affiliateRule, err := s.resolver.AffiliateRule(ctx, affiliate)
	if err != nil {
		return nil, err
	}
	var partnerRule *Rule
	if partner != nil {
		pr := s.resolver.PartnerRule(partner)
		partnerRule = &pr
	}

	split := Split(affiliateRule, partnerRule, evt.Amount)

	legs := s.buildLegs(evt, affiliate, partner, affiliateRule, partnerRule, split)
	conversions, created, err := s.store.RecordConversionLegs(ctx, legs)
	if err != nil {
		return nil, fmt.Errorf("failed to record conversions for deposit %s: %w", evt.DepositID, err)
	}
	newWork := false
	var failedLegs []string
	var failedErrs []error
	for i, c := range conversions {
		lr := LegResult{Leg: c.Leg, Conversion: c, Created: created[i], Amount: c.CommissionAmount()}

		switch c.Status {
		case database.ConversionStatusCompleted, database.ConversionStatusPaid, database.ConversionStatusCancelled:
			// Replay of a leg that already settled
			s.dedup.Mark(ctx, evt.DepositID, c.Leg)
			result.Legs = append(result.Legs, lr)
			continue
		}

		// Pending legs get (re)credited whether freshly inserted or left
		// over from an earlier partial failure
		newWork = true
		wt, err := s.creditLeg(ctx, c)
		if err != nil {
			s.logger.Error().Err(err).Str("deposit_id", evt.DepositID).Str("leg", c.Leg).
				Msg("wallet credit failed, conversion stays pending")
			failedLegs = append(failedLegs, c.Leg)
			failedErrs = append(failedErrs, err)
			result.Legs = append(result.Legs, lr)
			continue
		}
		lr.Transaction = wt

		if err := s.store.UpdateConversionStatus(ctx, c.ID, database.ConversionStatusCompleted); err != nil {
			s.logger.Error().Err(err).Int64("conversion_id", c.ID).
				Msg("failed to mark conversion completed after credit")
		} else {
			c.Status = database.ConversionStatusCompleted
		}

		if c.Leg == database.LegAffiliate && wt != nil {
			if err := s.store.AddApprovedEarnings(ctx, c.AffiliateID, c.AffiliateCommission); err != nil {
				s.logger.Warn().Err(err).Int64("affiliate_id", c.AffiliateID).
					Msg("failed to accumulate approved earnings")
			}
		}

		s.dedup.Mark(ctx, evt.DepositID, c.Leg)
		principalType, principalID := c.PrincipalID()
		s.bus.PublishCommissionCredited(evt.DepositID, c.Leg, principalType, principalID,
			c.CommissionAmount().StringFixed(2))
		result.Legs = append(result.Legs, lr)
	}
	result.Duplicate = !newWork && len(failedLegs) == 0

	if len(failedLegs) > 0 {
		s.bus.PublishCommissionPartialFailure(evt.DepositID, failedLegs, errors.Join(failedErrs...))
		return result, &PartialCreditError{DepositID: evt.DepositID, FailedLegs: failedLegs, Errs: failedErrs}
	}
	return result, nil
}

// alreadyProcessed consults the Redis markers for every expected leg. A
// miss is never trusted to mean "new", the database index decides that.
func (s *Service) alreadyProcessed(ctx context.Context, depositID string, hasPartner bool) bool {
	if !s.dedup.Seen(ctx, depositID, database.LegAffiliate) {
		return false
	}
	if hasPartner && !s.dedup.Seen(ctx, depositID, database.LegPartner) {
		return false
	}
	return true
}

func (s *Service) buildLegs(evt DepositEvent, affiliate *database.Affiliate, partner *database.Partner, affiliateRule Rule, partnerRule *Rule, split SplitResult) []*database.Conversion {
	affRate := affiliateRule.Value
	affType := affiliateRule.Type
	legs := []*database.Conversion{{
		Leg:                 database.LegAffiliate,
		AffiliateID:         affiliate.ID,
		UserID:              evt.UserID,
		DepositID:           evt.DepositID,
		ConversionType:      database.ConversionDeposit,
		ConversionValue:     evt.Amount,
		AffiliateCommission: split.AffiliateShare,
		CommissionRate:      &affRate,
		CommissionType:      &affType,
		Status:              database.ConversionStatusPending,
	}}

	if partner != nil && partnerRule != nil {
		partnerShare := split.PartnerShare
		rate := partnerRule.Value
		ruleType := partnerRule.Type
		legs[0].PartnerID = &partner.ID
		legs = append(legs, &database.Conversion{
			Leg:                 database.LegPartner,
			AffiliateID:         affiliate.ID,
			PartnerID:           &partner.ID,
			UserID:              evt.UserID,
			DepositID:           evt.DepositID,
			ConversionType:      database.ConversionDeposit,
			ConversionValue:     evt.Amount,
			AffiliateCommission: split.AffiliateShare,
			PartnerCommission:   &partnerShare,
			CommissionRate:      &rate,
			CommissionType:      &ruleType,
			Status:              database.ConversionStatusPending,
		})
	}
	return legs
}

// creditLeg credits one leg's commission with bounded retries. A duplicate
// reference means the credit landed on an earlier attempt; that counts as
// success.
func (s *Service) creditLeg(ctx context.Context, c *database.Conversion) (*database.WalletTransaction, error) {
	amount := c.CommissionAmount()
	if !amount.IsPositive() {
		return nil, nil
	}

	principalType, principalID := c.PrincipalID()
	refID := fmt.Sprintf("conversion:%d", c.ID)
	refType := referenceTypeConversion
	desc := fmt.Sprintf("commission for deposit %s", c.DepositID)

	attempts := s.cfg.CreditRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := time.Duration(s.cfg.CreditRetryBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		wt, err := s.store.CreditWallet(ctx, principalType, principalID, amount,
			database.TxTypeCommission, desc, &refID, &refType)
		if err == nil {
			return wt, nil
		}
		if errors.Is(err, database.ErrDuplicateTransaction) {
			return nil, nil
		}
		lastErr = err

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, lastErr
}

// RecordRegistration records a zero-value registration conversion for
// funnel reporting when a referred user signs up. No money moves.
func (s *Service) RecordRegistration(ctx context.Context, userID int64) error {
	if !s.cfg.RegistrationConversions {
		return nil
	}

	attr, err := s.store.GetReferralAttribution(ctx, userID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && attr.AffiliateID == nil) {
		return nil
	}
	if err != nil {
		return err
	}

	legs := []*database.Conversion{{
		Leg:            database.LegAffiliate,
		AffiliateID:    *attr.AffiliateID,
		PartnerID:      attr.PartnerID,
		UserID:         userID,
		DepositID:      fmt.Sprintf("registration:%d", userID),
		ConversionType: database.ConversionRegistration,
		Status:         database.ConversionStatusCompleted,
	}}
	_, _, err = s.store.RecordConversionLegs(ctx, legs)
	if err != nil {
		return fmt.Errorf("failed to record registration conversion for user %d: %w", userID, err)
	}
	return nil
}
