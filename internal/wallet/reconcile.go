package wallet

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"raspadinha-platform/internal/database"
	"raspadinha-platform/internal/events"
)

// ReconcileStore is the persistence surface the reconciler needs
type ReconcileStore interface {
	ListWalletPrincipals(ctx context.Context, limit, offset int) ([]struct {
		PrincipalType string
		PrincipalID   int64
	}, error)
	GetWallet(ctx context.Context, principalType string, principalID int64) (*database.Wallet, error)
	ComputeLedgerBalance(ctx context.Context, principalType string, principalID int64) (decimal.Decimal, error)
	RepairWalletDrift(ctx context.Context, principalType string, principalID int64) (*database.WalletTransaction, error)
}

// DriftFinding is one wallet whose cached balance disagreed with its
// transaction log
type DriftFinding struct {
	PrincipalType string          `json:"principal_type"`
	PrincipalID   int64           `json:"principal_id"`
	Cached        decimal.Decimal `json:"cached"`
	Expected      decimal.Decimal `json:"expected"`
	Drift         decimal.Decimal `json:"drift"`
	Repaired      bool            `json:"repaired"`
}

// Report summarizes one reconciliation sweep
type Report struct {
	Checked  int            `json:"checked"`
	Drifted  int            `json:"drifted"`
	Repaired int            `json:"repaired"`
	Findings []DriftFinding `json:"findings,omitempty"`
}

// Reconciler sweeps all wallets comparing the cached balance column against
// the signed sum of the transaction log
type Reconciler struct {
	store     ReconcileStore
	bus       *events.EventBus
	batchSize int
	logger    zerolog.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(store ReconcileStore, bus *events.EventBus, batchSize int, logger zerolog.Logger) *Reconciler {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Reconciler{
		store:     store,
		bus:       bus,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "Reconciler").Logger(),
	}
}

// Run performs one full sweep. With dryRun set, drift is reported but not
// repaired. Repairs re-check the drift under the wallet row lock, so a
// credit landing between detection and repair never produces a bogus
// adjustment.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{}

	for offset := 0; ; offset += r.batchSize {
		principals, err := r.store.ListWalletPrincipals(ctx, r.batchSize, offset)
		if err != nil {
			return report, fmt.Errorf("failed to list wallets: %w", err)
		}
		if len(principals) == 0 {
			break
		}

		for _, p := range principals {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Checked++

			finding, err := r.checkWallet(ctx, p.PrincipalType, p.PrincipalID, dryRun)
			if err != nil {
				r.logger.Error().Err(err).Str("principal_type", p.PrincipalType).
					Int64("principal_id", p.PrincipalID).Msg("reconciliation check failed")
				continue
			}
			if finding == nil {
				continue
			}

			report.Drifted++
			if finding.Repaired {
				report.Repaired++
			}
			report.Findings = append(report.Findings, *finding)
		}

		if len(principals) < r.batchSize {
			break
		}
	}

	if report.Drifted > 0 {
		r.logger.Warn().Int("checked", report.Checked).Int("drifted", report.Drifted).
			Int("repaired", report.Repaired).Msg("reconciliation sweep found drift")
	} else {
		r.logger.Info().Int("checked", report.Checked).Msg("reconciliation sweep clean")
	}
	return report, nil
}

func (r *Reconciler) checkWallet(ctx context.Context, principalType string, principalID int64, dryRun bool) (*DriftFinding, error) {
	w, err := r.store.GetWallet(ctx, principalType, principalID)
	if err != nil {
		return nil, err
	}
	expected, err := r.store.ComputeLedgerBalance(ctx, principalType, principalID)
	if err != nil {
		return nil, err
	}

	drift := expected.Sub(w.Balance)
	if drift.IsZero() {
		return nil, nil
	}

	finding := &DriftFinding{
		PrincipalType: principalType,
		PrincipalID:   principalID,
		Cached:        w.Balance,
		Expected:      expected,
		Drift:         drift,
	}

	r.logger.Warn().Str("principal_type", principalType).Int64("principal_id", principalID).
		Str("cached", w.Balance.StringFixed(2)).Str("expected", expected.StringFixed(2)).
		Str("drift", drift.StringFixed(2)).Msg("wallet drift detected")
	r.bus.PublishWalletDriftDetected(principalType, principalID,
		w.Balance.StringFixed(2), expected.StringFixed(2), drift.StringFixed(2))

	if dryRun {
		return finding, nil
	}

	repair, err := r.store.RepairWalletDrift(ctx, principalType, principalID)
	if err != nil {
		return finding, fmt.Errorf("failed to repair drift: %w", err)
	}
	finding.Repaired = repair != nil
	return finding, nil
}
