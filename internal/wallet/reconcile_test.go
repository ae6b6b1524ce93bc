package wallet

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raspadinha-platform/internal/database"
	"raspadinha-platform/internal/events"
)

// fakeReconcileStore holds cached balances and independent ledger sums so
// tests can inject drift
type fakeReconcileStore struct {
	principals []struct {
		PrincipalType string
		PrincipalID   int64
	}
	cached  map[string]decimal.Decimal
	ledger  map[string]decimal.Decimal
	repairs int
}

func newFakeReconcileStore() *fakeReconcileStore {
	return &fakeReconcileStore{
		cached: make(map[string]decimal.Decimal),
		ledger: make(map[string]decimal.Decimal),
	}
}

func (f *fakeReconcileStore) add(pt string, pid int64, cached, ledger string) {
	f.principals = append(f.principals, struct {
		PrincipalType string
		PrincipalID   int64
	}{pt, pid})
	f.cached[key(pt, pid)] = dec(cached)
	f.ledger[key(pt, pid)] = dec(ledger)
}

func (f *fakeReconcileStore) ListWalletPrincipals(ctx context.Context, limit, offset int) ([]struct {
	PrincipalType string
	PrincipalID   int64
}, error) {
	if offset >= len(f.principals) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.principals) {
		end = len(f.principals)
	}
	return f.principals[offset:end], nil
}

func (f *fakeReconcileStore) GetWallet(ctx context.Context, pt string, pid int64) (*database.Wallet, error) {
	return &database.Wallet{PrincipalType: pt, PrincipalID: pid, Balance: f.cached[key(pt, pid)]}, nil
}

func (f *fakeReconcileStore) ComputeLedgerBalance(ctx context.Context, pt string, pid int64) (decimal.Decimal, error) {
	return f.ledger[key(pt, pid)], nil
}

func (f *fakeReconcileStore) RepairWalletDrift(ctx context.Context, pt string, pid int64) (*database.WalletTransaction, error) {
	k := key(pt, pid)
	drift := f.ledger[k].Sub(f.cached[k])
	if drift.IsZero() {
		return nil, nil
	}
	f.cached[k] = f.ledger[k]
	f.repairs++
	return &database.WalletTransaction{Amount: drift}, nil
}

func TestReconciler_CleanSweep(t *testing.T) {
	store := newFakeReconcileStore()
	store.add("affiliate", 1, "100", "100")
	store.add("partner", 2, "50", "50")

	r := NewReconciler(store, events.NewEventBus(), 10, zerolog.Nop())
	report, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 0, report.Drifted)
	assert.Equal(t, 0, store.repairs)
}

func TestReconciler_RepairsDrift(t *testing.T) {
	store := newFakeReconcileStore()
	store.add("affiliate", 1, "100", "100")
	store.add("affiliate", 2, "80", "95") // missing credit
	store.add("partner", 3, "40", "25")   // stale surplus

	r := NewReconciler(store, events.NewEventBus(), 2, zerolog.Nop()) // batch smaller than fleet
	report, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Drifted)
	assert.Equal(t, 2, report.Repaired)
	assert.Equal(t, 2, store.repairs)

	require.Len(t, report.Findings, 2)
	assert.True(t, report.Findings[0].Drift.Equal(dec("15")))
	assert.True(t, report.Findings[1].Drift.Equal(dec("-15")))

	// Repaired wallets are clean on the next sweep
	report, err = r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Drifted)
}

func TestReconciler_DryRunDoesNotRepair(t *testing.T) {
	store := newFakeReconcileStore()
	store.add("affiliate", 1, "80", "95")

	r := NewReconciler(store, events.NewEventBus(), 10, zerolog.Nop())
	report, err := r.Run(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Drifted)
	assert.Equal(t, 0, report.Repaired)
	assert.Equal(t, 0, store.repairs)
	assert.True(t, store.cached[key("affiliate", 1)].Equal(dec("80")), "dry run must not touch balances")
}
