package commission

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"raspadinha-platform/internal/database"
	"raspadinha-platform/internal/events"
)

// fakeLedger is an in-memory LedgerStore that mirrors the database's
// idempotency guarantees: unique (deposit, leg) conversions and unique
// wallet credit references.
type fakeLedger struct {
	fakeTierStore
	affiliates   map[int64]*database.Affiliate
	partners     map[int64]*database.Partner
	attributions map[int64]*database.ReferralAttribution

	nextConversionID int64
	conversions      map[string]*database.Conversion // key depositID:leg
	credits          map[string]*database.WalletTransaction
	earnings         map[int64]decimal.Decimal

	failCredit map[string]int // principalType:id -> remaining failures
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		affiliates:   make(map[int64]*database.Affiliate),
		partners:     make(map[int64]*database.Partner),
		attributions: make(map[int64]*database.ReferralAttribution),
		conversions:  make(map[string]*database.Conversion),
		credits:      make(map[string]*database.WalletTransaction),
		earnings:     make(map[int64]decimal.Decimal),
		failCredit:   make(map[string]int),
	}
}

func (f *fakeLedger) GetReferralAttribution(ctx context.Context, userID int64) (*database.ReferralAttribution, error) {
	attr, ok := f.attributions[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return attr, nil
}

func (f *fakeLedger) GetAffiliate(ctx context.Context, id int64) (*database.Affiliate, error) {
	a, ok := f.affiliates[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return a, nil
}

func (f *fakeLedger) GetPartner(ctx context.Context, id int64) (*database.Partner, error) {
	p, ok := f.partners[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func (f *fakeLedger) RecordConversionLegs(ctx context.Context, legs []*database.Conversion) ([]*database.Conversion, []bool, error) {
	out := make([]*database.Conversion, 0, len(legs))
	created := make([]bool, 0, len(legs))
	for _, leg := range legs {
		key := leg.DepositID + ":" + leg.Leg
		if existing, ok := f.conversions[key]; ok {
			out = append(out, existing)
			created = append(created, false)
			continue
		}
		f.nextConversionID++
		cp := *leg
		cp.ID = f.nextConversionID
		f.conversions[key] = &cp
		out = append(out, &cp)
		created = append(created, true)
	}
	return out, created, nil
}

func (f *fakeLedger) CreditWallet(ctx context.Context, principalType string, principalID int64, amount decimal.Decimal, txType, description string, referenceID, referenceType *string) (*database.WalletTransaction, error) {
	principal := fmt.Sprintf("%s:%d", principalType, principalID)
	if n := f.failCredit[principal]; n > 0 {
		f.failCredit[principal] = n - 1
		return nil, errors.New("simulated credit failure")
	}

	key := principal + ":" + txType + ":" + deref(referenceID)
	if _, ok := f.credits[key]; ok {
		return nil, database.ErrDuplicateTransaction
	}
	wt := &database.WalletTransaction{
		ID:            int64(len(f.credits) + 1),
		PrincipalType: principalType,
		PrincipalID:   principalID,
		Type:          txType,
		Status:        database.TxStatusCompleted,
		Amount:        amount,
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
	}
	f.credits[key] = wt
	return wt, nil
}

func (f *fakeLedger) UpdateConversionStatus(ctx context.Context, id int64, status string) error {
	for _, c := range f.conversions {
		if c.ID == id {
			c.Status = status
			return nil
		}
	}
	return database.ErrNotFound
}

func (f *fakeLedger) AddApprovedEarnings(ctx context.Context, affiliateID int64, amount decimal.Decimal) error {
	f.earnings[affiliateID] = f.earnings[affiliateID].Add(amount)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// noopDedup disables the Redis fast path, like running without Redis
type noopDedup struct{}

func (noopDedup) Seen(ctx context.Context, depositID, leg string) bool { return false }
func (noopDedup) Mark(ctx context.Context, depositID, leg string)     {}

func newTestService(store *fakeLedger) *Service {
	return NewService(store, noopDedup{}, events.NewEventBus(), testCommissionConfig(), zerolog.Nop())
}

func seedChain(f *fakeLedger, withPartner bool) {
	f.affiliates[1] = &database.Affiliate{
		ID: 1, Tier: "bronze", CommissionType: database.CommissionPercentage, IsActive: true,
	}
	attr := &database.ReferralAttribution{UserID: 100, AffiliateID: int64Ptr(1)}
	if withPartner {
		f.partners[2] = &database.Partner{
			ID: 2, AffiliateID: 1, CommissionType: database.CommissionPercentage,
			CommissionRate: dec("5"), IsActive: true,
		}
		attr.PartnerID = int64Ptr(2)
	}
	f.attributions[100] = attr
}

func int64Ptr(v int64) *int64 { return &v }

func depositEvent(id string, amount string) DepositEvent {
	return DepositEvent{DepositID: id, UserID: 100, Amount: dec(amount)}
}

// ============================================================================
// TEST: Full two-leg deposit processing
// ============================================================================

func TestHandleDepositCompleted_TwoLegs(t *testing.T) {
	store := newFakeLedger()
	seedChain(store, true)
	svc := newTestService(store)

	result, err := svc.HandleDepositCompleted(context.Background(), depositEvent("dep-1", "100"))
	if err != nil {
		t.Fatalf("HandleDepositCompleted() error: %v", err)
	}
	if !result.Attributed {
		t.Error("Expected deposit to be attributed")
	}
	if result.Duplicate {
		t.Error("First processing must not report duplicate")
	}
	if len(result.Legs) != 2 {
		t.Fatalf("Expected 2 legs, got %d", len(result.Legs))
	}

	// bronze fallback 40% of 100 = 40 pool, partner 5% of 100 = 5
	aff := result.Legs[0]
	if !aff.Amount.Equal(dec("35")) {
		t.Errorf("Affiliate share = %s, want 35", aff.Amount)
	}
	partner := result.Legs[1]
	if !partner.Amount.Equal(dec("5")) {
		t.Errorf("Partner share = %s, want 5", partner.Amount)
	}

	for _, leg := range result.Legs {
		if leg.Conversion.Status != database.ConversionStatusCompleted {
			t.Errorf("Leg %s status = %s, want completed", leg.Leg, leg.Conversion.Status)
		}
	}
	if len(store.credits) != 2 {
		t.Errorf("Expected 2 wallet credits, got %d", len(store.credits))
	}
	if !store.earnings[1].Equal(dec("35")) {
		t.Errorf("Approved earnings = %s, want 35", store.earnings[1])
	}
}

// ============================================================================
// TEST: Replays never double-credit
// ============================================================================

func TestHandleDepositCompleted_ReplayIsIdempotent(t *testing.T) {
	store := newFakeLedger()
	seedChain(store, true)
	svc := newTestService(store)
	ctx := context.Background()

	evt := depositEvent("dep-2", "200")
	if _, err := svc.HandleDepositCompleted(ctx, evt); err != nil {
		t.Fatalf("first processing error: %v", err)
	}

	for i := 0; i < 3; i++ {
		result, err := svc.HandleDepositCompleted(ctx, evt)
		if err != nil {
			t.Fatalf("replay %d error: %v", i, err)
		}
		if !result.Duplicate {
			t.Errorf("replay %d: expected duplicate result", i)
		}
	}

	if len(store.conversions) != 2 {
		t.Errorf("Expected 2 conversions after replays, got %d", len(store.conversions))
	}
	if len(store.credits) != 2 {
		t.Errorf("Expected 2 wallet credits after replays, got %d", len(store.credits))
	}
	if !store.earnings[1].Equal(dec("70")) {
		t.Errorf("Approved earnings = %s, want 70 (no double count)", store.earnings[1])
	}
}

// ============================================================================
// TEST: Unattributed and inactive principals
// ============================================================================

func TestHandleDepositCompleted_NoAttribution(t *testing.T) {
	store := newFakeLedger()
	svc := newTestService(store)

	result, err := svc.HandleDepositCompleted(context.Background(), depositEvent("dep-3", "50"))
	if err != nil {
		t.Fatalf("HandleDepositCompleted() error: %v", err)
	}
	if result.Attributed {
		t.Error("Expected unattributed result")
	}
	if len(store.conversions) != 0 || len(store.credits) != 0 {
		t.Error("Unattributed deposit must not touch the ledger")
	}
}

func TestHandleDepositCompleted_InactivePartnerLosesLeg(t *testing.T) {
	store := newFakeLedger()
	seedChain(store, true)
	store.partners[2].IsActive = false
	svc := newTestService(store)

	result, err := svc.HandleDepositCompleted(context.Background(), depositEvent("dep-4", "100"))
	if err != nil {
		t.Fatalf("HandleDepositCompleted() error: %v", err)
	}
	if len(result.Legs) != 1 {
		t.Fatalf("Expected 1 leg, got %d", len(result.Legs))
	}
	// Whole 40% pool goes to the affiliate
	if !result.Legs[0].Amount.Equal(dec("40")) {
		t.Errorf("Affiliate share = %s, want 40", result.Legs[0].Amount)
	}
}

func TestHandleDepositCompleted_InvalidEvent(t *testing.T) {
	svc := newTestService(newFakeLedger())
	ctx := context.Background()

	invalid := []DepositEvent{
		{DepositID: "", UserID: 1, Amount: dec("10")},
		{DepositID: "d", UserID: 0, Amount: dec("10")},
		{DepositID: "d", UserID: 1, Amount: dec("0")},
		{DepositID: "d", UserID: 1, Amount: dec("-5")},
	}
	for _, evt := range invalid {
		if _, err := svc.HandleDepositCompleted(ctx, evt); !errors.Is(err, ErrInvalidDeposit) {
			t.Errorf("event %+v: expected ErrInvalidDeposit, got %v", evt, err)
		}
	}
}

// ============================================================================
// TEST: Partial failure stays pending and heals on replay
// ============================================================================

func TestHandleDepositCompleted_PartialFailureHealsOnReplay(t *testing.T) {
	store := newFakeLedger()
	seedChain(store, true)
	store.failCredit["partner:2"] = 1 // one transient failure, retries exhausted
	svc := newTestService(store)
	ctx := context.Background()

	evt := depositEvent("dep-5", "100")
	_, err := svc.HandleDepositCompleted(ctx, evt)
	var partial *PartialCreditError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialCreditError, got %v", err)
	}
	if len(partial.FailedLegs) != 1 || partial.FailedLegs[0] != database.LegPartner {
		t.Fatalf("expected partner leg failure, got %v", partial.FailedLegs)
	}

	// Affiliate leg settled, partner leg stayed pending
	if store.conversions["dep-5:affiliate"].Status != database.ConversionStatusCompleted {
		t.Error("affiliate leg should be completed")
	}
	if store.conversions["dep-5:partner"].Status != database.ConversionStatusPending {
		t.Error("partner leg should stay pending")
	}

	// Replay credits only the missing leg
	result, err := svc.HandleDepositCompleted(ctx, evt)
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	if result.Duplicate {
		t.Error("healing replay must not report duplicate")
	}
	if store.conversions["dep-5:partner"].Status != database.ConversionStatusCompleted {
		t.Error("partner leg should be completed after replay")
	}
	if len(store.credits) != 2 {
		t.Errorf("Expected 2 credits after healing, got %d", len(store.credits))
	}
}

// ============================================================================
// TEST: Registration conversions
// ============================================================================

func TestRecordRegistration(t *testing.T) {
	store := newFakeLedger()
	seedChain(store, false)
	svc := newTestService(store)
	ctx := context.Background()

	if err := svc.RecordRegistration(ctx, 100); err != nil {
		t.Fatalf("RecordRegistration() error: %v", err)
	}
	c, ok := store.conversions["registration:100:affiliate"]
	if !ok {
		t.Fatal("Expected registration conversion")
	}
	if c.ConversionType != database.ConversionRegistration {
		t.Errorf("ConversionType = %s, want registration", c.ConversionType)
	}
	if !c.AffiliateCommission.IsZero() {
		t.Errorf("Registration must carry no commission, got %s", c.AffiliateCommission)
	}

	// A replayed registration webhook lands on the unique (deposit, leg)
	// index and keeps a single row
	if err := svc.RecordRegistration(ctx, 100); err != nil {
		t.Fatalf("RecordRegistration() replay error: %v", err)
	}
	if len(store.conversions) != 1 {
		t.Errorf("Replay must not duplicate the registration row, got %d rows", len(store.conversions))
	}

	// Unreferred users record nothing
	if err := svc.RecordRegistration(ctx, 999); err != nil {
		t.Fatalf("RecordRegistration() error: %v", err)
	}
	if len(store.conversions) != 1 {
		t.Errorf("Expected 1 conversion, got %d", len(store.conversions))
	}
}
