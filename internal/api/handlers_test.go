package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raspadinha-platform/internal/commission"
	"raspadinha-platform/internal/database"
	"raspadinha-platform/internal/events"
	"raspadinha-platform/internal/wallet"
)

type fakeCommission struct {
	result *commission.Result
	err    error
}

func (f *fakeCommission) HandleDepositCompleted(ctx context.Context, evt commission.DepositEvent) (*commission.Result, error) {
	if f.err != nil {
		return f.result, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &commission.Result{DepositID: evt.DepositID, Attributed: true}, nil
}

func (f *fakeCommission) RecordRegistration(ctx context.Context, userID int64) error {
	return nil
}

type fakeWallet struct {
	wallet      *database.Wallet
	withdrawal  *database.Withdrawal
	requestErr  error
	payoutErr   error
	failedCalls []string
}

func (f *fakeWallet) GetWallet(ctx context.Context, pt string, pid int64) (*database.Wallet, error) {
	if f.wallet != nil {
		return f.wallet, nil
	}
	return &database.Wallet{PrincipalType: pt, PrincipalID: pid, Balance: decimal.Zero}, nil
}

func (f *fakeWallet) ListTransactions(ctx context.Context, pt string, pid int64, limit, offset int) ([]*database.WalletTransaction, error) {
	return nil, nil
}

func (f *fakeWallet) ListWithdrawals(ctx context.Context, pt string, pid int64, limit, offset int) ([]*database.Withdrawal, error) {
	return nil, nil
}

func (f *fakeWallet) RequestWithdrawal(ctx context.Context, pt string, pid int64, amount decimal.Decimal, pixKey string, pixKeyType *string) (*database.Withdrawal, error) {
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	return &database.Withdrawal{ID: 1, DisplayID: 12345, PrincipalType: pt, PrincipalID: pid,
		Amount: amount, PixKey: pixKey, Status: database.WithdrawalStatusPending}, nil
}

func (f *fakeWallet) ConfirmPayout(ctx context.Context, id int64, endToEndID *string) (*database.Withdrawal, error) {
	f.failedCalls = append(f.failedCalls, "confirm")
	if f.payoutErr != nil {
		return nil, f.payoutErr
	}
	return &database.Withdrawal{ID: id, Status: database.WithdrawalStatusCompleted}, nil
}

func (f *fakeWallet) FailPayout(ctx context.Context, id int64, status, reason string) (*database.Withdrawal, error) {
	if f.payoutErr != nil {
		return nil, f.payoutErr
	}
	return &database.Withdrawal{ID: id, Status: status}, nil
}

type fakeAdminStore struct {
	tiers         []*database.TierConfig
	updateErr     error
	cancelErr     error
	conversion    *database.Conversion
	markedPaid    int64
	promoted      int64
	healthy       bool
	byDeposit     []*database.Conversion
	byPrincipal   []*database.Conversion
}

func (f *fakeAdminStore) HealthCheck(ctx context.Context) error {
	if f.healthy {
		return nil
	}
	return context.DeadlineExceeded
}

func (f *fakeAdminStore) ListTierConfigs(ctx context.Context) ([]*database.TierConfig, error) {
	return f.tiers, nil
}

func (f *fakeAdminStore) UpdateTierConfig(ctx context.Context, tier string, rate, fixed, minEarnings decimal.Decimal) error {
	return f.updateErr
}

func (f *fakeAdminStore) CancelConversion(ctx context.Context, id int64, reason string) (*database.Conversion, *database.WalletTransaction, error) {
	if f.cancelErr != nil {
		return nil, nil, f.cancelErr
	}
	return f.conversion, &database.WalletTransaction{Amount: decimal.NewFromInt(-10)}, nil
}

func (f *fakeAdminStore) MarkConversionsPaid(ctx context.Context, ids []int64) (int64, error) {
	f.markedPaid = int64(len(ids))
	return f.markedPaid, nil
}

func (f *fakeAdminStore) PromoteEligibleAffiliates(ctx context.Context) (int64, error) {
	return f.promoted, nil
}

func (f *fakeAdminStore) ListConversionsByPrincipal(ctx context.Context, pt string, pid int64, filter database.ConversionFilter) ([]*database.Conversion, error) {
	return f.byPrincipal, nil
}

func (f *fakeAdminStore) GetConversionsByDeposit(ctx context.Context, depositID string) ([]*database.Conversion, error) {
	return f.byDeposit, nil
}

func newTestServer(store *fakeAdminStore, comm *fakeCommission, w *fakeWallet) *Server {
	return NewServer(
		ServerConfig{Port: 0, Host: "127.0.0.1", AllowedOrigins: "*", ProductionMode: true},
		store, comm, w, nil, events.NewEventBus(),
	)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&fakeAdminStore{healthy: true}, &fakeCommission{}, &fakeWallet{})
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s = newTestServer(&fakeAdminStore{healthy: false}, &fakeCommission{}, &fakeWallet{})
	rec = doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDepositWebhook(t *testing.T) {
	t.Run("processed", func(t *testing.T) {
		s := newTestServer(&fakeAdminStore{healthy: true}, &fakeCommission{}, &fakeWallet{})
		rec := doJSON(t, s, http.MethodPost, "/api/webhooks/deposit-completed", jsonBody{
			"deposit_id": "dep-1", "user_id": 100, "amount": "150.00",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "processed", resp["status"])
	})

	t.Run("duplicate returns 200", func(t *testing.T) {
		comm := &fakeCommission{result: &commission.Result{DepositID: "dep-1", Attributed: true, Duplicate: true}}
		s := newTestServer(&fakeAdminStore{healthy: true}, comm, &fakeWallet{})
		rec := doJSON(t, s, http.MethodPost, "/api/webhooks/deposit-completed", jsonBody{
			"deposit_id": "dep-1", "user_id": 100, "amount": "150.00",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "duplicate", resp["status"])
	})

	t.Run("partial failure returns 500 for retry", func(t *testing.T) {
		comm := &fakeCommission{
			result: &commission.Result{DepositID: "dep-2"},
			err:    &commission.PartialCreditError{DepositID: "dep-2", FailedLegs: []string{"partner"}},
		}
		s := newTestServer(&fakeAdminStore{healthy: true}, comm, &fakeWallet{})
		rec := doJSON(t, s, http.MethodPost, "/api/webhooks/deposit-completed", jsonBody{
			"deposit_id": "dep-2", "user_id": 100, "amount": "150.00",
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		s := newTestServer(&fakeAdminStore{healthy: true}, &fakeCommission{}, &fakeWallet{})
		rec := doJSON(t, s, http.MethodPost, "/api/webhooks/deposit-completed", jsonBody{"deposit_id": "dep-1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPayoutResultWebhook(t *testing.T) {
	t.Run("already settled replay returns 200", func(t *testing.T) {
		w := &fakeWallet{payoutErr: database.ErrWithdrawalNotPending}
		s := newTestServer(&fakeAdminStore{healthy: true}, &fakeCommission{}, w)
		rec := doJSON(t, s, http.MethodPost, "/api/webhooks/payout-result", jsonBody{
			"withdrawal_id": 7, "status": "completed",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "already_settled", resp["status"])
	})

	t.Run("unknown withdrawal returns 404", func(t *testing.T) {
		w := &fakeWallet{payoutErr: database.ErrNotFound}
		s := newTestServer(&fakeAdminStore{healthy: true}, &fakeCommission{}, w)
		rec := doJSON(t, s, http.MethodPost, "/api/webhooks/payout-result", jsonBody{
			"withdrawal_id": 7, "status": "failed", "reason": "timeout",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bogus status rejected", func(t *testing.T) {
		s := newTestServer(&fakeAdminStore{healthy: true}, &fakeCommission{}, &fakeWallet{})
		rec := doJSON(t, s, http.MethodPost, "/api/webhooks/payout-result", jsonBody{
			"withdrawal_id": 7, "status": "maybe",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWithdrawalEndpoint(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		s := newTestServer(&fakeAdminStore{healthy: true}, &fakeCommission{}, &fakeWallet{})
		rec := doJSON(t, s, http.MethodPost, "/api/principals/affiliate/1/withdrawals", jsonBody{
			"amount": "50.00", "pix_key": "key@pix",
		})
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("below minimum", func(t *testing.T) {
		w := &fakeWallet{requestErr: wallet.ErrAmountBelowMinimum}
		s := newTestServer(&fakeAdminStore{healthy: true}, &fakeCommission{}, w)
		rec := doJSON(t, s, http.MethodPost, "/api/principals/affiliate/1/withdrawals", jsonBody{
			"amount": "1.00", "pix_key": "key@pix",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		w := &fakeWallet{requestErr: database.ErrInsufficientFunds}
		s := newTestServer(&fakeAdminStore{healthy: true}, &fakeCommission{}, w)
		rec := doJSON(t, s, http.MethodPost, "/api/principals/affiliate/1/withdrawals", jsonBody{
			"amount": "500.00", "pix_key": "key@pix",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("bad principal type", func(t *testing.T) {
		s := newTestServer(&fakeAdminStore{healthy: true}, &fakeCommission{}, &fakeWallet{})
		rec := doJSON(t, s, http.MethodPost, "/api/principals/user/1/withdrawals", jsonBody{
			"amount": "50.00", "pix_key": "key@pix",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAdminEndpoints(t *testing.T) {
	t.Run("update unknown tier returns 404", func(t *testing.T) {
		store := &fakeAdminStore{healthy: true, updateErr: database.ErrNotFound}
		s := newTestServer(store, &fakeCommission{}, &fakeWallet{})
		rec := doJSON(t, s, http.MethodPut, "/api/admin/tiers/mythril", jsonBody{
			"percentage_rate": "45", "fixed_amount": "7",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("negative tier values rejected", func(t *testing.T) {
		s := newTestServer(&fakeAdminStore{healthy: true}, &fakeCommission{}, &fakeWallet{})
		rec := doJSON(t, s, http.MethodPut, "/api/admin/tiers/gold", jsonBody{
			"percentage_rate": "-1", "fixed_amount": "7",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cancel paid conversion returns 409", func(t *testing.T) {
		store := &fakeAdminStore{healthy: true, cancelErr: database.ErrConversionNotCancellable}
		s := newTestServer(store, &fakeCommission{}, &fakeWallet{})
		rec := doJSON(t, s, http.MethodPost, "/api/admin/conversions/5/cancel", jsonBody{"reason": "chargeback"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("cancel succeeds", func(t *testing.T) {
		store := &fakeAdminStore{
			healthy:    true,
			conversion: &database.Conversion{ID: 5, DepositID: "dep-9", Status: database.ConversionStatusCancelled},
		}
		s := newTestServer(store, &fakeCommission{}, &fakeWallet{})
		rec := doJSON(t, s, http.MethodPost, "/api/admin/conversions/5/cancel", jsonBody{"reason": "chargeback"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("mark paid", func(t *testing.T) {
		store := &fakeAdminStore{healthy: true}
		s := newTestServer(store, &fakeCommission{}, &fakeWallet{})
		rec := doJSON(t, s, http.MethodPost, "/api/admin/conversions/mark-paid", jsonBody{
			"conversion_ids": []int64{1, 2, 3},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(3), store.markedPaid)
	})
}

// jsonBody mirrors gin.H for request payloads
type jsonBody = map[string]interface{}
