package funding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "kudi/internal/errors"
	"kudi/internal/models"
	"kudi/internal/repositories/memstore"
	"kudi/internal/services/gateway"
	"kudi/internal/services/gateway/gatewaytest"
	"kudi/internal/services/idempotency"
	"kudi/internal/services/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTransfers struct {
	mock.Mock
}

func (m *MockTransfers) Complete(ctx context.Context, reference, transferCode string) error {
	return m.Called(ctx, reference, transferCode).Error(0)
}

func (m *MockTransfers) Fail(ctx context.Context, reference, reason string) error {
	return m.Called(ctx, reference, reason).Error(0)
}

type fixture struct {
	svc       Reconciler
	store     *memstore.Store
	ledger    ledger.Service
	gw        *gatewaytest.MockClient
	transfers *MockTransfers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	ledgerSvc := ledger.NewService(store, nil, nil)
	gw := new(gatewaytest.MockClient)
	transfers := new(MockTransfers)
	svc := NewReconciler(store, ledgerSvc, idempotency.NewGuard(store), gw, transfers, Config{
		MinAmount: decimal.NewFromInt(100),
		MaxAmount: decimal.NewFromInt(1000000),
		IntentTTL: time.Hour,
	}, nil)
	return &fixture{svc: svc, store: store, ledger: ledgerSvc, gw: gw, transfers: transfers}
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// initialize creates a pending intent for userID through the public flow.
func (f *fixture) initialize(t *testing.T, userID uint, amount string) string {
	t.Helper()
	f.gw.On("InitializeCharge", mock.Anything, mock.MatchedBy(func(r gateway.ChargeRequest) bool {
		return r.Amount == gateway.ToMinor(d(amount))
	})).Return(&gateway.ChargeSession{AuthorizationURL: "https://checkout.test/x"}, nil).Once()

	res, err := f.svc.Initialize(context.Background(), userID, "user@example.com", d(amount))
	require.NoError(t, err)
	return res.Reference
}

func (f *fixture) balance(t *testing.T, userID uint) decimal.Decimal {
	t.Helper()
	w, err := f.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return w.Balance
}

func (f *fixture) intent(t *testing.T, reference string) *models.FundingIntent {
	t.Helper()
	intent, err := f.store.GetFundingIntent(context.Background(), reference)
	require.NoError(t, err)
	return intent
}

func (f *fixture) rechargeEntries(userID uint) int {
	n := 0
	for _, e := range f.store.Entries(userID) {
		if e.Kind == models.LedgerKindRecharge {
			n++
		}
	}
	return n
}

func chargeBody(reference string, kobo int64) []byte {
	return []byte(fmt.Sprintf(`{"event":"charge.success","data":{"id":5512,"status":"success","reference":%q,"amount":%d,"paid_at":"2024-08-22T09:15:02.000Z"}}`, reference, kobo))
}

func (f *fixture) acceptSignatures() {
	f.gw.On("VerifyWebhookSignature", mock.Anything, "good").Return(true)
	f.gw.On("VerifyWebhookSignature", mock.Anything, mock.Anything).Return(false)
}

func TestInitialize(t *testing.T) {
	t.Run("creates pending intent", func(t *testing.T) {
		f := newFixture(t)
		ref := f.initialize(t, 1, "1000")

		assert.True(t, IsReference(ref))
		intent := f.intent(t, ref)
		assert.Equal(t, models.FundingPending, intent.Status)
		assert.Equal(t, "https://checkout.test/x", intent.AuthorizationURL)
	})

	t.Run("amount bounds", func(t *testing.T) {
		f := newFixture(t)
		for _, amount := range []string{"0", "-1", "99.99", "1000000.01", "150.001"} {
			_, err := f.svc.Initialize(context.Background(), 1, "a@b.co", d(amount))
			assert.ErrorIs(t, err, apperrors.ErrInvalidAmount, amount)
		}
		f.gw.AssertNotCalled(t, "InitializeCharge", mock.Anything, mock.Anything)
	})

	t.Run("settlement during initialize is kept", func(t *testing.T) {
		f := newFixture(t)
		f.acceptSignatures()
		f.gw.On("InitializeCharge", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				req := args.Get(1).(gateway.ChargeRequest)
				require.NoError(t, f.svc.HandleWebhook(context.Background(), chargeBody(req.Reference, req.Amount), "good"))
			}).
			Return(&gateway.ChargeSession{AuthorizationURL: "https://checkout.test/late"}, nil).Once()

		res, err := f.svc.Initialize(context.Background(), 1, "a@b.co", d("500"))
		require.NoError(t, err)

		intent := f.intent(t, res.Reference)
		assert.Equal(t, models.FundingCompleted, intent.Status)
		assert.True(t, d("500").Equal(f.balance(t, 1)))
	})

	t.Run("provider error marks intent failed", func(t *testing.T) {
		f := newFixture(t)
		f.gw.On("InitializeCharge", mock.Anything, mock.Anything).
			Return(nil, &gateway.Error{Op: "initialize charge", Err: gateway.ErrUnavailable}).Once()

		_, err := f.svc.Initialize(context.Background(), 1, "a@b.co", d("500"))
		assert.ErrorIs(t, err, apperrors.ErrProvider)

		intents, err := f.store.ListPendingFundingIntents(context.Background(), time.Now().Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, intents)
	})
}

func TestVerify_TwiceAfterSuccessCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ref := f.initialize(t, 1, "1000")
	f.gw.On("VerifyCharge", mock.Anything, ref).
		Return(&gateway.ChargeResult{Status: gateway.ChargeSuccess, Reference: ref, Amount: 100000, ProviderReference: "99"}, nil).Once()

	first, err := f.svc.Verify(context.Background(), 1, ref)
	require.NoError(t, err)
	second, err := f.svc.Verify(context.Background(), 1, ref)
	require.NoError(t, err)

	assert.True(t, first.Verified)
	assert.False(t, first.AlreadyProcessed)
	assert.True(t, second.Verified)
	assert.True(t, second.AlreadyProcessed)
	assert.True(t, first.Amount.Equal(second.Amount))
	assert.Equal(t, 1, f.rechargeEntries(1))
	assert.True(t, d("1000").Equal(f.balance(t, 1)))
	f.gw.AssertNumberOfCalls(t, "VerifyCharge", 1)
}

func TestVerify_Rejections(t *testing.T) {
	f := newFixture(t)
	ref := f.initialize(t, 1, "1000")

	_, err := f.svc.Verify(context.Background(), 1, "WD_1_1_deadbeef")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.Verify(context.Background(), 2, ref)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = f.svc.Verify(context.Background(), 1, "WALLET_1_1_00000000")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestVerify_ProviderStatuses(t *testing.T) {
	tests := []struct {
		name       string
		result     *gateway.ChargeResult
		err        error
		wantErr    error
		wantStatus models.FundingStatus
	}{
		{name: "abandoned fails intent", result: &gateway.ChargeResult{Status: gateway.ChargeAbandoned}, wantStatus: models.FundingFailed},
		{name: "ongoing stays pending", result: &gateway.ChargeResult{Status: gateway.ChargeOngoing}, wantStatus: models.FundingPending},
		{name: "transport error changes nothing", err: &gateway.Error{Op: "verify", Err: gateway.ErrUnavailable}, wantErr: apperrors.ErrProvider, wantStatus: models.FundingPending},
		{name: "provider refusal fails intent", err: &gateway.Error{Op: "verify", StatusCode: 400, Message: "Transaction reference not found", Err: gateway.ErrRejected}, wantErr: apperrors.ErrProvider, wantStatus: models.FundingFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ref := f.initialize(t, 1, "1000")
			if tt.result != nil {
				f.gw.On("VerifyCharge", mock.Anything, ref).Return(tt.result, nil).Once()
			} else {
				f.gw.On("VerifyCharge", mock.Anything, ref).Return(nil, tt.err).Once()
			}

			res, err := f.svc.Verify(context.Background(), 1, ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.False(t, res.Verified)
				assert.Equal(t, tt.wantStatus, res.Status)
			}
			assert.Equal(t, tt.wantStatus, f.intent(t, ref).Status)
			assert.True(t, f.balance(t, 1).IsZero())
		})
	}
}

func TestWebhook_OnlyFundsWallet(t *testing.T) {
	f := newFixture(t)
	f.acceptSignatures()
	ref := f.initialize(t, 1, "1000")

	require.NoError(t, f.svc.HandleWebhook(context.Background(), chargeBody(ref, 100000), "good"))

	assert.True(t, d("1000").Equal(f.balance(t, 1)))
	intent := f.intent(t, ref)
	assert.Equal(t, models.FundingCompleted, intent.Status)
	assert.Equal(t, "5512", intent.ProviderReference)
	require.NotNil(t, intent.CompletedAt)
}

func TestWebhook_ConcurrentRedeliveryCreditsOnce(t *testing.T) {
	f := newFixture(t)
	f.acceptSignatures()
	ref := f.initialize(t, 1, "1000")
	body := chargeBody(ref, 100000)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.HandleWebhook(context.Background(), body, "good"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.rechargeEntries(1))
	assert.Equal(t, models.FundingCompleted, f.intent(t, ref).Status)
	assert.True(t, d("1000").Equal(f.balance(t, 1)))
}

func TestVerifyRacingWebhook_SingleCredit(t *testing.T) {
	f := newFixture(t)
	f.acceptSignatures()

	first := f.initialize(t, 1, "1000")
	require.NoError(t, f.svc.HandleWebhook(context.Background(), chargeBody(first, 100000), "good"))
	require.True(t, d("1000").Equal(f.balance(t, 1)))

	ref := f.initialize(t, 1, "1000")
	f.gw.On("VerifyCharge", mock.Anything, ref).
		Return(&gateway.ChargeResult{Status: gateway.ChargeSuccess, Reference: ref, Amount: 100000}, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res, err := f.svc.Verify(context.Background(), 1, ref)
		assert.NoError(t, err)
		assert.True(t, res.Verified)
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, f.svc.HandleWebhook(context.Background(), chargeBody(ref, 100000), "good"))
	}()
	wg.Wait()

	assert.True(t, d("2000").Equal(f.balance(t, 1)), "balance %s", f.balance(t, 1))
	assert.Equal(t, 2, f.rechargeEntries(1))
}

func TestAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ref := f.initialize(t, 1, "1000")
	f.gw.On("VerifyCharge", mock.Anything, ref).
		Return(&gateway.ChargeResult{Status: gateway.ChargeSuccess, Reference: ref, Amount: 95000}, nil).Once()

	_, err := f.svc.Verify(context.Background(), 1, ref)
	assert.ErrorIs(t, err, apperrors.ErrAmountMismatch)
	assert.False(t, errors.Is(err, apperrors.ErrProvider))

	intent := f.intent(t, ref)
	assert.Equal(t, models.FundingFailed, intent.Status)
	assert.Contains(t, intent.FailureReason, "950.00")
	assert.True(t, f.balance(t, 1).IsZero())
	assert.Empty(t, f.store.Entries(1))

	f.acceptSignatures()
	require.NoError(t, f.svc.HandleWebhook(context.Background(), chargeBody(ref, 100000), "good"))
	assert.Equal(t, models.FundingFailed, f.intent(t, ref).Status, "failed intents are never completed")
	assert.True(t, f.balance(t, 1).IsZero())
}

func TestAmountWithinEpsilonSettles(t *testing.T) {
	f := newFixture(t)
	f.acceptSignatures()
	ref := f.initialize(t, 1, "1000")

	require.NoError(t, f.svc.HandleWebhook(context.Background(), chargeBody(ref, 99999), "good"))
	assert.Equal(t, models.FundingCompleted, f.intent(t, ref).Status)
}

func TestWebhook_Routing(t *testing.T) {
	f := newFixture(t)
	f.acceptSignatures()
	ctx := context.Background()

	err := f.svc.HandleWebhook(ctx, chargeBody("WALLET_1_1_deadbeef", 100), "bad")
	assert.ErrorIs(t, err, apperrors.ErrSignatureInvalid)

	err = f.svc.HandleWebhook(ctx, []byte(`{"event":`), "good")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	assert.NoError(t, f.svc.HandleWebhook(ctx, []byte(`{"event":"subscription.create","data":{}}`), "good"))
	assert.NoError(t, f.svc.HandleWebhook(ctx, chargeBody("WALLET_9_1_0badf00d", 100000), "good"))
	assert.NoError(t, f.svc.HandleWebhook(ctx, chargeBody("ORDER_77", 100000), "good"))

	f.transfers.On("Complete", mock.Anything, "WD_1_1_aaaaaaaa", "TRF_1").Return(nil).Once()
	f.transfers.On("Fail", mock.Anything, "WD_1_1_bbbbbbbb", "Account closed").Return(nil).Once()
	f.transfers.On("Fail", mock.Anything, "WD_1_1_cccccccc", "transfer.reversed").Return(apperrors.ErrNotFound).Once()

	assert.NoError(t, f.svc.HandleWebhook(ctx, []byte(`{"event":"transfer.success","data":{"reference":"WD_1_1_aaaaaaaa","transfer_code":"TRF_1","status":"success"}}`), "good"))
	assert.NoError(t, f.svc.HandleWebhook(ctx, []byte(`{"event":"transfer.failed","data":{"reference":"WD_1_1_bbbbbbbb","reason":"Account closed"}}`), "good"))
	assert.NoError(t, f.svc.HandleWebhook(ctx, []byte(`{"event":"transfer.reversed","data":{"reference":"WD_1_1_cccccccc"}}`), "good"))

	f.transfers.AssertExpectations(t)
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	paid := f.initialize(t, 1, "500")
	abandoned := f.initialize(t, 1, "600")
	unknown := f.initialize(t, 1, "700")
	flaky := f.initialize(t, 1, "800")
	fresh := f.initialize(t, 1, "900")

	old := time.Now().Add(-2 * time.Hour)
	for _, ref := range []string{paid, abandoned, unknown, flaky} {
		f.store.AgeFundingIntent(ref, old)
	}

	f.gw.On("VerifyCharge", mock.Anything, paid).Return(&gateway.ChargeResult{Status: gateway.ChargeSuccess, Amount: 50000}, nil)
	f.gw.On("VerifyCharge", mock.Anything, abandoned).Return(&gateway.ChargeResult{Status: gateway.ChargeAbandoned}, nil)
	f.gw.On("VerifyCharge", mock.Anything, unknown).Return(nil, &gateway.Error{Op: "verify", StatusCode: 400, Err: gateway.ErrRejected})
	f.gw.On("VerifyCharge", mock.Anything, flaky).Return(nil, &gateway.Error{Op: "verify", Err: gateway.ErrUnavailable})

	resolved, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, resolved)

	assert.Equal(t, models.FundingCompleted, f.intent(t, paid).Status)
	assert.Equal(t, models.FundingFailed, f.intent(t, abandoned).Status)
	assert.Equal(t, models.FundingFailed, f.intent(t, unknown).Status)
	assert.Equal(t, models.FundingPending, f.intent(t, flaky).Status)
	assert.Equal(t, models.FundingPending, f.intent(t, fresh).Status)
	assert.True(t, d("500").Equal(f.balance(t, 1)))
	f.gw.AssertNotCalled(t, "VerifyCharge", mock.Anything, fresh)
}
