package ledger

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	apperrors "kudi/internal/errors"
	"kudi/internal/models"
	"kudi/internal/repositories"
	"kudi/internal/repositories/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockCache) WalletGeneration(ctx context.Context, userID uint) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCache) SetWallet(ctx context.Context, wallet *models.Wallet, generation int64) error {
	args := m.Called(ctx, wallet, generation)
	return args.Error(0)
}

func (m *MockCache) InvalidateWallet(ctx context.Context, userID uint) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestLedgerService_Credit(t *testing.T) {
	tests := []struct {
		name    string
		amount  decimal.Decimal
		kind    models.LedgerKind
		wantErr error
		balance string
	}{
		{name: "successful credit", amount: d("1000"), kind: models.LedgerKindRecharge, balance: "1000"},
		{name: "fractional kobo", amount: d("10.50"), kind: models.LedgerKindRefund, balance: "10.5"},
		{name: "zero amount", amount: decimal.Zero, kind: models.LedgerKindRecharge, wantErr: apperrors.ErrInvalidAmount},
		{name: "negative amount", amount: d("-5"), kind: models.LedgerKindRecharge, wantErr: apperrors.ErrInvalidAmount},
		{name: "sub-kobo precision", amount: d("1.005"), kind: models.LedgerKindRecharge, wantErr: apperrors.ErrInvalidAmount},
		{name: "unknown kind", amount: d("1"), kind: models.LedgerKind("bonus"), wantErr: apperrors.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			svc := NewService(store, nil, nil)

			balance, err := svc.Credit(context.Background(), 1, tt.amount, tt.kind, "ref", "test")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, store.Entries(1))
				return
			}
			require.NoError(t, err)
			assert.True(t, d(tt.balance).Equal(balance), "balance %s", balance)
			assert.Len(t, store.Entries(1), 1)
		})
	}
}

func TestLedgerService_Debit_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewService(store, nil, nil)

	_, err := svc.Credit(ctx, 1, d("100"), models.LedgerKindRecharge, "r1", "")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, 1, d("100.01"), models.LedgerKindOrderPayment, "o1", "")
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
	assert.Equal(t, http.StatusUnprocessableEntity, apperrors.HTTPStatus(err))

	wallet, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, d("100").Equal(wallet.Balance))
	assert.Len(t, store.Entries(1), 1)

	balance, err := svc.Debit(ctx, 1, d("100"), models.LedgerKindOrderPayment, "o2", "")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestLedgerService_RollsBackWhenEntryInsertFails(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewService(store, nil, nil)

	_, err := svc.Credit(ctx, 1, d("500"), models.LedgerKindRecharge, "r1", "")
	require.NoError(t, err)

	boom := errors.New("disk full")
	store.SetHooks(memstore.Hooks{BeforeLedgerInsert: func(*models.LedgerEntry) error { return boom }})

	_, err = svc.Debit(ctx, 1, d("200"), models.LedgerKindOrderPayment, "o1", "")
	assert.ErrorIs(t, err, boom)

	wallet, err := store.GetWallet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, d("500").Equal(wallet.Balance))
	assert.Len(t, store.Entries(1), 1)
}

func TestLedgerService_ConcurrentMutationsMatchLedger(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewService(store, nil, nil)

	_, err := svc.Credit(ctx, 9, d("50"), models.LedgerKindRecharge, "seed", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.Credit(ctx, 9, d("7.25"), models.LedgerKindRecharge, "c", "")
		}()
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, 9, d("11.10"), models.LedgerKindOrderPayment, "d", "")
			if err != nil {
				assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()

	sum := decimal.Zero
	for _, e := range store.Entries(9) {
		assert.False(t, e.BalanceAfter.IsNegative())
		sum = sum.Add(e.Signed())
	}

	wallet, err := store.GetWallet(ctx, 9)
	require.NoError(t, err)
	assert.True(t, sum.Equal(wallet.Balance), "sum %s balance %s", sum, wallet.Balance)
	assert.False(t, wallet.Balance.IsNegative())

	audit, err := svc.Audit(ctx, 9)
	require.NoError(t, err)
	assert.True(t, audit.Consistent)
}

func TestLedgerService_ApplyCreditJoinsCallerTransaction(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewService(store, nil, nil)

	abort := errors.New("abort")
	err := store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		_, err := svc.ApplyCredit(ctx, tx, 3, d("250"), models.LedgerKindRecharge, "WALLET_3", "")
		require.NoError(t, err)
		return abort
	})
	assert.ErrorIs(t, err, abort)

	wallet, err := svc.Balance(ctx, 3)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.IsZero())
	assert.Empty(t, store.Entries(3))
}

func TestLedgerService_BalanceCache(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cache := new(MockCache)
	svc := NewService(store, cache, nil)

	cache.On("InvalidateWallet", mock.Anything, uint(4)).Return(nil).Once()
	_, err := svc.Credit(ctx, 4, d("80"), models.LedgerKindRecharge, "r", "")
	require.NoError(t, err)

	cache.On("GetWallet", mock.Anything, uint(4)).Return(nil, nil).Once()
	cache.On("WalletGeneration", mock.Anything, uint(4)).Return(int64(7), nil).Once()
	cache.On("SetWallet", mock.Anything, mock.MatchedBy(func(w *models.Wallet) bool {
		return w.UserID == 4 && w.Balance.Equal(d("80"))
	}), int64(7)).Return(nil).Once()
	wallet, err := svc.Balance(ctx, 4)
	require.NoError(t, err)
	assert.True(t, d("80").Equal(wallet.Balance))

	cached := &models.Wallet{UserID: 4, Balance: d("80")}
	cache.On("GetWallet", mock.Anything, uint(4)).Return(cached, nil).Once()
	wallet, err = svc.Balance(ctx, 4)
	require.NoError(t, err)
	assert.Same(t, cached, wallet)

	cache.AssertExpectations(t)
}

func TestLedgerService_BalanceCacheSkippedWithoutGeneration(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cache := new(MockCache)
	svc := NewService(store, cache, nil)

	cache.On("InvalidateWallet", mock.Anything, uint(6)).Return(nil).Once()
	_, err := svc.Credit(ctx, 6, d("15"), models.LedgerKindRecharge, "r", "")
	require.NoError(t, err)

	cache.On("GetWallet", mock.Anything, uint(6)).Return(nil, nil).Once()
	cache.On("WalletGeneration", mock.Anything, uint(6)).Return(int64(0), errors.New("i/o timeout")).Once()
	wallet, err := svc.Balance(ctx, 6)
	require.NoError(t, err)
	assert.True(t, d("15").Equal(wallet.Balance))

	cache.AssertNotCalled(t, "SetWallet", mock.Anything, mock.Anything, mock.Anything)
	cache.AssertExpectations(t)
}

func TestLedgerService_History(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewService(store, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := svc.Credit(ctx, 5, d("10"), models.LedgerKindRecharge, "r", "")
		require.NoError(t, err)
	}

	entries, err := svc.History(ctx, 5, 2, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, d("30").Equal(entries[0].BalanceAfter))
}
