// Package repositories provides data access layer implementations.
// All balance-affecting work runs through Store.ExecuteInTransaction so a
// status transition and its ledger mutation commit together.
package repositories

import (
	"context"
	"errors"
	"time"

	"kudi/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// WalletRepository owns the balance rows.
type WalletRepository interface {
	// LockWallet returns the user's wallet row locked for update, creating it
	// with a zero balance on first use.
	LockWallet(ctx context.Context, userID uint) (*models.Wallet, error)
	GetWallet(ctx context.Context, userID uint) (*models.Wallet, error)
	SaveWallet(ctx context.Context, wallet *models.Wallet) error
}

// LedgerRepository is insert-only: there is no update or delete.
type LedgerRepository interface {
	CreateLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	FindLedgerEntry(ctx context.Context, kind models.LedgerKind, referenceID string) (*models.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, userID uint, limit, offset int) ([]models.LedgerEntry, error)
	SumLedgerEntries(ctx context.Context, userID uint) (decimal.Decimal, error)
}

// ReferenceRepository backs the idempotency guard.
type ReferenceRepository interface {
	// ClaimReference inserts ref and reports false when the key already exists.
	ClaimReference(ctx context.Context, ref *models.ProcessedReference) (bool, error)
}

type FundingRepository interface {
	CreateFundingIntent(ctx context.Context, intent *models.FundingIntent) error
	GetFundingIntent(ctx context.Context, reference string) (*models.FundingIntent, error)
	LockFundingIntent(ctx context.Context, reference string) (*models.FundingIntent, error)
	SaveFundingIntent(ctx context.Context, intent *models.FundingIntent) error
	// SetAuthorizationURL touches only the checkout link of a pending intent.
	SetAuthorizationURL(ctx context.Context, reference, url string) error
	ListPendingFundingIntents(ctx context.Context, createdBefore time.Time, limit int) ([]models.FundingIntent, error)
}

// WithdrawalFilter selects withdrawals for the reconciliation sweep.
type WithdrawalFilter struct {
	Statuses      []models.WithdrawalStatus
	UpdatedBefore time.Time
	Unrefunded    bool
	Limit         int
}

type WithdrawalRepository interface {
	CreateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id uint) (*models.WithdrawalRequest, error)
	GetWithdrawalByReference(ctx context.Context, reference string) (*models.WithdrawalRequest, error)
	LockWithdrawal(ctx context.Context, id uint) (*models.WithdrawalRequest, error)
	SaveWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error
	ListWithdrawals(ctx context.Context, userID uint, limit, offset int) ([]models.WithdrawalRequest, error)
	FindWithdrawals(ctx context.Context, filter WithdrawalFilter) ([]models.WithdrawalRequest, error)
}

type BankAccountRepository interface {
	CreateBankAccount(ctx context.Context, account *models.BankAccount) error
	GetBankAccount(ctx context.Context, id uint) (*models.BankAccount, error)
	ListBankAccounts(ctx context.Context, userID uint) ([]models.BankAccount, error)
	SaveBankAccount(ctx context.Context, account *models.BankAccount) error
	// SetRecipientCode caches the provider handle on a verified account and
	// leaves every other column alone.
	SetRecipientCode(ctx context.Context, id uint, code string) error
	ClearDefaultBankAccount(ctx context.Context, userID uint) error
}

// Store aggregates every repository. Inside ExecuteInTransaction the Store
// passed to fn is bound to the open transaction; returning an error rolls
// everything back.
type Store interface {
	WalletRepository
	LedgerRepository
	ReferenceRepository
	FundingRepository
	WithdrawalRepository
	BankAccountRepository

	ExecuteInTransaction(ctx context.Context, fn func(tx Store) error) error
}
