package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "kudi/internal/errors"
	"kudi/internal/logger"
	"kudi/internal/models"
	"kudi/internal/repositories"

	"github.com/shopspring/decimal"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

type service struct {
	store   repositories.Store
	cache   repositories.CacheRepository
	metrics MetricsCollector
}

// NewService creates a new ledger service. cache and metrics are optional.
func NewService(store repositories.Store, cache repositories.CacheRepository, metrics MetricsCollector) Service {
	if store == nil {
		panic("store is required")
	}
	if cache == nil {
		cache = noopCache{}
	}
	// Metrics is optional, create no-op collector if nil
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}
	return &service{
		store:   store,
		cache:   cache,
		metrics: metrics,
	}
}

func (s *service) Credit(ctx context.Context, userID uint, amount decimal.Decimal, kind models.LedgerKind, referenceID, description string) (decimal.Decimal, error) {
	return s.run(ctx, "credit", userID, func(tx repositories.Store) (*models.LedgerEntry, error) {
		return s.ApplyCredit(ctx, tx, userID, amount, kind, referenceID, description)
	})
}

func (s *service) Debit(ctx context.Context, userID uint, amount decimal.Decimal, kind models.LedgerKind, referenceID, description string) (decimal.Decimal, error) {
	return s.run(ctx, "debit", userID, func(tx repositories.Store) (*models.LedgerEntry, error) {
		return s.ApplyDebit(ctx, tx, userID, amount, kind, referenceID, description)
	})
}

func (s *service) run(ctx context.Context, op string, userID uint, apply func(tx repositories.Store) (*models.LedgerEntry, error)) (decimal.Decimal, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration(op, time.Since(start))
	}()

	var entry *models.LedgerEntry
	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		var err error
		entry, err = apply(tx)
		return err
	})
	if err != nil {
		s.metrics.RecordOperationResult(op, "error")
		s.metrics.RecordError(op, errorType(err))
		return decimal.Zero, err
	}

	s.InvalidateBalance(ctx, userID)
	s.metrics.RecordOperationResult(op, "success")
	return entry.BalanceAfter, nil
}

func (s *service) ApplyCredit(ctx context.Context, tx repositories.Store, userID uint, amount decimal.Decimal, kind models.LedgerKind, referenceID, description string) (*models.LedgerEntry, error) {
	if err := validate(amount, kind); err != nil {
		return nil, err
	}

	wallet, err := tx.LockWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}

	wallet.Balance = wallet.Balance.Add(amount)
	return s.record(ctx, tx, wallet, amount, models.DirectionCredit, kind, referenceID, description)
}

func (s *service) ApplyDebit(ctx context.Context, tx repositories.Store, userID uint, amount decimal.Decimal, kind models.LedgerKind, referenceID, description string) (*models.LedgerEntry, error) {
	if err := validate(amount, kind); err != nil {
		return nil, err
	}

	wallet, err := tx.LockWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}

	if wallet.Balance.LessThan(amount) {
		return nil, apperrors.Newf(apperrors.ErrInsufficientFunds,
			"insufficient wallet balance: have %s, need %s", wallet.Balance.StringFixed(2), amount.StringFixed(2))
	}

	wallet.Balance = wallet.Balance.Sub(amount)
	return s.record(ctx, tx, wallet, amount, models.DirectionDebit, kind, referenceID, description)
}

func (s *service) record(ctx context.Context, tx repositories.Store, wallet *models.Wallet, amount decimal.Decimal, dir models.Direction, kind models.LedgerKind, referenceID, description string) (*models.LedgerEntry, error) {
	if err := tx.SaveWallet(ctx, wallet); err != nil {
		return nil, err
	}

	entry := &models.LedgerEntry{
		UserID:       wallet.UserID,
		Amount:       amount,
		Direction:    dir,
		Kind:         kind,
		Description:  description,
		ReferenceID:  referenceID,
		BalanceAfter: wallet.Balance,
	}
	if err := tx.CreateLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}

	f, _ := amount.Float64()
	s.metrics.RecordTransaction(string(kind), string(dir), f)

	logger.WithFields(map[string]interface{}{
		"user_id":       wallet.UserID,
		"direction":     dir,
		"kind":          kind,
		"amount":        amount.StringFixed(2),
		"reference":     referenceID,
		"balance_after": wallet.Balance.StringFixed(2),
	}).Debug("ledger entry recorded")

	return entry, nil
}

func (s *service) Balance(ctx context.Context, userID uint) (*models.Wallet, error) {
	// Try cache first
	if wallet, err := s.cache.GetWallet(ctx, userID); err == nil && wallet != nil {
		s.metrics.RecordCacheHit("wallet")
		return wallet, nil
	}
	s.metrics.RecordCacheMiss("wallet")

	generation, genErr := s.cache.WalletGeneration(ctx, userID)
	wallet, err := s.store.GetWallet(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		// No wallet row until the first mutation.
		return &models.Wallet{UserID: userID, Balance: decimal.Zero, Currency: models.DefaultCurrency}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	if genErr != nil {
		logger.Warnf("skipping wallet cache for user %d: %v", userID, genErr)
	} else if err := s.cache.SetWallet(ctx, wallet, generation); err != nil {
		logger.Warnf("failed to cache wallet for user %d: %v", userID, err)
	}
	return wallet, nil
}

func (s *service) History(ctx context.Context, userID uint, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.store.ListLedgerEntries(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger history: %w", err)
	}
	return entries, nil
}

func (s *service) Audit(ctx context.Context, userID uint) (*AuditResult, error) {
	result := &AuditResult{UserID: userID}
	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		wallet, err := tx.LockWallet(ctx, userID)
		if err != nil {
			return err
		}
		sum, err := tx.SumLedgerEntries(ctx, userID)
		if err != nil {
			return err
		}
		result.Balance = wallet.Balance
		result.LedgerSum = sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to audit wallet: %w", err)
	}

	result.Consistent = result.Balance.Equal(result.LedgerSum)
	if !result.Consistent {
		logger.WithFields(map[string]interface{}{
			"user_id":    userID,
			"balance":    result.Balance.StringFixed(2),
			"ledger_sum": result.LedgerSum.StringFixed(2),
		}).Error("wallet balance drifted from ledger")
	}
	return result, nil
}

func (s *service) InvalidateBalance(ctx context.Context, userID uint) {
	if err := s.cache.InvalidateWallet(ctx, userID); err != nil {
		logger.Warnf("failed to invalidate wallet cache for user %d: %v", userID, err)
	}
}

func validate(amount decimal.Decimal, kind models.LedgerKind) error {
	if !amount.IsPositive() {
		return apperrors.ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return apperrors.Newf(apperrors.ErrInvalidAmount, "amount %s has more than two decimal places", amount.String())
	}
	if !kind.Valid() {
		return apperrors.Newf(apperrors.ErrInvalidInput, "unknown ledger kind %q", kind)
	}
	return nil
}

func errorType(err error) string {
	if code := apperrors.Code(err); code != "" {
		return code
	}
	return "internal"
}
