// Package withdrawal drives payouts to bank accounts. Funds are debited when
// the request is accepted; every failure after that point is answered by a
// separate, idempotent compensation step.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "kudi/internal/errors"
	"kudi/internal/logger"
	"kudi/internal/models"
	"kudi/internal/repositories"
	"kudi/internal/services/gateway"
	"kudi/internal/services/idempotency"
	"kudi/internal/services/ledger"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultListLimit = 20
	sweepBatchSize   = 100
)

type Saga interface {
	Request(ctx context.Context, userID, bankAccountID uint, amount decimal.Decimal) (*RequestResult, error)
	Process(ctx context.Context, withdrawalID uint) error
	Compensate(ctx context.Context, withdrawalID uint) (bool, error)
	Cancel(ctx context.Context, userID, withdrawalID uint) (*models.WithdrawalRequest, error)
	Complete(ctx context.Context, reference, transferCode string) error
	Fail(ctx context.Context, reference, reason string) error
	Reconcile(ctx context.Context) (*ReconcileReport, error)
	Get(ctx context.Context, userID, withdrawalID uint) (*models.WithdrawalRequest, error)
	List(ctx context.Context, userID uint, limit, offset int) ([]models.WithdrawalRequest, error)
}

type saga struct {
	store      repositories.Store
	ledger     ledger.Service
	guard      idempotency.Guard
	gateway    gateway.Client
	dispatcher Dispatcher
	config     Config
	metrics    MetricsCollector
	now        func() time.Time
}

// NewSaga wires the withdrawal workflow. With a nil dispatcher, accepted
// requests are processed on a background goroutine.
func NewSaga(
	store repositories.Store,
	ledgerSvc ledger.Service,
	guard idempotency.Guard,
	gw gateway.Client,
	dispatcher Dispatcher,
	config Config,
	metrics MetricsCollector,
) Saga {
	if store == nil || ledgerSvc == nil || guard == nil || gw == nil {
		panic("store, ledger, guard and gateway are required")
	}
	if config.MinAmount.IsZero() {
		config.MinAmount = decimal.NewFromInt(1000)
	}
	if len(config.Fees) == 0 {
		config.Fees = models.DefaultWithdrawalFees
	}
	if config.ProcessingGrace == 0 {
		config.ProcessingGrace = 15 * time.Minute
	}
	if config.Currency == "" {
		config.Currency = models.DefaultCurrency
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}
	s := &saga{
		store:      store,
		ledger:     ledgerSvc,
		guard:      guard,
		gateway:    gw,
		dispatcher: dispatcher,
		config:     config,
		metrics:    metrics,
		now:        time.Now,
	}
	if s.dispatcher == nil {
		s.dispatcher = goroutineDispatcher{saga: s}
	}
	return s
}

type goroutineDispatcher struct {
	saga *saga
}

func (d goroutineDispatcher) Dispatch(_ context.Context, withdrawalID uint) error {
	go func() {
		if err := d.saga.Process(context.Background(), withdrawalID); err != nil {
			logger.Errorf("withdrawal %d: process failed: %v", withdrawalID, err)
		}
	}()
	return nil
}

func (s *saga) Request(ctx context.Context, userID, bankAccountID uint, amount decimal.Decimal) (*RequestResult, error) {
	if userID == 0 {
		return nil, apperrors.ErrUnauthorized
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return nil, apperrors.ErrInvalidAmount
	}
	if amount.LessThan(s.config.MinAmount) {
		return nil, apperrors.Newf(apperrors.ErrInvalidAmount, "minimum withdrawal amount is %s", s.config.MinAmount.StringFixed(2))
	}

	fee := s.config.Fees.Fee(amount)
	net := amount.Sub(fee)
	if !net.IsPositive() {
		return nil, apperrors.Newf(apperrors.ErrInvalidAmount, "amount does not cover the %s fee", fee.StringFixed(2))
	}

	account, err := s.store.GetBankAccount(ctx, bankAccountID)
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && account.UserID != userID) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "bank account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bank account: %w", err)
	}
	if !account.IsVerified {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "bank account is not verified")
	}

	w := &models.WithdrawalRequest{
		UserID:        userID,
		BankAccountID: account.ID,
		Amount:        amount,
		Fee:           fee,
		NetAmount:     net,
		Status:        models.WithdrawalPending,
		Reference:     NewReference(userID, s.now()),
	}

	err = s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		claimed, err := s.guard.ClaimReferenceTx(ctx, tx, idempotency.ScopeWithdrawal, w.Reference)
		if err != nil {
			return err
		}
		if !claimed {
			return fmt.Errorf("withdrawal reference %s already claimed", w.Reference)
		}
		if _, err := s.ledger.ApplyDebit(ctx, tx, userID, amount, models.LedgerKindWithdrawal,
			w.Reference, "Withdrawal to "+maskAccount(account.AccountNumber)); err != nil {
			return err
		}
		return tx.CreateWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	s.ledger.InvalidateBalance(ctx, userID)

	s.log(w).Info("withdrawal requested")
	s.metrics.RecordWithdrawal(string(models.WithdrawalPending))

	if err := s.dispatcher.Dispatch(ctx, w.ID); err != nil {
		// The reconcile sweep re-dispatches stale pending requests.
		s.log(w).Warnf("dispatch failed: %v", err)
	}

	return &RequestResult{
		WithdrawalID: w.ID,
		Reference:    w.Reference,
		Amount:       w.Amount,
		Fee:          w.Fee,
		NetAmount:    w.NetAmount,
		Status:       w.Status,
	}, nil
}

func (s *saga) Process(ctx context.Context, withdrawalID uint) error {
	w, err := s.store.GetWithdrawal(ctx, withdrawalID)
	if errors.Is(err, repositories.ErrNotFound) {
		return apperrors.Newf(apperrors.ErrNotFound, "withdrawal %d not found", withdrawalID)
	}
	if err != nil {
		return err
	}
	if w.Status != models.WithdrawalPending {
		return nil
	}

	account, err := s.store.GetBankAccount(ctx, w.BankAccountID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return err
	}
	if account == nil || !account.IsVerified {
		return s.failAndCompensate(ctx, w.ID, "bank account not verified", models.WithdrawalPending)
	}

	if account.RecipientCode == "" {
		code, err := s.gateway.CreateTransferRecipient(ctx, gateway.RecipientRequest{
			Name:          account.AccountName,
			AccountNumber: account.AccountNumber,
			BankCode:      account.BankCode,
			Currency:      s.config.Currency,
		})
		if err != nil {
			return s.failAndCompensate(ctx, w.ID, "recipient creation failed: "+err.Error(), models.WithdrawalPending)
		}
		account.RecipientCode = code
		if err := s.store.SetRecipientCode(ctx, account.ID, code); err != nil {
			s.log(w).Warnf("failed to cache recipient code: %v", err)
		}
	}

	w, moved, err := s.transition(ctx, w.ID, []models.WithdrawalStatus{models.WithdrawalPending}, func(w *models.WithdrawalRequest, now time.Time) {
		w.Status = models.WithdrawalProcessing
		w.ProcessingAt = &now
	})
	if err != nil || !moved {
		return err
	}
	s.metrics.RecordWithdrawal(string(models.WithdrawalProcessing))

	result, err := s.gateway.InitiateTransfer(ctx, gateway.TransferRequest{
		Amount:        gateway.ToMinor(w.NetAmount),
		RecipientCode: account.RecipientCode,
		Reference:     w.Reference,
		Reason:        "Wallet withdrawal",
	})
	switch {
	case err != nil && gateway.IsRejected(err):
		return s.failAndCompensate(ctx, w.ID, "transfer rejected: "+err.Error(), models.WithdrawalProcessing)
	case err != nil:
		// Outcome unknown: the transfer may exist. Leave it for reconciliation.
		s.log(w).Warnf("transfer outcome unknown, left processing: %v", err)
		s.metrics.RecordWithdrawal("unknown")
		return nil
	case result.Succeeded():
		return s.complete(ctx, w.ID, result.TransferCode)
	case result.Failed():
		return s.failAndCompensate(ctx, w.ID, "transfer "+result.Status, models.WithdrawalProcessing)
	}

	if result.TransferCode != "" {
		_, _, err = s.transition(ctx, w.ID, []models.WithdrawalStatus{models.WithdrawalProcessing}, func(w *models.WithdrawalRequest, _ time.Time) {
			w.ProviderReference = result.TransferCode
		})
	}
	s.log(w).Infof("transfer accepted with status %s", result.Status)
	return err
}

// transition applies mutate when the locked row is in one of from. moved is
// false when the row was in any other state.
func (s *saga) transition(ctx context.Context, id uint, from []models.WithdrawalStatus, mutate func(*models.WithdrawalRequest, time.Time)) (*models.WithdrawalRequest, bool, error) {
	var (
		out   *models.WithdrawalRequest
		moved bool
	)
	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		w, err := tx.LockWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		out = w
		for _, st := range from {
			if w.Status == st {
				mutate(w, s.now())
				moved = true
				return tx.SaveWithdrawal(ctx, w)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to update withdrawal %d: %w", id, err)
	}
	return out, moved, nil
}

func (s *saga) complete(ctx context.Context, id uint, transferCode string) error {
	w, moved, err := s.transition(ctx, id, []models.WithdrawalStatus{models.WithdrawalProcessing}, func(w *models.WithdrawalRequest, now time.Time) {
		w.Status = models.WithdrawalCompleted
		w.CompletedAt = &now
		if transferCode != "" {
			w.ProviderReference = transferCode
		}
	})
	if err != nil {
		return err
	}
	if moved {
		s.log(w).Info("withdrawal completed")
		s.metrics.RecordWithdrawal(string(models.WithdrawalCompleted))
	} else if w.Status == models.WithdrawalFailed {
		s.log(w).Error("provider reports success for a failed withdrawal; manual review required")
	}
	return nil
}

// failAndCompensate fails the row only while it is still in from. Checks made
// before the transfer pass pending so a concurrent Process that already moved
// the row to processing keeps ownership of it.
func (s *saga) failAndCompensate(ctx context.Context, id uint, reason string, from ...models.WithdrawalStatus) error {
	w, moved, err := s.transition(ctx, id, from, func(w *models.WithdrawalRequest, now time.Time) {
		w.Status = models.WithdrawalFailed
		w.FailureReason = reason
		w.FailedAt = &now
	})
	if err != nil {
		return err
	}
	if moved {
		s.log(w).Warnf("withdrawal failed: %s", reason)
		s.metrics.RecordWithdrawal(string(models.WithdrawalFailed))
	}
	_, err = s.Compensate(ctx, id)
	return err
}

// Compensate refunds the full debited amount of a failed or cancelled request.
// It reports whether this call performed the refund.
func (s *saga) Compensate(ctx context.Context, withdrawalID uint) (bool, error) {
	var (
		w        *models.WithdrawalRequest
		refunded bool
	)
	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		locked, err := tx.LockWithdrawal(ctx, withdrawalID)
		if errors.Is(err, repositories.ErrNotFound) {
			return apperrors.Newf(apperrors.ErrNotFound, "withdrawal %d not found", withdrawalID)
		}
		if err != nil {
			return err
		}
		w = locked
		if !w.NeedsCompensation() {
			return nil
		}

		refundRef := idempotency.RefundReference(w.ID)
		claimed, err := s.guard.ClaimReferenceTx(ctx, tx, idempotency.ScopeRefund, refundRef)
		if err != nil {
			return err
		}
		now := s.now()
		if !claimed {
			w.RefundedAt = &now
			return tx.SaveWithdrawal(ctx, w)
		}

		if _, err := tx.FindLedgerEntry(ctx, models.LedgerKindRefund, refundRef); err == nil {
			w.RefundedAt = &now
			return tx.SaveWithdrawal(ctx, w)
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}

		if _, err := s.ledger.ApplyCredit(ctx, tx, w.UserID, w.Amount, models.LedgerKindRefund,
			refundRef, "Refund for withdrawal "+w.Reference); err != nil {
			return err
		}
		w.RefundedAt = &now
		refunded = true
		return tx.SaveWithdrawal(ctx, w)
	})
	if err != nil {
		return false, fmt.Errorf("failed to compensate withdrawal %d: %w", withdrawalID, err)
	}

	if refunded {
		s.ledger.InvalidateBalance(ctx, w.UserID)
		f, _ := w.Amount.Float64()
		s.metrics.RecordCompensation(f)
		s.log(w).Infof("refunded %s", w.Amount.StringFixed(2))
	}
	return refunded, nil
}

func (s *saga) Cancel(ctx context.Context, userID, withdrawalID uint) (*models.WithdrawalRequest, error) {
	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		w, err := tx.LockWithdrawal(ctx, withdrawalID)
		if errors.Is(err, repositories.ErrNotFound) || (err == nil && w.UserID != userID) {
			return apperrors.Newf(apperrors.ErrNotFound, "withdrawal not found")
		}
		if err != nil {
			return err
		}
		if w.Status != models.WithdrawalPending {
			return apperrors.Newf(apperrors.ErrInvalidState, "withdrawal is %s and can no longer be cancelled", w.Status)
		}
		now := s.now()
		w.Status = models.WithdrawalCancelled
		w.CancelledAt = &now
		return tx.SaveWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordWithdrawal(string(models.WithdrawalCancelled))

	if _, err := s.Compensate(ctx, withdrawalID); err != nil {
		// The row is cancelled; the sweep retries the refund.
		logger.Errorf("withdrawal %d: refund after cancel failed: %v", withdrawalID, err)
	}
	return s.store.GetWithdrawal(ctx, withdrawalID)
}

// Complete handles a transfer.success notification.
func (s *saga) Complete(ctx context.Context, reference, transferCode string) error {
	w, err := s.byReference(ctx, reference)
	if err != nil {
		return err
	}
	return s.complete(ctx, w.ID, transferCode)
}

// Fail handles transfer.failed and transfer.reversed notifications.
func (s *saga) Fail(ctx context.Context, reference, reason string) error {
	w, err := s.byReference(ctx, reference)
	if err != nil {
		return err
	}
	if w.Status.IsTerminal() {
		if w.Status == models.WithdrawalCompleted {
			s.log(w).Errorf("provider reports %q for a completed withdrawal; manual review required", reason)
			return nil
		}
		_, err := s.Compensate(ctx, w.ID)
		return err
	}
	return s.failAndCompensate(ctx, w.ID, reason, models.WithdrawalProcessing)
}

func (s *saga) byReference(ctx context.Context, reference string) (*models.WithdrawalRequest, error) {
	w, err := s.store.GetWithdrawalByReference(ctx, reference)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "withdrawal %s not found", reference)
	}
	return w, err
}

// Reconcile repairs interrupted sagas: refunds that never ran, transfers whose
// outcome was unknown and requests that were never processed.
func (s *saga) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	cutoff := s.now().Add(-s.config.ProcessingGrace)

	unrefunded, err := s.store.FindWithdrawals(ctx, repositories.WithdrawalFilter{
		Statuses:   []models.WithdrawalStatus{models.WithdrawalFailed, models.WithdrawalCancelled},
		Unrefunded: true,
		Limit:      sweepBatchSize,
	})
	if err != nil {
		return report, err
	}
	for _, w := range unrefunded {
		refunded, err := s.Compensate(ctx, w.ID)
		if err != nil {
			logger.Errorf("reconcile: %v", err)
			continue
		}
		if refunded {
			report.Compensated++
		}
	}

	stuck, err := s.store.FindWithdrawals(ctx, repositories.WithdrawalFilter{
		Statuses:      []models.WithdrawalStatus{models.WithdrawalProcessing},
		UpdatedBefore: cutoff,
		Limit:         sweepBatchSize,
	})
	if err != nil {
		return report, err
	}
	for _, w := range stuck {
		result, err := s.gateway.VerifyTransfer(ctx, w.Reference)
		switch {
		case errors.Is(err, gateway.ErrNotFound):
			err = s.failAndCompensate(ctx, w.ID, "transfer not found at provider", models.WithdrawalProcessing)
			report.Failed++
		case err != nil:
			s.log(&w).Warnf("reconcile: verify transfer: %v", err)
			continue
		case result.Succeeded():
			err = s.complete(ctx, w.ID, result.TransferCode)
			report.Completed++
		case result.Failed():
			err = s.failAndCompensate(ctx, w.ID, "transfer "+result.Status, models.WithdrawalProcessing)
			report.Failed++
		default:
			continue
		}
		if err != nil {
			logger.Errorf("reconcile: %v", err)
		}
	}

	pending, err := s.store.FindWithdrawals(ctx, repositories.WithdrawalFilter{
		Statuses:      []models.WithdrawalStatus{models.WithdrawalPending},
		UpdatedBefore: cutoff,
		Limit:         sweepBatchSize,
	})
	if err != nil {
		return report, err
	}
	for _, w := range pending {
		if err := s.dispatcher.Dispatch(ctx, w.ID); err != nil {
			s.log(&w).Warnf("reconcile: dispatch: %v", err)
			continue
		}
		report.Redispatched++
	}

	return report, nil
}

func (s *saga) Get(ctx context.Context, userID, withdrawalID uint) (*models.WithdrawalRequest, error) {
	w, err := s.store.GetWithdrawal(ctx, withdrawalID)
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && w.UserID != userID) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "withdrawal not found")
	}
	return w, err
}

func (s *saga) List(ctx context.Context, userID uint, limit, offset int) ([]models.WithdrawalRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListWithdrawals(ctx, userID, limit, offset)
}

func (s *saga) log(w *models.WithdrawalRequest) *logrus.Entry {
	return logger.WithFields(map[string]interface{}{
		"withdrawal_id": w.ID,
		"reference":     w.Reference,
		"user_id":       w.UserID,
	})
}

func maskAccount(number string) string {
	if len(number) <= 4 {
		return number
	}
	return "****" + number[len(number)-4:]
}
