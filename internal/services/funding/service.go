// Package funding reconciles card top-ups. The client poll (Verify) and the
// provider webhook both funnel into settle, which decides inside one
// row-locked transaction whether the intent is credited.
package funding

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
)

// amountEpsilon is the largest paid/requested difference still treated as equal.
var amountEpsilon = decimal.RequireFromString("0.01")

const staleBatchSize = 100

type Config struct {
	MinAmount   decimal.Decimal
	MaxAmount   decimal.Decimal
	IntentTTL   time.Duration
	CallbackURL string
}

type InitializeResult struct {
	AuthorizationURL string          `json:"authorizationUrl"`
	Reference        string          `json:"reference"`
	Amount           decimal.Decimal `json:"amount"`
}

type VerifyResult struct {
	Verified         bool                 `json:"verified"`
	Amount           decimal.Decimal      `json:"amount"`
	Reference        string               `json:"reference"`
	PaidAt           *time.Time           `json:"paidAt,omitempty"`
	Status           models.FundingStatus `json:"status"`
	AlreadyProcessed bool                 `json:"alreadyProcessed"`
}

// TransferHandler receives payout webhooks; the withdrawal saga implements it.
type TransferHandler interface {
	Complete(ctx context.Context, reference, transferCode string) error
	Fail(ctx context.Context, reference, reason string) error
}

// MetricsCollector records settlement outcomes.
type MetricsCollector interface {
	RecordFunding(outcome string)
	RecordWebhook(kind, outcome string)
}

type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordFunding(string)         {}
func (n *NoopMetricsCollector) RecordWebhook(string, string) {}

type Reconciler interface {
	Initialize(ctx context.Context, userID uint, email string, amount decimal.Decimal) (*InitializeResult, error)
	Verify(ctx context.Context, userID uint, reference string) (*VerifyResult, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	ExpireStale(ctx context.Context) (int, error)
}

type service struct {
	store     repositories.Store
	ledger    ledger.Service
	guard     idempotency.Guard
	gateway   gateway.Client
	transfers TransferHandler
	config    Config
	metrics   MetricsCollector
	now       func() time.Time
}

// NewReconciler wires the funding flows. transfers and metrics may be nil.
func NewReconciler(
	store repositories.Store,
	ledgerSvc ledger.Service,
	guard idempotency.Guard,
	gw gateway.Client,
	transfers TransferHandler,
	config Config,
	metrics MetricsCollector,
) Reconciler {
	if store == nil || ledgerSvc == nil || guard == nil || gw == nil {
		panic("store, ledger, guard and gateway are required")
	}
	if config.MinAmount.IsZero() {
		config.MinAmount = decimal.NewFromInt(100)
	}
	if config.MaxAmount.IsZero() {
		config.MaxAmount = decimal.NewFromInt(1000000)
	}
	if config.IntentTTL == 0 {
		config.IntentTTL = 24 * time.Hour
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}
	return &service{
		store:     store,
		ledger:    ledgerSvc,
		guard:     guard,
		gateway:   gw,
		transfers: transfers,
		config:    config,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (s *service) Initialize(ctx context.Context, userID uint, email string, amount decimal.Decimal) (*InitializeResult, error) {
	if userID == 0 {
		return nil, apperrors.ErrUnauthorized
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return nil, apperrors.ErrInvalidAmount
	}
	if amount.LessThan(s.config.MinAmount) {
		return nil, apperrors.Newf(apperrors.ErrInvalidAmount, "minimum funding amount is %s", s.config.MinAmount.StringFixed(2))
	}
	if amount.GreaterThan(s.config.MaxAmount) {
		return nil, apperrors.Newf(apperrors.ErrInvalidAmount, "maximum funding amount is %s", s.config.MaxAmount.StringFixed(2))
	}

	intent := &models.FundingIntent{
		UserID:    userID,
		Amount:    amount,
		Reference: NewReference(userID, s.now()),
		Status:    models.FundingPending,
		Metadata:  models.NewJSON(map[string]interface{}{"email": email}),
	}

	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		claimed, err := s.guard.ClaimReferenceTx(ctx, tx, idempotency.ScopeFunding, intent.Reference)
		if err != nil {
			return err
		}
		if !claimed {
			return fmt.Errorf("funding reference %s already claimed", intent.Reference)
		}
		return tx.CreateFundingIntent(ctx, intent)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create funding intent: %w", err)
	}

	session, err := s.gateway.InitializeCharge(ctx, gateway.ChargeRequest{
		Email:       email,
		Amount:      gateway.ToMinor(amount),
		Reference:   intent.Reference,
		CallbackURL: s.config.CallbackURL,
		Metadata: map[string]interface{}{
			"user_id": userID,
			"purpose": "wallet_funding",
		},
	})
	if err != nil {
		if markErr := s.markFailed(ctx, intent.Reference, "initialize failed: "+err.Error()); markErr != nil {
			logger.Errorf("failed to mark funding %s failed: %v", intent.Reference, markErr)
		}
		s.metrics.RecordFunding("init_failed")
		return nil, apperrors.Wrap(apperrors.ErrProvider, "could not start payment", err)
	}

	if err := s.store.SetAuthorizationURL(ctx, intent.Reference, session.AuthorizationURL); err != nil {
		logger.Warnf("failed to store authorization url for %s: %v", intent.Reference, err)
	}

	logger.WithFields(map[string]interface{}{
		"user_id":   userID,
		"reference": intent.Reference,
		"amount":    amount.StringFixed(2),
	}).Info("funding initialized")
	s.metrics.RecordFunding("initialized")

	return &InitializeResult{
		AuthorizationURL: session.AuthorizationURL,
		Reference:        intent.Reference,
		Amount:           amount,
	}, nil
}

func (s *service) Verify(ctx context.Context, userID uint, reference string) (*VerifyResult, error) {
	if !IsReference(reference) {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "invalid funding reference")
	}

	intent, err := s.store.GetFundingIntent(ctx, reference)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "funding reference not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load funding intent: %w", err)
	}
	if intent.UserID != userID {
		return nil, apperrors.ErrUnauthorized
	}

	if intent.Status.IsTerminal() {
		if intent.Status == models.FundingCompleted {
			return completedResult(intent, true), nil
		}
		return &VerifyResult{Amount: intent.Amount, Reference: reference, Status: intent.Status}, nil
	}

	charge, err := s.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		// Unavailable means the charge may still land; only a refusal fails the intent.
		if gateway.IsRejected(err) {
			if markErr := s.markFailed(ctx, reference, "verify rejected: "+err.Error()); markErr != nil {
				logger.Errorf("failed to mark funding %s failed: %v", reference, markErr)
			} else {
				s.metrics.RecordFunding("failed")
			}
		}
		return nil, apperrors.Wrap(apperrors.ErrProvider, "could not verify payment", err)
	}

	switch {
	case charge.Succeeded():
		settled, already, err := s.settle(ctx, settlement{
			Reference:         reference,
			PaidAmount:        gateway.FromMinor(charge.Amount),
			ProviderReference: charge.ProviderReference,
			PaidAt:            charge.PaidAt,
		})
		if err != nil {
			return nil, err
		}
		return completedResult(settled, already), nil
	case charge.Definitive():
		if err := s.markFailed(ctx, reference, "charge "+charge.Status); err != nil {
			return nil, err
		}
		s.metrics.RecordFunding("failed")
		return &VerifyResult{Amount: intent.Amount, Reference: reference, Status: models.FundingFailed}, nil
	}

	return &VerifyResult{Amount: intent.Amount, Reference: reference, Status: models.FundingPending}, nil
}

func completedResult(intent *models.FundingIntent, already bool) *VerifyResult {
	return &VerifyResult{
		Verified:         true,
		Amount:           intent.Amount,
		Reference:        intent.Reference,
		PaidAt:           intent.CompletedAt,
		Status:           models.FundingCompleted,
		AlreadyProcessed: already,
	}
}

type settlement struct {
	Reference         string
	PaidAmount        decimal.Decimal
	ProviderReference string
	PaidAt            time.Time
}

// settle is the only path that credits a funding intent. It is safe under any
// number of concurrent or repeated calls for the same reference.
func (s *service) settle(ctx context.Context, in settlement) (*models.FundingIntent, bool, error) {
	var (
		intent   *models.FundingIntent
		already  bool
		mismatch bool
	)

	err := s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		locked, err := tx.LockFundingIntent(ctx, in.Reference)
		if errors.Is(err, repositories.ErrNotFound) {
			return apperrors.Newf(apperrors.ErrNotFound, "funding reference not found")
		}
		if err != nil {
			return err
		}
		intent = locked

		if intent.Status.IsTerminal() {
			if intent.Status == models.FundingCompleted {
				already = true
				return nil
			}
			return apperrors.Newf(apperrors.ErrInvalidState, "funding %s already %s", in.Reference, intent.Status)
		}

		now := s.now()
		if in.PaidAmount.Sub(intent.Amount).Abs().GreaterThan(amountEpsilon) {
			mismatch = true
			intent.Status = models.FundingFailed
			intent.FailureReason = fmt.Sprintf("amount mismatch: paid %s, expected %s",
				in.PaidAmount.StringFixed(2), intent.Amount.StringFixed(2))
			intent.FailedAt = &now
			return tx.SaveFundingIntent(ctx, intent)
		}

		if _, err := s.ledger.ApplyCredit(ctx, tx, intent.UserID, intent.Amount,
			models.LedgerKindRecharge, intent.Reference, "Wallet funding"); err != nil {
			return err
		}

		paidAt := in.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}
		intent.Status = models.FundingCompleted
		intent.ProviderReference = in.ProviderReference
		intent.CompletedAt = &paidAt
		return tx.SaveFundingIntent(ctx, intent)
	})
	if err != nil {
		return nil, false, err
	}

	fields := map[string]interface{}{
		"reference": in.Reference,
		"user_id":   intent.UserID,
		"amount":    intent.Amount.StringFixed(2),
	}
	switch {
	case mismatch:
		logger.WithFields(fields).Warnf("funding failed: paid %s", in.PaidAmount.StringFixed(2))
		s.metrics.RecordFunding("amount_mismatch")
		return intent, false, apperrors.Newf(apperrors.ErrAmountMismatch, "%s", intent.FailureReason)
	case already:
		s.metrics.RecordFunding("already_processed")
	default:
		s.ledger.InvalidateBalance(ctx, intent.UserID)
		logger.WithFields(fields).Info("funding completed")
		s.metrics.RecordFunding("completed")
	}
	return intent, already, nil
}

// markFailed moves a pending intent to failed. Terminal intents are left alone.
func (s *service) markFailed(ctx context.Context, reference, reason string) error {
	return s.store.ExecuteInTransaction(ctx, func(tx repositories.Store) error {
		intent, err := tx.LockFundingIntent(ctx, reference)
		if err != nil {
			return err
		}
		if intent.Status.IsTerminal() {
			return nil
		}
		now := s.now()
		intent.Status = models.FundingFailed
		intent.FailureReason = reason
		intent.FailedAt = &now
		return tx.SaveFundingIntent(ctx, intent)
	})
}

func (s *service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.gateway.VerifyWebhookSignature(body, signature) {
		s.metrics.RecordWebhook("unknown", "bad_signature")
		return apperrors.ErrSignatureInvalid
	}

	ev, err := ParseEvent(body)
	if err != nil {
		s.metrics.RecordWebhook("unknown", "malformed")
		return err
	}

	switch ev.Kind {
	case EventChargeSuccess:
		err = s.handleCharge(ctx, ev.Charge)
	case EventTransferSuccess:
		err = s.routeTransfer(ctx, func(h TransferHandler) error {
			return h.Complete(ctx, ev.Transfer.Reference, ev.Transfer.TransferCode)
		})
	case EventTransferFailed, EventTransferReversed:
		reason := ev.Transfer.Reason
		if reason == "" {
			reason = string(ev.Kind)
		}
		err = s.routeTransfer(ctx, func(h TransferHandler) error {
			return h.Fail(ctx, ev.Transfer.Reference, reason)
		})
	default:
		logger.Debugf("ignoring webhook event %s", ev.Kind)
		s.metrics.RecordWebhook(string(ev.Kind), "ignored")
		return nil
	}

	if err != nil {
		s.metrics.RecordWebhook(string(ev.Kind), "error")
		return err
	}
	s.metrics.RecordWebhook(string(ev.Kind), "ok")
	return nil
}

func (s *service) handleCharge(ctx context.Context, charge *ChargeEvent) error {
	if !IsReference(charge.Reference) {
		logger.Debugf("ignoring charge for foreign reference %s", charge.Reference)
		return nil
	}

	_, _, err := s.settle(ctx, settlement{
		Reference:         charge.Reference,
		PaidAmount:        gateway.FromMinor(charge.Amount),
		ProviderReference: charge.ProviderReference,
		PaidAt:            charge.PaidAt,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrNotFound):
		// Unknown references are not disclosed to the caller.
		logger.Warnf("charge webhook for unknown reference %s", charge.Reference)
		return nil
	case errors.Is(err, apperrors.ErrAmountMismatch), errors.Is(err, apperrors.ErrInvalidState):
		// Recorded on the intent; redelivery would change nothing.
		return nil
	}
	return err
}

func (s *service) routeTransfer(ctx context.Context, fn func(TransferHandler) error) error {
	if s.transfers == nil {
		return nil
	}
	err := fn(s.transfers)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}

// ExpireStale resolves pending intents older than the configured TTL by asking
// the provider, then settling or failing them through the usual paths.
func (s *service) ExpireStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.IntentTTL)
	intents, err := s.store.ListPendingFundingIntents(ctx, cutoff, staleBatchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, intent := range intents {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}

		charge, err := s.gateway.VerifyCharge(ctx, intent.Reference)
		switch {
		case err != nil && gateway.IsRejected(err):
			// The provider never saw a payment for this reference.
			err = s.markFailed(ctx, intent.Reference, "expired")
		case err != nil:
			logger.Warnf("stale funding %s: provider unavailable: %v", intent.Reference, err)
			continue
		case charge.Succeeded():
			_, _, err = s.settle(ctx, settlement{
				Reference:         intent.Reference,
				PaidAmount:        gateway.FromMinor(charge.Amount),
				ProviderReference: charge.ProviderReference,
				PaidAt:            charge.PaidAt,
			})
			if errors.Is(err, apperrors.ErrAmountMismatch) {
				err = nil
			}
		case charge.Definitive():
			err = s.markFailed(ctx, intent.Reference, "charge "+charge.Status)
		default:
			continue
		}

		if err != nil {
			logger.Errorf("stale funding %s: %v", intent.Reference, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}
