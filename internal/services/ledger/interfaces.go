package ledger

import (
	"context"
	"time"

	"kudi/internal/models"
	"kudi/internal/repositories"

	"github.com/shopspring/decimal"
)

// Service is the only writer of wallet balances.
type Service interface {
	// Credit and Debit own their transaction and return the balance after commit.
	Credit(ctx context.Context, userID uint, amount decimal.Decimal, kind models.LedgerKind, referenceID, description string) (decimal.Decimal, error)
	Debit(ctx context.Context, userID uint, amount decimal.Decimal, kind models.LedgerKind, referenceID, description string) (decimal.Decimal, error)

	// ApplyCredit and ApplyDebit run inside a transaction opened by the caller.
	// The caller must call InvalidateBalance once that transaction commits.
	ApplyCredit(ctx context.Context, tx repositories.Store, userID uint, amount decimal.Decimal, kind models.LedgerKind, referenceID, description string) (*models.LedgerEntry, error)
	ApplyDebit(ctx context.Context, tx repositories.Store, userID uint, amount decimal.Decimal, kind models.LedgerKind, referenceID, description string) (*models.LedgerEntry, error)

	Balance(ctx context.Context, userID uint) (*models.Wallet, error)
	History(ctx context.Context, userID uint, limit, offset int) ([]models.LedgerEntry, error)
	Audit(ctx context.Context, userID uint) (*AuditResult, error)
	InvalidateBalance(ctx context.Context, userID uint)
}

// AuditResult compares the stored balance with the sum of the user's entries.
type AuditResult struct {
	UserID     uint            `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Consistent bool            `json:"consistent"`
}

// MetricsCollector defines the interface for collecting ledger metrics
type MetricsCollector interface {
	RecordOperationDuration(operation string, duration time.Duration)
	RecordOperationResult(operation, result string)

	RecordCacheHit(key string)
	RecordCacheMiss(key string)

	RecordError(operation, errType string)
	RecordTransaction(kind string, direction string, amount float64)
}
