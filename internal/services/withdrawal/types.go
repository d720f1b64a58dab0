package withdrawal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kudi/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Config struct {
	MinAmount       decimal.Decimal
	Fees            models.FeeSchedule
	ProcessingGrace time.Duration
	Currency        string
}

type RequestResult struct {
	WithdrawalID uint                    `json:"withdrawalId"`
	Reference    string                  `json:"reference"`
	Amount       decimal.Decimal         `json:"amount"`
	Fee          decimal.Decimal         `json:"fee"`
	NetAmount    decimal.Decimal         `json:"netAmount"`
	Status       models.WithdrawalStatus `json:"status"`
}

// ReconcileReport counts what one sweep changed.
type ReconcileReport struct {
	Compensated  int `json:"compensated"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	Redispatched int `json:"redispatched"`
}

// Dispatcher hands a committed withdrawal to whatever runs Process.
type Dispatcher interface {
	Dispatch(ctx context.Context, withdrawalID uint) error
}

// MetricsCollector records saga transitions.
type MetricsCollector interface {
	RecordWithdrawal(status string)
	RecordCompensation(amount float64)
}

type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordWithdrawal(string)    {}
func (n *NoopMetricsCollector) RecordCompensation(float64) {}

// NewReference mints WD_<userID>_<unixMillis>_<8 hex>.
func NewReference(userID uint, now time.Time) string {
	return fmt.Sprintf("WD_%d_%d_%s", userID, now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
