package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeTier charges Fee for any amount up to and including UpTo.
// A zero UpTo marks the open-ended top band.
type FeeTier struct {
	UpTo decimal.Decimal `json:"up_to"`
	Fee  decimal.Decimal `json:"fee"`
}

// FeeSchedule is a list of bands ordered by UpTo, the last one open-ended.
type FeeSchedule []FeeTier

var ErrInvalidFeeSchedule = errors.New("invalid fee schedule")

// DefaultWithdrawalFees: up to ₦5,000 → ₦50, up to ₦50,000 → ₦100, above → ₦200.
var DefaultWithdrawalFees = FeeSchedule{
	{UpTo: decimal.NewFromInt(5000), Fee: decimal.NewFromInt(50)},
	{UpTo: decimal.NewFromInt(50000), Fee: decimal.NewFromInt(100)},
	{UpTo: decimal.Zero, Fee: decimal.NewFromInt(200)},
}

// Fee returns the flat fee for the band containing amount.
func (s FeeSchedule) Fee(amount decimal.Decimal) decimal.Decimal {
	for _, t := range s {
		if t.UpTo.IsZero() || amount.LessThanOrEqual(t.UpTo) {
			return t.Fee
		}
	}
	return decimal.Zero
}

// Validate checks that bands ascend, fees never decrease and the last band is open-ended.
func (s FeeSchedule) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidFeeSchedule)
	}
	for i, t := range s {
		if t.Fee.IsNegative() {
			return fmt.Errorf("%w: negative fee in tier %d", ErrInvalidFeeSchedule, i)
		}
		last := i == len(s)-1
		if t.UpTo.IsZero() != last {
			return fmt.Errorf("%w: only the last tier may be open-ended", ErrInvalidFeeSchedule)
		}
		if i == 0 {
			continue
		}
		prev := s[i-1]
		if !last && !t.UpTo.GreaterThan(prev.UpTo) {
			return fmt.Errorf("%w: tier %d does not ascend", ErrInvalidFeeSchedule, i)
		}
		if t.Fee.LessThan(prev.Fee) {
			return fmt.Errorf("%w: fee decreases at tier %d", ErrInvalidFeeSchedule, i)
		}
	}
	return nil
}
