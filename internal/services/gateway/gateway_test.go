package gateway

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		naira string
		kobo  int64
	}{
		{"1000", 100000},
		{"950", 95000},
		{"0.01", 1},
		{"9900.50", 990050},
	}
	for _, tt := range tests {
		t.Run(tt.naira, func(t *testing.T) {
			amount := decimal.RequireFromString(tt.naira)
			assert.Equal(t, tt.kobo, ToMinor(amount))
			assert.True(t, amount.Equal(FromMinor(tt.kobo)))
		})
	}
}

func TestErrorClassification(t *testing.T) {
	rejected := &Error{Op: "transfer", StatusCode: 400, Message: "insufficient balance", Err: ErrRejected}
	unavailable := &Error{Op: "transfer", Message: "timeout", Err: ErrUnavailable}
	notFound := &Error{Op: "verify transfer", StatusCode: 404, Err: ErrNotFound}

	assert.True(t, IsRejected(rejected))
	assert.False(t, IsUnavailable(rejected))
	assert.True(t, IsUnavailable(fmt.Errorf("wrapped: %w", unavailable)))
	assert.True(t, IsRejected(notFound))
	assert.Contains(t, rejected.Error(), "insufficient balance")
}
