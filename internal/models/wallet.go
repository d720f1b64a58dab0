package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const DefaultCurrency = "NGN"

// Wallet is the single running balance of a user. It is mutated only by the
// ledger service while the row is locked.
type Wallet struct {
	ID        uint            `gorm:"primarykey" json:"id"`
	UserID    uint            `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0;check:balance >= 0" json:"balance"`
	Currency  string          `gorm:"default:'NGN'" json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	// Ensure balance starts at 0
	w.Balance = decimal.Zero
	if w.Currency == "" {
		w.Currency = DefaultCurrency
	}
	return nil
}
