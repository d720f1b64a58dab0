package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerKind tags why a balance changed.
type LedgerKind string

const (
	LedgerKindRecharge        LedgerKind = "recharge"
	LedgerKindOrderPayment    LedgerKind = "order_payment"
	LedgerKindRefund          LedgerKind = "refund"
	LedgerKindWithdrawal      LedgerKind = "withdrawal"
	LedgerKindAdminAdjustment LedgerKind = "admin_adjustment"
)

func (k LedgerKind) Valid() bool {
	switch k {
	case LedgerKindRecharge, LedgerKindOrderPayment, LedgerKindRefund,
		LedgerKindWithdrawal, LedgerKindAdminAdjustment:
		return true
	}
	return false
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// LedgerEntry is an immutable record of one committed balance mutation.
type LedgerEntry struct {
	ID           uint            `gorm:"primarykey" json:"id"`
	UserID       uint            `gorm:"index;not null" json:"user_id"`
	Amount       decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Direction    Direction       `gorm:"type:varchar(8);not null" json:"direction"`
	Kind         LedgerKind      `gorm:"type:varchar(32);index:idx_ledger_kind_ref;not null" json:"kind"`
	Description  string          `json:"description"`
	ReferenceID  string          `gorm:"type:varchar(120);index:idx_ledger_kind_ref;not null" json:"reference_id"`
	BalanceAfter decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"balance_after"`
	CreatedAt    time.Time       `gorm:"index" json:"created_at"`
}

// Signed returns the entry amount with debits negated.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == DirectionDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}
