package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
	WithdrawalCancelled  WithdrawalStatus = "cancelled"
)

// IsTerminal reports whether the request admits no further status change.
// A terminal failed or cancelled request may still owe its refund.
func (s WithdrawalStatus) IsTerminal() bool {
	switch s {
	case WithdrawalCompleted, WithdrawalFailed, WithdrawalCancelled:
		return true
	}
	return false
}

// WithdrawalRequest is created with Amount already debited from the wallet.
// NetAmount is what the payout moves; Amount is what a refund gives back.
type WithdrawalRequest struct {
	ID                uint             `gorm:"primarykey" json:"id"`
	UserID            uint             `gorm:"index;not null" json:"user_id"`
	BankAccountID     uint             `gorm:"index;not null" json:"bank_account_id"`
	Amount            decimal.Decimal  `gorm:"type:numeric(20,2);not null" json:"amount"`
	Fee               decimal.Decimal  `gorm:"type:numeric(20,2);not null;default:0" json:"fee"`
	NetAmount         decimal.Decimal  `gorm:"type:numeric(20,2);not null" json:"net_amount"`
	Status            WithdrawalStatus `gorm:"type:varchar(16);index;not null;default:'pending'" json:"status"`
	Reference         string           `gorm:"type:varchar(80);uniqueIndex;not null" json:"reference"`
	ProviderReference string           `gorm:"type:varchar(120)" json:"provider_reference,omitempty"`
	FailureReason     string           `json:"failure_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ProcessingAt      *time.Time       `json:"processing_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	FailedAt          *time.Time       `json:"failed_at,omitempty"`
	CancelledAt       *time.Time       `json:"cancelled_at,omitempty"`
	RefundedAt        *time.Time       `json:"refunded_at,omitempty"`
}

func (WithdrawalRequest) TableName() string {
	return "withdrawal_requests"
}

// NeedsCompensation reports whether the reserved amount still has to be returned.
func (w *WithdrawalRequest) NeedsCompensation() bool {
	return (w.Status == WithdrawalFailed || w.Status == WithdrawalCancelled) && w.RefundedAt == nil
}
