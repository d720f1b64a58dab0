package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type FundingStatus string

const (
	FundingPending   FundingStatus = "pending"
	FundingCompleted FundingStatus = "completed"
	FundingFailed    FundingStatus = "failed"
)

// IsTerminal reports whether the intent admits no further transition.
func (s FundingStatus) IsTerminal() bool {
	return s == FundingCompleted || s == FundingFailed
}

// FundingIntent records a request to add money that still awaits provider confirmation.
type FundingIntent struct {
	ID                uint            `gorm:"primarykey" json:"id"`
	UserID            uint            `gorm:"index;not null" json:"user_id"`
	Amount            decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Reference         string          `gorm:"type:varchar(80);uniqueIndex;not null" json:"reference"`
	Status            FundingStatus   `gorm:"type:varchar(16);index;not null;default:'pending'" json:"status"`
	ProviderReference string          `gorm:"type:varchar(120)" json:"provider_reference,omitempty"`
	AuthorizationURL  string          `json:"authorization_url,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	Metadata          JSON            `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	FailedAt          *time.Time      `json:"failed_at,omitempty"`
}

func (FundingIntent) TableName() string {
	return "wallet_recharges"
}
