package models

import "time"

type BankAccount struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"index;not null" json:"user_id"`
	AccountNumber string    `gorm:"type:varchar(20);not null" json:"account_number"`
	AccountName   string    `gorm:"type:varchar(100);not null" json:"account_name"`
	BankCode      string    `gorm:"type:varchar(20);not null" json:"bank_code"`
	RecipientCode string    `gorm:"type:varchar(64)" json:"-"`
	IsVerified    bool      `gorm:"default:false" json:"is_verified"`
	IsDefault     bool      `gorm:"default:false" json:"is_default"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (BankAccount) TableName() string {
	return "bank_accounts"
}
