package models

import "time"

// ProcessedReference is a row in the idempotency table. Its primary key is the
// claimed reference, so a second claim of the same value is refused by the database.
type ProcessedReference struct {
	Reference string    `gorm:"primaryKey;type:varchar(160)"`
	Scope     string    `gorm:"type:varchar(32);not null"`
	CreatedAt time.Time `gorm:"not null"`
}
