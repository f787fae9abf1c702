package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Invoice is the slice of the fee module this service touches: the webhook
// processor marks it paid or failed exactly once per terminal transition.
// The rest of invoice management lives elsewhere.
type Invoice struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	StudentID     uint            `gorm:"not null;index" json:"student_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency      string          `gorm:"size:3;default:'USD'" json:"currency"`
	Status        string          `gorm:"size:20;not null;index;default:'unpaid'" json:"status"` // unpaid, paid, failed
	TransactionID string          `gorm:"size:100;index" json:"transaction_id"`
	FailureReason string          `gorm:"size:500" json:"failure_reason"`
	PaidAt        *time.Time      `json:"paid_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Invoice) TableName() string {
	return "invoices"
}
