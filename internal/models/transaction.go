package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentTransaction is one attempt to move money for a specific purpose
// (invoice, student or parent), tracked through the status lifecycle in
// internal/domain. Rows are never hard-deleted; the audit trail depends on
// soft deletes only.
type PaymentTransaction struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	TransactionID        string          `gorm:"size:100;not null;uniqueIndex" json:"transaction_id"`
	GatewayTransactionID string          `gorm:"size:255;index" json:"gateway_transaction_id"`
	GatewayID            uint            `gorm:"not null;index" json:"gateway_id"`
	InvoiceID            *uint           `gorm:"index" json:"invoice_id"`
	StudentID            *uint           `gorm:"index" json:"student_id"`
	ParentID             *uint           `gorm:"index" json:"parent_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency             string          `gorm:"size:3;not null" json:"currency"`
	Status               string          `gorm:"size:20;not null;index;default:'pending'" json:"status"`
	PaymentMethod        string          `gorm:"size:50" json:"payment_method"`
	// IntentKey identifies "the same logical payment attempt"; the unique
	// index is what collapses two concurrent creates into one row.
	IntentKey       string         `gorm:"size:191;uniqueIndex" json:"-"`
	GatewayResponse datatypes.JSON `gorm:"type:json" json:"gateway_response"`
	WebhookData     datatypes.JSON `gorm:"type:json" json:"webhook_data"`
	RedirectURL     string         `gorm:"size:500" json:"redirect_url"`
	CallbackURL     string         `gorm:"size:500" json:"callback_url"`
	ProofOfPayment  string         `gorm:"size:500" json:"proof_of_payment"`
	FailureReason   string         `gorm:"size:500" json:"failure_reason"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	Gateway PaymentGateway `gorm:"foreignKey:GatewayID" json:"-"`
}

func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}

// NewTransactionID generates a caller-visible transaction id.
func NewTransactionID() string {
	return fmt.Sprintf("txn_%d_%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}

// BuildIntentKey derives the idempotency key for a payment attempt:
// gateway + amount + currency + whichever target id is supplied.
func BuildIntentKey(gatewayID uint, amount decimal.Decimal, currency string, invoiceID, studentID, parentID *uint) string {
	target := "none"
	switch {
	case invoiceID != nil:
		target = fmt.Sprintf("inv:%d", *invoiceID)
	case studentID != nil:
		target = fmt.Sprintf("stu:%d", *studentID)
	case parentID != nil:
		target = fmt.Sprintf("par:%d", *parentID)
	}
	return fmt.Sprintf("g%d:%s:%s:%s", gatewayID, amount.StringFixed(2), strings.ToUpper(currency), target)
}
