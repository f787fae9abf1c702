package repository

import (
	"time"

	"gorm.io/gorm"

	"schoolpay/internal/domain"
	"schoolpay/internal/models"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) GetByID(id uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.db.First(&inv, id).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *InvoiceRepository) Create(inv *models.Invoice) error {
	return r.db.Create(inv).Error
}

// MarkPaid flips an invoice to paid once; re-applying is a no-op so webhook
// re-delivery cannot double-fire.
func (r *InvoiceRepository) MarkPaid(id uint, transactionID string) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.Invoice{}).
		Where("id = ? AND status <> ?", id, domain.InvoiceStatusPaid).
		Updates(map[string]interface{}{
			"status":         domain.InvoiceStatusPaid,
			"transaction_id": transactionID,
			"paid_at":        &now,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkFailed records a failed attempt; it never downgrades a paid invoice.
func (r *InvoiceRepository) MarkFailed(id uint, transactionID, reason string) (bool, error) {
	res := r.db.Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, domain.InvoiceStatusUnpaid).
		Updates(map[string]interface{}{
			"status":         domain.InvoiceStatusFailed,
			"transaction_id": transactionID,
			"failure_reason": reason,
		})
	return res.RowsAffected > 0, res.Error
}
