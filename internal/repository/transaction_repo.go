package repository

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"schoolpay/internal/domain"
	"schoolpay/internal/models"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// ErrIntentConflict is returned when the unique intent key collapses two
// concurrent creates; the caller re-fetches the surviving row.
var ErrIntentConflict = errors.New("transaction with the same intent key already exists")

func (r *TransactionRepository) Create(t *models.PaymentTransaction) error {
	if err := r.db.Create(t).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrIntentConflict
		}
		return err
	}
	return nil
}

func (r *TransactionRepository) GetByTransactionID(txnID string) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	if err := r.db.Where("transaction_id = ?", txnID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepository) GetByGatewayTransactionID(ref string) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	if err := r.db.Where("gateway_transaction_id = ?", ref).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// FindByIntentKey returns the transaction holding the intent key, soft
// deletes excluded.
func (r *TransactionRepository) FindByIntentKey(key string) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	if err := r.db.Where("intent_key = ?", key).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepository) Update(t *models.PaymentTransaction) error {
	return r.db.Save(t).Error
}

// UpdateStatusIf applies a status transition as a conditional UPDATE keyed
// on the expected current statuses. It is the single mutual-exclusion point
// between webhooks, verification calls and the sweeper: rows-affected zero
// means another writer won or the hop is illegal, and the caller must treat
// that as a no-op.
func (r *TransactionRepository) UpdateStatusIf(txnID string, from []string, to string, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	if domain.IsTerminal(to) {
		// processed_at is written exactly once, by whichever writer wins
		// the terminal transition.
		now := time.Now()
		updates["processed_at"] = &now
	}
	res := r.db.Model(&models.PaymentTransaction{}).
		Where("transaction_id = ? AND status IN ?", txnID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListExpiredPending returns pending transactions created before cutoff.
func (r *TransactionRepository) ListExpiredPending(cutoff time.Time) ([]models.PaymentTransaction, error) {
	var list []models.PaymentTransaction
	err := r.db.Where("status = ? AND created_at < ?", domain.StatusPending, cutoff).Find(&list).Error
	return list, err
}

// TransactionFilter narrows history listings.
type TransactionFilter struct {
	Status    string
	GatewayID uint
	StudentID uint
	InvoiceID uint
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

func (r *TransactionRepository) List(f TransactionFilter) ([]models.PaymentTransaction, int64, error) {
	q := r.db.Model(&models.PaymentTransaction{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.GatewayID != 0 {
		q = q.Where("gateway_id = ?", f.GatewayID)
	}
	if f.StudentID != 0 {
		q = q.Where("student_id = ?", f.StudentID)
	}
	if f.InvoiceID != 0 {
		q = q.Where("invoice_id = ?", f.InvoiceID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var list []models.PaymentTransaction
	err := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&list).Error
	return list, total, err
}

// StatusAggregate is one analytics bucket.
type StatusAggregate struct {
	Status string          `json:"status"`
	Count  int64           `json:"count"`
	Total  decimal.Decimal `json:"total"`
}

// AggregateByStatus sums counts and amounts per status, optionally scoped
// to one gateway.
func (r *TransactionRepository) AggregateByStatus(gatewayID uint) ([]StatusAggregate, error) {
	q := r.db.Model(&models.PaymentTransaction{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Group("status")
	if gatewayID != 0 {
		q = q.Where("gateway_id = ?", gatewayID)
	}
	var out []StatusAggregate
	err := q.Scan(&out).Error
	return out, err
}
