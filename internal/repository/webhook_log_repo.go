package repository

import (
	"schoolpay/internal/models"

	"gorm.io/gorm"
)

type WebhookLogRepository struct {
	db *gorm.DB
}

func NewWebhookLogRepository(db *gorm.DB) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

func (r *WebhookLogRepository) Create(l *models.WebhookLog) error {
	return r.db.Create(l).Error
}

func (r *WebhookLogRepository) ListByGateway(gateway string, limit int) ([]models.WebhookLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var list []models.WebhookLog
	err := r.db.Where("gateway = ?", gateway).Order("id DESC").Limit(limit).Find(&list).Error
	return list, err
}
