package repository

import (
	"schoolpay/internal/models"

	"gorm.io/gorm"
)

type GatewayRepository struct {
	db *gorm.DB
}

func NewGatewayRepository(db *gorm.DB) *GatewayRepository {
	return &GatewayRepository{db: db}
}

func (r *GatewayRepository) Create(g *models.PaymentGateway) error {
	return r.db.Create(g).Error
}

func (r *GatewayRepository) GetByID(id uint) (*models.PaymentGateway, error) {
	var g models.PaymentGateway
	if err := r.db.First(&g, id).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GatewayRepository) GetByName(name string) (*models.PaymentGateway, error) {
	var g models.PaymentGateway
	if err := r.db.Where("name = ?", name).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GatewayRepository) Update(g *models.PaymentGateway) error {
	return r.db.Save(g).Error
}

// ListActive returns active gateways in display order.
func (r *GatewayRepository) ListActive() ([]models.PaymentGateway, error) {
	var list []models.PaymentGateway
	err := r.db.Where("is_active = ?", true).Order("sort_order ASC, id ASC").Find(&list).Error
	return list, err
}

func (r *GatewayRepository) ListAll() ([]models.PaymentGateway, error) {
	var list []models.PaymentGateway
	err := r.db.Order("sort_order ASC, id ASC").Find(&list).Error
	return list, err
}

// SetDefault marks one gateway as default, clearing the flag everywhere
// else so at most one default exists.
func (r *GatewayRepository) SetDefault(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.PaymentGateway{}).Where("is_default = ?", true).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.PaymentGateway{}).Where("id = ?", id).
			Update("is_default", true).Error
	})
}

// SoftDelete hides a gateway; rows referenced by transactions are never
// hard-removed.
func (r *GatewayRepository) SoftDelete(id uint) error {
	return r.db.Delete(&models.PaymentGateway{}, id).Error
}
