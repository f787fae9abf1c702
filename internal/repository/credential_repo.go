package repository

import (
	"schoolpay/internal/models"

	"gorm.io/gorm"
)

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Create stores a credential set. A newly created active set deactivates
// any sibling for the same (gateway, environment) pair; old rows stay for
// audit.
func (r *CredentialRepository) Create(c *models.PaymentGatewayCredential) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if c.IsActive {
			if err := tx.Model(&models.PaymentGatewayCredential{}).
				Where("gateway_id = ? AND environment = ?", c.GatewayID, c.Environment).
				Update("is_active", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(c).Error
	})
}

func (r *CredentialRepository) GetByID(id uint) (*models.PaymentGatewayCredential, error) {
	var c models.PaymentGatewayCredential
	if err := r.db.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetActive returns the single active credential set for a gateway and
// environment.
func (r *CredentialRepository) GetActive(gatewayID uint, environment string) (*models.PaymentGatewayCredential, error) {
	var c models.PaymentGatewayCredential
	err := r.db.Where("gateway_id = ? AND environment = ? AND is_active = ?", gatewayID, environment, true).
		Order("id DESC").First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CredentialRepository) Update(c *models.PaymentGatewayCredential) error {
	return r.db.Save(c).Error
}

// Activate makes one credential set live and deactivates its siblings.
func (r *CredentialRepository) Activate(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var c models.PaymentGatewayCredential
		if err := tx.First(&c, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.PaymentGatewayCredential{}).
			Where("gateway_id = ? AND environment = ? AND id <> ?", c.GatewayID, c.Environment, id).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.PaymentGatewayCredential{}).Where("id = ?", id).
			Update("is_active", true).Error
	})
}

func (r *CredentialRepository) ListByGateway(gatewayID uint) ([]models.PaymentGatewayCredential, error) {
	var list []models.PaymentGatewayCredential
	err := r.db.Where("gateway_id = ?", gatewayID).Order("id DESC").Find(&list).Error
	return list, err
}
