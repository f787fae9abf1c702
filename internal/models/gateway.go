package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentGateway is a configured payment provider. Name is the routing key
// used by the adapter registry and the webhook URL path.
type PaymentGateway struct {
	ID                  uint             `gorm:"primaryKey" json:"id"`
	Name                string           `gorm:"size:50;not null;uniqueIndex" json:"name"`
	DisplayName         string           `gorm:"size:100;not null" json:"display_name"`
	IsActive            bool             `gorm:"default:true;index" json:"is_active"`
	IsDefault           bool             `gorm:"default:false" json:"is_default"`
	SupportedCurrencies datatypes.JSON   `gorm:"type:json" json:"supported_currencies"`
	MinAmount           *decimal.Decimal `gorm:"type:decimal(12,2)" json:"min_amount"`
	MaxAmount           *decimal.Decimal `gorm:"type:decimal(12,2)" json:"max_amount"`
	ProcessingFee       decimal.Decimal  `gorm:"type:decimal(12,2);default:0" json:"processing_fee"`
	ProcessingFeeType   string           `gorm:"size:20;default:'percentage'" json:"processing_fee_type"` // percentage, fixed
	SortOrder           int              `gorm:"default:0" json:"sort_order"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	DeletedAt           gorm.DeletedAt   `gorm:"index" json:"-"`

	Credentials []PaymentGatewayCredential `gorm:"foreignKey:GatewayID" json:"-"`
}

func (PaymentGateway) TableName() string {
	return "payment_gateways"
}

// Currencies decodes the supported currency list.
func (g *PaymentGateway) Currencies() []string {
	var out []string
	if len(g.SupportedCurrencies) > 0 {
		_ = json.Unmarshal(g.SupportedCurrencies, &out)
	}
	return out
}

// SupportsCurrency reports whether code is accepted by this gateway.
// An empty list means no restriction.
func (g *PaymentGateway) SupportsCurrency(code string) bool {
	list := g.Currencies()
	if len(list) == 0 {
		return true
	}
	for _, c := range list {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

// PaymentGatewayCredential is a per-environment secret bundle. Secrets are
// stored encrypted; the plaintext exists only transiently for a single
// adapter call. At most one active row per (gateway, environment) is used
// for live calls; deactivated rows are kept for audit.
type PaymentGatewayCredential struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	GatewayID        uint           `gorm:"not null;index:idx_gateway_env" json:"gateway_id"`
	Environment      string         `gorm:"size:20;not null;index:idx_gateway_env;default:'sandbox'" json:"environment"` // sandbox, production
	APIKey           string         `gorm:"type:text" json:"-"`
	SecretKey        string         `gorm:"type:text" json:"-"`
	WebhookSecret    string         `gorm:"type:text" json:"-"`
	AdditionalConfig datatypes.JSON `gorm:"type:json" json:"additional_config"`
	IsActive         bool           `gorm:"default:true" json:"is_active"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`

	Gateway PaymentGateway `gorm:"foreignKey:GatewayID" json:"-"`
}

func (PaymentGatewayCredential) TableName() string {
	return "payment_gateway_credentials"
}
