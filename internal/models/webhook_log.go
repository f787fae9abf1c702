package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookLog records every inbound webhook delivery, verified or not, so
// processing is diagnosable from logs alone. Unverified deliveries (no
// webhook secret configured) are flagged here for operators.
type WebhookLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	GatewayID uint           `gorm:"index" json:"gateway_id"`
	Gateway   string         `gorm:"size:50;index" json:"gateway"`
	EventType string         `gorm:"size:100" json:"event_type"`
	Reference string         `gorm:"size:255;index" json:"reference"`
	Verified  bool           `json:"verified"`
	Processed bool           `json:"processed"`
	Note      string         `gorm:"size:500" json:"note"`
	Payload   datatypes.JSON `gorm:"type:json" json:"payload"`
	IP        string         `gorm:"size:45" json:"ip"`
	CreatedAt time.Time      `json:"created_at"`
}

func (WebhookLog) TableName() string {
	return "webhook_logs"
}
