package models

import (
	"time"

	"gorm.io/gorm"
)

// SystemSetting stores admin-configurable key/value settings. The bank
// transfer gateway reads its account details from here.
type SystemSetting struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Key       string         `gorm:"uniqueIndex;size:100;not null" json:"key"`
	Value     string         `gorm:"size:500;not null" json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (SystemSetting) TableName() string { return "system_settings" }

// Setting keys consumed by the bank transfer gateway.
const (
	SettingBankName          = "bank_transfer.bank_name"
	SettingBankAccountName   = "bank_transfer.account_name"
	SettingBankAccountNumber = "bank_transfer.account_number"
	SettingBankBranch        = "bank_transfer.branch"
	SettingBankInstructions  = "bank_transfer.instructions"
)
