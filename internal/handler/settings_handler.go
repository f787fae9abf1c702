package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"schoolpay/internal/models"
	"schoolpay/internal/repository"
)

// SettingsHandler manages the system settings the bank transfer flow reads
// its account details from.
type SettingsHandler struct {
	settings *repository.SettingRepository
}

func NewSettingsHandler(settings *repository.SettingRepository) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// GetBankDetails returns the account details shown on bank transfer checkouts.
func (h *SettingsHandler) GetBankDetails(c *gin.Context) {
	details, err := h.settings.BankDetails()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings unavailable"})
		return
	}
	c.JSON(http.StatusOK, details)
}

type bankDetailsRequest struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	Branch        string `json:"branch"`
	Instructions  string `json:"instructions"`
}

// UpdateBankDetails upserts the bank transfer account settings.
func (h *SettingsHandler) UpdateBankDetails(c *gin.Context) {
	var req bankDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	pairs := map[string]string{
		models.SettingBankName:          req.BankName,
		models.SettingBankAccountName:   req.AccountName,
		models.SettingBankAccountNumber: req.AccountNumber,
		models.SettingBankBranch:        req.Branch,
		models.SettingBankInstructions:  req.Instructions,
	}
	for key, value := range pairs {
		if value == "" {
			continue
		}
		if err := h.settings.Set(key, value); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "settings update failed"})
			return
		}
	}
	details, err := h.settings.BankDetails()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings unavailable"})
		return
	}
	c.JSON(http.StatusOK, details)
}
