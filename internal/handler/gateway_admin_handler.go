package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"schoolpay/internal/models"
	"schoolpay/internal/repository"
	"schoolpay/internal/service"
	"schoolpay/internal/vault"
)

// GatewayAdminHandler is the administrator surface: gateway and credential
// management, manual confirmations, refunds and analytics.
type GatewayAdminHandler struct {
	payments    *service.PaymentService
	gatewayRepo *repository.GatewayRepository
	credRepo    *repository.CredentialRepository
	logRepo     *repository.WebhookLogRepository
	vault       *vault.Vault
}

func NewGatewayAdminHandler(
	payments *service.PaymentService,
	gatewayRepo *repository.GatewayRepository,
	credRepo *repository.CredentialRepository,
	logRepo *repository.WebhookLogRepository,
	v *vault.Vault,
) *GatewayAdminHandler {
	return &GatewayAdminHandler{
		payments:    payments,
		gatewayRepo: gatewayRepo,
		credRepo:    credRepo,
		logRepo:     logRepo,
		vault:       v,
	}
}

type gatewayRequest struct {
	Name                string   `json:"name" binding:"required"`
	DisplayName         string   `json:"display_name" binding:"required"`
	IsActive            *bool    `json:"is_active"`
	SupportedCurrencies []string `json:"supported_currencies"`
	MinAmount           *string  `json:"min_amount"`
	MaxAmount           *string  `json:"max_amount"`
	ProcessingFee       string   `json:"processing_fee"`
	ProcessingFeeType   string   `json:"processing_fee_type"`
	SortOrder           int      `json:"sort_order"`
}

func (r *gatewayRequest) apply(gw *models.PaymentGateway) error {
	gw.Name = r.Name
	gw.DisplayName = r.DisplayName
	if r.IsActive != nil {
		gw.IsActive = *r.IsActive
	}
	if r.SupportedCurrencies != nil {
		data, err := json.Marshal(r.SupportedCurrencies)
		if err != nil {
			return err
		}
		gw.SupportedCurrencies = datatypes.JSON(data)
	}
	parse := func(s *string) (*decimal.Decimal, error) {
		if s == nil || *s == "" {
			return nil, nil
		}
		d, err := decimal.NewFromString(*s)
		if err != nil {
			return nil, err
		}
		return &d, nil
	}
	var err error
	if gw.MinAmount, err = parse(r.MinAmount); err != nil {
		return err
	}
	if gw.MaxAmount, err = parse(r.MaxAmount); err != nil {
		return err
	}
	if r.ProcessingFee != "" {
		fee, err := decimal.NewFromString(r.ProcessingFee)
		if err != nil {
			return err
		}
		gw.ProcessingFee = fee
	}
	if r.ProcessingFeeType != "" {
		gw.ProcessingFeeType = r.ProcessingFeeType
	}
	gw.SortOrder = r.SortOrder
	return nil
}

func (h *GatewayAdminHandler) ListGateways(c *gin.Context) {
	gws, err := h.gatewayRepo.ListAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "gateways unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gateways": gws})
}

func (h *GatewayAdminHandler) CreateGateway(c *gin.Context) {
	var req gatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	gw := &models.PaymentGateway{}
	if err := req.apply(gw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amounts"})
		return
	}
	if err := h.gatewayRepo.Create(gw); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "gateway already exists"})
		return
	}
	c.JSON(http.StatusCreated, gw)
}

func (h *GatewayAdminHandler) UpdateGateway(c *gin.Context) {
	gw, ok := h.loadGateway(c)
	if !ok {
		return
	}
	var req gatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := req.apply(gw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amounts"})
		return
	}
	if err := h.gatewayRepo.Update(gw); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gw)
}

func (h *GatewayAdminHandler) DeleteGateway(c *gin.Context) {
	gw, ok := h.loadGateway(c)
	if !ok {
		return
	}
	if err := h.gatewayRepo.SoftDelete(gw.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *GatewayAdminHandler) SetDefaultGateway(c *gin.Context) {
	gw, ok := h.loadGateway(c)
	if !ok {
		return
	}
	if err := h.gatewayRepo.SetDefault(gw.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"default": gw.ID})
}

type credentialRequest struct {
	Environment      string                 `json:"environment" binding:"required"`
	APIKey           string                 `json:"api_key"`
	SecretKey        string                 `json:"secret_key"`
	WebhookSecret    string                 `json:"webhook_secret"`
	AdditionalConfig map[string]interface{} `json:"additional_config"`
	IsActive         *bool                  `json:"is_active"`
}

// CreateCredential encrypts and stores a credential set. Plaintext never
// comes back out through the API.
func (h *GatewayAdminHandler) CreateCredential(c *gin.Context) {
	gw, ok := h.loadGateway(c)
	if !ok {
		return
	}
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	sealed := make([]string, 3)
	for i, plain := range []string{req.APIKey, req.SecretKey, req.WebhookSecret} {
		if plain == "" {
			continue
		}
		enc, err := h.vault.Encrypt(plain)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encryption failed"})
			return
		}
		sealed[i] = enc
	}
	cred := &models.PaymentGatewayCredential{
		GatewayID:     gw.ID,
		Environment:   req.Environment,
		APIKey:        sealed[0],
		SecretKey:     sealed[1],
		WebhookSecret: sealed[2],
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	if req.AdditionalConfig != nil {
		data, _ := json.Marshal(req.AdditionalConfig)
		cred.AdditionalConfig = datatypes.JSON(data)
	}
	if err := h.credRepo.Create(cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credential save failed"})
		return
	}
	c.JSON(http.StatusCreated, maskCredential(cred))
}

// ListCredentials returns credential metadata with masked secrets.
func (h *GatewayAdminHandler) ListCredentials(c *gin.Context) {
	gw, ok := h.loadGateway(c)
	if !ok {
		return
	}
	creds, err := h.credRepo.ListByGateway(gw.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credentials unavailable"})
		return
	}
	out := make([]gin.H, 0, len(creds))
	for i := range creds {
		out = append(out, maskCredential(&creds[i]))
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

func (h *GatewayAdminHandler) ActivateCredential(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("credential_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credential id"})
		return
	}
	if err := h.credRepo.Activate(uint(id)); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activated": id})
}

func maskCredential(cred *models.PaymentGatewayCredential) gin.H {
	return gin.H{
		"id":                 cred.ID,
		"gateway_id":         cred.GatewayID,
		"environment":        cred.Environment,
		"api_key_set":        cred.APIKey != "",
		"secret_key_set":     cred.SecretKey != "",
		"webhook_secret_set": cred.WebhookSecret != "",
		"is_active":          cred.IsActive,
		"created_at":         cred.CreatedAt,
	}
}

// TestConnection exercises the gateway's connectivity check.
func (h *GatewayAdminHandler) TestConnection(c *gin.Context) {
	gw, ok := h.loadGateway(c)
	if !ok {
		return
	}
	if err := h.payments.TestGatewayConnection(c.Request.Context(), gw.ID); err != nil {
		if errors.Is(err, service.ErrCredentialsNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no usable credentials configured"})
			return
		}
		if errors.Is(err, service.ErrGatewayUnreachable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "gateway unreachable"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "connection test failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true})
}

type confirmRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

// ConfirmBankTransfer is the admin decision on a manually verified transfer.
func (h *GatewayAdminHandler) ConfirmBankTransfer(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	err := h.payments.ConfirmBankTransfer(c.Param("transaction_id"), req.Approve, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTransactionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		default:
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirmed": req.Approve})
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *GatewayAdminHandler) Refund(c *gin.Context) {
	var req refundRequest
	_ = c.ShouldBindJSON(&req)
	err := h.payments.Refund(c.Param("transaction_id"), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTransactionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		case errors.Is(err, service.ErrNotRefundable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "refund failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunded": true})
}

// Cleanup triggers an immediate expiry sweep outside the background ticker.
func (h *GatewayAdminHandler) Cleanup(c *gin.Context) {
	cancelled, err := h.payments.CleanupExpiredPending()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

// Analytics returns per-status counts and totals, optionally for one gateway.
func (h *GatewayAdminHandler) Analytics(c *gin.Context) {
	var gatewayID uint
	if v := c.Query("gateway_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid gateway id"})
			return
		}
		gatewayID = uint(id)
	}
	stats, err := h.payments.Analytics(gatewayID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"by_status": stats})
}

// WebhookLogs lists recent deliveries for one gateway name.
func (h *GatewayAdminHandler) WebhookLogs(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	logs, err := h.logRepo.ListByGateway(c.Param("gateway"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logs unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (h *GatewayAdminHandler) loadGateway(c *gin.Context) (*models.PaymentGateway, bool) {
	id, err := strconv.ParseUint(c.Param("gateway_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid gateway id"})
		return nil, false
	}
	gw, err := h.gatewayRepo.GetByID(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "gateway not found"})
		return nil, false
	}
	return gw, true
}
