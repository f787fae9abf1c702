package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"schoolpay/internal/repository"
	"schoolpay/internal/service"
	"schoolpay/pkg/cloudinary"
	"schoolpay/pkg/gateway"
)

type PaymentHandler struct {
	payments *service.PaymentService
	gateways *repository.GatewayRepository
	files    cloudinary.Client
}

func NewPaymentHandler(payments *service.PaymentService, gateways *repository.GatewayRepository, files cloudinary.Client) *PaymentHandler {
	return &PaymentHandler{payments: payments, gateways: gateways, files: files}
}

type createSessionRequest struct {
	GatewayID     uint   `json:"gateway_id" binding:"required"`
	InvoiceID     *uint  `json:"invoice_id"`
	StudentID     *uint  `json:"student_id"`
	ParentID      *uint  `json:"parent_id"`
	Amount        string `json:"amount" binding:"required"`
	Currency      string `json:"currency" binding:"required"`
	Description   string `json:"description"`
	PaymentMethod string `json:"payment_method"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
}

// CreateSession opens a checkout session for an invoice or a direct payment.
func (h *PaymentHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	var customer *gateway.CustomerInfo
	if req.CustomerName != "" || req.CustomerEmail != "" {
		first, last, _ := strings.Cut(req.CustomerName, " ")
		customer = &gateway.CustomerInfo{
			FirstName: first,
			LastName:  last,
			Email:     req.CustomerEmail,
			Phone:     req.CustomerPhone,
		}
	}
	res, err := h.payments.CreateSession(c.Request.Context(), service.CreateSessionInput{
		GatewayID:     req.GatewayID,
		InvoiceID:     req.InvoiceID,
		StudentID:     req.StudentID,
		ParentID:      req.ParentID,
		Amount:        amount,
		Currency:      req.Currency,
		Description:   req.Description,
		PaymentMethod: req.PaymentMethod,
		Customer:      customer,
	})
	if err != nil {
		h.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *PaymentHandler) writeSessionError(c *gin.Context, err error) {
	var sErr *service.SessionCreationError
	switch {
	case errors.Is(err, service.ErrGatewayNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrGatewayInactive),
		errors.Is(err, service.ErrAmountOutOfBounds),
		errors.Is(err, service.ErrUnsupportedCurrency),
		errors.Is(err, service.ErrMissingTarget):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrPaymentExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrCredentialsNotFound):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment gateway is not configured"})
	case errors.As(err, &sErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": sErr.Message, "gateway": sErr.Provider})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment session failed"})
	}
}

// GetTransaction returns one transaction by its public id.
func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	txn, err := h.payments.GetTransaction(c.Param("transaction_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	c.JSON(http.StatusOK, txn)
}

// VerifyPayment polls the provider for the current status and applies it.
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	res, err := h.payments.VerifyPayment(c.Request.Context(), c.Param("transaction_id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTransactionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		case errors.Is(err, service.ErrVerificationFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": "verification with the provider failed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

// History lists the caller's transactions with pagination and filters.
func (h *PaymentHandler) History(c *gin.Context) {
	filter := repository.TransactionFilter{
		Status: c.Query("status"),
	}
	if v := c.Query("gateway_id"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 32); err == nil {
			filter.GatewayID = uint(id)
		}
	}
	if v := c.Query("student_id"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 32); err == nil {
			filter.StudentID = uint(id)
		}
	}
	if v := c.Query("invoice_id"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 32); err == nil {
			filter.InvoiceID = uint(id)
		}
	}
	if v := c.Query("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := c.Query("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}
	txns, total, err := h.payments.History(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns, "total": total})
}

// ListGateways returns the active gateways clients can pay through.
func (h *PaymentHandler) ListGateways(c *gin.Context) {
	gws, err := h.gateways.ListActive()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "gateways unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gateways": gws})
}

// UploadProofOfPayment attaches a bank transfer receipt to a transaction.
func (h *PaymentHandler) UploadProofOfPayment(c *gin.Context) {
	transactionID := c.Param("transaction_id")
	if _, err := h.payments.GetTransaction(transactionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	defer file.Close()
	url, err := h.files.UploadProofOfPayment(c.Request.Context(), file, transactionID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
		return
	}
	if err := h.payments.AttachProofOfPayment(transactionID, url); err != nil {
		if errors.Is(err, service.ErrNotBankTransfer) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not attach proof"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proof_of_payment": url})
}
