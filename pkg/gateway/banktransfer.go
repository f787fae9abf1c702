package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"schoolpay/internal/domain"
)

// BankDetails are the school's receiving account details, sourced from
// system settings.
type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	Branch        string `json:"branch"`
	Instructions  string `json:"instructions"`
}

// BankDetailsSource hands the adapter the configured account details; the
// settings store implements it.
type BankDetailsSource interface {
	BankDetails() (BankDetails, error)
}

// BankTransfer is the manual gateway: no external call is made. A session
// returns the school's account details, the payer uploads proof of payment,
// and the transaction stays pending until an administrator confirms it.
type BankTransfer struct {
	details BankDetailsSource
}

func NewBankTransfer(details BankDetailsSource) *BankTransfer {
	return &BankTransfer{details: details}
}

func (b *BankTransfer) Name() string { return "bank-transfer" }

func (b *BankTransfer) CreateSession(ctx context.Context, req SessionRequest, creds Credentials) (*Session, error) {
	details, err := b.details.BankDetails()
	if err != nil {
		return nil, fmt.Errorf("bank-transfer: account details: %w", err)
	}
	if details.AccountNumber == "" {
		return nil, fmt.Errorf("bank-transfer: no receiving account configured")
	}
	raw := map[string]interface{}{
		"bank_name":      details.BankName,
		"account_name":   details.AccountName,
		"account_number": details.AccountNumber,
		"branch":         details.Branch,
		"instructions":   details.Instructions,
	}
	if req.ProofOfPaymentURL != "" {
		raw["proof_of_payment"] = req.ProofOfPaymentURL
	}
	// The transaction id doubles as the provider reference: there is no
	// provider to assign one.
	return &Session{
		GatewayTransactionID: req.TransactionID,
		SessionToken:         req.TransactionID,
		Raw:                  raw,
	}, nil
}

// VerifyPayment cannot confirm a manual transfer; only an administrator can.
func (b *BankTransfer) VerifyPayment(ctx context.Context, reference string, creds Credentials) (bool, error) {
	return false, nil
}

func (b *BankTransfer) GetPaymentDetails(ctx context.Context, reference string, creds Credentials) (*PaymentDetails, error) {
	return &PaymentDetails{
		Success: false,
		Status:  domain.StatusPending,
		Message: "awaiting manual confirmation",
	}, nil
}

func (b *BankTransfer) TestConnection(ctx context.Context, creds Credentials) error {
	details, err := b.details.BankDetails()
	if err != nil {
		return err
	}
	if details.AccountNumber == "" {
		return fmt.Errorf("bank-transfer: no receiving account configured")
	}
	return nil
}

// ProcessWebhook exists for interface completeness; the only legitimate
// source of bank transfer webhooks is internal tooling signing with the
// configured secret.
func (b *BankTransfer) ProcessWebhook(creds Credentials, payload []byte, signature string) (*WebhookEvent, error) {
	if creds.WebhookSecret != "" {
		mac := hmac.New(sha256.New, []byte(creds.WebhookSecret))
		mac.Write(payload)
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(signature)) {
			return nil, ErrInvalidSignature
		}
	}
	var event struct {
		TransactionID string `json:"transaction_id"`
		Status        string `json:"status"`
		Reason        string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("bank-transfer: webhook payload: %w", err)
	}
	status := domain.StatusPending
	if domain.ValidStatus(event.Status) {
		status = event.Status
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(payload, &raw)
	return &WebhookEvent{
		EventType:            "bank_transfer." + status,
		GatewayTransactionID: event.TransactionID,
		TransactionID:        event.TransactionID,
		Status:               status,
		FailureReason:        event.Reason,
		Raw:                  raw,
	}, nil
}
