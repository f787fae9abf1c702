package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"schoolpay/internal/domain"
)

// CardLink is a generic card gateway that authenticates with merchant
// credentials, creates hosted checkout orders and reports status changes
// via HMAC-signed webhooks.
type CardLink struct {
	BaseURL string
	tokens  *TokenCache
	client  *http.Client
}

func NewCardLink(baseURL string, tokens *TokenCache, timeout time.Duration) *CardLink {
	if baseURL == "" {
		baseURL = "https://api.cardlink.io"
	}
	if tokens == nil {
		tokens = NewTokenCache()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CardLink{
		BaseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *CardLink) Name() string { return "cardlink" }

var cardlinkStatusMap = map[string]string{
	"CREATED":    domain.StatusPending,
	"PENDING":    domain.StatusPending,
	"PROCESSING": domain.StatusProcessing,
	"AUTHORIZED": domain.StatusProcessing,
	"COMPLETED":  domain.StatusCompleted,
	"SUCCESS":    domain.StatusCompleted,
	"FAILED":     domain.StatusFailed,
	"DECLINED":   domain.StatusFailed,
	"CANCELLED":  domain.StatusCancelled,
	"EXPIRED":    domain.StatusCancelled,
	"REFUNDED":   domain.StatusRefunded,
}

type cardlinkLoginReq struct {
	MerchantID string `json:"merchant_id"`
	APISecret  string `json:"api_secret"`
}

type cardlinkLoginResp struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// getToken returns a cached merchant token or logs in for a fresh one.
func (p *CardLink) getToken(ctx context.Context, creds Credentials) (string, error) {
	if creds.APIKey == "" || creds.SecretKey == "" {
		return "", ErrMissingCredential
	}
	if token := p.tokens.Get(creds); token != "" {
		return token, nil
	}
	body, _ := json.Marshal(cardlinkLoginReq{MerchantID: creds.APIKey, APISecret: creds.SecretKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/merchants/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cardlink login: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: providerMessage(respBody)}
	}
	var out cardlinkLoginResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("cardlink login decode: %w", err)
	}
	if out.Token == "" {
		return "", &ProviderError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: "login returned empty token"}
	}
	ttl := time.Duration(out.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	// Renew slightly early so a token never expires mid-call.
	if ttl > 30*time.Second {
		ttl -= 30 * time.Second
	}
	p.tokens.Put(creds, out.Token, ttl)
	return out.Token, nil
}

type cardlinkOrderReq struct {
	OrderID       string `json:"order_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description,omitempty"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
	CallbackURL   string `json:"callback_url"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
}

type cardlinkOrderResp struct {
	OrderUUID   string `json:"order_uuid"`
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	CheckoutURL string `json:"checkout_url"`
	AuthToken   string `json:"auth_token"`
	Message     string `json:"message"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

func (p *CardLink) CreateSession(ctx context.Context, req SessionRequest, creds Credentials) (*Session, error) {
	token, err := p.getToken(ctx, creds)
	if err != nil {
		return nil, err
	}
	payload := cardlinkOrderReq{
		OrderID:     req.TransactionID,
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		Description: req.Description,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
		CallbackURL: req.WebhookURL,
	}
	if req.Customer != nil {
		payload.CustomerEmail = req.Customer.Email
		payload.CustomerPhone = req.Customer.Phone
	}
	var out cardlinkOrderResp
	if err := p.call(ctx, http.MethodPost, "/v1/orders", token, payload, &out); err != nil {
		return nil, err
	}
	log.Printf("[CardLink] order created order_uuid=%s order_id=%s status=%s", out.OrderUUID, out.OrderID, out.Status)
	return &Session{
		GatewayTransactionID: out.OrderUUID,
		CheckoutURL:          out.CheckoutURL,
		SessionToken:         out.OrderUUID,
		AuthToken:            out.AuthToken,
		Raw: map[string]interface{}{
			"order_uuid": out.OrderUUID,
			"order_id":   out.OrderID,
			"status":     out.Status,
			"message":    out.Message,
		},
	}, nil
}

func (p *CardLink) VerifyPayment(ctx context.Context, reference string, creds Credentials) (bool, error) {
	details, err := p.GetPaymentDetails(ctx, reference, creds)
	if err != nil {
		return false, err
	}
	return details.Status == domain.StatusCompleted, nil
}

func (p *CardLink) GetPaymentDetails(ctx context.Context, reference string, creds Credentials) (*PaymentDetails, error) {
	token, err := p.getToken(ctx, creds)
	if err != nil {
		return nil, err
	}
	var out cardlinkOrderResp
	if err := p.call(ctx, http.MethodGet, "/v1/orders/"+reference, token, nil, &out); err != nil {
		return nil, err
	}
	status := NormalizeStatus(cardlinkStatusMap, out.Status)
	amount, _ := decimal.NewFromString(out.Amount)
	return &PaymentDetails{
		Success:  status == domain.StatusCompleted,
		Status:   status,
		Message:  out.Message,
		Amount:   amount,
		Currency: out.Currency,
		Raw: map[string]interface{}{
			"order_uuid": out.OrderUUID,
			"order_id":   out.OrderID,
			"status":     out.Status,
		},
	}, nil
}

// TestConnection just exercises the login round-trip.
func (p *CardLink) TestConnection(ctx context.Context, creds Credentials) error {
	p.tokens.Invalidate(creds)
	_, err := p.getToken(ctx, creds)
	return err
}

type cardlinkWebhook struct {
	Event         string `json:"event"`
	OrderUUID     string `json:"order_uuid"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	StatusReason  string `json:"status_reason"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	TransactionAt string `json:"transaction_at"`
}

// ProcessWebhook verifies the hex HMAC-SHA256 of the raw body (header
// X-Cardlink-Signature) with constant-time comparison before parsing.
func (p *CardLink) ProcessWebhook(creds Credentials, payload []byte, signature string) (*WebhookEvent, error) {
	if creds.WebhookSecret != "" {
		mac := hmac.New(sha256.New, []byte(creds.WebhookSecret))
		mac.Write(payload)
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(signature)) {
			return nil, ErrInvalidSignature
		}
	}
	var event cardlinkWebhook
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("cardlink: webhook payload: %w", err)
	}
	amount, _ := decimal.NewFromString(event.Amount)
	var raw map[string]interface{}
	_ = json.Unmarshal(payload, &raw)
	return &WebhookEvent{
		EventType:            event.Event,
		GatewayTransactionID: event.OrderUUID,
		TransactionID:        event.OrderID,
		Status:               NormalizeStatus(cardlinkStatusMap, event.Status),
		Amount:               amount,
		Currency:             event.Currency,
		FailureReason:        event.StatusReason,
		Raw:                  raw,
	}, nil
}

func (p *CardLink) call(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("cardlink: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Printf("[CardLink] %s %s status=%d body=%s", method, path, resp.StatusCode, string(respBody))
		return &ProviderError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: providerMessage(respBody)}
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("cardlink: decode response: %w", err)
		}
	}
	return nil
}
