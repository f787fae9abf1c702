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
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"schoolpay/internal/domain"
)

// StripeCheckout is a card-checkout adapter for Stripe-style APIs: create a
// checkout session, redirect the payer, reconcile via signed webhooks.
type StripeCheckout struct {
	BaseURL string
	client  *http.Client
}

func NewStripeCheckout(baseURL string, timeout time.Duration) *StripeCheckout {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StripeCheckout{
		BaseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *StripeCheckout) Name() string { return "stripe" }

// stripeStatusMap converges the provider vocabulary on the internal one.
// Anything missing falls back to pending via NormalizeStatus.
var stripeStatusMap = map[string]string{
	"open":                    domain.StatusPending,
	"processing":              domain.StatusProcessing,
	"complete":                domain.StatusCompleted,
	"paid":                    domain.StatusCompleted,
	"succeeded":               domain.StatusCompleted,
	"payment_failed":          domain.StatusFailed,
	"failed":                  domain.StatusFailed,
	"canceled":                domain.StatusCancelled,
	"expired":                 domain.StatusCancelled,
	"refunded":                domain.StatusRefunded,
	"requires_payment_method": domain.StatusPending,
}

type stripeSessionReq struct {
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description,omitempty"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
	WebhookURL    string `json:"webhook_url,omitempty"`
	Reference     string `json:"client_reference_id"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

type stripeSessionResp struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	ClientSecret  string `json:"client_secret"`
	Error         *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *StripeCheckout) CreateSession(ctx context.Context, req SessionRequest, creds Credentials) (*Session, error) {
	if creds.SecretKey == "" {
		return nil, ErrMissingCredential
	}
	payload := stripeSessionReq{
		// Stripe wants minor units.
		Amount:      req.Amount.Mul(decimal.NewFromInt(100)).IntPart(),
		Currency:    strings.ToLower(req.Currency),
		Description: req.Description,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
		WebhookURL:  req.WebhookURL,
		Reference:   req.TransactionID,
	}
	if req.Customer != nil {
		payload.CustomerEmail = req.Customer.Email
	}
	var out stripeSessionResp
	if err := s.call(ctx, http.MethodPost, "/v1/checkout/sessions", creds.SecretKey, payload, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &ProviderError{Provider: s.Name(), StatusCode: http.StatusOK, Message: "session created without id"}
	}
	return &Session{
		GatewayTransactionID: out.ID,
		CheckoutURL:          out.URL,
		SessionToken:         out.ID,
		AuthToken:            out.ClientSecret,
		Raw: map[string]interface{}{
			"id":             out.ID,
			"url":            out.URL,
			"status":         out.Status,
			"payment_status": out.PaymentStatus,
		},
	}, nil
}

func (s *StripeCheckout) VerifyPayment(ctx context.Context, reference string, creds Credentials) (bool, error) {
	details, err := s.GetPaymentDetails(ctx, reference, creds)
	if err != nil {
		return false, err
	}
	return details.Status == domain.StatusCompleted, nil
}

func (s *StripeCheckout) GetPaymentDetails(ctx context.Context, reference string, creds Credentials) (*PaymentDetails, error) {
	if creds.SecretKey == "" {
		return nil, ErrMissingCredential
	}
	var out stripeSessionResp
	if err := s.call(ctx, http.MethodGet, "/v1/checkout/sessions/"+reference, creds.SecretKey, nil, &out); err != nil {
		return nil, err
	}
	providerStatus := out.PaymentStatus
	if providerStatus == "" {
		providerStatus = out.Status
	}
	status := NormalizeStatus(stripeStatusMap, providerStatus)
	return &PaymentDetails{
		Success: status == domain.StatusCompleted,
		Status:  status,
		Message: providerStatus,
		Raw: map[string]interface{}{
			"id":             out.ID,
			"status":         out.Status,
			"payment_status": out.PaymentStatus,
		},
	}, nil
}

// TestConnection issues a minimal authenticated read; it never touches
// transaction data.
func (s *StripeCheckout) TestConnection(ctx context.Context, creds Credentials) error {
	if creds.SecretKey == "" {
		return ErrMissingCredential
	}
	var out map[string]interface{}
	return s.call(ctx, http.MethodGet, "/v1/balance", creds.SecretKey, nil, &out)
}

// ProcessWebhook verifies the Stripe-style signature header
// (t=<unix>,v1=<hmac>) before trusting any payload field. The signed string
// is "<t>.<raw body>" keyed by the webhook secret.
func (s *StripeCheckout) ProcessWebhook(creds Credentials, payload []byte, signature string) (*WebhookEvent, error) {
	if creds.WebhookSecret != "" {
		if err := verifyStripeSignature(creds.WebhookSecret, payload, signature); err != nil {
			return nil, err
		}
	}
	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID            string `json:"id"`
				Reference     string `json:"client_reference_id"`
				Status        string `json:"status"`
				PaymentStatus string `json:"payment_status"`
				AmountTotal   int64  `json:"amount_total"`
				Currency      string `json:"currency"`
				FailureReason string `json:"failure_message"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("stripe: webhook payload: %w", err)
	}
	obj := event.Data.Object
	providerStatus := obj.PaymentStatus
	if providerStatus == "" {
		providerStatus = obj.Status
	}
	// Event type wins over the embedded object status for terminal events.
	switch event.Type {
	case "checkout.session.async_payment_failed", "payment_intent.payment_failed":
		providerStatus = "failed"
	case "checkout.session.expired":
		providerStatus = "expired"
	case "charge.refunded":
		providerStatus = "refunded"
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(payload, &raw)
	return &WebhookEvent{
		EventType:            event.Type,
		GatewayTransactionID: obj.ID,
		TransactionID:        obj.Reference,
		Status:               NormalizeStatus(stripeStatusMap, providerStatus),
		Amount:               decimal.NewFromInt(obj.AmountTotal).Div(decimal.NewFromInt(100)),
		Currency:             strings.ToUpper(obj.Currency),
		FailureReason:        obj.FailureReason,
		Raw:                  raw,
	}, nil
}

func verifyStripeSignature(secret string, payload []byte, header string) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			sig = kv[1]
		}
	}
	if ts == "" || sig == "" {
		return ErrInvalidSignature
	}
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// call sends a JSON request with bearer auth and decodes the response,
// surfacing non-2xx responses as ProviderError with the provider's message.
func (s *StripeCheckout) call(ctx context.Context, method, path, secretKey string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("stripe: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := providerMessage(respBody)
		log.Printf("[Stripe] %s %s status=%d body=%s", method, path, resp.StatusCode, string(respBody))
		return &ProviderError{Provider: s.Name(), StatusCode: resp.StatusCode, Message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("stripe: decode response: %w", err)
		}
	}
	return nil
}

// providerMessage digs a human-readable message out of an error body.
func providerMessage(body []byte) string {
	var wrapped struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if wrapped.Error != nil && wrapped.Error.Message != "" {
			return wrapped.Error.Message
		}
		if wrapped.Message != "" {
			return wrapped.Message
		}
	}
	if len(body) > 500 {
		body = body[:500]
	}
	return string(body)
}
