package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"schoolpay/internal/domain"
)

// Credentials is a decrypted secret bundle handed to an adapter for a
// single call. Adapters never retain it.
type Credentials struct {
	ID               uint
	Environment      string
	APIKey           string
	SecretKey        string
	WebhookSecret    string
	AdditionalConfig map[string]interface{}
}

// ConfigString reads a string out of AdditionalConfig.
func (c Credentials) ConfigString(key string) string {
	if c.AdditionalConfig == nil {
		return ""
	}
	if v, ok := c.AdditionalConfig[key].(string); ok {
		return v
	}
	return ""
}

// CustomerInfo is optional payer detail forwarded to providers that want it.
type CustomerInfo struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// SessionRequest carries everything an adapter needs to open a provider
// checkout context for one transaction.
type SessionRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	SuccessURL    string
	CancelURL     string
	WebhookURL    string
	Customer      *CustomerInfo
	// ProofOfPaymentURL is set only for the bank transfer flow.
	ProofOfPaymentURL string
}

// Session is the provider-side checkout context created for a transaction.
type Session struct {
	GatewayTransactionID string
	CheckoutURL          string
	SessionToken         string
	AuthToken            string
	Raw                  map[string]interface{}
}

// PaymentDetails is a normalized read-only status snapshot.
type PaymentDetails struct {
	Success  bool
	Status   string
	Message  string
	Amount   decimal.Decimal
	Currency string
	Raw      map[string]interface{}
}

// WebhookEvent is a verified, parsed provider callback.
type WebhookEvent struct {
	EventType            string
	GatewayTransactionID string
	TransactionID        string
	Status               string
	Amount               decimal.Decimal
	Currency             string
	FailureReason        string
	Raw                  map[string]interface{}
}

// Adapter is implemented once per provider. Card-checkout adapters talk to
// an external HTTP API; the bank transfer adapter is degenerate and never
// leaves the process.
type Adapter interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest, creds Credentials) (*Session, error)
	VerifyPayment(ctx context.Context, reference string, creds Credentials) (bool, error)
	GetPaymentDetails(ctx context.Context, reference string, creds Credentials) (*PaymentDetails, error)
	TestConnection(ctx context.Context, creds Credentials) error
	ProcessWebhook(creds Credentials, payload []byte, signature string) (*WebhookEvent, error)
}

var (
	ErrUnknownGateway    = errors.New("gateway: no adapter registered for this provider")
	ErrInvalidSignature  = errors.New("gateway: webhook signature verification failed")
	ErrMissingCredential = errors.New("gateway: required credential field is empty")
)

// ProviderError is a non-2xx or otherwise failed provider response. The
// provider's own message is preserved for server-side logs; callers decide
// what to surface.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: provider error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// StatusUnknown is the explicit fallback for provider statuses outside the
// adapter's mapping table. It maps to pending, never to completed.
const StatusUnknown = "unknown"

// NormalizeStatus resolves a provider status through table, with the unknown
// fallback spelled out so tests can assert it directly.
func NormalizeStatus(table map[string]string, providerStatus string) string {
	if mapped, ok := table[providerStatus]; ok {
		return mapped
	}
	return domain.StatusPending
}
