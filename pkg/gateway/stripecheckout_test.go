package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolpay/internal/domain"
)

func stripeSig(secret, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeStatusMapping(t *testing.T) {
	cases := map[string]string{
		"paid":       domain.StatusCompleted,
		"complete":   domain.StatusCompleted,
		"expired":    domain.StatusCancelled,
		"failed":     domain.StatusFailed,
		"refunded":   domain.StatusRefunded,
		"open":       domain.StatusPending,
		"processing": domain.StatusProcessing,
	}
	for provider, want := range cases {
		assert.Equal(t, want, NormalizeStatus(stripeStatusMap, provider), provider)
	}
	// Unknown provider statuses fall back to pending, never to completed.
	assert.Equal(t, domain.StatusPending, NormalizeStatus(stripeStatusMap, "some_new_status"))
}

func TestStripeCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.Equal(t, "Bearer sk_test_1", r.Header.Get("Authorization"))
		var req stripeSessionReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(1050), req.Amount)
		assert.Equal(t, "usd", req.Currency)
		assert.Equal(t, "txn_1_abc", req.Reference)
		json.NewEncoder(w).Encode(stripeSessionResp{
			ID:     "cs_test_123",
			URL:    "https://checkout.example.com/cs_test_123",
			Status: "open",
		})
	}))
	defer srv.Close()

	adapter := NewStripeCheckout(srv.URL, 5*time.Second)
	sess, err := adapter.CreateSession(context.Background(), SessionRequest{
		TransactionID: "txn_1_abc",
		Amount:        decimal.RequireFromString("10.50"),
		Currency:      "USD",
		SuccessURL:    "https://school.example.com/payments/success",
		CancelURL:     "https://school.example.com/payments/cancel",
	}, Credentials{SecretKey: "sk_test_1"})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_123", sess.GatewayTransactionID)
	assert.Equal(t, "https://checkout.example.com/cs_test_123", sess.CheckoutURL)
}

func TestStripeCreateSessionProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"message":"Your card was declined."}}`))
	}))
	defer srv.Close()

	adapter := NewStripeCheckout(srv.URL, 5*time.Second)
	_, err := adapter.CreateSession(context.Background(), SessionRequest{
		TransactionID: "txn_1",
		Amount:        decimal.NewFromInt(10),
		Currency:      "USD",
	}, Credentials{SecretKey: "sk_test_1"})
	require.Error(t, err)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusPaymentRequired, perr.StatusCode)
	assert.Equal(t, "Your card was declined.", perr.Message)
}

func TestStripeCreateSessionRequiresSecret(t *testing.T) {
	adapter := NewStripeCheckout("http://unused", 5*time.Second)
	_, err := adapter.CreateSession(context.Background(), SessionRequest{}, Credentials{})
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestStripeGetPaymentDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions/cs_test_9", r.URL.Path)
		json.NewEncoder(w).Encode(stripeSessionResp{ID: "cs_test_9", Status: "complete", PaymentStatus: "paid"})
	}))
	defer srv.Close()

	adapter := NewStripeCheckout(srv.URL, 5*time.Second)
	details, err := adapter.GetPaymentDetails(context.Background(), "cs_test_9", Credentials{SecretKey: "sk"})
	require.NoError(t, err)
	assert.True(t, details.Success)
	assert.Equal(t, domain.StatusCompleted, details.Status)

	ok, err := adapter.VerifyPayment(context.Background(), "cs_test_9", Credentials{SecretKey: "sk"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStripeProcessWebhookValidSignature(t *testing.T) {
	adapter := NewStripeCheckout("", 5*time.Second)
	payload := []byte(`{"type":"checkout.session.completed","data":{"object":{"id":"cs_1","client_reference_id":"txn_5_x","payment_status":"paid","amount_total":2500,"currency":"usd"}}}`)
	creds := Credentials{WebhookSecret: "whsec_1"}

	event, err := adapter.ProcessWebhook(creds, payload, stripeSig("whsec_1", "1700000000", payload))
	require.NoError(t, err)
	assert.Equal(t, "checkout.session.completed", event.EventType)
	assert.Equal(t, "cs_1", event.GatewayTransactionID)
	assert.Equal(t, "txn_5_x", event.TransactionID)
	assert.Equal(t, domain.StatusCompleted, event.Status)
	assert.True(t, event.Amount.Equal(decimal.RequireFromString("25")))
	assert.Equal(t, "USD", event.Currency)
}

func TestStripeProcessWebhookRejectsTamperedPayload(t *testing.T) {
	adapter := NewStripeCheckout("", 5*time.Second)
	payload := []byte(`{"type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_status":"paid"}}}`)
	sig := stripeSig("whsec_1", "1700000000", payload)

	tampered := []byte(`{"type":"checkout.session.completed","data":{"object":{"id":"cs_OTHER","payment_status":"paid"}}}`)
	_, err := adapter.ProcessWebhook(Credentials{WebhookSecret: "whsec_1"}, tampered, sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = adapter.ProcessWebhook(Credentials{WebhookSecret: "whsec_1"}, payload, "t=1700000000,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = adapter.ProcessWebhook(Credentials{WebhookSecret: "whsec_1"}, payload, "garbage")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeProcessWebhookEventTypeOverrides(t *testing.T) {
	adapter := NewStripeCheckout("", 5*time.Second)
	payload := []byte(`{"type":"checkout.session.expired","data":{"object":{"id":"cs_1","client_reference_id":"txn_1","status":"open"}}}`)
	event, err := adapter.ProcessWebhook(Credentials{}, payload, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, event.Status)
}
