package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolpay/internal/domain"
)

type staticBankDetails struct {
	details BankDetails
	err     error
}

func (s staticBankDetails) BankDetails() (BankDetails, error) {
	return s.details, s.err
}

func TestBankTransferCreateSession(t *testing.T) {
	adapter := NewBankTransfer(staticBankDetails{details: BankDetails{
		BankName:      "First National",
		AccountName:   "Greenwood School",
		AccountNumber: "0012345678",
		Branch:        "Main",
	}})

	sess, err := adapter.CreateSession(context.Background(), SessionRequest{
		TransactionID:     "txn_9_bt",
		Amount:            decimal.NewFromInt(200),
		Currency:          "USD",
		ProofOfPaymentURL: "https://files.example.com/proof.jpg",
	}, Credentials{})
	require.NoError(t, err)
	// No provider: the transaction id is the reference and there is no redirect.
	assert.Equal(t, "txn_9_bt", sess.GatewayTransactionID)
	assert.Empty(t, sess.CheckoutURL)
	assert.Equal(t, "0012345678", sess.Raw["account_number"])
	assert.Equal(t, "https://files.example.com/proof.jpg", sess.Raw["proof_of_payment"])
}

func TestBankTransferRequiresConfiguredAccount(t *testing.T) {
	adapter := NewBankTransfer(staticBankDetails{})
	_, err := adapter.CreateSession(context.Background(), SessionRequest{TransactionID: "txn_1"}, Credentials{})
	assert.Error(t, err)
	assert.Error(t, adapter.TestConnection(context.Background(), Credentials{}))

	broken := NewBankTransfer(staticBankDetails{err: errors.New("settings unavailable")})
	_, err = broken.CreateSession(context.Background(), SessionRequest{TransactionID: "txn_1"}, Credentials{})
	assert.Error(t, err)
}

func TestBankTransferNeverVerifies(t *testing.T) {
	adapter := NewBankTransfer(staticBankDetails{details: BankDetails{AccountNumber: "1"}})
	ok, err := adapter.VerifyPayment(context.Background(), "txn_1", Credentials{})
	require.NoError(t, err)
	assert.False(t, ok)

	details, err := adapter.GetPaymentDetails(context.Background(), "txn_1", Credentials{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, details.Status)
}

func TestBankTransferWebhookStatusWhitelist(t *testing.T) {
	adapter := NewBankTransfer(staticBankDetails{details: BankDetails{AccountNumber: "1"}})
	event, err := adapter.ProcessWebhook(Credentials{}, []byte(`{"transaction_id":"txn_2","status":"completed"}`), "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, event.Status)

	// A status outside the vocabulary degrades to pending.
	event, err = adapter.ProcessWebhook(Credentials{}, []byte(`{"transaction_id":"txn_2","status":"paid-ish"}`), "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, event.Status)
}
