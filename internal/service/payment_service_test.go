package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"schoolpay/config"
	"schoolpay/internal/database"
	"schoolpay/internal/domain"
	"schoolpay/internal/models"
	"schoolpay/internal/repository"
	"schoolpay/internal/vault"
	"schoolpay/pkg/gateway"
)

// fakeAdapter lets each test script the provider side.
type fakeAdapter struct {
	name          string
	createSession func(gateway.SessionRequest) (*gateway.Session, error)
	details       func(reference string) (*gateway.PaymentDetails, error)
	webhook       func(creds gateway.Credentials, payload []byte, signature string) (*gateway.WebhookEvent, error)
	createCalls   int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) CreateSession(_ context.Context, req gateway.SessionRequest, _ gateway.Credentials) (*gateway.Session, error) {
	f.createCalls++
	if f.createSession != nil {
		return f.createSession(req)
	}
	return &gateway.Session{
		GatewayTransactionID: "prov_" + req.TransactionID,
		CheckoutURL:          "https://pay.example.com/" + req.TransactionID,
		SessionToken:         "sess_token",
	}, nil
}

func (f *fakeAdapter) VerifyPayment(_ context.Context, _ string, _ gateway.Credentials) (bool, error) {
	return false, nil
}

func (f *fakeAdapter) GetPaymentDetails(_ context.Context, reference string, _ gateway.Credentials) (*gateway.PaymentDetails, error) {
	if f.details != nil {
		return f.details(reference)
	}
	return &gateway.PaymentDetails{Status: domain.StatusPending}, nil
}

func (f *fakeAdapter) TestConnection(_ context.Context, _ gateway.Credentials) error { return nil }

func (f *fakeAdapter) ProcessWebhook(creds gateway.Credentials, payload []byte, signature string) (*gateway.WebhookEvent, error) {
	if f.webhook != nil {
		return f.webhook(creds, payload, signature)
	}
	return nil, errors.New("not scripted")
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) NotifyStatus(transactionID, status, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, transactionID+":"+status)
}

type paymentFixture struct {
	db       *gorm.DB
	svc      *PaymentService
	adapter  *fakeAdapter
	notifier *recordingNotifier
	gw       *models.PaymentGateway
	txnRepo  *repository.TransactionRepository
	invRepo  *repository.InvoiceRepository
	credRepo *repository.CredentialRepository
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	db, err := database.NewTestDB()
	require.NoError(t, err)
	return newPaymentFixtureOn(t, db)
}

func newPaymentFixtureOn(t *testing.T, db *gorm.DB) *paymentFixture {
	t.Helper()

	v, err := vault.New("test-master-secret", "test-salt")
	require.NoError(t, err)

	adapter := &fakeAdapter{name: "stripe"}
	registry := gateway.NewRegistry(adapter)

	gatewayRepo := repository.NewGatewayRepository(db)
	credRepo := repository.NewCredentialRepository(db)
	txnRepo := repository.NewTransactionRepository(db)
	invRepo := repository.NewInvoiceRepository(db)

	min := decimal.NewFromInt(1)
	max := decimal.NewFromInt(100000)
	gw := &models.PaymentGateway{
		Name:              "stripe",
		DisplayName:       "Stripe",
		IsActive:          true,
		MinAmount:         &min,
		MaxAmount:         &max,
		ProcessingFee:     decimal.NewFromFloat(2.5),
		ProcessingFeeType: domain.FeeTypePercentage,
	}
	require.NoError(t, gatewayRepo.Create(gw))

	apiKey, err := v.Encrypt("pk_test_123")
	require.NoError(t, err)
	secretKey, err := v.Encrypt("sk_test_456")
	require.NoError(t, err)
	require.NoError(t, credRepo.Create(&models.PaymentGatewayCredential{
		GatewayID:   gw.ID,
		Environment: domain.EnvSandbox,
		APIKey:      apiKey,
		SecretKey:   secretKey,
		IsActive:    true,
	}))

	cfg := &config.Config{
		Server: config.ServerConfig{Env: "test"},
		Payment: config.PaymentConfig{
			BaseURL:         "https://school.example.com",
			PendingExpiry:   30 * time.Minute,
			ProviderTimeout: 5 * time.Second,
		},
	}
	notifier := &recordingNotifier{}
	invoices := NewInvoiceService(invRepo, txnRepo)
	svc := NewPaymentService(cfg, registry, v, gatewayRepo, credRepo, txnRepo, invoices, notifier)
	return &paymentFixture{
		db:       db,
		svc:      svc,
		adapter:  adapter,
		notifier: notifier,
		gw:       gw,
		txnRepo:  txnRepo,
		invRepo:  invRepo,
		credRepo: credRepo,
	}
}

func uintPtr(v uint) *uint { return &v }

func TestCreateSessionHappyPath(t *testing.T) {
	f := newPaymentFixture(t)

	res, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		GatewayID: f.gw.ID,
		StudentID: uintPtr(7),
		Amount:    decimal.NewFromInt(200),
		Currency:  "USD",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TransactionID)
	assert.Equal(t, "https://pay.example.com/"+res.TransactionID, res.CheckoutURL)
	assert.Equal(t, domain.StatusPending, res.Status)
	assert.True(t, res.ProcessingFee.Equal(decimal.NewFromInt(5)), "2.5%% of 200, got %s", res.ProcessingFee)
	assert.True(t, res.TotalAmount.Equal(decimal.NewFromInt(205)))

	stored, err := f.txnRepo.GetByTransactionID(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "prov_"+res.TransactionID, stored.GatewayTransactionID)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestCreateSessionValidation(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSession(ctx, CreateSessionInput{GatewayID: 999, StudentID: uintPtr(1), Amount: decimal.NewFromInt(10), Currency: "USD"})
	assert.ErrorIs(t, err, ErrGatewayNotFound)

	_, err = f.svc.CreateSession(ctx, CreateSessionInput{GatewayID: f.gw.ID, StudentID: uintPtr(1), Amount: decimal.Zero, Currency: "USD"})
	assert.ErrorIs(t, err, ErrAmountOutOfBounds)

	_, err = f.svc.CreateSession(ctx, CreateSessionInput{GatewayID: f.gw.ID, StudentID: uintPtr(1), Amount: decimal.NewFromInt(1000000), Currency: "USD"})
	assert.ErrorIs(t, err, ErrAmountOutOfBounds)

	_, err = f.svc.CreateSession(ctx, CreateSessionInput{GatewayID: f.gw.ID, Amount: decimal.NewFromInt(10), Currency: "USD"})
	assert.ErrorIs(t, err, ErrMissingTarget)

	f.gw.IsActive = false
	require.NoError(t, f.svc.gatewayRepo.Update(f.gw))
	_, err = f.svc.CreateSession(ctx, CreateSessionInput{GatewayID: f.gw.ID, StudentID: uintPtr(1), Amount: decimal.NewFromInt(10), Currency: "USD"})
	assert.ErrorIs(t, err, ErrGatewayInactive)
}

func TestCreateSessionCurrencyAndMinimum(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	min := decimal.NewFromInt(5)
	currencies, _ := json.Marshal([]string{"USD"})
	usdOnly := &models.PaymentGateway{
		Name:                "usd-card",
		DisplayName:         "USD Card",
		IsActive:            true,
		MinAmount:           &min,
		SupportedCurrencies: datatypes.JSON(currencies),
	}
	require.NoError(t, f.svc.gatewayRepo.Create(usdOnly))
	f.svc.registry.Register(&fakeAdapter{name: "usd-card"})
	enc, err := f.svc.vault.Encrypt("sk")
	require.NoError(t, err)
	require.NoError(t, f.credRepo.Create(&models.PaymentGatewayCredential{
		GatewayID: usdOnly.ID, Environment: domain.EnvSandbox, APIKey: enc, SecretKey: enc, IsActive: true,
	}))

	_, err = f.svc.CreateSession(ctx, CreateSessionInput{
		GatewayID: usdOnly.ID, StudentID: uintPtr(1), Amount: decimal.NewFromInt(3), Currency: "USD",
	})
	assert.ErrorIs(t, err, ErrAmountOutOfBounds)

	_, err = f.svc.CreateSession(ctx, CreateSessionInput{
		GatewayID: usdOnly.ID, StudentID: uintPtr(1), Amount: decimal.NewFromInt(10), Currency: "EUR",
	})
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)

	res, err := f.svc.CreateSession(ctx, CreateSessionInput{
		GatewayID: usdOnly.ID, StudentID: uintPtr(1), Amount: decimal.NewFromInt(10), Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Status)
}

func TestCreateSessionRepeatedIntentReusesPending(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	in := CreateSessionInput{
		GatewayID: f.gw.ID,
		InvoiceID: uintPtr(42),
		StudentID: uintPtr(7),
		Amount:    decimal.NewFromInt(150),
		Currency:  "USD",
	}

	first, err := f.svc.CreateSession(ctx, in)
	require.NoError(t, err)
	second, err := f.svc.CreateSession(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, 2, f.adapter.createCalls, "adapter is re-asked so the client gets a fresh checkout URL")

	var count int64
	_, total, err := f.txnRepo.List(repository.TransactionFilter{})
	require.NoError(t, err)
	count = total
	assert.EqualValues(t, 1, count)
}

// TestCreateSessionLostRaceAdoptsWinner drives the loser branch of two
// concurrent creates for the same intent. A create callback slips a competing
// row in just before the real insert, so the insert hits the intent_key unique
// index and the caller must re-fetch and adopt the winner's transaction.
func TestCreateSessionLostRaceAdoptsWinner(t *testing.T) {
	// A dedicated connection setup keeps the injected row visible to the
	// losing insert: default transactions would roll it back, and a second
	// pooled sqlite :memory: connection would see a different database.
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		TranslateError:         true,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	f := newPaymentFixtureOn(t, db)
	ctx := context.Background()
	in := CreateSessionInput{
		GatewayID: f.gw.ID,
		InvoiceID: uintPtr(42),
		Amount:    decimal.NewFromInt(150),
		Currency:  "USD",
	}
	key := models.BuildIntentKey(f.gw.ID, in.Amount, in.Currency, in.InvoiceID, nil, nil)

	injected := false
	err = db.Callback().Create().Before("gorm:create").Register("competing_insert", func(tx *gorm.DB) {
		if injected || tx.Statement.Schema == nil || tx.Statement.Schema.Table != "payment_transactions" {
			return
		}
		injected = true
		now := time.Now()
		res := tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO payment_transactions (transaction_id, gateway_id, amount, currency, status, intent_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			"txn_winner", f.gw.ID, "150", "USD", domain.StatusPending, key, now, now,
		)
		require.NoError(t, res.Error)
	})
	require.NoError(t, err)
	defer db.Callback().Create().Remove("competing_insert")

	res, err := f.svc.CreateSession(ctx, in)
	require.NoError(t, err)
	assert.True(t, injected, "competing insert should have fired")
	assert.Equal(t, "txn_winner", res.TransactionID, "loser adopts the winning row")

	_, total, err := f.txnRepo.List(repository.TransactionFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total, "both creates collapse into one row")
}

func TestCreateSessionCompletedIntentRejected(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	in := CreateSessionInput{
		GatewayID: f.gw.ID,
		InvoiceID: uintPtr(42),
		Amount:    decimal.NewFromInt(150),
		Currency:  "USD",
	}

	first, err := f.svc.CreateSession(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.ApplyStatus(first.TransactionID, domain.StatusProcessing, "", nil)
	require.NoError(t, err)
	_, err = f.svc.ApplyStatus(first.TransactionID, domain.StatusCompleted, "", nil)
	require.NoError(t, err)

	_, err = f.svc.CreateSession(ctx, in)
	assert.ErrorIs(t, err, ErrPaymentExists)
}

func TestCreateSessionProviderFailureKeepsPendingRow(t *testing.T) {
	f := newPaymentFixture(t)
	f.adapter.createSession = func(gateway.SessionRequest) (*gateway.Session, error) {
		return nil, &gateway.ProviderError{Provider: "stripe", StatusCode: 402, Message: "Your card was declined."}
	}
	in := CreateSessionInput{GatewayID: f.gw.ID, StudentID: uintPtr(3), Amount: decimal.NewFromInt(50), Currency: "USD"}

	_, err := f.svc.CreateSession(context.Background(), in)
	var sErr *SessionCreationError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, "stripe", sErr.Provider)
	assert.Equal(t, "Your card was declined.", sErr.Message)

	// The pending row survives; a retry after the provider recovers reuses it.
	f.adapter.createSession = nil
	res, err := f.svc.CreateSession(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Status)
}

func TestApplyStatusTransitions(t *testing.T) {
	f := newPaymentFixture(t)
	res, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		GatewayID: f.gw.ID, StudentID: uintPtr(1), Amount: decimal.NewFromInt(10), Currency: "USD",
	})
	require.NoError(t, err)
	id := res.TransactionID

	changed, err := f.svc.ApplyStatus(id, domain.StatusProcessing, "", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	// Duplicate delivery collapses to a no-op.
	changed, err = f.svc.ApplyStatus(id, domain.StatusProcessing, "", nil)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = f.svc.ApplyStatus(id, domain.StatusCompleted, "", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	// Late failure webhook must not downgrade the completed state.
	changed, err = f.svc.ApplyStatus(id, domain.StatusFailed, "late delivery", nil)
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err := f.txnRepo.GetByTransactionID(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Empty(t, stored.FailureReason)
	assert.Contains(t, f.notifier.events, id+":"+domain.StatusCompleted)
}

func TestApplyStatusFailureRecordsReason(t *testing.T) {
	f := newPaymentFixture(t)
	res, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		GatewayID: f.gw.ID, StudentID: uintPtr(1), Amount: decimal.NewFromInt(10), Currency: "USD",
	})
	require.NoError(t, err)

	changed, err := f.svc.ApplyStatus(res.TransactionID, domain.StatusFailed, "insufficient funds", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	stored, err := f.txnRepo.GetByTransactionID(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "insufficient funds", stored.FailureReason)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestCompletedPaymentMarksInvoicePaid(t *testing.T) {
	f := newPaymentFixture(t)
	inv := &models.Invoice{StudentID: 7, Amount: decimal.NewFromInt(300), Status: domain.InvoiceStatusUnpaid}
	require.NoError(t, f.invRepo.Create(inv))

	res, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		GatewayID: f.gw.ID, InvoiceID: &inv.ID, Amount: decimal.NewFromInt(300), Currency: "USD",
	})
	require.NoError(t, err)
	_, err = f.svc.ApplyStatus(res.TransactionID, domain.StatusCompleted, "", nil)
	require.NoError(t, err)

	updated, err := f.invRepo.GetByID(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, updated.Status)
	assert.Equal(t, res.TransactionID, updated.TransactionID)
	assert.NotNil(t, updated.PaidAt)
}

func TestRefund(t *testing.T) {
	f := newPaymentFixture(t)
	res, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		GatewayID: f.gw.ID, StudentID: uintPtr(1), Amount: decimal.NewFromInt(80), Currency: "USD",
	})
	require.NoError(t, err)

	err = f.svc.Refund(res.TransactionID, "duplicate charge")
	assert.ErrorIs(t, err, ErrNotRefundable)

	_, err = f.svc.ApplyStatus(res.TransactionID, domain.StatusCompleted, "", nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.Refund(res.TransactionID, "duplicate charge"))

	stored, err := f.txnRepo.GetByTransactionID(res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, stored.Status)

	err = f.svc.Refund(res.TransactionID, "again")
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestCleanupExpiredPending(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	old, err := f.svc.CreateSession(ctx, CreateSessionInput{
		GatewayID: f.gw.ID, StudentID: uintPtr(1), Amount: decimal.NewFromInt(10), Currency: "USD",
	})
	require.NoError(t, err)
	fresh, err := f.svc.CreateSession(ctx, CreateSessionInput{
		GatewayID: f.gw.ID, StudentID: uintPtr(2), Amount: decimal.NewFromInt(20), Currency: "USD",
	})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.PaymentTransaction{}).
		Where("transaction_id = ?", old.TransactionID).
		Update("created_at", time.Now().Add(-45*time.Minute)).Error)

	cancelled, err := f.svc.CleanupExpiredPending()
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	oldTxn, err := f.txnRepo.GetByTransactionID(old.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, oldTxn.Status)
	assert.Contains(t, oldTxn.FailureReason, "expired")

	freshTxn, err := f.txnRepo.GetByTransactionID(fresh.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, freshTxn.Status)

	// A second sweep finds nothing.
	cancelled, err = f.svc.CleanupExpiredPending()
	require.NoError(t, err)
	assert.Equal(t, 0, cancelled)
}

func TestProcessingFeeCalculation(t *testing.T) {
	f := newPaymentFixture(t)

	pct := &models.PaymentGateway{ProcessingFee: decimal.NewFromFloat(2.5), ProcessingFeeType: domain.FeeTypePercentage}
	fee := f.svc.CalculateProcessingFee(pct, decimal.NewFromInt(1000))
	assert.True(t, fee.Equal(decimal.NewFromInt(25)), "got %s", fee)

	fixed := &models.PaymentGateway{ProcessingFee: decimal.NewFromInt(3), ProcessingFeeType: domain.FeeTypeFixed}
	fee = f.svc.CalculateProcessingFee(fixed, decimal.NewFromInt(1000))
	assert.True(t, fee.Equal(decimal.NewFromInt(3)))
	assert.True(t, f.svc.TotalWithFee(fixed, decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(1003)))
}

func TestVerifyPaymentAppliesProviderStatus(t *testing.T) {
	f := newPaymentFixture(t)
	res, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		GatewayID: f.gw.ID, StudentID: uintPtr(1), Amount: decimal.NewFromInt(10), Currency: "USD",
	})
	require.NoError(t, err)

	f.adapter.details = func(reference string) (*gateway.PaymentDetails, error) {
		assert.Equal(t, "prov_"+res.TransactionID, reference)
		return &gateway.PaymentDetails{Success: true, Status: domain.StatusCompleted}, nil
	}
	out, err := f.svc.VerifyPayment(context.Background(), res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, out.Status)

	// Verification after a terminal state never downgrades.
	f.adapter.details = func(string) (*gateway.PaymentDetails, error) {
		return &gateway.PaymentDetails{Status: domain.StatusFailed, Message: "stale cache"}, nil
	}
	out, err = f.svc.VerifyPayment(context.Background(), res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, out.Status)
}

func TestCredentialDecryptionFailureDegrades(t *testing.T) {
	f := newPaymentFixture(t)

	// Write a credential set encrypted under a different master secret.
	other, err := vault.New("someone-elses-secret", "other-salt")
	require.NoError(t, err)
	enc, err := other.Encrypt("sk_foreign")
	require.NoError(t, err)
	require.NoError(t, f.credRepo.Create(&models.PaymentGatewayCredential{
		GatewayID:   f.gw.ID,
		Environment: domain.EnvSandbox,
		APIKey:      enc,
		SecretKey:   enc,
		IsActive:    true,
	}))

	_, err = f.svc.CreateSession(context.Background(), CreateSessionInput{
		GatewayID: f.gw.ID, StudentID: uintPtr(1), Amount: decimal.NewFromInt(10), Currency: "USD",
	})
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
}
