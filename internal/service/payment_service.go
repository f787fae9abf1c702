package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"schoolpay/config"
	"schoolpay/internal/domain"
	"schoolpay/internal/models"
	"schoolpay/internal/repository"
	"schoolpay/internal/vault"
	"schoolpay/pkg/gateway"
)

// StatusNotifier pushes status changes to clients waiting on a checkout;
// the websocket hub implements it.
type StatusNotifier interface {
	NotifyStatus(transactionID, status, failureReason string)
}

// PaymentService is the orchestrator: it creates sessions with idempotency,
// verifies payments, applies state transitions and owns the expiry sweep.
type PaymentService struct {
	cfg         *config.PaymentConfig
	environment string
	registry    *gateway.Registry
	vault       *vault.Vault
	gatewayRepo *repository.GatewayRepository
	credRepo    *repository.CredentialRepository
	txnRepo     *repository.TransactionRepository
	invoices    InvoiceCollaborator
	notifier    StatusNotifier
}

func NewPaymentService(
	cfg *config.Config,
	registry *gateway.Registry,
	v *vault.Vault,
	gatewayRepo *repository.GatewayRepository,
	credRepo *repository.CredentialRepository,
	txnRepo *repository.TransactionRepository,
	invoices InvoiceCollaborator,
	notifier StatusNotifier,
) *PaymentService {
	environment := domain.EnvSandbox
	if cfg.Server.Env == "production" {
		environment = domain.EnvProduction
	}
	return &PaymentService{
		cfg:         &cfg.Payment,
		environment: environment,
		registry:    registry,
		vault:       v,
		gatewayRepo: gatewayRepo,
		credRepo:    credRepo,
		txnRepo:     txnRepo,
		invoices:    invoices,
		notifier:    notifier,
	}
}

type CreateSessionInput struct {
	GatewayID     uint
	InvoiceID     *uint
	StudentID     *uint
	ParentID      *uint
	Amount        decimal.Decimal
	Currency      string
	Description   string
	PaymentMethod string
	Customer      *gateway.CustomerInfo
}

type CreateSessionResult struct {
	TransactionID string                 `json:"transaction_id"`
	SessionToken  string                 `json:"session_token"`
	AuthToken     string                 `json:"auth_token,omitempty"`
	CheckoutURL   string                 `json:"checkout_url"`
	Status        string                 `json:"status"`
	Amount        decimal.Decimal        `json:"amount"`
	ProcessingFee decimal.Decimal        `json:"processing_fee"`
	TotalAmount   decimal.Decimal        `json:"total_amount"`
	GatewayData   map[string]interface{} `json:"gateway_data,omitempty"`
}

// CreateSession validates the request, reuses an existing pending
// transaction for the same intent if one exists, and otherwise creates one
// before delegating to the gateway adapter. An adapter failure leaves the
// row pending so an idempotent retry can pick it up.
func (s *PaymentService) CreateSession(ctx context.Context, in CreateSessionInput) (*CreateSessionResult, error) {
	gw, err := s.gatewayRepo.GetByID(in.GatewayID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGatewayNotFound
		}
		return nil, err
	}
	if !gw.IsActive {
		return nil, ErrGatewayInactive
	}
	if err := s.validateAmount(gw, in.Amount, in.Currency); err != nil {
		return nil, err
	}
	if in.InvoiceID == nil && in.StudentID == nil && in.ParentID == nil {
		return nil, ErrMissingTarget
	}
	adapter, err := s.registry.Resolve(gw.Name)
	if err != nil {
		return nil, ErrGatewayNotFound
	}
	creds, err := s.ActiveCredentials(gw.ID)
	if err != nil {
		return nil, err
	}

	txn, err := s.findOrCreateTransaction(gw, in)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	session, err := adapter.CreateSession(callCtx, gateway.SessionRequest{
		TransactionID:     txn.TransactionID,
		Amount:            txn.Amount,
		Currency:          txn.Currency,
		Description:       in.Description,
		SuccessURL:        s.cfg.BaseURL + "/payments/success",
		CancelURL:         s.cfg.BaseURL + "/payments/cancel",
		WebhookURL:        s.cfg.BaseURL + "/api/v1/webhooks/" + gw.Name,
		Customer:          in.Customer,
		ProofOfPaymentURL: txn.ProofOfPayment,
	}, creds)
	if err != nil {
		log.Printf("[Payment] session creation failed gateway=%s txn=%s: %v", gw.Name, txn.TransactionID, err)
		msg := "provider rejected the session request"
		var perr *gateway.ProviderError
		if errors.As(err, &perr) {
			msg = perr.Message
		}
		return nil, &SessionCreationError{Provider: gw.Name, Message: msg, Err: err}
	}

	txn.GatewayTransactionID = session.GatewayTransactionID
	txn.RedirectURL = session.CheckoutURL
	if raw, err := json.Marshal(session.Raw); err == nil && len(session.Raw) > 0 {
		txn.GatewayResponse = datatypes.JSON(raw)
	}
	if err := s.txnRepo.Update(txn); err != nil {
		return nil, err
	}
	log.Printf("[Payment] session created gateway=%s txn=%s provider_ref=%s", gw.Name, txn.TransactionID, session.GatewayTransactionID)

	fee := s.CalculateProcessingFee(gw, txn.Amount)
	return &CreateSessionResult{
		TransactionID: txn.TransactionID,
		SessionToken:  session.SessionToken,
		AuthToken:     session.AuthToken,
		CheckoutURL:   session.CheckoutURL,
		Status:        txn.Status,
		Amount:        txn.Amount,
		ProcessingFee: fee,
		TotalAmount:   txn.Amount.Add(fee),
		GatewayData:   session.Raw,
	}, nil
}

// findOrCreateTransaction implements the idempotency contract: one
// non-terminal transaction per intent key. The unique index on intent_key
// resolves the race between two concurrent creates; the loser re-fetches
// the winner's row.
func (s *PaymentService) findOrCreateTransaction(gw *models.PaymentGateway, in CreateSessionInput) (*models.PaymentTransaction, error) {
	key := models.BuildIntentKey(gw.ID, in.Amount, in.Currency, in.InvoiceID, in.StudentID, in.ParentID)

	existing, err := s.txnRepo.FindByIntentKey(key)
	if err == nil {
		return s.reuseOrReject(existing)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	txn := &models.PaymentTransaction{
		TransactionID: models.NewTransactionID(),
		GatewayID:     gw.ID,
		InvoiceID:     in.InvoiceID,
		StudentID:     in.StudentID,
		ParentID:      in.ParentID,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Status:        domain.StatusPending,
		PaymentMethod: in.PaymentMethod,
		IntentKey:     key,
		CallbackURL:   s.cfg.BaseURL + "/api/v1/webhooks/" + gw.Name,
	}
	if err := s.txnRepo.Create(txn); err != nil {
		if errors.Is(err, repository.ErrIntentConflict) {
			winner, ferr := s.txnRepo.FindByIntentKey(key)
			if ferr != nil {
				return nil, ferr
			}
			return s.reuseOrReject(winner)
		}
		return nil, err
	}
	return txn, nil
}

func (s *PaymentService) reuseOrReject(txn *models.PaymentTransaction) (*models.PaymentTransaction, error) {
	if txn.Status == domain.StatusPending {
		log.Printf("[Payment] reusing pending transaction %s for repeated intent", txn.TransactionID)
		return txn, nil
	}
	return nil, fmt.Errorf("%w (transaction %s is %s)", ErrPaymentExists, txn.TransactionID, txn.Status)
}

func (s *PaymentService) validateAmount(gw *models.PaymentGateway, amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return ErrAmountOutOfBounds
	}
	if gw.MinAmount != nil && amount.LessThan(*gw.MinAmount) {
		return ErrAmountOutOfBounds
	}
	if gw.MaxAmount != nil && amount.GreaterThan(*gw.MaxAmount) {
		return ErrAmountOutOfBounds
	}
	if !gw.SupportsCurrency(currency) {
		return ErrUnsupportedCurrency
	}
	return nil
}

// ActiveCredentials loads and decrypts the live credential set for a
// gateway. Any decryption failure degrades to "credentials unavailable"
// rather than crashing the request.
func (s *PaymentService) ActiveCredentials(gatewayID uint) (gateway.Credentials, error) {
	record, err := s.credRepo.GetActive(gatewayID, s.environment)
	if err != nil {
		return gateway.Credentials{}, ErrCredentialsNotFound
	}
	plain := make([]string, 3)
	for i, enc := range []string{record.APIKey, record.SecretKey, record.WebhookSecret} {
		if enc == "" {
			continue
		}
		value, err := s.vault.Decrypt(enc)
		if err != nil {
			log.Printf("[Payment] credentials for gateway %d unusable: %v", gatewayID, err)
			return gateway.Credentials{}, ErrCredentialsNotFound
		}
		plain[i] = value
	}
	var extra map[string]interface{}
	if len(record.AdditionalConfig) > 0 {
		_ = json.Unmarshal(record.AdditionalConfig, &extra)
	}
	return gateway.Credentials{
		ID:               record.ID,
		Environment:      record.Environment,
		APIKey:           plain[0],
		SecretKey:        plain[1],
		WebhookSecret:    plain[2],
		AdditionalConfig: extra,
	}, nil
}

type VerifyResult struct {
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Message       string          `json:"message,omitempty"`
}

// VerifyPayment is the client-triggered status check. Webhooks are the
// primary path; both converge on ApplyStatus, so racing them is safe.
func (s *PaymentService) VerifyPayment(ctx context.Context, transactionID string) (*VerifyResult, error) {
	txn, err := s.txnRepo.GetByTransactionID(transactionID)
	if err != nil {
		return nil, ErrTransactionNotFound
	}
	gw, err := s.gatewayRepo.GetByID(txn.GatewayID)
	if err != nil {
		return nil, ErrGatewayNotFound
	}
	adapter, err := s.registry.Resolve(gw.Name)
	if err != nil {
		return nil, ErrGatewayNotFound
	}
	creds, err := s.ActiveCredentials(gw.ID)
	if err != nil {
		return nil, err
	}
	reference := txn.GatewayTransactionID
	if reference == "" {
		reference = txn.TransactionID
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	details, err := adapter.GetPaymentDetails(callCtx, reference, creds)
	if err != nil {
		log.Printf("[Payment] verification failed txn=%s: %v", transactionID, err)
		return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, gw.Name)
	}
	if _, err := s.ApplyStatus(txn.TransactionID, details.Status, details.Message, nil); err != nil {
		return nil, err
	}
	current, err := s.txnRepo.GetByTransactionID(transactionID)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		TransactionID: current.TransactionID,
		Status:        current.Status,
		Amount:        current.Amount,
		Currency:      current.Currency,
		Message:       details.Message,
	}, nil
}

// ApplyStatus is the single state-transition function shared by webhooks,
// verification and the sweeper. Illegal or duplicate transitions are safe
// no-ops; side effects fire only for the writer that wins the terminal
// transition.
func (s *PaymentService) ApplyStatus(transactionID, target, failureReason string, webhookData []byte) (bool, error) {
	txn, err := s.txnRepo.GetByTransactionID(transactionID)
	if err != nil {
		return false, ErrTransactionNotFound
	}
	if txn.Status == target {
		return false, nil
	}
	if !domain.CanTransition(txn.Status, target) {
		log.Printf("[Payment] anomaly: rejected transition %s -> %s for %s", txn.Status, target, transactionID)
		return false, nil
	}
	extra := map[string]interface{}{}
	if failureReason != "" && (target == domain.StatusFailed || target == domain.StatusCancelled) {
		extra["failure_reason"] = failureReason
	}
	if len(webhookData) > 0 {
		extra["webhook_data"] = datatypes.JSON(webhookData)
	}
	changed, err := s.txnRepo.UpdateStatusIf(transactionID, []string{txn.Status}, target, extra)
	if err != nil || !changed {
		return false, err
	}
	log.Printf("[Payment] %s: %s -> %s", transactionID, txn.Status, target)
	s.fireSideEffects(transactionID, target, failureReason)
	return true, nil
}

func (s *PaymentService) fireSideEffects(transactionID, target, failureReason string) {
	if s.notifier != nil && domain.IsTerminal(target) {
		s.notifier.NotifyStatus(transactionID, target, failureReason)
	}
	if s.invoices == nil {
		return
	}
	switch target {
	case domain.StatusCompleted:
		if err := s.invoices.ProcessPaymentSuccess(transactionID); err != nil {
			log.Printf("[Payment] invoice success side effect failed for %s: %v", transactionID, err)
		}
	case domain.StatusFailed:
		if err := s.invoices.ProcessPaymentFailure(transactionID, failureReason); err != nil {
			log.Printf("[Payment] invoice failure side effect failed for %s: %v", transactionID, err)
		}
	}
}

// AttachProofOfPayment stores the uploaded proof file reference on a
// pending bank transfer transaction.
func (s *PaymentService) AttachProofOfPayment(transactionID, fileURL string) error {
	txn, err := s.txnRepo.GetByTransactionID(transactionID)
	if err != nil {
		return ErrTransactionNotFound
	}
	gw, err := s.gatewayRepo.GetByID(txn.GatewayID)
	if err != nil {
		return ErrGatewayNotFound
	}
	if gw.Name != "bank-transfer" {
		return ErrNotBankTransfer
	}
	txn.ProofOfPayment = fileURL
	return s.txnRepo.Update(txn)
}

// ConfirmBankTransfer is the administrator's manual decision on a bank
// transfer transaction.
func (s *PaymentService) ConfirmBankTransfer(transactionID string, approve bool, reason string) error {
	target := domain.StatusCompleted
	if !approve {
		target = domain.StatusFailed
		if reason == "" {
			reason = "rejected by administrator"
		}
	}
	changed, err := s.ApplyStatus(transactionID, target, reason, nil)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w: transaction is not awaiting confirmation", ErrVerificationFailed)
	}
	return nil
}

// Refund transitions a completed transaction to refunded; partial refunds
// are not modeled.
func (s *PaymentService) Refund(transactionID, reason string) error {
	txn, err := s.txnRepo.GetByTransactionID(transactionID)
	if err != nil {
		return ErrTransactionNotFound
	}
	if txn.Status != domain.StatusCompleted {
		return ErrNotRefundable
	}
	changed, err := s.ApplyStatus(transactionID, domain.StatusRefunded, reason, nil)
	if err != nil {
		return err
	}
	if !changed {
		return ErrNotRefundable
	}
	return nil
}

// CalculateProcessingFee is pure: percentage of amount, or the flat fee.
func (s *PaymentService) CalculateProcessingFee(gw *models.PaymentGateway, amount decimal.Decimal) decimal.Decimal {
	if gw.ProcessingFeeType == domain.FeeTypeFixed {
		return gw.ProcessingFee
	}
	return amount.Mul(gw.ProcessingFee).Div(decimal.NewFromInt(100)).Round(2)
}

// TotalWithFee returns amount plus its processing fee.
func (s *PaymentService) TotalWithFee(gw *models.PaymentGateway, amount decimal.Decimal) decimal.Decimal {
	return amount.Add(s.CalculateProcessingFee(gw, amount))
}

// CleanupExpiredPending cancels pending transactions older than the
// configured expiry. Safe to run concurrently: the conditional update
// skips rows another writer already moved.
func (s *PaymentService) CleanupExpiredPending() (int, error) {
	cutoff := time.Now().Add(-s.cfg.PendingExpiry)
	expired, err := s.txnRepo.ListExpiredPending(cutoff)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, txn := range expired {
		changed, err := s.ApplyStatus(txn.TransactionID, domain.StatusCancelled, "expired after "+s.cfg.PendingExpiry.String(), nil)
		if err != nil {
			log.Printf("[Sweeper] cleanup of %s failed: %v", txn.TransactionID, err)
			continue
		}
		if changed {
			cancelled++
		}
	}
	if cancelled > 0 {
		log.Printf("[Sweeper] cancelled %d expired pending transactions", cancelled)
	}
	return cancelled, nil
}

// History lists transactions for clients and admins.
func (s *PaymentService) History(f repository.TransactionFilter) ([]models.PaymentTransaction, int64, error) {
	return s.txnRepo.List(f)
}

// Analytics returns per-status counts and totals, optionally per gateway.
func (s *PaymentService) Analytics(gatewayID uint) ([]repository.StatusAggregate, error) {
	return s.txnRepo.AggregateByStatus(gatewayID)
}

// GetTransaction loads one transaction by its caller-visible id.
func (s *PaymentService) GetTransaction(transactionID string) (*models.PaymentTransaction, error) {
	txn, err := s.txnRepo.GetByTransactionID(transactionID)
	if err != nil {
		return nil, ErrTransactionNotFound
	}
	return txn, nil
}

// TestGatewayConnection exercises the adapter's connectivity check with the
// live credentials; it never touches transaction data.
func (s *PaymentService) TestGatewayConnection(ctx context.Context, gatewayID uint) error {
	gw, err := s.gatewayRepo.GetByID(gatewayID)
	if err != nil {
		return ErrGatewayNotFound
	}
	adapter, err := s.registry.Resolve(gw.Name)
	if err != nil {
		return ErrGatewayNotFound
	}
	creds, err := s.ActiveCredentials(gw.ID)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	if err := adapter.TestConnection(callCtx, creds); err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	return nil
}
