package service

import (
	"encoding/json"
	"log"

	"gorm.io/datatypes"

	"schoolpay/internal/models"
	"schoolpay/internal/repository"
	"schoolpay/pkg/gateway"
)

// WebhookResult is what the webhook endpoint returns to the provider. The
// HTTP layer always answers 200; Success=false only signals that nothing
// was applied.
type WebhookResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WebhookService verifies and applies gateway callbacks. Signature
// verification happens before any state is touched, every delivery is
// logged, and duplicate or out-of-order deliveries collapse into no-ops
// inside ApplyStatus.
type WebhookService struct {
	registry    *gateway.Registry
	gatewayRepo *repository.GatewayRepository
	txnRepo     *repository.TransactionRepository
	logRepo     *repository.WebhookLogRepository
	payments    *PaymentService
}

func NewWebhookService(
	registry *gateway.Registry,
	gatewayRepo *repository.GatewayRepository,
	txnRepo *repository.TransactionRepository,
	logRepo *repository.WebhookLogRepository,
	payments *PaymentService,
) *WebhookService {
	return &WebhookService{
		registry:    registry,
		gatewayRepo: gatewayRepo,
		txnRepo:     txnRepo,
		logRepo:     logRepo,
		payments:    payments,
	}
}

// Process handles one raw webhook delivery for the named gateway.
func (s *WebhookService) Process(gatewayName, remoteIP string, payload []byte, signature string) *WebhookResult {
	entry := &models.WebhookLog{
		Gateway: gatewayName,
		IP:      remoteIP,
		Payload: datatypes.JSON(payload),
	}
	defer s.record(entry)

	gw, err := s.gatewayRepo.GetByName(gatewayName)
	if err != nil {
		entry.Note = "unknown gateway"
		log.Printf("[Webhook] delivery for unknown gateway %q from %s", gatewayName, remoteIP)
		return &WebhookResult{Success: false, Message: "unknown gateway"}
	}
	entry.GatewayID = gw.ID
	adapter, err := s.registry.Resolve(gw.Name)
	if err != nil {
		entry.Note = "no adapter registered"
		return &WebhookResult{Success: false, Message: "gateway not supported"}
	}
	creds, err := s.payments.ActiveCredentials(gw.ID)
	if err != nil {
		entry.Note = "credentials unavailable"
		log.Printf("[Webhook] %s: credentials unavailable, delivery logged only", gw.Name)
		return &WebhookResult{Success: false, Message: "credentials unavailable"}
	}

	event, err := adapter.ProcessWebhook(creds, payload, signature)
	if err != nil {
		entry.Note = err.Error()
		log.Printf("[Webhook] %s: rejected delivery from %s: %v", gw.Name, remoteIP, err)
		return &WebhookResult{Success: false, Message: "verification failed"}
	}
	entry.Verified = creds.WebhookSecret != ""
	entry.EventType = event.EventType
	if !entry.Verified {
		entry.Note = "no webhook secret configured"
		log.Printf("[Webhook] %s: unverified delivery accepted, no secret configured", gw.Name)
	}

	txn := s.resolveTransaction(event)
	if txn == nil {
		entry.Note = "no matching transaction"
		log.Printf("[Webhook] %s: no transaction matches reference %q / %q",
			gw.Name, event.GatewayTransactionID, event.TransactionID)
		return &WebhookResult{Success: true, Message: "acknowledged"}
	}
	entry.Reference = txn.TransactionID

	if txn.GatewayTransactionID == "" && event.GatewayTransactionID != "" {
		txn.GatewayTransactionID = event.GatewayTransactionID
		if err := s.txnRepo.Update(txn); err != nil {
			log.Printf("[Webhook] %s: failed to backfill provider reference on %s: %v", gw.Name, txn.TransactionID, err)
		}
	}

	var webhookData []byte
	if len(event.Raw) > 0 {
		webhookData, _ = json.Marshal(event.Raw)
	}
	changed, err := s.payments.ApplyStatus(txn.TransactionID, event.Status, event.FailureReason, webhookData)
	if err != nil {
		entry.Note = "transition failed: " + err.Error()
		return &WebhookResult{Success: false, Message: "processing failed"}
	}
	entry.Processed = changed
	if !changed {
		return &WebhookResult{Success: true, Message: "already processed"}
	}
	return &WebhookResult{Success: true, Message: "processed"}
}

// resolveTransaction tries the provider's reference first, then our own
// transaction id which adapters echo back in metadata.
func (s *WebhookService) resolveTransaction(event *gateway.WebhookEvent) *models.PaymentTransaction {
	if event.GatewayTransactionID != "" {
		if txn, err := s.txnRepo.GetByGatewayTransactionID(event.GatewayTransactionID); err == nil {
			return txn
		}
	}
	if event.TransactionID != "" {
		if txn, err := s.txnRepo.GetByTransactionID(event.TransactionID); err == nil {
			return txn
		}
	}
	return nil
}

func (s *WebhookService) record(entry *models.WebhookLog) {
	if err := s.logRepo.Create(entry); err != nil {
		log.Printf("[Webhook] failed to persist delivery log: %v", err)
	}
}
