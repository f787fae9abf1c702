package service

import (
	"log"

	"schoolpay/internal/repository"
)

// InvoiceCollaborator is the fee module's surface as seen from payment
// processing: mark the target invoice paid or failed, exactly once per
// terminal transition.
type InvoiceCollaborator interface {
	ProcessPaymentSuccess(transactionID string) error
	ProcessPaymentFailure(transactionID, reason string) error
}

// InvoiceService is the default collaborator, backed by the invoices table.
type InvoiceService struct {
	invoiceRepo *repository.InvoiceRepository
	txnRepo     *repository.TransactionRepository
}

func NewInvoiceService(invoiceRepo *repository.InvoiceRepository, txnRepo *repository.TransactionRepository) *InvoiceService {
	return &InvoiceService{invoiceRepo: invoiceRepo, txnRepo: txnRepo}
}

func (s *InvoiceService) ProcessPaymentSuccess(transactionID string) error {
	txn, err := s.txnRepo.GetByTransactionID(transactionID)
	if err != nil {
		return err
	}
	if txn.InvoiceID == nil {
		// Payments without an invoice (e.g. direct student top-ups) have no
		// downstream effect here.
		return nil
	}
	changed, err := s.invoiceRepo.MarkPaid(*txn.InvoiceID, transactionID)
	if err != nil {
		return err
	}
	if changed {
		log.Printf("[Invoice] invoice %d marked paid by %s", *txn.InvoiceID, transactionID)
	}
	return nil
}

func (s *InvoiceService) ProcessPaymentFailure(transactionID, reason string) error {
	txn, err := s.txnRepo.GetByTransactionID(transactionID)
	if err != nil {
		return err
	}
	if txn.InvoiceID == nil {
		return nil
	}
	changed, err := s.invoiceRepo.MarkFailed(*txn.InvoiceID, transactionID, reason)
	if err != nil {
		return err
	}
	if changed {
		log.Printf("[Invoice] invoice %d marked failed by %s: %s", *txn.InvoiceID, transactionID, reason)
	}
	return nil
}
