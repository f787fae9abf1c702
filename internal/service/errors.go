package service

import (
	"errors"
	"fmt"
)

// Validation errors are detected before any external call and surfaced to
// the caller as-is; provider failures are normalized at the adapter
// boundary and never leak raw provider stack traces.
var (
	ErrGatewayNotFound     = errors.New("payment gateway not found")
	ErrGatewayInactive     = errors.New("payment gateway is inactive")
	ErrCredentialsNotFound = errors.New("no usable credentials for this gateway")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAmountOutOfBounds   = errors.New("amount is outside the gateway's limits")
	ErrUnsupportedCurrency = errors.New("currency not supported by this gateway")
	ErrMissingTarget       = errors.New("a student, invoice or parent target is required")
	ErrPaymentExists       = errors.New("payment already exists for this target")
	ErrVerificationFailed  = errors.New("payment verification failed")
	ErrGatewayUnreachable  = errors.New("payment gateway is unreachable")
	ErrNotRefundable       = errors.New("only completed transactions can be refunded")
	ErrNotBankTransfer     = errors.New("transaction does not belong to the bank transfer gateway")
)

// SessionCreationError wraps a provider-side failure during session
// creation. The transaction row stays pending so an idempotent retry can
// reuse it.
type SessionCreationError struct {
	Provider string
	Message  string
	Err      error
}

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("session creation failed (%s): %s", e.Provider, e.Message)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }
