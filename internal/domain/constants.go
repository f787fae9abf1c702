package domain

const (
	RoleAdmin   = "ADMIN"
	RoleStudent = "STUDENT"
	RoleParent  = "PARENT"
)

// Transaction statuses. pending is the only initial state; completed,
// failed, cancelled and refunded are terminal (refund is the single
// transition allowed out of completed).
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
)

const (
	FeeTypePercentage = "percentage"
	FeeTypeFixed      = "fixed"
)

const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

const (
	InvoiceStatusUnpaid = "unpaid"
	InvoiceStatusPaid   = "paid"
	InvoiceStatusFailed = "failed"
)

// allowedTransitions is the whole transition graph; anything not listed is
// rejected as a no-op.
var allowedTransitions = map[string][]string{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusRefunded},
}

// CanTransition reports whether from -> to is a legal status transition.
// Applying the current status again is never a transition.
func CanTransition(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status ends the automated lifecycle.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// ValidStatus reports whether s belongs to the internal status vocabulary.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}
