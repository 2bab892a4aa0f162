package payments

import "errors"

var (
	// ErrAlreadyPaid is returned when a payment is initiated against an
	// invoice that is already paid.
	ErrAlreadyPaid = errors.New("invoice is already paid")

	// ErrNotRefundable is returned when a refund is requested for a payment
	// that did not complete, or that carries no provider intent id.
	ErrNotRefundable = errors.New("payment is not refundable")

	// ErrReconciliationConflict is returned when a status transition loses a
	// concurrent-update race or would regress a terminal state. Callers
	// should re-read and re-apply idempotently.
	ErrReconciliationConflict = errors.New("reconciliation conflict")

	ErrPaymentNotFound      = errors.New("payment not found")
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
