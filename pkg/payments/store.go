package payments

import (
	"context"
	"time"

	"github.com/nimbushost/billing/pkg/gateway"
)

// Store is the persistence boundary for payments, attempts, invoices and
// subscriptions. Implementations must scope all reads and writes by tenant
// where a tenant id is given, and must make the conditional status updates
// atomic (one UPDATE guarded by the expected prior status).
type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	GetPaymentByGatewayID(ctx context.Context, gatewayName, gatewayID string) (*Payment, error)
	ListPayments(ctx context.Context, tenantID string) ([]*Payment, error)

	// UpdatePaymentStatus performs a compare-and-set transition: the payment
	// moves to the new status only if its current status is one of from.
	// Returns true when this call performed the transition.
	UpdatePaymentStatus(ctx context.Context, paymentID string, from []gateway.PaymentStatus, to gateway.PaymentStatus, gatewayResponse []byte) (bool, error)

	CreateAttempt(ctx context.Context, a *PaymentAttempt) error
	ListAttempts(ctx context.Context, paymentID string) ([]*PaymentAttempt, error)
	ListAttemptsByInvoice(ctx context.Context, invoiceID string) ([]*PaymentAttempt, error)

	// NextAttemptNumber returns max(existing)+1 for the invoice+gateway pair,
	// starting at 1.
	NextAttemptNumber(ctx context.Context, invoiceID, gatewayName string) (int, error)

	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, tenantID, invoiceID string) (*Invoice, error)

	// MarkInvoicePaid sets the invoice to paid with paidAt, only if it is not
	// already paid. Returns true when this call performed the transition.
	MarkInvoicePaid(ctx context.Context, invoiceID string, paidAt time.Time) (bool, error)

	// MarkInvoiceFailed sets the invoice to failed unless it is already paid.
	MarkInvoiceFailed(ctx context.Context, invoiceID string) (bool, error)

	// FindOpenRenewalInvoice returns an existing open or draft invoice for
	// the subscription period starting at periodStart, or ErrInvoiceNotFound.
	FindOpenRenewalInvoice(ctx context.Context, subscriptionID string, periodStart time.Time) (*Invoice, error)

	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	IncrementFailedAttempts(ctx context.Context, subscriptionID string) error

	// ListSubscriptionsDue returns active subscriptions whose next billing
	// date is at or before the cutoff, oldest first, up to limit.
	ListSubscriptionsDue(ctx context.Context, cutoff time.Time, limit int) ([]*Subscription, error)
}

// DedupStore remembers which provider events have been processed. The ledger
// entry is written only after the outcome was applied, so Seen never hides an
// event whose processing failed mid-flight.
type DedupStore interface {
	// Seen reports whether the event was already processed.
	Seen(ctx context.Context, provider, eventID string) (bool, error)

	// MarkProcessed records the event and reports whether this call was the
	// first to record it.
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Archiver persists raw webhook payloads for audit and replay. Archival is
// best-effort; failures never block webhook processing.
type Archiver interface {
	Archive(ctx context.Context, provider, eventID string, payload []byte) error
}
