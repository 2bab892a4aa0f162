package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nimbushost/billing/pkg/gateway"
)

// InvoiceStatus is the lifecycle state of an invoice. PAID and the
// transition into it are driven exclusively by confirmed payment outcomes.
type InvoiceStatus string

const (
	InvoiceDraft  InvoiceStatus = "draft"
	InvoiceOpen   InvoiceStatus = "open"
	InvoicePaid   InvoiceStatus = "paid"
	InvoiceFailed InvoiceStatus = "failed"
	InvoiceVoid   InvoiceStatus = "void"
)

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionPending        SubscriptionStatus = "pending"
	SubscriptionPaymentPending SubscriptionStatus = "payment_pending"
	SubscriptionActive         SubscriptionStatus = "active"
	SubscriptionPastDue        SubscriptionStatus = "past_due"
	SubscriptionSuspended      SubscriptionStatus = "suspended"
	SubscriptionCanceled       SubscriptionStatus = "canceled"
)

// BillingInterval is the renewal cadence of a subscription.
type BillingInterval string

const (
	IntervalWeekly  BillingInterval = "weekly"
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)

// Next returns the instant one interval after t. Unknown intervals fall
// back to monthly; the fallback is deliberate and covered by tests.
func (i BillingInterval) Next(t time.Time) time.Time {
	switch i {
	case IntervalWeekly:
		return t.AddDate(0, 0, 7)
	case IntervalYearly:
		return addMonths(t, 12)
	case IntervalMonthly:
		return addMonths(t, 1)
	default:
		return addMonths(t, 1)
	}
}

// addMonths adds calendar months clamping the day-of-month to the target
// month's length, so Jan 31 + 1 month is Feb 28/29 rather than the
// normalized Mar 2/3 that time.AddDate would produce.
func addMonths(t time.Time, months int) time.Time {
	anchor := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	anchor = anchor.AddDate(0, months, 0)

	day := t.Day()
	if last := daysInMonth(anchor.Year(), anchor.Month()); day > last {
		day = last
	}
	return time.Date(anchor.Year(), anchor.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Payment is one attempt to collect an invoice through a gateway. Rows are
// never deleted; retries append attempts instead.
type Payment struct {
	ID              string                `json:"id"`
	TenantID        string                `json:"tenant_id"`
	InvoiceID       string                `json:"invoice_id"`
	Amount          decimal.Decimal       `json:"amount"`
	Currency        string                `json:"currency"`
	Status          gateway.PaymentStatus `json:"status"`
	Gateway         string                `json:"gateway"`
	GatewayID       string                `json:"gateway_id,omitempty"`
	GatewayResponse []byte                `json:"-"`

	// Metadata carries the intent metadata sent to the provider. The
	// reconciler falls back to it when an outcome arrives without data, so
	// the confirm path and the webhook path converge.
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PaymentAttempt records one try against one gateway. PaymentID is empty
// when intent creation failed before a Payment row existed; such attempts
// stay linked to the invoice for retry analytics.
type PaymentAttempt struct {
	ID              string                `json:"id"`
	PaymentID       string                `json:"payment_id,omitempty"`
	InvoiceID       string                `json:"invoice_id"`
	TenantID        string                `json:"tenant_id"`
	GatewayName     string                `json:"gateway_name"`
	AttemptNumber   int                   `json:"attempt_number"`
	Status          gateway.PaymentStatus `json:"status"`
	ErrorMessage    string                `json:"error_message,omitempty"`
	GatewayResponse []byte                `json:"-"`
	CreatedAt       time.Time             `json:"created_at"`
}

// Invoice is the billable document a payment settles. Period bounds are set
// on renewal invoices so the scanner never generates the same period twice.
type Invoice struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	Status         InvoiceStatus   `json:"status"`
	PeriodStart    time.Time       `json:"period_start,omitempty"`
	PeriodEnd      time.Time       `json:"period_end,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Subscription is a recurring billing agreement.
type Subscription struct {
	ID                    string             `json:"id"`
	TenantID              string             `json:"tenant_id"`
	PlanID                string             `json:"plan_id"`
	Status                SubscriptionStatus `json:"status"`
	Interval              BillingInterval    `json:"interval"`
	Amount                decimal.Decimal    `json:"amount"`
	Currency              string             `json:"currency"`
	CurrentPeriodStart    time.Time          `json:"current_period_start"`
	CurrentPeriodEnd      time.Time          `json:"current_period_end"`
	NextBillingDate       time.Time          `json:"next_billing_date"`
	FailedPaymentAttempts int                `json:"failed_payment_attempts"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// MetadataTypeRenewal marks a payment as a subscription renewal in intent
// metadata and webhook data.
const (
	MetadataKeyType      = "type"
	MetadataTypeRenewal  = "subscription_renewal"
	MetadataKeyInvoiceID = "invoice_id"
	MetadataKeyTenantID  = "tenant_id"
)
