package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the provider-agnostic payment state every adapter maps
// provider-native statuses into. The mapping must be total: an unrecognized
// provider status maps to StatusPending, never to a terminal state.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
)

// Terminal reports whether the status is final. Terminal statuses never
// regress to non-terminal ones.
func (s PaymentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PaymentMethodType represents the type of payment method a gateway accepts
type PaymentMethodType string

const (
	PaymentMethodCard         PaymentMethodType = "card"
	PaymentMethodBankTransfer PaymentMethodType = "bank_transfer"
	PaymentMethodWallet       PaymentMethodType = "wallet"
)

// Capabilities declares which canonical operations an adapter supports
type Capabilities struct {
	CreateIntent   bool                `json:"create_intent"`
	Confirm        bool                `json:"confirm"`
	Capture        bool                `json:"capture"`
	Refund         bool                `json:"refund"`
	WebhookVerify  bool                `json:"webhook_verify"`
	PaymentMethods []PaymentMethodType `json:"payment_methods"`
}

// PaymentContext carries everything the Manager needs to pick a gateway
// for one payment.
type PaymentContext struct {
	TenantID       string
	Amount         decimal.Decimal
	Currency       string
	BillingCountry string
	IsRecurring    bool
	PaymentMethod  PaymentMethodType
}

// IntentParams are the inputs to CreatePaymentIntent. AmountMinor is the
// amount in the provider's minor units (cents).
type IntentParams struct {
	AmountMinor   int64
	Currency      string
	PaymentMethod PaymentMethodType
	ReturnURL     string
	CancelURL     string
	Metadata      map[string]string
}

// Intent is a provider-side object representing an in-progress attempt to
// collect funds.
type Intent struct {
	ID             string
	Status         PaymentStatus
	ClientSecret   string
	RequiresAction bool
	NextActionURL  string
	Amount         decimal.Decimal
	Currency       string
	Raw            []byte
}

// ConfirmParams are the inputs to ConfirmPayment
type ConfirmParams struct {
	IntentID  string
	ReturnURL string
}

// PaymentResult is the outcome of a confirmation
type PaymentResult struct {
	IntentID       string
	Status         PaymentStatus
	RequiresAction bool
	NextActionURL  string
	Raw            []byte
}

// RefundParams are the inputs to RefundPayment. A zero AmountMinor refunds
// the full charge.
type RefundParams struct {
	IntentID    string
	AmountMinor int64
	Reason      string
}

// RefundStatus is the state of a refund as reported by the provider
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

// RefundResult is the outcome of a refund request
type RefundResult struct {
	RefundID string
	IntentID string
	Status   RefundStatus
	Amount   decimal.Decimal
	Currency string
	Raw      []byte
}

// WebhookOutcome is the canonical result of parsing a provider webhook.
// Processed is false for event types the adapter does not handle; such
// events are accepted and ignored, never errors.
type WebhookOutcome struct {
	Processed bool
	EventID   string
	EventType string
	IntentID  string
	Status    PaymentStatus
	Message   string
	Data      map[string]string
}

// HealthResult reports the outcome of an adapter health check
type HealthResult struct {
	Healthy bool          `json:"healthy"`
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency_ms"`
}

// Adapter is the capability contract every payment provider implements.
//
// An Adapter is a stateless template until Initialize binds it to one
// tenant's credentials; it must be re-initialized before each
// gateway-specific operation because credentials are tenant-scoped.
// VerifySignature takes the webhook secret as an explicit argument and must
// be a pure function of (payload, signature, secret) with a constant-time
// comparison; it does not depend on Initialize having been called.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	SupportedCurrencies() []string
	SupportedCountries() []string

	Initialize(cfg Credentials) error
	HealthCheck(ctx context.Context) (HealthResult, error)

	CreatePaymentIntent(ctx context.Context, params IntentParams) (*Intent, error)
	ConfirmPayment(ctx context.Context, params ConfirmParams) (*PaymentResult, error)
	RefundPayment(ctx context.Context, params RefundParams) (*RefundResult, error)

	VerifySignature(payload []byte, signature, secret string) bool
	HandleWebhook(ctx context.Context, payload []byte) (*WebhookOutcome, error)
}

// Factory constructs fresh adapter instances for a provider. The Manager
// holds one factory per registered provider and builds a new instance per
// logical operation.
type Factory interface {
	Name() string
	New() Adapter
}
