package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/observability"
)

// Orchestrator drives the payment lifecycle for invoices: gateway
// selection, intent creation, confirmation, refunds and attempt
// bookkeeping. One orchestrator is constructed per process and injected
// explicitly.
type Orchestrator struct {
	store      Store
	manager    *gateway.Manager
	reconciler *Reconciler
	logger     *observability.Logger
	metrics    *observability.Metrics
}

func NewOrchestrator(store Store, manager *gateway.Manager, reconciler *Reconciler, logger *observability.Logger, metrics *observability.Metrics) *Orchestrator {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Orchestrator{
		store:      store,
		manager:    manager,
		reconciler: reconciler,
		logger:     logger.WithField("component", "orchestrator"),
		metrics:    metrics,
	}
}

// ProcessPaymentParams are the inputs to ProcessPayment.
type ProcessPaymentParams struct {
	TenantID       string                    `json:"tenant_id"`
	InvoiceID      string                    `json:"invoice_id"`
	PaymentMethod  gateway.PaymentMethodType `json:"payment_method"`
	BillingCountry string                    `json:"billing_country,omitempty"`
	ReturnURL      string                    `json:"return_url,omitempty"`
	CancelURL      string                    `json:"cancel_url,omitempty"`
	Metadata       map[string]string         `json:"metadata,omitempty"`
}

// ProcessPaymentResult is what the client needs to finish the payment on
// the provider side.
type ProcessPaymentResult struct {
	Payment        *Payment              `json:"payment"`
	ClientSecret   string                `json:"client_secret,omitempty"`
	RequiresAction bool                  `json:"requires_action"`
	NextActionURL  string                `json:"next_action_url,omitempty"`
	Status         gateway.PaymentStatus `json:"status"`
}

// ProcessPayment initiates a payment for an open invoice. On intent
// creation failure a failed attempt is recorded without creating a Payment
// row; the attempt stays linked to the invoice through its own invoice id.
func (o *Orchestrator) ProcessPayment(ctx context.Context, params ProcessPaymentParams) (*ProcessPaymentResult, error) {
	invoice, err := o.store.GetInvoice(ctx, params.TenantID, params.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == InvoicePaid {
		return nil, ErrAlreadyPaid
	}

	pc := gateway.PaymentContext{
		TenantID:       params.TenantID,
		Amount:         invoice.Total,
		Currency:       invoice.Currency,
		BillingCountry: params.BillingCountry,
		IsRecurring:    invoice.SubscriptionID != "",
		PaymentMethod:  params.PaymentMethod,
	}
	adapter, cfg, err := o.manager.SelectGateway(ctx, pc)
	if err != nil {
		return nil, err
	}

	attemptNumber, err := o.store.NextAttemptNumber(ctx, invoice.ID, cfg.GatewayName)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attempt number: %w", err)
	}

	amountMinor, err := gateway.ToMinorUnits(invoice.Total)
	if err != nil {
		return nil, fmt.Errorf("invoice %s has invalid total: %w", invoice.ID, err)
	}

	metadata := map[string]string{
		MetadataKeyInvoiceID: invoice.ID,
		MetadataKeyTenantID:  params.TenantID,
	}
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	intent, err := adapter.CreatePaymentIntent(ctx, gateway.IntentParams{
		AmountMinor:   amountMinor,
		Currency:      invoice.Currency,
		PaymentMethod: params.PaymentMethod,
		ReturnURL:     params.ReturnURL,
		CancelURL:     params.CancelURL,
		Metadata:      metadata,
	})
	if err != nil {
		o.recordAttempt(ctx, &PaymentAttempt{
			InvoiceID:     invoice.ID,
			TenantID:      params.TenantID,
			GatewayName:   cfg.GatewayName,
			AttemptNumber: attemptNumber,
			Status:        gateway.StatusFailed,
			ErrorMessage:  err.Error(),
		})
		o.countPayment(cfg.GatewayName, "intent_failed")
		return nil, err
	}

	now := time.Now().UTC()
	payment := &Payment{
		ID:              uuid.NewString(),
		TenantID:        params.TenantID,
		InvoiceID:       invoice.ID,
		Amount:          invoice.Total,
		Currency:        invoice.Currency,
		Status:          intent.Status,
		Gateway:         cfg.GatewayName,
		GatewayID:       intent.ID,
		GatewayResponse: intent.Raw,
		Metadata:        metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.store.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to persist payment: %w", err)
	}

	o.recordAttempt(ctx, &PaymentAttempt{
		PaymentID:       payment.ID,
		InvoiceID:       invoice.ID,
		TenantID:        params.TenantID,
		GatewayName:     cfg.GatewayName,
		AttemptNumber:   attemptNumber,
		Status:          intent.Status,
		GatewayResponse: intent.Raw,
	})
	o.countPayment(cfg.GatewayName, "initiated")

	o.logger.WithFields(map[string]interface{}{
		"payment_id": payment.ID,
		"invoice_id": invoice.ID,
		"tenant_id":  params.TenantID,
		"gateway":    cfg.GatewayName,
		"attempt":    attemptNumber,
	}).Info("payment initiated")

	return &ProcessPaymentResult{
		Payment:        payment,
		ClientSecret:   intent.ClientSecret,
		RequiresAction: intent.RequiresAction,
		NextActionURL:  intent.NextActionURL,
		Status:         intent.Status,
	}, nil
}

// ConfirmPayment confirms a payment against its stored gateway. The gateway
// is re-resolved from the Payment row, never re-selected, and the result is
// applied through the same reconciliation path webhooks use.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, paymentID, intentID string) (*gateway.PaymentResult, error) {
	payment, err := o.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if intentID != "" && payment.GatewayID != intentID {
		return nil, fmt.Errorf("%w: intent id does not match payment %s", ErrPaymentNotFound, paymentID)
	}
	if payment.Status.Terminal() {
		return &gateway.PaymentResult{IntentID: payment.GatewayID, Status: payment.Status}, nil
	}
	if payment.GatewayID == "" {
		return nil, fmt.Errorf("payment %s has no provider intent id", paymentID)
	}

	adapter, _, err := o.manager.AdapterFor(ctx, payment.TenantID, payment.Gateway)
	if err != nil {
		return nil, err
	}

	result, err := adapter.ConfirmPayment(ctx, gateway.ConfirmParams{IntentID: payment.GatewayID})
	if err != nil {
		return nil, err
	}

	if err := o.reconciler.ApplyOutcome(ctx, payment.ID, result.Status, nil, result.Raw); err != nil {
		return nil, err
	}
	return result, nil
}

// ProcessRefund refunds a completed payment. The refund target is always
// the payment's provider intent id; a completed payment without one cannot
// be refunded. Refunds are never retried automatically.
func (o *Orchestrator) ProcessRefund(ctx context.Context, tenantID, paymentID string, amount decimal.Decimal, reason string) (*gateway.RefundResult, error) {
	payment, err := o.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.TenantID != tenantID {
		return nil, ErrPaymentNotFound
	}
	if payment.Status != gateway.StatusCompleted {
		return nil, fmt.Errorf("%w: payment is %s", ErrNotRefundable, payment.Status)
	}
	if payment.GatewayID == "" {
		return nil, fmt.Errorf("%w: payment has no provider intent id", ErrNotRefundable)
	}

	var amountMinor int64
	if amount.IsPositive() {
		if amount.GreaterThan(payment.Amount) {
			return nil, fmt.Errorf("%w: refund exceeds payment amount", ErrNotRefundable)
		}
		amountMinor, err = gateway.ToMinorUnits(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid refund amount: %w", err)
		}
	}

	adapter, _, err := o.manager.AdapterFor(ctx, tenantID, payment.Gateway)
	if err != nil {
		return nil, err
	}

	result, err := adapter.RefundPayment(ctx, gateway.RefundParams{
		IntentID:    payment.GatewayID,
		AmountMinor: amountMinor,
		Reason:      reason,
	})
	if err != nil {
		return nil, err
	}

	o.logger.WithFields(map[string]interface{}{
		"payment_id": paymentID,
		"tenant_id":  tenantID,
		"refund_id":  result.RefundID,
		"status":     string(result.Status),
	}).Info("refund processed")
	o.countPayment(payment.Gateway, "refunded")

	return result, nil
}

// GetPayment returns a tenant's payment.
func (o *Orchestrator) GetPayment(ctx context.Context, tenantID, paymentID string) (*Payment, error) {
	payment, err := o.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.TenantID != tenantID {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// ListPayments returns all of a tenant's payments.
func (o *Orchestrator) ListPayments(ctx context.Context, tenantID string) ([]*Payment, error) {
	return o.store.ListPayments(ctx, tenantID)
}

// ListAttempts returns the attempt history for a tenant's payment.
func (o *Orchestrator) ListAttempts(ctx context.Context, tenantID, paymentID string) ([]*PaymentAttempt, error) {
	if _, err := o.GetPayment(ctx, tenantID, paymentID); err != nil {
		return nil, err
	}
	return o.store.ListAttempts(ctx, paymentID)
}

func (o *Orchestrator) recordAttempt(ctx context.Context, attempt *PaymentAttempt) {
	attempt.ID = uuid.NewString()
	attempt.CreatedAt = time.Now().UTC()
	if err := o.store.CreateAttempt(ctx, attempt); err != nil {
		o.logger.WithError(err).WithField("invoice_id", attempt.InvoiceID).Error("failed to record payment attempt")
	}
}

func (o *Orchestrator) countPayment(gatewayName, outcome string) {
	if o.metrics != nil {
		o.metrics.PaymentsTotal.WithLabelValues(gatewayName, outcome).Inc()
	}
}
