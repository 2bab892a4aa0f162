package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbushost/billing/pkg/events"
	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/observability"
)

// Reconciler is the single writer of payment, invoice and subscription
// status. Both the webhook dispatcher and client-triggered confirms apply
// provider outcomes through ApplyOutcome, so the two paths cannot diverge.
type Reconciler struct {
	store   Store
	bus     events.Bus
	logger  *observability.Logger
	metrics *observability.Metrics
}

func NewReconciler(store Store, bus events.Bus, logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Reconciler{
		store:   store,
		bus:     bus,
		logger:  logger.WithField("component", "reconciler"),
		metrics: metrics,
	}
}

// ApplyOutcome applies a canonical payment outcome. It is idempotent:
// re-applying a status the payment already holds is a no-op, and only the
// call that wins the compare-and-set emits domain events. Attempting to
// move a payment out of a different terminal state returns
// ErrReconciliationConflict.
func (r *Reconciler) ApplyOutcome(ctx context.Context, paymentID string, status gateway.PaymentStatus, data map[string]string, rawResponse []byte) error {
	payment, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}

	// The stored intent metadata is the baseline; outcome-delivered data
	// wins on conflict. Confirm calls pass no data, so without this merge a
	// renewal completed through the confirm path would lose its renewal
	// marker and never advance the subscription.
	data = mergeOutcomeData(payment.Metadata, data)

	log := r.logger.WithFields(map[string]interface{}{
		"payment_id": paymentID,
		"tenant_id":  payment.TenantID,
		"status":     string(status),
	})

	switch status {
	case gateway.StatusCompleted:
		won, err := r.store.UpdatePaymentStatus(ctx, paymentID,
			[]gateway.PaymentStatus{gateway.StatusPending, gateway.StatusProcessing},
			gateway.StatusCompleted, rawResponse)
		if err != nil {
			return fmt.Errorf("failed to complete payment %s: %w", paymentID, err)
		}
		if !won {
			return r.lostRace(ctx, paymentID, gateway.StatusCompleted, log)
		}
		r.count("completed")
		return r.applyCompleted(ctx, payment, data, log)

	case gateway.StatusFailed:
		won, err := r.store.UpdatePaymentStatus(ctx, paymentID,
			[]gateway.PaymentStatus{gateway.StatusPending, gateway.StatusProcessing},
			gateway.StatusFailed, rawResponse)
		if err != nil {
			return fmt.Errorf("failed to fail payment %s: %w", paymentID, err)
		}
		if !won {
			return r.lostRace(ctx, paymentID, gateway.StatusFailed, log)
		}
		r.count("failed")
		return r.applyFailed(ctx, payment, data, log)

	case gateway.StatusProcessing:
		if _, err := r.store.UpdatePaymentStatus(ctx, paymentID,
			[]gateway.PaymentStatus{gateway.StatusPending},
			gateway.StatusProcessing, rawResponse); err != nil {
			return fmt.Errorf("failed to mark payment %s processing: %w", paymentID, err)
		}
		return nil

	default:
		// Pending carries no new information.
		return nil
	}
}

func mergeOutcomeData(metadata, data map[string]string) map[string]string {
	if len(metadata) == 0 {
		return data
	}
	merged := make(map[string]string, len(metadata)+len(data))
	for k, v := range metadata {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}
	return merged
}

// lostRace distinguishes idempotent re-application (same terminal status,
// no-op) from a genuine conflict (different terminal status).
func (r *Reconciler) lostRace(ctx context.Context, paymentID string, wanted gateway.PaymentStatus, log *observability.Logger) error {
	current, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if current.Status == wanted {
		log.Debug("outcome already applied")
		return nil
	}
	r.count("conflict")
	return fmt.Errorf("%w: payment %s is %s, cannot apply %s",
		ErrReconciliationConflict, paymentID, current.Status, wanted)
}

func (r *Reconciler) applyCompleted(ctx context.Context, payment *Payment, data map[string]string, log *observability.Logger) error {
	now := time.Now().UTC()

	if payment.InvoiceID != "" {
		paidNow, err := r.store.MarkInvoicePaid(ctx, payment.InvoiceID, now)
		if err != nil {
			return fmt.Errorf("failed to mark invoice %s paid: %w", payment.InvoiceID, err)
		}
		if paidNow {
			log.WithField("invoice_id", payment.InvoiceID).Info("invoice paid")
		}

		invoice, err := r.store.GetInvoice(ctx, payment.TenantID, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.SubscriptionID != "" {
			if err := r.transitionSubscription(ctx, payment, invoice.SubscriptionID, data); err != nil {
				return err
			}
		}
	}

	r.publish(ctx, events.New(events.PaymentSucceeded, payment.TenantID, map[string]string{
		"payment_id": payment.ID,
		"invoice_id": payment.InvoiceID,
		"gateway":    payment.Gateway,
		"amount":     payment.Amount.String(),
		"currency":   payment.Currency,
	}), log)
	return nil
}

func (r *Reconciler) applyFailed(ctx context.Context, payment *Payment, data map[string]string, log *observability.Logger) error {
	if payment.InvoiceID != "" {
		if _, err := r.store.MarkInvoiceFailed(ctx, payment.InvoiceID); err != nil {
			return fmt.Errorf("failed to mark invoice %s failed: %w", payment.InvoiceID, err)
		}

		invoice, err := r.store.GetInvoice(ctx, payment.TenantID, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.SubscriptionID != "" {
			if err := r.store.IncrementFailedAttempts(ctx, invoice.SubscriptionID); err != nil {
				return fmt.Errorf("failed to increment failed attempts: %w", err)
			}
		}
	}

	payload := map[string]string{
		"payment_id": payment.ID,
		"invoice_id": payment.InvoiceID,
		"gateway":    payment.Gateway,
	}
	if msg := data["message"]; msg != "" {
		payload["message"] = msg
	}
	r.publish(ctx, events.New(events.PaymentFailed, payment.TenantID, payload), log)
	return nil
}

// transitionSubscription applies the subscription transition table for a
// successful payment:
//
//	pending, payment_pending  -> active   (subscription.activated)
//	suspended, past_due       -> active   (subscription.unsuspended)
//	active                    -> active   (subscription.renewed on renewals)
func (r *Reconciler) transitionSubscription(ctx context.Context, payment *Payment, subscriptionID string, data map[string]string) error {
	sub, err := r.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	isRenewal := data[MetadataKeyType] == MetadataTypeRenewal
	var eventName string

	switch sub.Status {
	case SubscriptionPending, SubscriptionPaymentPending:
		sub.Status = SubscriptionActive
		eventName = events.SubscriptionActivated
	case SubscriptionSuspended, SubscriptionPastDue:
		sub.Status = SubscriptionActive
		eventName = events.SubscriptionUnsuspended
	case SubscriptionActive:
		if isRenewal {
			eventName = events.SubscriptionRenewed
		}
	default:
		r.logger.WithFields(map[string]interface{}{
			"subscription_id": subscriptionID,
			"status":          string(sub.Status),
		}).Warn("successful payment for subscription in unexpected status")
		return nil
	}

	if isRenewal {
		sub.CurrentPeriodStart = sub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = sub.Interval.Next(sub.CurrentPeriodEnd)
		sub.NextBillingDate = sub.CurrentPeriodEnd
		sub.FailedPaymentAttempts = 0
	}

	if err := r.store.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to update subscription %s: %w", subscriptionID, err)
	}

	if eventName != "" {
		r.publish(ctx, events.New(eventName, payment.TenantID, map[string]string{
			"subscription_id":   subscriptionID,
			"payment_id":        payment.ID,
			"next_billing_date": sub.NextBillingDate.Format(time.RFC3339),
		}), r.logger)
	}
	return nil
}

// publish is best-effort: the state transition already committed, so a bus
// failure is logged rather than unwinding the payment.
func (r *Reconciler) publish(ctx context.Context, event events.Event, log *observability.Logger) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		log.WithError(err).WithField("event", event.Name).Error("failed to publish domain event")
		return
	}
	if r.metrics != nil {
		r.metrics.EventsPublishedTotal.WithLabelValues(event.Name).Inc()
	}
}

func (r *Reconciler) count(outcome string) {
	if r.metrics != nil {
		r.metrics.ReconciliationsTotal.WithLabelValues(outcome).Inc()
	}
}
