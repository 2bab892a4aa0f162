package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimbushost/billing/pkg/async"
	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/observability"
)

const archiveTimeout = 30 * time.Second

// Dispatcher is the idempotent webhook pipeline: verify the provider
// signature, deduplicate by provider event id, normalize through the
// adapter and apply the outcome through the reconciler.
type Dispatcher struct {
	manager    *gateway.Manager
	store      Store
	dedup      DedupStore
	reconciler *Reconciler
	archiver   Archiver
	logger     *observability.Logger
	metrics    *observability.Metrics
}

func NewDispatcher(manager *gateway.Manager, store Store, dedup DedupStore, reconciler *Reconciler, archiver Archiver, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Dispatcher{
		manager:    manager,
		store:      store,
		dedup:      dedup,
		reconciler: reconciler,
		archiver:   archiver,
		logger:     logger.WithField("component", "webhook_dispatcher"),
		metrics:    metrics,
	}
}

// WebhookResult describes how a delivery was handled. Accepted deliveries
// must be acknowledged with a 2xx so the provider stops retrying; only
// internal faults warrant a retryable error.
type WebhookResult struct {
	Duplicate bool   `json:"duplicate,omitempty"`
	Processed bool   `json:"processed"`
	EventID   string `json:"event_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HandleWebhook runs one provider delivery through the pipeline. It returns
// gateway.ErrInvalidSignature (reject, no processing) for verification
// failures and other errors only for genuine internal faults.
func (d *Dispatcher) HandleWebhook(ctx context.Context, tenantID, gatewayName string, payload []byte, signature string) (*WebhookResult, error) {
	log := d.logger.WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"gateway":   gatewayName,
	})

	cfg, err := d.manager.ConfigurationFor(ctx, tenantID, gatewayName)
	if err != nil {
		if errors.Is(err, gateway.ErrConfigNotFound) {
			d.countWebhook(gatewayName, "unknown_config")
			return nil, gateway.ErrInvalidSignature
		}
		return nil, err
	}

	// Fail closed: no secret means nothing can be verified.
	secret := cfg.Credentials.WebhookSecret(gatewayName)
	if secret == "" {
		d.countWebhook(gatewayName, "missing_secret")
		return nil, gateway.ErrInvalidSignature
	}

	adapter, _, err := d.manager.AdapterFor(ctx, tenantID, gatewayName)
	if err != nil {
		return nil, err
	}

	if !adapter.VerifySignature(payload, signature, secret) {
		log.Warn("webhook signature verification failed")
		d.countWebhook(gatewayName, "bad_signature")
		return nil, gateway.ErrInvalidSignature
	}

	outcome, err := adapter.HandleWebhook(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse webhook: %w", err)
	}

	// The ledger entry is written only after the outcome was applied; a
	// delivery that fails with an internal error stays unmarked so the
	// provider's retry can still land the outcome.
	if outcome.EventID != "" && d.dedup != nil {
		seen, err := d.dedup.Seen(ctx, dedupProvider(tenantID, gatewayName), outcome.EventID)
		if err != nil {
			return nil, fmt.Errorf("failed to deduplicate event %s: %w", outcome.EventID, err)
		}
		if seen {
			log.WithField("event_id", outcome.EventID).Debug("duplicate webhook delivery ignored")
			d.countWebhook(gatewayName, "duplicate")
			return &WebhookResult{Duplicate: true, EventID: outcome.EventID, Message: "duplicate event"}, nil
		}
	}

	d.archive(gatewayName, outcome.EventID, payload)

	if !outcome.Processed {
		d.markProcessed(ctx, tenantID, gatewayName, outcome.EventID, log)
		d.countWebhook(gatewayName, "ignored")
		return &WebhookResult{EventID: outcome.EventID, Message: fmt.Sprintf("event type %s ignored", outcome.EventType)}, nil
	}

	payment, err := d.store.GetPaymentByGatewayID(ctx, gatewayName, outcome.IntentID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			// An intent we never created (e.g. made directly in the provider
			// dashboard). Acknowledge so the provider stops retrying.
			log.WithField("intent_id", outcome.IntentID).Warn("webhook for unknown payment intent")
			d.markProcessed(ctx, tenantID, gatewayName, outcome.EventID, log)
			d.countWebhook(gatewayName, "unknown_payment")
			return &WebhookResult{EventID: outcome.EventID, Message: "no matching payment"}, nil
		}
		return nil, err
	}
	if payment.TenantID != tenantID {
		log.WithField("payment_id", payment.ID).Warn("webhook tenant does not own payment")
		return nil, gateway.ErrInvalidSignature
	}

	data := make(map[string]string, len(outcome.Data)+1)
	for k, v := range outcome.Data {
		data[k] = v
	}
	if outcome.Message != "" {
		data["message"] = outcome.Message
	}

	if err := d.reconciler.ApplyOutcome(ctx, payment.ID, outcome.Status, data, payload); err != nil {
		if errors.Is(err, ErrReconciliationConflict) {
			// The payment already settled in a different terminal state.
			// Acknowledge; retrying the same delivery cannot succeed.
			log.WithError(err).Warn("webhook outcome conflicts with settled payment")
			d.markProcessed(ctx, tenantID, gatewayName, outcome.EventID, log)
			d.countWebhook(gatewayName, "conflict")
			return &WebhookResult{EventID: outcome.EventID, Message: "outcome conflicts with settled payment"}, nil
		}
		return nil, err
	}

	d.markProcessed(ctx, tenantID, gatewayName, outcome.EventID, log)
	d.countWebhook(gatewayName, "processed")
	return &WebhookResult{Processed: true, EventID: outcome.EventID}, nil
}

// markProcessed writes the dedup ledger entry. Failures are logged, not
// returned: the outcome already committed, and reconciliation is idempotent,
// so a missed entry only costs the redelivery a redundant re-apply.
func (d *Dispatcher) markProcessed(ctx context.Context, tenantID, gatewayName, eventID string, log *observability.Logger) {
	if eventID == "" || d.dedup == nil {
		return
	}
	if _, err := d.dedup.MarkProcessed(ctx, dedupProvider(tenantID, gatewayName), eventID); err != nil {
		log.WithError(err).WithField("event_id", eventID).Error("failed to record webhook event in dedup ledger")
	}
}

// archive stores the raw payload out of band. The webhook response never
// waits on object storage.
func (d *Dispatcher) archive(gatewayName, eventID string, payload []byte) {
	if d.archiver == nil || eventID == "" {
		return
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	async.SafeGo(context.Background(), d.logger, archiveTimeout, "webhook payload archive", func(ctx context.Context) error {
		return d.archiver.Archive(ctx, gatewayName, eventID, body)
	})
}

func (d *Dispatcher) countWebhook(gatewayName, result string) {
	if d.metrics != nil {
		d.metrics.WebhookEventsTotal.WithLabelValues(gatewayName, result).Inc()
	}
}

// dedupProvider scopes event ids per tenant+gateway so two tenants' Stripe
// accounts can never shadow each other's event ids.
func dedupProvider(tenantID, gatewayName string) string {
	return tenantID + "/" + gatewayName
}
