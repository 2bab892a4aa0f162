package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbushost/billing/pkg/events"
	"github.com/nimbushost/billing/pkg/gateway"
)

// flakyStore fails a number of UpdatePaymentStatus calls before delegating,
// simulating a transient database fault mid-reconciliation.
type flakyStore struct {
	*MemoryStore
	failUpdates int
}

func (s *flakyStore) UpdatePaymentStatus(ctx context.Context, id string, from []gateway.PaymentStatus, to gateway.PaymentStatus, rawResponse []byte) (bool, error) {
	if s.failUpdates > 0 {
		s.failUpdates--
		return false, errors.New("connection reset")
	}
	return s.MemoryStore.UpdatePaymentStatus(ctx, id, from, to, rawResponse)
}

func succeededOutcome(eventID, intentID string) func(context.Context, []byte) (*gateway.WebhookOutcome, error) {
	return func(ctx context.Context, payload []byte) (*gateway.WebhookOutcome, error) {
		return &gateway.WebhookOutcome{
			Processed: true,
			EventID:   eventID,
			EventType: "payment_intent.succeeded",
			IntentID:  intentID,
			Status:    gateway.StatusCompleted,
		}, nil
	}
}

func TestHandleWebhookHappyPath(t *testing.T) {
	env := newTestEnv(t, "t1")
	ctx := context.Background()
	env.openInvoice(t, "t1", "inv-1", "49.99")

	created, err := env.orchestrator.ProcessPayment(ctx, ProcessPaymentParams{TenantID: "t1", InvoiceID: "inv-1"})
	require.NoError(t, err)

	env.adapter.webhookFn = succeededOutcome("evt_1", created.Payment.GatewayID)

	result, err := env.dispatcher.HandleWebhook(ctx, "t1", "stripe", []byte(`{}`), "valid")
	require.NoError(t, err)
	assert.True(t, result.Processed)
	assert.False(t, result.Duplicate)

	p, err := env.store.GetPayment(ctx, created.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusCompleted, p.Status)

	inv, err := env.store.GetInvoice(ctx, "t1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, InvoicePaid, inv.Status)
}

func TestHandleWebhookDuplicateDeliveryIsNoOp(t *testing.T) {
	env := newTestEnv(t, "t1")
	ctx := context.Background()
	env.openInvoice(t, "t1", "inv-1", "49.99")

	created, err := env.orchestrator.ProcessPayment(ctx, ProcessPaymentParams{TenantID: "t1", InvoiceID: "inv-1"})
	require.NoError(t, err)

	env.adapter.webhookFn = succeededOutcome("evt_1", created.Payment.GatewayID)

	first, err := env.dispatcher.HandleWebhook(ctx, "t1", "stripe", []byte(`{}`), "valid")
	require.NoError(t, err)
	assert.True(t, first.Processed)

	second, err := env.dispatcher.HandleWebhook(ctx, "t1", "stripe", []byte(`{}`), "valid")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Processed)

	// exactly one payment.succeeded, paidAt set once
	assert.Equal(t, 1, countEvents(env.bus, events.PaymentSucceeded))
	inv, err := env.store.GetInvoice(ctx, "t1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, InvoicePaid, inv.Status)
	assert.NotNil(t, inv.PaidAt)
}

func TestHandleWebhookTransientStoreFaultLeavesEventRetryable(t *testing.T) {
	env := newTestEnv(t, "t1")
	ctx := context.Background()
	env.openInvoice(t, "t1", "inv-1", "49.99")

	created, err := env.orchestrator.ProcessPayment(ctx, ProcessPaymentParams{TenantID: "t1", InvoiceID: "inv-1"})
	require.NoError(t, err)

	store := &flakyStore{MemoryStore: env.store, failUpdates: 1}
	reconciler := NewReconciler(store, env.bus, nil, nil)
	dispatcher := NewDispatcher(env.manager, store, store, reconciler, nil, nil, nil)

	env.adapter.webhookFn = succeededOutcome("evt_1", created.Payment.GatewayID)

	// The first delivery fails mid-reconciliation; the event must not be
	// recorded as processed or the provider's retry would be swallowed as a
	// duplicate and the payment left pending forever.
	_, err = dispatcher.HandleWebhook(ctx, "t1", "stripe", []byte(`{}`), "valid")
	require.Error(t, err)

	retry, err := dispatcher.HandleWebhook(ctx, "t1", "stripe", []byte(`{}`), "valid")
	require.NoError(t, err)
	assert.True(t, retry.Processed)
	assert.False(t, retry.Duplicate)

	p, err := env.store.GetPayment(ctx, created.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusCompleted, p.Status)

	inv, err := env.store.GetInvoice(ctx, "t1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, InvoicePaid, inv.Status)
	assert.Equal(t, 1, countEvents(env.bus, events.PaymentSucceeded))
}

func TestHandleWebhookRetryWithNewEventIDStillIdempotent(t *testing.T) {
	env := newTestEnv(t, "t1")
	ctx := context.Background()
	env.openInvoice(t, "t1", "inv-1", "49.99")

	created, err := env.orchestrator.ProcessPayment(ctx, ProcessPaymentParams{TenantID: "t1", InvoiceID: "inv-1"})
	require.NoError(t, err)

	env.adapter.webhookFn = succeededOutcome("evt_1", created.Payment.GatewayID)
	_, err = env.dispatcher.HandleWebhook(ctx, "t1", "stripe", []byte(`{}`), "valid")
	require.NoError(t, err)

	// same outcome under a different event id falls through dedup but the
	// reconciler treats it as already applied
	env.adapter.webhookFn = succeededOutcome("evt_2", created.Payment.GatewayID)
	_, err = env.dispatcher.HandleWebhook(ctx, "t1", "stripe", []byte(`{}`), "valid")
	require.NoError(t, err)

	assert.Equal(t, 1, countEvents(env.bus, events.PaymentSucceeded))
}

func TestHandleWebhookInvalidSignatureRejectedBeforeProcessing(t *testing.T) {
	env := newTestEnv(t, "t1")
	ctx := context.Background()
	env.openInvoice(t, "t1", "inv-1", "49.99")

	created, err := env.orchestrator.ProcessPayment(ctx, ProcessPaymentParams{TenantID: "t1", InvoiceID: "inv-1"})
	require.NoError(t, err)

	handled := false
	env.adapter.webhookFn = func(ctx context.Context, payload []byte) (*gateway.WebhookOutcome, error) {
		handled = true
		return nil, nil
	}

	_, err = env.dispatcher.HandleWebhook(ctx, "t1", "stripe", []byte(`{}`), "forged")
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	assert.False(t, handled)

	// no state change
	p, err := env.store.GetPayment(ctx, created.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusPending, p.Status)
	assert.Empty(t, env.bus.Events())
}

func TestHandleWebhookUnknownTenantConfigRejected(t *testing.T) {
	env := newTestEnv(t, "t1")

	_, err := env.dispatcher.HandleWebhook(context.Background(), "t-unknown", "stripe", []byte(`{}`), "valid")
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
}

func TestHandleWebhookIgnoredEventTypeAccepted(t *testing.T) {
	env := newTestEnv(t, "t1")

	env.adapter.webhookFn = func(ctx context.Context, payload []byte) (*gateway.WebhookOutcome, error) {
		return &gateway.WebhookOutcome{Processed: false, EventID: "evt_9", EventType: "customer.created"}, nil
	}

	result, err := env.dispatcher.HandleWebhook(context.Background(), "t1", "stripe", []byte(`{}`), "valid")
	require.NoError(t, err)
	assert.False(t, result.Processed)
	assert.Contains(t, result.Message, "customer.created")
}

func TestHandleWebhookUnknownPaymentAccepted(t *testing.T) {
	env := newTestEnv(t, "t1")

	env.adapter.webhookFn = succeededOutcome("evt_1", "pi_nobody")

	result, err := env.dispatcher.HandleWebhook(context.Background(), "t1", "stripe", []byte(`{}`), "valid")
	require.NoError(t, err)
	assert.False(t, result.Processed)
	assert.Contains(t, result.Message, "no matching payment")
}

func TestHandleWebhookRenewalMetadataReachesReconciler(t *testing.T) {
	env := newTestEnv(t, "t1")
	ctx := context.Background()

	inv := env.openInvoice(t, "t1", "inv-1", "49.99")
	inv.SubscriptionID = "sub-1"
	require.NoError(t, env.store.CreateInvoice(ctx, inv))
	seedSubscription(t, env.store, "t1", SubscriptionActive)

	created, err := env.orchestrator.ProcessPayment(ctx, ProcessPaymentParams{
		TenantID:  "t1",
		InvoiceID: "inv-1",
		Metadata:  map[string]string{MetadataKeyType: MetadataTypeRenewal},
	})
	require.NoError(t, err)

	env.adapter.webhookFn = func(ctx context.Context, payload []byte) (*gateway.WebhookOutcome, error) {
		return &gateway.WebhookOutcome{
			Processed: true,
			EventID:   "evt_ren",
			EventType: "payment_intent.succeeded",
			IntentID:  created.Payment.GatewayID,
			Status:    gateway.StatusCompleted,
			Data:      map[string]string{MetadataKeyType: MetadataTypeRenewal},
		}, nil
	}

	_, err = env.dispatcher.HandleWebhook(ctx, "t1", "stripe", []byte(`{}`), "valid")
	require.NoError(t, err)

	sub, err := env.store.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, 0, sub.FailedPaymentAttempts)
	assert.Equal(t, 1, countEvents(env.bus, events.SubscriptionRenewed))
}
