package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nimbushost/billing/pkg/events"
	"github.com/nimbushost/billing/pkg/gateway"
)

// mockAdapter is a func-field gateway fake; unset fields fall back to
// benign defaults.
type mockAdapter struct {
	createIntentFn func(ctx context.Context, params gateway.IntentParams) (*gateway.Intent, error)
	confirmFn      func(ctx context.Context, params gateway.ConfirmParams) (*gateway.PaymentResult, error)
	refundFn       func(ctx context.Context, params gateway.RefundParams) (*gateway.RefundResult, error)
	verifyFn       func(payload []byte, signature, secret string) bool
	webhookFn      func(ctx context.Context, payload []byte) (*gateway.WebhookOutcome, error)
}

func (m *mockAdapter) Name() string { return "stripe" }

func (m *mockAdapter) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{CreateIntent: true, Confirm: true, Refund: true, WebhookVerify: true}
}

func (m *mockAdapter) SupportedCurrencies() []string { return []string{"USD", "EUR"} }
func (m *mockAdapter) SupportedCountries() []string  { return nil }

func (m *mockAdapter) Initialize(cfg gateway.Credentials) error { return nil }

func (m *mockAdapter) HealthCheck(ctx context.Context) (gateway.HealthResult, error) {
	return gateway.HealthResult{Healthy: true, Status: "ok"}, nil
}

func (m *mockAdapter) CreatePaymentIntent(ctx context.Context, params gateway.IntentParams) (*gateway.Intent, error) {
	if m.createIntentFn != nil {
		return m.createIntentFn(ctx, params)
	}
	return &gateway.Intent{
		ID:           "pi_mock",
		Status:       gateway.StatusPending,
		ClientSecret: "pi_mock_secret",
		Amount:       gateway.FromMinorUnits(params.AmountMinor),
		Currency:     params.Currency,
	}, nil
}

func (m *mockAdapter) ConfirmPayment(ctx context.Context, params gateway.ConfirmParams) (*gateway.PaymentResult, error) {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, params)
	}
	return &gateway.PaymentResult{IntentID: params.IntentID, Status: gateway.StatusCompleted}, nil
}

func (m *mockAdapter) RefundPayment(ctx context.Context, params gateway.RefundParams) (*gateway.RefundResult, error) {
	if m.refundFn != nil {
		return m.refundFn(ctx, params)
	}
	return &gateway.RefundResult{RefundID: "re_mock", IntentID: params.IntentID, Status: gateway.RefundSucceeded}, nil
}

func (m *mockAdapter) VerifySignature(payload []byte, signature, secret string) bool {
	if m.verifyFn != nil {
		return m.verifyFn(payload, signature, secret)
	}
	return signature == "valid"
}

func (m *mockAdapter) HandleWebhook(ctx context.Context, payload []byte) (*gateway.WebhookOutcome, error) {
	if m.webhookFn != nil {
		return m.webhookFn(ctx, payload)
	}
	return &gateway.WebhookOutcome{Processed: false}, nil
}

type mockFactory struct {
	adapter *mockAdapter
}

func (f *mockFactory) Name() string         { return "stripe" }
func (f *mockFactory) New() gateway.Adapter { return f.adapter }

// memConfigStore is a minimal gateway.ConfigStore for wiring a Manager in
// tests.
type memConfigStore struct {
	mu      sync.Mutex
	nextID  int64
	configs map[string][]*gateway.Configuration
}

func newMemConfigStore() *memConfigStore {
	return &memConfigStore{configs: make(map[string][]*gateway.Configuration)}
}

func (s *memConfigStore) ListConfigurations(ctx context.Context, tenantID string) ([]*gateway.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*gateway.Configuration, len(s.configs[tenantID]))
	copy(out, s.configs[tenantID])
	return out, nil
}

func (s *memConfigStore) GetConfiguration(ctx context.Context, tenantID, gatewayName string) (*gateway.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range s.configs[tenantID] {
		if cfg.GatewayName == gatewayName {
			return cfg, nil
		}
	}
	return nil, gateway.ErrConfigNotFound
}

func (s *memConfigStore) UpsertConfiguration(ctx context.Context, cfg *gateway.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cfg.ID = s.nextID
	s.configs[cfg.TenantID] = append(s.configs[cfg.TenantID], cfg)
	return nil
}

// testEnv wires a full in-memory payment stack around one mock adapter.
type testEnv struct {
	store        *MemoryStore
	bus          *events.InMemoryBus
	manager      *gateway.Manager
	reconciler   *Reconciler
	orchestrator *Orchestrator
	dispatcher   *Dispatcher
	adapter      *mockAdapter
}

func newTestEnv(t *testing.T, tenantID string) *testEnv {
	t.Helper()

	adapter := &mockAdapter{}
	configStore := newMemConfigStore()
	manager, err := gateway.NewManager(configStore, nil)
	require.NoError(t, err)
	require.NoError(t, manager.Register(&mockFactory{adapter: adapter}))
	require.NoError(t, configStore.UpsertConfiguration(context.Background(), &gateway.Configuration{
		TenantID:    tenantID,
		GatewayName: "stripe",
		IsActive:    true,
		Priority:    1,
		Credentials: gateway.Credentials{Stripe: &gateway.StripeCredentials{APIKey: "sk", WebhookSecret: "whsec"}},
	}))

	store := NewMemoryStore()
	bus := events.NewInMemoryBus()
	reconciler := NewReconciler(store, bus, nil, nil)
	orchestrator := NewOrchestrator(store, manager, reconciler, nil, nil)
	dispatcher := NewDispatcher(manager, store, store, reconciler, nil, nil, nil)

	return &testEnv{
		store:        store,
		bus:          bus,
		manager:      manager,
		reconciler:   reconciler,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		adapter:      adapter,
	}
}

func (e *testEnv) openInvoice(t *testing.T, tenantID, invoiceID, total string) *Invoice {
	t.Helper()
	inv := &Invoice{
		ID:        invoiceID,
		TenantID:  tenantID,
		Total:     decimal.RequireFromString(total),
		Currency:  "USD",
		Status:    InvoiceOpen,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, e.store.CreateInvoice(context.Background(), inv))
	return inv
}

func (e *testEnv) eventNames() []string {
	var names []string
	for _, ev := range e.bus.Events() {
		names = append(names, ev.Name)
	}
	return names
}

func countEvents(bus *events.InMemoryBus, name string) int {
	n := 0
	for _, ev := range bus.Events() {
		if ev.Name == name {
			n++
		}
	}
	return n
}
