package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbushost/billing/pkg/events"
	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/observability"
	"github.com/nimbushost/billing/pkg/payments"
)

// fakeAdapter is a programmable Stripe stand-in for handler tests.
type fakeAdapter struct {
	createIntentFn func(ctx context.Context, params gateway.IntentParams) (*gateway.Intent, error)
	confirmFn      func(ctx context.Context, params gateway.ConfirmParams) (*gateway.PaymentResult, error)
	refundFn       func(ctx context.Context, params gateway.RefundParams) (*gateway.RefundResult, error)
	webhookFn      func(ctx context.Context, payload []byte) (*gateway.WebhookOutcome, error)
	healthy        bool
}

func (a *fakeAdapter) Name() string { return "stripe" }

func (a *fakeAdapter) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{
		CreateIntent:  true,
		Confirm:       true,
		Refund:        true,
		WebhookVerify: true,
		PaymentMethods: []gateway.PaymentMethodType{
			gateway.PaymentMethodCard,
		},
	}
}

func (a *fakeAdapter) SupportedCurrencies() []string { return []string{"USD", "EUR"} }
func (a *fakeAdapter) SupportedCountries() []string  { return nil }

func (a *fakeAdapter) Initialize(cfg gateway.Credentials) error {
	return cfg.Validate("stripe")
}

func (a *fakeAdapter) HealthCheck(ctx context.Context) (gateway.HealthResult, error) {
	return gateway.HealthResult{Healthy: a.healthy, Status: "ok"}, nil
}

func (a *fakeAdapter) CreatePaymentIntent(ctx context.Context, params gateway.IntentParams) (*gateway.Intent, error) {
	if a.createIntentFn != nil {
		return a.createIntentFn(ctx, params)
	}
	return &gateway.Intent{ID: "pi_test", Status: gateway.StatusPending, ClientSecret: "pi_test_secret"}, nil
}

func (a *fakeAdapter) ConfirmPayment(ctx context.Context, params gateway.ConfirmParams) (*gateway.PaymentResult, error) {
	if a.confirmFn != nil {
		return a.confirmFn(ctx, params)
	}
	return &gateway.PaymentResult{IntentID: params.IntentID, Status: gateway.StatusCompleted}, nil
}

func (a *fakeAdapter) RefundPayment(ctx context.Context, params gateway.RefundParams) (*gateway.RefundResult, error) {
	if a.refundFn != nil {
		return a.refundFn(ctx, params)
	}
	return &gateway.RefundResult{RefundID: "re_test", IntentID: params.IntentID, Status: gateway.RefundSucceeded}, nil
}

func (a *fakeAdapter) VerifySignature(payload []byte, signature, secret string) bool {
	return signature == "valid"
}

func (a *fakeAdapter) HandleWebhook(ctx context.Context, payload []byte) (*gateway.WebhookOutcome, error) {
	if a.webhookFn != nil {
		return a.webhookFn(ctx, payload)
	}
	return &gateway.WebhookOutcome{Processed: false, EventID: "evt_test", EventType: "noop"}, nil
}

type fakeFactory struct{ adapter *fakeAdapter }

func (f *fakeFactory) Name() string         { return "stripe" }
func (f *fakeFactory) New() gateway.Adapter { return f.adapter }

// memConfigStore is an in-memory gateway.ConfigStore for handler tests.
type memConfigStore struct {
	configs []*gateway.Configuration
	nextID  int64
}

func (s *memConfigStore) ListConfigurations(ctx context.Context, tenantID string) ([]*gateway.Configuration, error) {
	var out []*gateway.Configuration
	for _, cfg := range s.configs {
		if cfg.TenantID == tenantID {
			clone := *cfg
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memConfigStore) GetConfiguration(ctx context.Context, tenantID, gatewayName string) (*gateway.Configuration, error) {
	for _, cfg := range s.configs {
		if cfg.TenantID == tenantID && cfg.GatewayName == gatewayName {
			clone := *cfg
			return &clone, nil
		}
	}
	return nil, gateway.ErrConfigNotFound
}

func (s *memConfigStore) UpsertConfiguration(ctx context.Context, cfg *gateway.Configuration) error {
	for i, existing := range s.configs {
		if existing.TenantID == cfg.TenantID && existing.GatewayName == cfg.GatewayName {
			cfg.ID = existing.ID
			clone := *cfg
			s.configs[i] = &clone
			return nil
		}
	}
	s.nextID++
	cfg.ID = s.nextID
	clone := *cfg
	s.configs = append(s.configs, &clone)
	return nil
}

type testServer struct {
	server  *Server
	store   *payments.MemoryStore
	adapter *fakeAdapter
	bus     *events.InMemoryBus
}

func newTestServer(t *testing.T, tenantID string) *testServer {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, os.Stderr)

	adapter := &fakeAdapter{healthy: true}
	configs := &memConfigStore{}
	manager, err := gateway.NewManager(configs, logger)
	require.NoError(t, err)
	require.NoError(t, manager.Register(&fakeFactory{adapter: adapter}))

	require.NoError(t, configs.UpsertConfiguration(context.Background(), &gateway.Configuration{
		TenantID:    tenantID,
		GatewayName: "stripe",
		IsActive:    true,
		Credentials: gateway.Credentials{
			Stripe: &gateway.StripeCredentials{APIKey: "sk_test", WebhookSecret: "whsec_test"},
		},
	}))

	store := payments.NewMemoryStore()
	bus := events.NewInMemoryBus()
	reconciler := payments.NewReconciler(store, bus, logger, nil)
	orchestrator := payments.NewOrchestrator(store, manager, reconciler, logger, nil)
	dispatcher := payments.NewDispatcher(manager, store, store, reconciler, nil, logger, nil)

	return &testServer{
		server:  NewServer(orchestrator, dispatcher, manager, logger, nil),
		store:   store,
		adapter: adapter,
		bus:     bus,
	}
}

func (ts *testServer) openInvoice(t *testing.T, tenantID, invoiceID, total string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, ts.store.CreateInvoice(context.Background(), &payments.Invoice{
		ID:        invoiceID,
		TenantID:  tenantID,
		Total:     decimal.RequireFromString(total),
		Currency:  "USD",
		Status:    payments.InvoiceOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	recorder := httptest.NewRecorder()
	ts.server.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &out))
	return out
}

func TestCreatePayment(t *testing.T) {
	ts := newTestServer(t, "t1")
	ts.openInvoice(t, "t1", "inv-1", "49.99")

	recorder := ts.do(t, http.MethodPost, "/api/v1/tenants/t1/payments", createPaymentRequest{InvoiceID: "inv-1"})
	require.Equal(t, http.StatusAccepted, recorder.Code, recorder.Body.String())

	body := decodeBody(t, recorder)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "pi_test_secret", body["client_secret"])

	payment := body["payment"].(map[string]interface{})
	assert.Equal(t, "inv-1", payment["invoice_id"])
	assert.Equal(t, "stripe", payment["gateway"])
	assert.NotContains(t, recorder.Body.String(), "sk_test")
}

func TestCreatePaymentValidation(t *testing.T) {
	ts := newTestServer(t, "t1")

	recorder := ts.do(t, http.MethodPost, "/api/v1/tenants/t1/payments", createPaymentRequest{})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCreatePaymentAlreadyPaidConflict(t *testing.T) {
	ts := newTestServer(t, "t1")
	ts.openInvoice(t, "t1", "inv-1", "49.99")
	_, err := ts.store.MarkInvoicePaid(context.Background(), "inv-1", time.Now().UTC())
	require.NoError(t, err)

	recorder := ts.do(t, http.MethodPost, "/api/v1/tenants/t1/payments", createPaymentRequest{InvoiceID: "inv-1"})
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestCreatePaymentNoGatewayAvailable(t *testing.T) {
	ts := newTestServer(t, "t1")
	now := time.Now().UTC()
	require.NoError(t, ts.store.CreateInvoice(context.Background(), &payments.Invoice{
		ID: "inv-brl", TenantID: "t1",
		Total: decimal.RequireFromString("10.00"), Currency: "BRL",
		Status: payments.InvoiceOpen, CreatedAt: now, UpdatedAt: now,
	}))

	recorder := ts.do(t, http.MethodPost, "/api/v1/tenants/t1/payments", createPaymentRequest{InvoiceID: "inv-brl"})
	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)
}

func TestGetPaymentNotFound(t *testing.T) {
	ts := newTestServer(t, "t1")

	recorder := ts.do(t, http.MethodGet, "/api/v1/tenants/t1/payments/missing", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGetPaymentScopedToTenant(t *testing.T) {
	ts := newTestServer(t, "t1")
	ts.openInvoice(t, "t1", "inv-1", "49.99")

	created := ts.do(t, http.MethodPost, "/api/v1/tenants/t1/payments", createPaymentRequest{InvoiceID: "inv-1"})
	require.Equal(t, http.StatusAccepted, created.Code)
	paymentID := decodeBody(t, created)["payment"].(map[string]interface{})["id"].(string)

	recorder := ts.do(t, http.MethodGet, "/api/v1/tenants/t2/payments/"+paymentID, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = ts.do(t, http.MethodGet, "/api/v1/tenants/t1/payments/"+paymentID, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestConfirmPayment(t *testing.T) {
	ts := newTestServer(t, "t1")
	ts.openInvoice(t, "t1", "inv-1", "49.99")

	created := ts.do(t, http.MethodPost, "/api/v1/tenants/t1/payments", createPaymentRequest{InvoiceID: "inv-1"})
	require.Equal(t, http.StatusAccepted, created.Code)
	payment := decodeBody(t, created)["payment"].(map[string]interface{})

	path := fmt.Sprintf("/api/v1/tenants/t1/payments/%s/confirm", payment["id"])
	recorder := ts.do(t, http.MethodPost, path, confirmPaymentRequest{IntentID: payment["gateway_id"].(string)})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, "completed", decodeBody(t, recorder)["status"])

	inv, err := ts.store.GetInvoice(context.Background(), "t1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, payments.InvoicePaid, inv.Status)
}

func TestRefundPaymentRequiresCompleted(t *testing.T) {
	ts := newTestServer(t, "t1")
	ts.openInvoice(t, "t1", "inv-1", "49.99")

	created := ts.do(t, http.MethodPost, "/api/v1/tenants/t1/payments", createPaymentRequest{InvoiceID: "inv-1"})
	require.Equal(t, http.StatusAccepted, created.Code)
	paymentID := decodeBody(t, created)["payment"].(map[string]interface{})["id"].(string)

	// still pending, not refundable
	recorder := ts.do(t, http.MethodPost, "/api/v1/tenants/t1/payments/"+paymentID+"/refund", refundPaymentRequest{})
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestWebhookHappyPath(t *testing.T) {
	ts := newTestServer(t, "t1")
	ts.openInvoice(t, "t1", "inv-1", "49.99")

	created := ts.do(t, http.MethodPost, "/api/v1/tenants/t1/payments", createPaymentRequest{InvoiceID: "inv-1"})
	require.Equal(t, http.StatusAccepted, created.Code)
	intentID := decodeBody(t, created)["payment"].(map[string]interface{})["gateway_id"].(string)

	ts.adapter.webhookFn = func(ctx context.Context, payload []byte) (*gateway.WebhookOutcome, error) {
		return &gateway.WebhookOutcome{
			Processed: true,
			EventID:   "evt_1",
			EventType: "payment_intent.succeeded",
			IntentID:  intentID,
			Status:    gateway.StatusCompleted,
		}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/t1/stripe", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "valid")
	recorder := httptest.NewRecorder()
	ts.server.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, true, decodeBody(t, recorder)["received"])

	inv, err := ts.store.GetInvoice(context.Background(), "t1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, payments.InvoicePaid, inv.Status)
}

func TestWebhookBadSignatureRejected(t *testing.T) {
	ts := newTestServer(t, "t1")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/t1/stripe", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "forged")
	recorder := httptest.NewRecorder()
	ts.server.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestWebhookDuplicateAcknowledged(t *testing.T) {
	ts := newTestServer(t, "t1")

	ts.adapter.webhookFn = func(ctx context.Context, payload []byte) (*gateway.WebhookOutcome, error) {
		return &gateway.WebhookOutcome{Processed: false, EventID: "evt_dup", EventType: "noop"}, nil
	}

	deliver := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/t1/stripe", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Stripe-Signature", "valid")
		recorder := httptest.NewRecorder()
		ts.server.ServeHTTP(recorder, req)
		return recorder
	}

	first := deliver()
	require.Equal(t, http.StatusOK, first.Code)

	second := deliver()
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, true, decodeBody(t, second)["duplicate"])
}

func TestConfigureGatewayAndListRedacted(t *testing.T) {
	ts := newTestServer(t, "t1")

	recorder := ts.do(t, http.MethodPut, "/api/v1/tenants/t2/gateways/stripe", gatewayConfigRequest{
		DisplayName: "Stripe EU",
		IsActive:    true,
		Priority:    10,
		Credentials: gateway.Credentials{
			Stripe: &gateway.StripeCredentials{APIKey: "sk_live_secret", WebhookSecret: "whsec_live"},
		},
	})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.NotContains(t, recorder.Body.String(), "sk_live_secret")

	listed := ts.do(t, http.MethodGet, "/api/v1/tenants/t2/gateways", nil)
	require.Equal(t, http.StatusOK, listed.Code)
	assert.Contains(t, listed.Body.String(), "Stripe EU")
	assert.NotContains(t, listed.Body.String(), "sk_live_secret")
	assert.NotContains(t, listed.Body.String(), "whsec_live")
}

func TestConfigureGatewayInvalidCredentials(t *testing.T) {
	ts := newTestServer(t, "t1")

	recorder := ts.do(t, http.MethodPut, "/api/v1/tenants/t1/gateways/stripe", gatewayConfigRequest{
		IsActive:    true,
		Credentials: gateway.Credentials{Stripe: &gateway.StripeCredentials{APIKey: "sk_only"}},
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestConfigureGatewayUnknownProvider(t *testing.T) {
	ts := newTestServer(t, "t1")

	recorder := ts.do(t, http.MethodPut, "/api/v1/tenants/t1/gateways/adyen", gatewayConfigRequest{IsActive: true})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestListRegisteredGateways(t *testing.T) {
	ts := newTestServer(t, "t1")

	recorder := ts.do(t, http.MethodGet, "/api/v1/gateways", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "stripe")
}

func TestGatewayHealth(t *testing.T) {
	ts := newTestServer(t, "t1")

	recorder := ts.do(t, http.MethodGet, "/api/v1/tenants/t1/gateways/stripe/health", nil)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Contains(t, recorder.Body.String(), `"healthy":true`)

	// no stored configuration for this tenant
	recorder = ts.do(t, http.MethodGet, "/api/v1/tenants/t9/gateways/stripe/health", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestTestGatewayConfig(t *testing.T) {
	ts := newTestServer(t, "t1")

	recorder := ts.do(t, http.MethodPost, "/api/v1/tenants/t1/gateways/stripe/test", gatewayConfigRequest{
		Credentials: gateway.Credentials{
			Stripe: &gateway.StripeCredentials{APIKey: "sk_test", WebhookSecret: "whsec_test"},
		},
	})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Contains(t, recorder.Body.String(), `"healthy":true`)
}
