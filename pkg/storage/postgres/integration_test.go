//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/payments"
)

func setupPostgresTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("billing_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, Migrate(ctx, db))

	t.Cleanup(func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})
	return db
}

func TestPaymentLifecycleIntegration(t *testing.T) {
	db := setupPostgresTestDB(t)
	store := NewStore(&ConnectionManager{primary: db})
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	payment := &payments.Payment{
		ID:        "pay-1",
		TenantID:  "t1",
		InvoiceID: "inv-1",
		Amount:    decimal.RequireFromString("49.99"),
		Currency:  "USD",
		Status:    gateway.StatusPending,
		Gateway:   "stripe",
		GatewayID: "pi_1",
		Metadata:  map[string]string{payments.MetadataKeyInvoiceID: "inv-1"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreatePayment(ctx, payment))

	got, err := store.GetPaymentByGatewayID(ctx, "stripe", "pi_1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(payment.Amount))
	assert.Equal(t, payment.Metadata, got.Metadata)

	won, err := store.UpdatePaymentStatus(ctx, "pay-1",
		[]gateway.PaymentStatus{gateway.StatusPending, gateway.StatusProcessing},
		gateway.StatusCompleted, []byte(`{"id":"pi_1"}`))
	require.NoError(t, err)
	assert.True(t, won)

	// a second settlement attempt loses the guard
	won, err = store.UpdatePaymentStatus(ctx, "pay-1",
		[]gateway.PaymentStatus{gateway.StatusPending, gateway.StatusProcessing},
		gateway.StatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, won)

	got, err = store.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"id":"pi_1"}`, string(got.GatewayResponse))
}

func TestInvoiceGuardsIntegration(t *testing.T) {
	db := setupPostgresTestDB(t)
	store := NewStore(&ConnectionManager{primary: db})
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	invoice := &payments.Invoice{
		ID:        "inv-1",
		TenantID:  "t1",
		Total:     decimal.RequireFromString("10.00"),
		Currency:  "USD",
		Status:    payments.InvoiceOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateInvoice(ctx, invoice))

	first, err := store.MarkInvoicePaid(ctx, "inv-1", now)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.MarkInvoicePaid(ctx, "inv-1", now)
	require.NoError(t, err)
	assert.False(t, second)

	// a late failure report never regresses a paid invoice
	changed, err := store.MarkInvoiceFailed(ctx, "inv-1")
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := store.GetInvoice(ctx, "t1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, payments.InvoicePaid, got.Status)
	require.NotNil(t, got.PaidAt)
}

func TestGatewayConfigUpsertIntegration(t *testing.T) {
	db := setupPostgresTestDB(t)
	store := NewConfigStore(&ConnectionManager{primary: db})
	ctx := context.Background()

	cfg := &gateway.Configuration{
		TenantID:            "t1",
		GatewayName:         "stripe",
		DisplayName:         "Stripe (EU)",
		IsActive:            true,
		Priority:            10,
		SupportedCurrencies: []string{"USD", "EUR"},
		Credentials: gateway.Credentials{
			Stripe: &gateway.StripeCredentials{APIKey: "sk_test_abc", WebhookSecret: "whsec_abc"},
		},
	}
	require.NoError(t, store.UpsertConfiguration(ctx, cfg))
	firstID := cfg.ID
	assert.NotZero(t, firstID)

	cfg.Priority = 20
	cfg.Credentials.Stripe.APIKey = "sk_test_rotated"
	require.NoError(t, store.UpsertConfiguration(ctx, cfg))
	assert.Equal(t, firstID, cfg.ID, "upsert must not create a second row")

	got, err := store.GetConfiguration(ctx, "t1", "stripe")
	require.NoError(t, err)
	assert.Equal(t, 20, got.Priority)
	assert.Equal(t, "sk_test_rotated", got.Credentials.Stripe.APIKey)
	assert.Equal(t, []string{"USD", "EUR"}, got.SupportedCurrencies)

	_, err = store.GetConfiguration(ctx, "t1", "adyen")
	assert.ErrorIs(t, err, gateway.ErrConfigNotFound)
}

func TestWebhookLedgerIntegration(t *testing.T) {
	db := setupPostgresTestDB(t)
	ledger := NewLedgerDedup(db)
	ctx := context.Background()

	first, err := ledger.MarkProcessed(ctx, "t1/stripe", "evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	dup, err := ledger.MarkProcessed(ctx, "t1/stripe", "evt_1")
	require.NoError(t, err)
	assert.False(t, dup)
}
