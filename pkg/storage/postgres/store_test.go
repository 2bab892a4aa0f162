package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/payments"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(&ConnectionManager{primary: db}), mock
}

func TestUpdatePaymentStatusCASWins(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments")).
		WithArgs("completed", "pay-1", "pending", "processing", []byte(`{"id":"pi_1"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := store.UpdatePaymentStatus(context.Background(), "pay-1",
		[]gateway.PaymentStatus{gateway.StatusPending, gateway.StatusProcessing},
		gateway.StatusCompleted, []byte(`{"id":"pi_1"}`))
	require.NoError(t, err)
	assert.True(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePaymentStatusCASLosesWhenGuardFails(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments")).
		WithArgs("completed", "pay-1", "pending", "processing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := store.UpdatePaymentStatus(context.Background(), "pay-1",
		[]gateway.PaymentStatus{gateway.StatusPending, gateway.StatusProcessing},
		gateway.StatusCompleted, nil)
	require.NoError(t, err)
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkInvoicePaidOnlyOnce(t *testing.T) {
	store, mock := newMockStore(t)
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices")).
		WithArgs("paid", paidAt, "inv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices")).
		WithArgs("paid", paidAt, "inv-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := store.MarkInvoicePaid(context.Background(), "inv-1", paidAt)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.MarkInvoicePaid(context.Background(), "inv-1", paidAt)
	require.NoError(t, err)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkInvoiceFailedSkipsPaidInvoice(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices")).
		WithArgs("failed", "inv-1", "paid").
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := store.MarkInvoiceFailed(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPaymentNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetPayment(context.Background(), "missing")
	assert.ErrorIs(t, err, payments.ErrPaymentNotFound)
}

func TestGetPaymentScansDecimalAmount(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "invoice_id", "amount", "currency", "status",
		"gateway", "gateway_id", "gateway_response", "metadata", "created_at", "updated_at",
	}).AddRow("pay-1", "t1", "inv-1", "49.99", "USD", "completed",
		"stripe", "pi_1", []byte(nil), []byte(`{"type":"subscription_renewal"}`), now, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("pay-1").
		WillReturnRows(rows)

	p, err := store.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("49.99")))
	assert.Equal(t, gateway.StatusCompleted, p.Status)
	assert.Equal(t, payments.MetadataTypeRenewal, p.Metadata[payments.MetadataKeyType])
}

func TestNextAttemptNumberStartsAtOne(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(MAX(attempt_number), 0) + 1")).
		WithArgs("inv-1", "stripe").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(1))

	next, err := store.NextAttemptNumber(context.Background(), "inv-1", "stripe")
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestListSubscriptionsDueFiltersByStatusAndCutoff(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "plan_id", "status", "billing_interval", "amount",
		"currency", "current_period_start", "current_period_end",
		"next_billing_date", "failed_payment_attempts", "created_at", "updated_at",
	}).AddRow("sub-1", "t1", "plan-pro", "active", "monthly", "49.99",
		"USD", now.AddDate(0, -1, 0), now, now, 0, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
		WithArgs("active", cutoff, 100).
		WillReturnRows(rows)

	due, err := store.ListSubscriptionsDue(context.Background(), cutoff, 100)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "sub-1", due[0].ID)
	assert.Equal(t, payments.IntervalMonthly, due[0].Interval)
}

func TestIncrementFailedAttemptsUnknownSubscription(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("failed_payment_attempts + 1")).
		WithArgs("sub-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.IncrementFailedAttempts(context.Background(), "sub-missing")
	assert.ErrorIs(t, err, payments.ErrSubscriptionNotFound)
}
