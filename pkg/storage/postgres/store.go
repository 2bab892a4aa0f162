package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/payments"
)

// Store is the PostgreSQL implementation of payments.Store.
type Store struct {
	conns *ConnectionManager
}

func NewStore(conns *ConnectionManager) *Store {
	return &Store{conns: conns}
}

func (s *Store) CreatePayment(ctx context.Context, p *payments.Payment) error {
	metadata, err := marshalMetadata(p.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payments (id, tenant_id, invoice_id, amount, currency, status, gateway, gateway_id, gateway_response, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.conns.Primary().ExecContext(ctx, query,
		p.ID, p.TenantID, p.InvoiceID, p.Amount.String(), p.Currency,
		string(p.Status), p.Gateway, p.GatewayID, p.GatewayResponse, metadata,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

const paymentColumns = `id, tenant_id, invoice_id, amount, currency, status, gateway, gateway_id, gateway_response, metadata, created_at, updated_at`

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	out, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment metadata: %w", err)
	}
	return out, nil
}

func scanPayment(row interface{ Scan(...interface{}) error }) (*payments.Payment, error) {
	var p payments.Payment
	var amount string
	var response, metadata []byte
	if err := row.Scan(&p.ID, &p.TenantID, &p.InvoiceID, &amount, &p.Currency,
		&p.Status, &p.Gateway, &p.GatewayID, &response, &metadata, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	total, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid payment amount %q: %w", amount, err)
	}
	p.Amount = total
	p.GatewayResponse = response
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("invalid payment metadata: %w", err)
		}
	}
	return &p, nil
}

func (s *Store) GetPayment(ctx context.Context, paymentID string) (*payments.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(s.conns.Primary().QueryRowContext(ctx, query, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payments.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (s *Store) GetPaymentByGatewayID(ctx context.Context, gatewayName, gatewayID string) (*payments.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway = $1 AND gateway_id = $2`
	p, err := scanPayment(s.conns.Primary().QueryRowContext(ctx, query, gatewayName, gatewayID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payments.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by gateway id: %w", err)
	}
	return p, nil
}

func (s *Store) ListPayments(ctx context.Context, tenantID string) ([]*payments.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := s.conns.Replica().QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []*payments.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

/// UpdatePaymentStatus is the compare-and-set transition: one UPDATE guarded
// by the expected prior statuses, so two racing writers cannot both win.
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID string, from []gateway.PaymentStatus, to gateway.PaymentStatus, gatewayResponse []byte) (bool, error) {
	placeholders := make([]string, len(from))
	args := []interface{}{string(to), paymentID}
	for i, status := range from {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, string(status))
	}

	query := fmt.Sprintf(`
		UPDATE payments
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN (%s)
	`, strings.Join(placeholders, ", "))

	if gatewayResponse != nil {
		query = strings.Replace(query, "updated_at = NOW()", "updated_at = NOW(), gateway_response = $"+fmt.Sprint(len(args)+1), 1)
		args = append(args, gatewayResponse)
	}

	result, err := s.conns.Primary().ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *Store) CreateAttempt(ctx context.Context, a *payments.PaymentAttempt) error {
	query := `
		INSERT INTO payment_attempts (id, payment_id, invoice_id, tenant_id, gateway_name, attempt_number, status, error_message, gateway_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.conns.Primary().ExecContext(ctx, query,
		a.ID, a.PaymentID, a.InvoiceID, a.TenantID, a.GatewayName,
		a.AttemptNumber, string(a.Status), a.ErrorMessage, a.GatewayResponse, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment attempt: %w", err)
	}
	return nil
}

const attemptColumns = `id, payment_id, invoice_id, tenant_id, gateway_name, attempt_number, status, error_message, gateway_response, created_at`

func (s *Store) listAttempts(ctx context.Context, where string, arg interface{}) ([]*payments.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE ` + where + ` ORDER BY created_at ASC`
	rows, err := s.conns.Replica().QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment attempts: %w", err)
	}
	defer rows.Close()

	var out []*payments.PaymentAttempt
	for rows.Next() {
		var a payments.PaymentAttempt
		var response []byte
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.InvoiceID, &a.TenantID, &a.GatewayName,
			&a.AttemptNumber, &a.Status, &a.ErrorMessage, &response, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment attempt: %w", err)
		}
		a.GatewayResponse = response
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) ListAttempts(ctx context.Context, paymentID string) ([]*payments.PaymentAttempt, error) {
	return s.listAttempts(ctx, "payment_id = $1", paymentID)
}

func (s *Store) ListAttemptsByInvoice(ctx context.Context, invoiceID string) ([]*payments.PaymentAttempt, error) {
	return s.listAttempts(ctx, "invoice_id = $1", invoiceID)
}

func (s *Store) NextAttemptNumber(ctx context.Context, invoiceID, gatewayName string) (int, error) {
	query := `SELECT COALESCE(MAX(attempt_number), 0) + 1 FROM payment_attempts WHERE invoice_id = $1 AND gateway_name = $2`
	var next int
	if err := s.conns.Primary().QueryRowContext(ctx, query, invoiceID, gatewayName).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to compute attempt number: %w", err)
	}
	return next, nil
}

func (s *Store) CreateInvoice(ctx context.Context, inv *payments.Invoice) error {
	query := `
		INSERT INTO invoices (id, tenant_id, subscription_id, total, currency, status, period_start, period_end, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.conns.Primary().ExecContext(ctx, query,
		inv.ID, inv.TenantID, inv.SubscriptionID, inv.Total.String(), inv.Currency,
		string(inv.Status), nullTime(inv.PeriodStart), nullTime(inv.PeriodEnd), inv.PaidAt,
		inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

const invoiceColumns = `id, tenant_id, subscription_id, total, currency, status, period_start, period_end, paid_at, created_at, updated_at`

func scanInvoice(row interface{ Scan(...interface{}) error }) (*payments.Invoice, error) {
	var inv payments.Invoice
	var total string
	var periodStart, periodEnd, paidAt sql.NullTime
	if err := row.Scan(&inv.ID, &inv.TenantID, &inv.SubscriptionID, &total, &inv.Currency,
		&inv.Status, &periodStart, &periodEnd, &paidAt, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice total %q: %w", total, err)
	}
	inv.Total = amount
	if periodStart.Valid {
		inv.PeriodStart = periodStart.Time
	}
	if periodEnd.Valid {
		inv.PeriodEnd = periodEnd.Time
	}
	if paidAt.Valid {
		t := paidAt.Time
		inv.PaidAt = &t
	}
	return &inv, nil
}

func (s *Store) GetInvoice(ctx context.Context, tenantID, invoiceID string) (*payments.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 AND tenant_id = $2`
	inv, err := scanInvoice(s.conns.Primary().QueryRowContext(ctx, query, invoiceID, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payments.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

func (s *Store) MarkInvoicePaid(ctx context.Context, invoiceID string, paidAt time.Time) (bool, error) {
	query := `
		UPDATE invoices
		SET status = $1, paid_at = $2, updated_at = NOW()
		WHERE id = $3 AND status <> $1
	`
	result, err := s.conns.Primary().ExecContext(ctx, query, string(payments.InvoicePaid), paidAt, invoiceID)
	if err != nil {
		return false, fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *Store) MarkInvoiceFailed(ctx context.Context, invoiceID string) (bool, error) {
	query := `
		UPDATE invoices
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ($1, $3)
	`
	result, err := s.conns.Primary().ExecContext(ctx, query,
		string(payments.InvoiceFailed), invoiceID, string(payments.InvoicePaid))
	if err != nil {
		return false, fmt.Errorf("failed to mark invoice failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *Store) FindOpenRenewalInvoice(ctx context.Context, subscriptionID string, periodStart time.Time) (*payments.Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + ` FROM invoices
		WHERE subscription_id = $1 AND period_start = $2 AND status IN ($3, $4)
		ORDER BY created_at ASC LIMIT 1
	`
	inv, err := scanInvoice(s.conns.Primary().QueryRowContext(ctx, query,
		subscriptionID, periodStart, string(payments.InvoiceOpen), string(payments.InvoiceDraft)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payments.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find renewal invoice: %w", err)
	}
	return inv, nil
}

const subscriptionColumns = `id, tenant_id, plan_id, status, billing_interval, amount, currency, current_period_start, current_period_end, next_billing_date, failed_payment_attempts, created_at, updated_at`

func scanSubscription(row interface{ Scan(...interface{}) error }) (*payments.Subscription, error) {
	var sub payments.Subscription
	var amount string
	if err := row.Scan(&sub.ID, &sub.TenantID, &sub.PlanID, &sub.Status, &sub.Interval,
		&amount, &sub.Currency, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.NextBillingDate, &sub.FailedPaymentAttempts, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	total, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription amount %q: %w", amount, err)
	}
	sub.Amount = total
	return &sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, subscriptionID string) (*payments.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(s.conns.Primary().QueryRowContext(ctx, query, subscriptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payments.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *payments.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, tenant_id, plan_id, status, billing_interval, amount, currency, current_period_start, current_period_end, next_billing_date, failed_payment_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.conns.Primary().ExecContext(ctx, query,
		sub.ID, sub.TenantID, sub.PlanID, string(sub.Status), string(sub.Interval),
		sub.Amount.String(), sub.Currency, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.NextBillingDate, sub.FailedPaymentAttempts, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *payments.Subscription) error {
	query := `
		UPDATE subscriptions
		SET status = $1, current_period_start = $2, current_period_end = $3,
		    next_billing_date = $4, failed_payment_attempts = $5, updated_at = NOW()
		WHERE id = $6
	`
	result, err := s.conns.Primary().ExecContext(ctx, query,
		string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.NextBillingDate, sub.FailedPaymentAttempts, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return payments.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) IncrementFailedAttempts(ctx context.Context, subscriptionID string) error {
	query := `UPDATE subscriptions SET failed_payment_attempts = failed_payment_attempts + 1, updated_at = NOW() WHERE id = $1`
	result, err := s.conns.Primary().ExecContext(ctx, query, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to increment failed attempts: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return payments.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListSubscriptionsDue(ctx context.Context, cutoff time.Time, limit int) ([]*payments.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE status = $1 AND next_billing_date <= $2
		ORDER BY next_billing_date ASC
		LIMIT $3
	`
	rows, err := s.conns.Primary().QueryContext(ctx, query, string(payments.SubscriptionActive), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*payments.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

var _ payments.Store = (*Store)(nil)
var _ gateway.ConfigStore = (*ConfigStore)(nil)
