package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS gateway_configurations (
		id BIGSERIAL PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		gateway_name TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		priority INTEGER NOT NULL DEFAULT 0,
		supported_currencies TEXT NOT NULL DEFAULT '',
		supported_countries TEXT NOT NULL DEFAULT '',
		credentials JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, gateway_name)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		gateway TEXT NOT NULL,
		gateway_id TEXT NOT NULL DEFAULT '',
		gateway_response BYTEA,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE payments ADD COLUMN IF NOT EXISTS metadata JSONB`,
	`CREATE INDEX IF NOT EXISTS idx_payments_tenant ON payments (tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_gateway_intent ON payments (gateway, gateway_id)`,
	`CREATE TABLE IF NOT EXISTS payment_attempts (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL DEFAULT '',
		invoice_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		gateway_name TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		gateway_response BYTEA,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_invoice_gateway ON payment_attempts (invoice_id, gateway_name)`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		subscription_id TEXT NOT NULL DEFAULT '',
		total NUMERIC(18,2) NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		period_start TIMESTAMPTZ,
		period_end TIMESTAMPTZ,
		paid_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_subscription ON invoices (subscription_id, period_start)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		status TEXT NOT NULL,
		billing_interval TEXT NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		currency TEXT NOT NULL,
		current_period_start TIMESTAMPTZ NOT NULL,
		current_period_end TIMESTAMPTZ NOT NULL,
		next_billing_date TIMESTAMPTZ NOT NULL,
		failed_payment_attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_due ON subscriptions (status, next_billing_date)`,
	`CREATE TABLE IF NOT EXISTS webhook_ledger (
		provider TEXT NOT NULL,
		event_id TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (provider, event_id)
	)`,
}

// Migrate applies the schema. Statements are idempotent so re-running on
// startup is safe.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
