package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nimbushost/billing/pkg/payments"
)

// LedgerDedup records processed webhook event ids. The primary key on
// (provider, event_id) makes MarkProcessed atomic: only the first insert
// for a given event wins, every redelivery sees zero rows affected.
type LedgerDedup struct {
	db *sql.DB
}

func NewLedgerDedup(db *sql.DB) *LedgerDedup {
	return &LedgerDedup{db: db}
}

// Seen reports whether the event was already recorded.
func (l *LedgerDedup) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM webhook_ledger WHERE provider = $1 AND event_id = $2)`
	var exists bool
	if err := l.db.QueryRowContext(ctx, query, provider, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return exists, nil
}

// MarkProcessed returns true when this is the first time the event was recorded.
func (l *LedgerDedup) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `INSERT INTO webhook_ledger (provider, event_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	result, err := l.db.ExecContext(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

var _ payments.DedupStore = (*LedgerDedup)(nil)
