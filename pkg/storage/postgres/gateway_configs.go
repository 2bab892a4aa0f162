package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimbushost/billing/pkg/gateway"
)

// ConfigStore persists per-tenant gateway configurations. Credentials are
// stored as a JSONB document and never appear in log output.
type ConfigStore struct {
	conns *ConnectionManager
}

func NewConfigStore(conns *ConnectionManager) *ConfigStore {
	return &ConfigStore{conns: conns}
}

const configColumns = `id, tenant_id, gateway_name, display_name, is_active, is_default, priority, supported_currencies, supported_countries, credentials, created_at, updated_at`

func scanConfiguration(row interface{ Scan(...interface{}) error }) (*gateway.Configuration, error) {
	var cfg gateway.Configuration
	var currencies, countries string
	var credentials []byte
	if err := row.Scan(&cfg.ID, &cfg.TenantID, &cfg.GatewayName, &cfg.DisplayName,
		&cfg.IsActive, &cfg.IsDefault, &cfg.Priority, &currencies, &countries,
		&credentials, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return nil, err
	}
	cfg.SupportedCurrencies = splitList(currencies)
	cfg.SupportedCountries = splitList(countries)
	if err := json.Unmarshal(credentials, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return &cfg, nil
}

// ListConfigurations returns all configurations for a tenant ordered by id,
// so insertion order breaks priority ties deterministically.
func (s *ConfigStore) ListConfigurations(ctx context.Context, tenantID string) ([]*gateway.Configuration, error) {
	query := `SELECT ` + configColumns + ` FROM gateway_configurations WHERE tenant_id = $1 ORDER BY id ASC`
	rows, err := s.conns.Primary().QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateway configurations: %w", err)
	}
	defer rows.Close()

	var out []*gateway.Configuration
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gateway configuration: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *ConfigStore) GetConfiguration(ctx context.Context, tenantID, gatewayName string) (*gateway.Configuration, error) {
	query := `SELECT ` + configColumns + ` FROM gateway_configurations WHERE tenant_id = $1 AND gateway_name = $2`
	cfg, err := scanConfiguration(s.conns.Primary().QueryRowContext(ctx, query, tenantID, gatewayName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gateway.ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gateway configuration: %w", err)
	}
	return cfg, nil
}

func (s *ConfigStore) UpsertConfiguration(ctx context.Context, cfg *gateway.Configuration) error {
	credentials, err := json.Marshal(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	query := `
		INSERT INTO gateway_configurations
			(tenant_id, gateway_name, display_name, is_active, is_default, priority, supported_currencies, supported_countries, credentials, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, gateway_name) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			is_active = EXCLUDED.is_active,
			is_default = EXCLUDED.is_default,
			priority = EXCLUDED.priority,
			supported_currencies = EXCLUDED.supported_currencies,
			supported_countries = EXCLUDED.supported_countries,
			credentials = EXCLUDED.credentials,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	now := time.Now().UTC()
	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	err = s.conns.Primary().QueryRowContext(ctx, query,
		cfg.TenantID, cfg.GatewayName, cfg.DisplayName, cfg.IsActive, cfg.IsDefault,
		cfg.Priority, joinList(cfg.SupportedCurrencies), joinList(cfg.SupportedCountries),
		credentials, createdAt, now,
	).Scan(&cfg.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert gateway configuration: %w", err)
	}
	cfg.UpdatedAt = now
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}
