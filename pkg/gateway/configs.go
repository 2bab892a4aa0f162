package gateway

import (
	"context"
	"fmt"
	"time"
)

// StripeCredentials holds the secret material for one tenant's Stripe
// account. Never logged in plaintext.
type StripeCredentials struct {
	APIKey         string `json:"api_key" yaml:"api_key"`
	WebhookSecret  string `json:"webhook_secret" yaml:"webhook_secret"`
	PublishableKey string `json:"publishable_key,omitempty" yaml:"publishable_key"`
	APIBase        string `json:"api_base,omitempty" yaml:"api_base"`
}

// Credentials is a tagged union of per-provider credential bundles. Exactly
// one member is set, matching the configuration's gateway name; Validate
// enforces this at the configuration boundary instead of scattering
// optional-field access through the adapters.
type Credentials struct {
	Stripe *StripeCredentials `json:"stripe,omitempty" yaml:"stripe,omitempty"`
}

// Validate checks that the credentials carry exactly the bundle the named
// gateway requires.
func (c Credentials) Validate(gatewayName string) error {
	switch gatewayName {
	case "stripe":
		if c.Stripe == nil {
			return &ConfigurationError{Gateway: gatewayName, Reason: "stripe credentials missing"}
		}
		if c.Stripe.APIKey == "" {
			return &ConfigurationError{Gateway: gatewayName, Reason: "api_key is required"}
		}
		if c.Stripe.WebhookSecret == "" {
			return &ConfigurationError{Gateway: gatewayName, Reason: "webhook_secret is required"}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownGateway, gatewayName)
	}
}

// WebhookSecret returns the webhook signing secret for the named gateway,
// or empty when none is configured.
func (c Credentials) WebhookSecret(gatewayName string) string {
	if gatewayName == "stripe" && c.Stripe != nil {
		return c.Stripe.WebhookSecret
	}
	return ""
}

// Configuration is one tenant's configuration of one gateway. Owned by the
// tenant and mutated only through the Manager's administrative operations.
type Configuration struct {
	ID                  int64       `json:"id"`
	TenantID            string      `json:"tenant_id"`
	GatewayName         string      `json:"gateway_name"`
	DisplayName         string      `json:"display_name,omitempty"`
	IsActive            bool        `json:"is_active"`
	IsDefault           bool        `json:"is_default"`
	Priority            int         `json:"priority"`
	SupportedCurrencies []string    `json:"supported_currencies,omitempty"`
	SupportedCountries  []string    `json:"supported_countries,omitempty"`
	Credentials         Credentials `json:"-"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// Redacted returns a copy safe for listing and logging: all secret material
// is stripped.
func (c *Configuration) Redacted() *Configuration {
	out := *c
	out.Credentials = Credentials{}
	return &out
}

// supportsCurrency checks the configuration-level currency allowlist; an
// empty list defers to the adapter template.
func (c *Configuration) supportsCurrency(currency string) bool {
	if len(c.SupportedCurrencies) == 0 {
		return true
	}
	return containsFold(c.SupportedCurrencies, currency)
}

func (c *Configuration) supportsCountry(country string) bool {
	if country == "" || len(c.SupportedCountries) == 0 {
		return true
	}
	return containsFold(c.SupportedCountries, country)
}

// ConfigStore persists per-tenant gateway configurations. List results are
// ordered by insertion (id ascending) so selection tie-breaking is stable.
type ConfigStore interface {
	ListConfigurations(ctx context.Context, tenantID string) ([]*Configuration, error)
	GetConfiguration(ctx context.Context, tenantID, gatewayName string) (*Configuration, error)
	UpsertConfiguration(ctx context.Context, cfg *Configuration) error
}
