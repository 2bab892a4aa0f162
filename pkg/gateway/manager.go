package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nimbushost/billing/pkg/observability"
)

const configCacheSize = 1024

// Manager owns the registry of gateway factories and the per-tenant
// configuration store, and selects the best configured gateway for a
// payment context.
type Manager struct {
	mu        sync.RWMutex
	factories map[string]Factory

	store  ConfigStore
	cache  *lru.Cache[string, []*Configuration]
	logger *observability.Logger
}

// NewManager creates a gateway manager backed by the given configuration
// store.
func NewManager(store ConfigStore, logger *observability.Logger) (*Manager, error) {
	cache, err := lru.New[string, []*Configuration](configCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create config cache: %w", err)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Manager{
		factories: make(map[string]Factory),
		store:     store,
		cache:     cache,
		logger:    logger.WithField("component", "gateway_manager"),
	}, nil
}

// Register adds a gateway factory to the registry. Registering the same
// name twice is an error so a misconfigured deployment fails at startup.
func (m *Manager) Register(f Factory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := strings.ToLower(f.Name())
	if _, exists := m.factories[name]; exists {
		return fmt.Errorf("gateway factory %q already registered", name)
	}
	m.factories[name] = f
	return nil
}

// RegisteredGateways returns the names of all registered providers, sorted.
func (m *Manager) RegisteredGateways() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) factory(name string) (Factory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, name)
	}
	return f, nil
}

// newAdapter builds a fresh adapter instance bound to the given tenant
// configuration. A new instance per call keeps tenant credentials out of
// any shared state.
func (m *Manager) newAdapter(cfg *Configuration) (Adapter, error) {
	f, err := m.factory(cfg.GatewayName)
	if err != nil {
		return nil, err
	}
	adapter := f.New()
	if err := adapter.Initialize(cfg.Credentials); err != nil {
		return nil, fmt.Errorf("failed to initialize gateway %s: %w", cfg.GatewayName, err)
	}
	return adapter, nil
}

// tenantConfigurations returns the tenant's stored configurations, serving
// from the LRU cache when possible. Results keep store order (insertion
// order) so tie-breaking stays deterministic.
func (m *Manager) tenantConfigurations(ctx context.Context, tenantID string) ([]*Configuration, error) {
	if cached, ok := m.cache.Get(tenantID); ok {
		return cached, nil
	}

	configs, err := m.store.ListConfigurations(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateway configurations: %w", err)
	}
	m.cache.Add(tenantID, configs)
	return configs, nil
}

// InvalidateTenant drops the tenant's cached configurations. Called after
// any configuration mutation.
func (m *Manager) InvalidateTenant(tenantID string) {
	m.cache.Remove(tenantID)
}

// SelectGateway picks the gateway to use for one payment. It filters the
// tenant's active configurations down to those supporting the payment's
// currency and billing country, then picks the highest priority; ties go to
// the tenant's default configuration, then to the oldest configuration.
// The returned adapter is already initialized with the tenant's credentials.
func (m *Manager) SelectGateway(ctx context.Context, pc PaymentContext) (Adapter, *Configuration, error) {
	configs, err := m.tenantConfigurations(ctx, pc.TenantID)
	if err != nil {
		return nil, nil, err
	}

	var candidates []*Configuration
	for _, cfg := range configs {
		if !cfg.IsActive {
			continue
		}
		f, err := m.factory(cfg.GatewayName)
		if err != nil {
			m.logger.WithField("gateway", cfg.GatewayName).Warn("skipping configuration for unregistered gateway")
			continue
		}
		template := f.New()
		if !m.supportsContext(template, cfg, pc) {
			continue
		}
		candidates = append(candidates, cfg)
	}

	if len(candidates) == 0 {
		return nil, nil, ErrNoGatewayAvailable
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		return a.ID < b.ID
	})

	selected := candidates[0]
	adapter, err := m.newAdapter(selected)
	if err != nil {
		return nil, nil, err
	}

	m.logger.WithFields(map[string]interface{}{
		"tenant_id": pc.TenantID,
		"gateway":   selected.GatewayName,
		"currency":  pc.Currency,
	}).Debug("selected gateway for payment")

	return adapter, selected, nil
}

// supportsContext checks both the adapter template's static capabilities
// and the configuration-level allowlists against the payment context.
func (m *Manager) supportsContext(template Adapter, cfg *Configuration, pc PaymentContext) bool {
	if !containsFold(template.SupportedCurrencies(), pc.Currency) {
		return false
	}
	if pc.BillingCountry != "" {
		countries := template.SupportedCountries()
		if len(countries) > 0 && !containsFold(countries, pc.BillingCountry) {
			return false
		}
	}
	if !cfg.supportsCurrency(pc.Currency) || !cfg.supportsCountry(pc.BillingCountry) {
		return false
	}
	if pc.PaymentMethod != "" {
		caps := template.Capabilities()
		if len(caps.PaymentMethods) > 0 && !containsMethod(caps.PaymentMethods, pc.PaymentMethod) {
			return false
		}
	}
	return true
}

// AdapterFor returns an initialized adapter for the tenant's configuration
// of the named gateway, bypassing selection. Used by webhook handling and
// refunds, where the gateway is already known.
func (m *Manager) AdapterFor(ctx context.Context, tenantID, gatewayName string) (Adapter, *Configuration, error) {
	cfg, err := m.configurationFor(ctx, tenantID, gatewayName)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := m.newAdapter(cfg)
	if err != nil {
		return nil, nil, err
	}
	return adapter, cfg, nil
}

// ConfigurationFor returns the tenant's stored configuration for the named
// gateway, unredacted. Callers exposing it over an API must call Redacted.
func (m *Manager) ConfigurationFor(ctx context.Context, tenantID, gatewayName string) (*Configuration, error) {
	return m.configurationFor(ctx, tenantID, gatewayName)
}

func (m *Manager) configurationFor(ctx context.Context, tenantID, gatewayName string) (*Configuration, error) {
	configs, err := m.tenantConfigurations(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(gatewayName)
	for _, cfg := range configs {
		if strings.ToLower(cfg.GatewayName) == name {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("%w: tenant %s gateway %s", ErrConfigNotFound, tenantID, gatewayName)
}

// ListConfigurations returns the tenant's configurations with credentials
// redacted, in insertion order.
func (m *Manager) ListConfigurations(ctx context.Context, tenantID string) ([]*Configuration, error) {
	configs, err := m.tenantConfigurations(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]*Configuration, len(configs))
	for i, cfg := range configs {
		out[i] = cfg.Redacted()
	}
	return out, nil
}

// ConfigureGateway validates and persists a tenant's gateway configuration.
// Activating a configuration requires a passing health check against the
// provider with the supplied credentials, so broken credentials never go
// live.
func (m *Manager) ConfigureGateway(ctx context.Context, cfg *Configuration) error {
	if cfg.TenantID == "" {
		return &ConfigurationError{Gateway: cfg.GatewayName, Reason: "tenant_id is required"}
	}
	if _, err := m.factory(cfg.GatewayName); err != nil {
		return err
	}
	if err := cfg.Credentials.Validate(cfg.GatewayName); err != nil {
		return err
	}

	if cfg.IsActive {
		result, err := m.TestConfiguration(ctx, cfg)
		if err != nil {
			return err
		}
		if !result.Healthy {
			return &ConfigurationError{Gateway: cfg.GatewayName, Reason: fmt.Sprintf("health check failed: %s", result.Status)}
		}
	}

	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	if err := m.store.UpsertConfiguration(ctx, cfg); err != nil {
		return fmt.Errorf("failed to persist gateway configuration: %w", err)
	}
	m.InvalidateTenant(cfg.TenantID)

	m.logger.WithFields(map[string]interface{}{
		"tenant_id": cfg.TenantID,
		"gateway":   cfg.GatewayName,
		"active":    cfg.IsActive,
	}).Info("gateway configuration updated")

	return nil
}

// TestConfiguration runs a live health check against the provider using the
// configuration's credentials without persisting anything.
func (m *Manager) TestConfiguration(ctx context.Context, cfg *Configuration) (HealthResult, error) {
	adapter, err := m.newAdapter(cfg)
	if err != nil {
		return HealthResult{}, err
	}
	return adapter.HealthCheck(ctx)
}

func containsFold(list []string, target string) bool {
	for _, v := range list {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

func containsMethod(list []PaymentMethodType, target PaymentMethodType) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
