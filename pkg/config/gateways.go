package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/observability"
)

// GatewayBootstrap is the parsed form of the optional gateway seed file.
// Dev and test environments use it to configure gateways without going
// through the administrative API.
type GatewayBootstrap struct {
	Gateways []GatewayEntry `yaml:"gateways"`
}

// GatewayEntry is one tenant's configuration of one gateway in the seed file.
type GatewayEntry struct {
	TenantID            string              `yaml:"tenant_id"`
	Gateway             string              `yaml:"gateway"`
	DisplayName         string              `yaml:"display_name"`
	IsActive            bool                `yaml:"is_active"`
	IsDefault           bool                `yaml:"is_default"`
	Priority            int                 `yaml:"priority"`
	SupportedCurrencies []string            `yaml:"supported_currencies"`
	SupportedCountries  []string            `yaml:"supported_countries"`
	Credentials         gateway.Credentials `yaml:"credentials"`
}

// toConfiguration converts a seed entry to the domain configuration.
func (e *GatewayEntry) toConfiguration() *gateway.Configuration {
	return &gateway.Configuration{
		TenantID:            e.TenantID,
		GatewayName:         e.Gateway,
		DisplayName:         e.DisplayName,
		IsActive:            e.IsActive,
		IsDefault:           e.IsDefault,
		Priority:            e.Priority,
		SupportedCurrencies: e.SupportedCurrencies,
		SupportedCountries:  e.SupportedCountries,
		Credentials:         e.Credentials,
	}
}

// LoadGatewayBootstrap reads and parses the gateway seed file.
func LoadGatewayBootstrap(path string) (*GatewayBootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway bootstrap file: %w", err)
	}

	var bootstrap GatewayBootstrap
	if err := yaml.Unmarshal(data, &bootstrap); err != nil {
		return nil, fmt.Errorf("failed to parse gateway bootstrap file: %w", err)
	}

	for i, entry := range bootstrap.Gateways {
		if entry.TenantID == "" {
			return nil, fmt.Errorf("gateway bootstrap entry %d: tenant_id is required", i)
		}
		if entry.Gateway == "" {
			return nil, fmt.Errorf("gateway bootstrap entry %d: gateway is required", i)
		}
	}

	return &bootstrap, nil
}

// GatewayApplier applies seed-file entries. *gateway.Manager satisfies it.
type GatewayApplier interface {
	ConfigureGateway(ctx context.Context, cfg *gateway.Configuration) error
}

// ApplyGatewayBootstrap pushes every seed entry through the applier. A bad
// entry is logged and skipped so one malformed credential block does not
// block the rest of the file.
func ApplyGatewayBootstrap(ctx context.Context, bootstrap *GatewayBootstrap, applier GatewayApplier, logger *observability.Logger) error {
	var failed int
	for _, entry := range bootstrap.Gateways {
		cfg := entry.toConfiguration()
		if err := applier.ConfigureGateway(ctx, cfg); err != nil {
			failed++
			logger.WithError(err).WithFields(map[string]interface{}{
				"tenant_id": entry.TenantID,
				"gateway":   entry.Gateway,
			}).Error("Failed to apply gateway bootstrap entry")
			continue
		}
		logger.WithFields(map[string]interface{}{
			"tenant_id": entry.TenantID,
			"gateway":   entry.Gateway,
		}).Info("Applied gateway bootstrap entry")
	}
	if failed > 0 {
		return fmt.Errorf("%d gateway bootstrap entries failed to apply", failed)
	}
	return nil
}

// reloadDebounce coalesces the write bursts editors and config reloaders
// produce into a single reload.
const reloadDebounce = 500 * time.Millisecond

// WatchGatewayBootstrap re-applies the seed file whenever it changes on
// disk. It watches the parent directory rather than the file itself so
// atomic rename-into-place updates (the kubelet's configmap refresh) are
// observed. Blocks until ctx is cancelled.
func WatchGatewayBootstrap(ctx context.Context, path string, applier GatewayApplier, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	logger.WithField("path", path).Info("Watching gateway bootstrap file")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			bootstrap, err := LoadGatewayBootstrap(path)
			if err != nil {
				logger.WithError(err).Error("Failed to reload gateway bootstrap file")
				continue
			}
			if err := ApplyGatewayBootstrap(ctx, bootstrap, applier, logger); err != nil {
				logger.WithError(err).Error("Gateway bootstrap reload applied with errors")
				continue
			}
			logger.WithField("entries", len(bootstrap.Gateways)).Info("Reloaded gateway bootstrap file")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Error("Gateway bootstrap watcher error")
		}
	}
}
