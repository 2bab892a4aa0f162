package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNoGatewayAvailable is returned when no active configuration for the
	// tenant supports the payment context. Recoverable: the caller can retry
	// with a different currency or payment method.
	ErrNoGatewayAvailable = errors.New("no gateway available for payment context")

	// ErrInvalidSignature is returned when a webhook signature does not
	// verify. Security-relevant: the payload must not be processed.
	ErrInvalidSignature = errors.New("webhook signature verification failed")

	// ErrUnknownGateway is returned when no factory is registered for the
	// requested provider name.
	ErrUnknownGateway = errors.New("unknown gateway")

	// ErrConfigNotFound is returned when a tenant has no stored
	// configuration for the requested gateway.
	ErrConfigNotFound = errors.New("gateway configuration not found")
)

// ConfigurationError indicates missing or invalid gateway credentials.
// Fatal to the operation; surfaced to the tenant admin.
type ConfigurationError struct {
	Gateway string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("gateway %s: invalid configuration: %s", e.Gateway, e.Reason)
}

// ProviderError wraps an upstream provider failure with the gateway name
// and the operation that failed. Never auto-retried within the core; the
// caller decides retry policy.
type ProviderError struct {
	Gateway string
	Op      string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gateway %s: %s: %v", e.Gateway, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapProviderErr wraps err with gateway and operation context, preserving
// the original error for errors.Is/As.
func WrapProviderErr(gatewayName, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Gateway: gatewayName, Op: op, Err: err}
}
