// Package gateway defines the canonical payment gateway abstraction: the
// Adapter contract every payment provider implements, the per-tenant
// Configuration records that bind an adapter to one tenant's credentials,
// and the Manager that selects the best configured gateway for a payment
// context.
//
// Adapters are stateless templates constructed by a Factory. Every logical
// operation re-instantiates the adapter and initializes it with the calling
// tenant's configuration, so no adapter instance ever carries one tenant's
// secrets into another tenant's request.
//
// All monetary amounts cross the adapter boundary in the provider's native
// minor-unit representation (cents) and are normalized to decimal major
// units at the canonical boundary. See money.go for the conversion helpers.
package gateway
