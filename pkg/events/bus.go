// Package events provides the domain event bus the billing core publishes
// to. Delivery semantics belong to the bus implementation; publishers only
// guarantee that each logical transition publishes at most once.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names emitted by the billing core.
const (
	PaymentSucceeded        = "payment.succeeded"
	PaymentFailed           = "payment.failed"
	SubscriptionActivated   = "subscription.activated"
	SubscriptionRenewed     = "subscription.renewed"
	SubscriptionUnsuspended = "subscription.unsuspended"
)

// Event is a named domain event with a flat string payload.
type Event struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	TenantID   string            `json:"tenant_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Payload    map[string]string `json:"payload,omitempty"`
}

// New builds an event with a fresh id and timestamp.
func New(name, tenantID string, payload map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Name:       name,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Bus publishes domain events to downstream subsystems.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// InMemoryBus is a synchronous in-process bus used in tests and single-node
// deployments.
type InMemoryBus struct {
	mu       sync.Mutex
	events   []Event
	handlers []func(Event)
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{}
}

// Subscribe registers a handler invoked synchronously on every publish.
func (b *InMemoryBus) Subscribe(handler func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

func (b *InMemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	b.events = append(b.events, event)
	handlers := make([]func(Event), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

// Events returns a snapshot of everything published so far.
func (b *InMemoryBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *InMemoryBus) Close() error { return nil }
