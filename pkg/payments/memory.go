package payments

import (
	"context"
	"sync"
	"time"

	"github.com/nimbushost/billing/pkg/gateway"
)

// MemoryStore is an in-memory Store used by tests and single-node
// development mode. Conditional updates hold the store lock for the whole
// read-check-write, giving the same atomicity the SQL stores get from
// guarded UPDATEs.
type MemoryStore struct {
	mu            sync.Mutex
	payments      map[string]*Payment
	attempts      []*PaymentAttempt
	invoices      map[string]*Invoice
	subscriptions map[string]*Subscription
	processed     map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:      make(map[string]*Payment),
		invoices:      make(map[string]*Invoice),
		subscriptions: make(map[string]*Subscription),
		processed:     make(map[string]bool),
	}
}

func (s *MemoryStore) CreatePayment(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *p
	s.payments[p.ID] = &clone
	return nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *MemoryStore) GetPaymentByGatewayID(ctx context.Context, gatewayName, gatewayID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.Gateway == gatewayName && p.GatewayID == gatewayID {
			clone := *p
			return &clone, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *MemoryStore) ListPayments(ctx context.Context, tenantID string) ([]*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Payment
	for _, p := range s.payments {
		if p.TenantID == tenantID {
			clone := *p
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdatePaymentStatus(ctx context.Context, paymentID string, from []gateway.PaymentStatus, to gateway.PaymentStatus, gatewayResponse []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return false, ErrPaymentNotFound
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			if gatewayResponse != nil {
				p.GatewayResponse = gatewayResponse
			}
			p.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CreateAttempt(ctx context.Context, a *PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *a
	s.attempts = append(s.attempts, &clone)
	return nil
}

func (s *MemoryStore) ListAttempts(ctx context.Context, paymentID string) ([]*PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PaymentAttempt
	for _, a := range s.attempts {
		if a.PaymentID == paymentID {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAttemptsByInvoice(ctx context.Context, invoiceID string) ([]*PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PaymentAttempt
	for _, a := range s.attempts {
		if a.InvoiceID == invoiceID {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *MemoryStore) NextAttemptNumber(ctx context.Context, invoiceID, gatewayName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, a := range s.attempts {
		if a.InvoiceID == invoiceID && a.GatewayName == gatewayName && a.AttemptNumber > max {
			max = a.AttemptNumber
		}
	}
	return max + 1, nil
}

func (s *MemoryStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *inv
	s.invoices[inv.ID] = &clone
	return nil
}

func (s *MemoryStore) GetInvoice(ctx context.Context, tenantID, invoiceID string) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[invoiceID]
	if !ok || inv.TenantID != tenantID {
		return nil, ErrInvoiceNotFound
	}
	clone := *inv
	return &clone, nil
}

func (s *MemoryStore) getInvoiceAnyTenant(invoiceID string) (*Invoice, bool) {
	inv, ok := s.invoices[invoiceID]
	return inv, ok
}

func (s *MemoryStore) MarkInvoicePaid(ctx context.Context, invoiceID string, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.getInvoiceAnyTenant(invoiceID)
	if !ok {
		return false, ErrInvoiceNotFound
	}
	if inv.Status == InvoicePaid {
		return false, nil
	}
	inv.Status = InvoicePaid
	inv.PaidAt = &paidAt
	inv.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) MarkInvoiceFailed(ctx context.Context, invoiceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.getInvoiceAnyTenant(invoiceID)
	if !ok {
		return false, ErrInvoiceNotFound
	}
	if inv.Status == InvoicePaid || inv.Status == InvoiceFailed {
		return false, nil
	}
	inv.Status = InvoiceFailed
	inv.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) FindOpenRenewalInvoice(ctx context.Context, subscriptionID string, periodStart time.Time) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invoices {
		if inv.SubscriptionID == subscriptionID && inv.PeriodStart.Equal(periodStart) &&
			(inv.Status == InvoiceOpen || inv.Status == InvoiceDraft) {
			clone := *inv
			return &clone, nil
		}
	}
	return nil, ErrInvoiceNotFound
}

func (s *MemoryStore) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	clone := *sub
	return &clone, nil
}

func (s *MemoryStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *sub
	s.subscriptions[sub.ID] = &clone
	return nil
}

func (s *MemoryStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	clone := *sub
	clone.UpdatedAt = time.Now().UTC()
	s.subscriptions[sub.ID] = &clone
	return nil
}

func (s *MemoryStore) IncrementFailedAttempts(ctx context.Context, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.FailedPaymentAttempts++
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListSubscriptionsDue(ctx context.Context, cutoff time.Time, limit int) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Subscription
	for _, sub := range s.subscriptions {
		if sub.Status == SubscriptionActive && !sub.NextBillingDate.After(cutoff) {
			clone := *sub
			out = append(out, &clone)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Seen implements DedupStore for single-node deployments.
func (s *MemoryStore) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[provider+":"+eventID], nil
}

// MarkProcessed implements DedupStore for single-node deployments.
func (s *MemoryStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := provider + ":" + eventID
	if s.processed[key] {
		return false, nil
	}
	s.processed[key] = true
	return true, nil
}
