package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nimbushost/billing/pkg/async"
	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/observability"
)

const (
	defaultRenewalBatch = 100

	// renewalWorkers bounds concurrent provider calls per scan.
	renewalWorkers = 4
)

// RenewalScanner periodically finds active subscriptions whose next billing
// date has arrived, generates a renewal invoice for the upcoming period and
// kicks off payment collection. An existing open invoice for the period
// blocks a second generation, so re-running a scan never double-bills.
type RenewalScanner struct {
	store        Store
	orchestrator *Orchestrator
	logger       *observability.Logger
	cron         *cron.Cron
	schedule     string
	batchSize    int
}

func NewRenewalScanner(store Store, orchestrator *Orchestrator, schedule string, logger *observability.Logger) *RenewalScanner {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if schedule == "" {
		schedule = "@hourly"
	}
	return &RenewalScanner{
		store:        store,
		orchestrator: orchestrator,
		logger:       logger.WithField("component", "renewal_scanner"),
		cron:         cron.New(),
		schedule:     schedule,
		batchSize:    defaultRenewalBatch,
	}
}

// SetBatchSize overrides the per-scan subscription limit.
func (s *RenewalScanner) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// Start schedules the scan and begins running it.
func (s *RenewalScanner) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			s.logger.WithError(err).Error("renewal scan failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule renewal scan: %w", err)
	}
	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).Info("renewal scanner started")
	return nil
}

// Stop halts scheduling and waits for a running scan to finish.
func (s *RenewalScanner) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce performs a single scan. Per-subscription failures are logged and
// skipped; the scan continues with the rest of the batch.
func (s *RenewalScanner) RunOnce(ctx context.Context) error {
	due, err := s.store.ListSubscriptionsDue(ctx, time.Now().UTC(), s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list due subscriptions: %w", err)
	}

	errs := async.Batch(ctx, renewalWorkers, due, func(ctx context.Context, sub *Subscription) error {
		if err := s.renewOne(ctx, sub); err != nil {
			s.logger.WithError(err).WithField("subscription_id", sub.ID).Error("failed to renew subscription")
		}
		return nil
	})
	for _, err := range errs {
		s.logger.WithError(err).Error("renewal batch worker failed")
	}
	return nil
}

func (s *RenewalScanner) renewOne(ctx context.Context, sub *Subscription) error {
	invoice, err := s.store.FindOpenRenewalInvoice(ctx, sub.ID, sub.CurrentPeriodEnd)
	if errors.Is(err, ErrInvoiceNotFound) {
		now := time.Now().UTC()
		invoice = &Invoice{
			ID:             uuid.NewString(),
			TenantID:       sub.TenantID,
			SubscriptionID: sub.ID,
			Total:          sub.Amount,
			Currency:       sub.Currency,
			Status:         InvoiceOpen,
			PeriodStart:    sub.CurrentPeriodEnd,
			PeriodEnd:      sub.Interval.Next(sub.CurrentPeriodEnd),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.store.CreateInvoice(ctx, invoice); err != nil {
			return fmt.Errorf("failed to create renewal invoice: %w", err)
		}
		s.logger.WithFields(map[string]interface{}{
			"subscription_id": sub.ID,
			"invoice_id":      invoice.ID,
		}).Info("renewal invoice generated")
	} else if err != nil {
		return err
	}

	_, err = s.orchestrator.ProcessPayment(ctx, ProcessPaymentParams{
		TenantID:      sub.TenantID,
		InvoiceID:     invoice.ID,
		PaymentMethod: gateway.PaymentMethodCard,
		Metadata: map[string]string{
			MetadataKeyType: MetadataTypeRenewal,
		},
	})
	if errors.Is(err, ErrAlreadyPaid) || errors.Is(err, gateway.ErrNoGatewayAvailable) {
		// Already settled, or the tenant has no usable gateway right now.
		// Either way the next scan re-evaluates.
		s.logger.WithError(err).WithField("subscription_id", sub.ID).Warn("renewal payment skipped")
		return nil
	}
	return err
}
