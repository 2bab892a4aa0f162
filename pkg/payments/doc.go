// Package payments implements the payment lifecycle: the orchestrator that
// drives intent creation, confirmation and refunds; the idempotent webhook
// dispatcher; the reconciliation engine that is the single writer of
// payment, invoice and subscription status; and the renewal scanner.
//
// All status transitions flow through Reconciler.ApplyOutcome, which uses
// compare-and-set updates at the storage layer so concurrent webhook
// deliveries and client-triggered confirms converge on one final state with
// exactly one domain event emission.
package payments
