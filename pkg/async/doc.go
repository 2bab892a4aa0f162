// Package async provides supervised concurrent execution for background work.
//
// # Overview
//
// Two primitives: SafeGo runs a single fire-and-forget task with panic
// recovery, a deadline and error logging; Batch fans a slice of items out to
// a bounded set of workers and collects per-item errors.
//
//	async.SafeGo(ctx, logger, 30*time.Second, "payload archive", func(ctx context.Context) error {
//		return archiver.Archive(ctx, payload)
//	})
//
//	errs := async.Batch(ctx, 4, subscriptions, func(ctx context.Context, sub *Subscription) error {
//		return renew(ctx, sub)
//	})
//
// # Related Packages
//
//   - pkg/payments: Uses Batch to renew due subscriptions concurrently
package async
