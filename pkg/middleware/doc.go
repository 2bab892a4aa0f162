// Package middleware provides HTTP middleware for rate limiting.
//
// # Overview
//
// This package implements per-tenant request throttling for the billing API
// and its webhook endpoints, in two flavors: an in-memory token bucket for
// single-instance deployments and a Redis-backed counter shared across
// replicas.
//
// # Keying
//
// Requests are bucketed by what they are:
//
//   - Tenant API routes are keyed by tenant ID, so one noisy tenant cannot
//     starve another.
//   - Webhook routes are keyed by tenant and gateway, because each provider
//     retries its own endpoint independently.
//   - Everything else is keyed by client IP.
//
// # Usage
//
// Single instance:
//
//	rl := middleware.NewRateLimitMiddleware()
//	router.Use(rl.Handler)
//
// Multiple replicas behind a load balancer:
//
//	rl := middleware.NewDistributedRateLimitMiddleware(redisClient)
//	router.Use(rl.Handler)
//
// The distributed limiter fails open on Redis errors so a cache outage
// degrades throttling, not payments.
//
// # Response Headers
//
// Both limiters set X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset; a throttled request gets 429 with Retry-After.
//
// # Related Packages
//
//   - pkg/api: Installs this middleware on its router
//   - pkg/storage/redisstore: Shares the Redis deployment
package middleware
