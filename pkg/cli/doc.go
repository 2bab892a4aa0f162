// Package cli provides the billing-admin command-line interface.
//
// # Overview
//
// This package implements the `billing-admin` tool operators use to manage
// per-tenant gateway configurations and inspect payments from the terminal.
// Every command talks to the billing API over HTTP; nothing reaches into the
// database directly.
//
// # Commands
//
// gateways list: Show a tenant's configured gateways
//
//	billing-admin gateways list --tenant tenant-1
//
// gateways configure: Create or update a gateway configuration
//
//	billing-admin gateways configure \
//		--tenant tenant-1 \
//		--gateway stripe \
//		--credentials-file ./stripe-creds.json \
//		--default \
//		--currencies USD,EUR
//
// Credentials are read from a JSON file so secret keys never appear in
// shell history or process listings:
//
//	{"stripe": {"api_key": "sk_live_...", "webhook_secret": "whsec_..."}}
//
// gateways test: Verify credentials against the provider
//
//	billing-admin gateways test \
//		--tenant tenant-1 \
//		--gateway stripe \
//		--credentials-file ./stripe-creds.json
//
// payments list: List a tenant's payments
//
//	billing-admin payments list --tenant tenant-1
//
// payments get: Show one payment in full
//
//	billing-admin payments get --tenant tenant-1 --payment pay-123
//
// payments attempts: Show the attempt history for a payment
//
//	billing-admin payments attempts --tenant tenant-1 --payment pay-123
//
// payments refund: Refund a completed payment
//
//	billing-admin payments refund \
//		--tenant tenant-1 \
//		--payment pay-123 \
//		--amount 10.00 \
//		--reason "customer request"
//
// # Configuration
//
// API URL:
//
//	export BILLING_API_URL="https://billing.example.com"
//	# Or use --api flag
//
// # Related Packages
//
//   - pkg/api: Serves the HTTP endpoints these commands call
//   - pkg/gateway: Defines the configuration and credential types
package cli
