// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings, and loads the optional gateway bootstrap
// file used to seed gateway configurations outside the administrative API.
//
// # Configuration Structure
//
// Server settings:
//
//	BILLING_HOST="0.0.0.0"
//	BILLING_PORT="8080"
//	BILLING_HEALTH_PORT="9090"
//	BILLING_READ_TIMEOUT="15s"
//	BILLING_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	BILLING_POSTGRES_URL="postgres://localhost/billing"
//	BILLING_POSTGRES_REPLICA_URLS="postgres://replica1/billing,postgres://replica2/billing"
//	BILLING_POSTGRES_MAX_CONNS="25"
//
// Webhook dedup and archive settings:
//
//	BILLING_REDIS_ENABLED="true"
//	BILLING_REDIS_URL="redis://localhost:6379/0"
//	BILLING_REDIS_DEDUP_TTL="720h"
//	BILLING_ARCHIVE_ENABLED="true"
//	BILLING_ARCHIVE_BUCKET="billing-webhook-archive"
//
// Event bus and renewal settings:
//
//	BILLING_KAFKA_ENABLED="true"
//	BILLING_KAFKA_BROKERS="kafka-0:9092,kafka-1:9092"
//	BILLING_KAFKA_TOPIC="billing-events"
//	BILLING_RENEWAL_SCHEDULE="@hourly"
//	BILLING_RENEWAL_BATCH_SIZE="100"
//
// Observability settings:
//
//	BILLING_LOG_LEVEL="info"  # debug, info, warn, error
//	BILLING_METRICS_ENABLED="true"
//	BILLING_OTEL_ENABLED="true"
//	BILLING_OTEL_ENDPOINT="otel-collector:4317"
//
// # Gateway Bootstrap
//
// When BILLING_GATEWAY_BOOTSTRAP points at a YAML file, its entries are
// applied on startup and re-applied whenever the file changes:
//
//	gateways:
//	  - tenant_id: tenant-1
//	    gateway: stripe
//	    is_active: true
//	    is_default: true
//	    credentials:
//	      stripe:
//	        api_key: sk_test_123
//	        webhook_secret: whsec_123
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Database: %s\n", cfg.Database.URL)
//
// # Related Packages
//
//   - pkg/storage/postgres: Uses database configuration
//   - pkg/gateway: Consumes gateway bootstrap entries
//   - pkg/observability: Uses observability configuration
package config
