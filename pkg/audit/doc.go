// Package audit records administrative and money-moving operations for
// compliance review.
//
// # Overview
//
// Every gateway configuration change, refund and rejected webhook leaves an
// audit event: who (tenant, request id, client IP), what (event type,
// resource) and the outcome. Events never contain credential material.
//
// # Sinks
//
// Three Logger implementations:
//
//	dbLogger, _ := audit.NewDBLogger(db)          // PostgreSQL, searchable
//	fileLogger, _ := audit.NewFileLogger(path)    // NDJSON file
//	logger := audit.NewMultiLogger(dbLogger, fileLogger)
//
// # Recording
//
//	event := audit.NewEvent(ctx, r, audit.EventTypeGatewayConfigure, audit.EventStatusSuccess)
//	event.TenantID = tenantID
//	event.ResourceType = audit.ResourceTypeGateway
//	event.ResourceID = "stripe"
//	logger.Log(ctx, event)
//
// # Searching
//
// The database logger implements Searcher:
//
//	events, _ := dbLogger.Search(ctx, audit.SearchFilter{
//		TenantID:   "tenant-1",
//		EventTypes: []audit.EventType{audit.EventTypePaymentRefund},
//		Limit:      50,
//	})
//
// # Related Packages
//
//   - pkg/api: Records events from its handlers
//   - pkg/observability: Supplies the request and tenant ids events carry
package audit
