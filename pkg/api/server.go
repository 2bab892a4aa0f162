// Package api exposes the payment platform over HTTP: payment operations,
// per-tenant gateway configuration and the provider webhook endpoint.
package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nimbushost/billing/pkg/audit"
	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/httputil"
	"github.com/nimbushost/billing/pkg/observability"
	"github.com/nimbushost/billing/pkg/payments"
)

// webhookMaxBody caps provider webhook payloads. Real provider events are a
// few KB; anything near the cap is garbage or abuse.
const webhookMaxBody = 1 << 20

// Server represents the billing API server
type Server struct {
	router       *mux.Router
	orchestrator *payments.Orchestrator
	dispatcher   *payments.Dispatcher
	manager      *gateway.Manager
	logger       *observability.Logger
	metrics      *observability.Metrics
	auditLog     audit.Logger
}

// NewServer creates a new API server
func NewServer(orchestrator *payments.Orchestrator, dispatcher *payments.Dispatcher, manager *gateway.Manager, logger *observability.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		manager:      manager,
		logger:       logger,
		metrics:      metrics,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestContextMiddleware)
	s.router.Use(mux.MiddlewareFunc(httputil.Recovery))
	if s.metrics != nil {
		s.router.Use(mux.MiddlewareFunc(observability.HTTPMetricsMiddleware(s.metrics)))
	}

	// Payment routes
	s.router.HandleFunc("/api/v1/tenants/{tenant_id}/payments", s.createPayment).Methods("POST")
	s.router.HandleFunc("/api/v1/tenants/{tenant_id}/payments", s.listPayments).Methods("GET")
	s.router.HandleFunc("/api/v1/tenants/{tenant_id}/payments/{payment_id}", s.getPayment).Methods("GET")
	s.router.HandleFunc("/api/v1/tenants/{tenant_id}/payments/{payment_id}/confirm", s.confirmPayment).Methods("POST")
	s.router.HandleFunc("/api/v1/tenants/{tenant_id}/payments/{payment_id}/attempts", s.listAttempts).Methods("GET")
	s.router.HandleFunc("/api/v1/tenants/{tenant_id}/payments/{payment_id}/refund", s.refundPayment).Methods("POST")

	// Gateway configuration routes
	s.router.HandleFunc("/api/v1/tenants/{tenant_id}/gateways", s.listGatewayConfigs).Methods("GET")
	s.router.HandleFunc("/api/v1/tenants/{tenant_id}/gateways/{gateway_name}", s.configureGateway).Methods("PUT")
	s.router.HandleFunc("/api/v1/tenants/{tenant_id}/gateways/{gateway_name}/test", s.testGatewayConfig).Methods("POST")
	s.router.HandleFunc("/api/v1/tenants/{tenant_id}/gateways/{gateway_name}/health", s.gatewayHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/gateways", s.listRegisteredGateways).Methods("GET")

	// Provider webhook endpoint. The tenant is identified by the endpoint
	// path the provider was configured with, never by the payload.
	s.router.Handle("/webhooks/{tenant_id}/{gateway_name}",
		httputil.MaxBytes(webhookMaxBody)(http.HandlerFunc(s.handleWebhook))).Methods("POST")
}

// requestContextMiddleware tags each request with an id and tenant for logs
// and tracing.
func (s *Server) requestContextMiddleware(next http.Handler) http.Handler {
	return otelhttp.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.WithRequestID(r.Context(), uuid.New().String())
		if tenantID := mux.Vars(r)["tenant_id"]; tenantID != "" {
			ctx = observability.WithTenantID(ctx, tenantID)
		}
		ctx = observability.WithLogger(ctx, s.logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	}), "billing-api")
}

// UseRateLimiter installs a throttling middleware on the router. The
// middleware runs after route matching, so it sees tenant and gateway path
// variables.
func (s *Server) UseRateLimiter(limiter func(http.Handler) http.Handler) {
	s.router.Use(mux.MiddlewareFunc(limiter))
}

// EnableAudit records gateway configuration changes, refunds and rejected
// webhooks to the given logger. A non-nil searcher also exposes the per-tenant
// audit query endpoint.
func (s *Server) EnableAudit(logger audit.Logger, searcher audit.Searcher) {
	s.auditLog = logger
	if searcher != nil {
		s.router.HandleFunc("/api/v1/tenants/{tenant_id}/audit", s.listAuditEvents(searcher)).Methods("GET")
	}
}

// recordAudit writes one audit event. Audit failures are logged but never
// fail the request that produced them.
func (s *Server) recordAudit(r *http.Request, event *audit.Event) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to record audit event")
	}
}

// Router returns the configured router for mounting or testing.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
