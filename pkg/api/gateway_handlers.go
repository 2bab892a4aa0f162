package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nimbushost/billing/pkg/audit"
	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/httputil"
	"github.com/nimbushost/billing/pkg/observability"
)

// gatewayConfigRequest is the body of PUT /tenants/{tenant_id}/gateways/{gateway_name}.
// Credentials are accepted on write but never echoed back.
type gatewayConfigRequest struct {
	DisplayName         string              `json:"display_name,omitempty"`
	IsActive            bool                `json:"is_active"`
	IsDefault           bool                `json:"is_default"`
	Priority            int                 `json:"priority"`
	SupportedCurrencies []string            `json:"supported_currencies,omitempty"`
	SupportedCountries  []string            `json:"supported_countries,omitempty"`
	Credentials         gateway.Credentials `json:"credentials"`
}

func (req *gatewayConfigRequest) toConfiguration(tenantID, gatewayName string) *gateway.Configuration {
	return &gateway.Configuration{
		TenantID:            tenantID,
		GatewayName:         gatewayName,
		DisplayName:         req.DisplayName,
		IsActive:            req.IsActive,
		IsDefault:           req.IsDefault,
		Priority:            req.Priority,
		SupportedCurrencies: req.SupportedCurrencies,
		SupportedCountries:  req.SupportedCountries,
		Credentials:         req.Credentials,
	}
}

func (s *Server) configureGateway(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req gatewayConfigRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	cfg := req.toConfiguration(vars["tenant_id"], vars["gateway_name"])
	if err := s.manager.ConfigureGateway(r.Context(), cfg); err != nil {
		event := audit.NewEvent(r.Context(), r, audit.EventTypeGatewayConfigure, audit.EventStatusFailure)
		event.ResourceType = audit.ResourceTypeGateway
		event.ResourceID = cfg.GatewayName
		event.ErrorMessage = err.Error()
		s.recordAudit(r, event)

		s.writeGatewayError(w, r, err)
		return
	}

	event := audit.NewEvent(r.Context(), r, audit.EventTypeGatewayConfigure, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeGateway
	event.ResourceID = cfg.GatewayName
	event.Metadata = map[string]interface{}{
		"is_active":  cfg.IsActive,
		"is_default": cfg.IsDefault,
		"priority":   cfg.Priority,
	}
	s.recordAudit(r, event)

	httputil.WriteSuccess(w, cfg.Redacted())
}

func (s *Server) testGatewayConfig(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req gatewayConfigRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	cfg := req.toConfiguration(vars["tenant_id"], vars["gateway_name"])
	result, err := s.manager.TestConfiguration(r.Context(), cfg)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	status := audit.EventStatusSuccess
	if !result.Healthy {
		status = audit.EventStatusFailure
	}
	event := audit.NewEvent(r.Context(), r, audit.EventTypeGatewayTest, status)
	event.ResourceType = audit.ResourceTypeGateway
	event.ResourceID = cfg.GatewayName
	event.Message = result.Status
	s.recordAudit(r, event)

	httputil.WriteSuccess(w, result)
}

// gatewayHealth runs the adapter health check against the tenant's stored
// configuration.
func (s *Server) gatewayHealth(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	adapter, _, err := s.manager.AdapterFor(r.Context(), vars["tenant_id"], vars["gateway_name"])
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	result, err := adapter.HealthCheck(r.Context())
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (s *Server) listGatewayConfigs(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]

	configs, err := s.manager.ListConfigurations(r.Context(), tenantID)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	if configs == nil {
		configs = []*gateway.Configuration{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"gateways": configs})
}

func (s *Server) listRegisteredGateways(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{"gateways": s.manager.RegisteredGateways()})
}

func (s *Server) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.FromContext(r.Context())

	var cfgErr *gateway.ConfigurationError
	switch {
	case errors.Is(err, gateway.ErrConfigNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, gateway.ErrUnknownGateway):
		httputil.WriteBadRequest(w, err.Error())
	case errors.As(err, &cfgErr):
		httputil.WriteValidationError(w, err.Error())
	default:
		var provErr *gateway.ProviderError
		if errors.As(err, &provErr) {
			httputil.WriteErrorMessage(w, http.StatusBadGateway, err.Error())
			return
		}
		logger.WithError(err).Error("Gateway configuration operation failed")
		httputil.WriteInternalError(w, err)
	}
}
