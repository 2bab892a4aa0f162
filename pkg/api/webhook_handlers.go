package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nimbushost/billing/pkg/audit"
	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/httputil"
	"github.com/nimbushost/billing/pkg/observability"
)

// maxWebhookBody bounds provider payload size. Stripe events are well under
// this.
const maxWebhookBody = 1 << 20

// handleWebhook receives provider event deliveries. The contract with the
// provider is: 2xx acknowledges the delivery (including duplicates, ignored
// event types and conflicts), 400 rejects a bad signature permanently, and
// 5xx asks the provider to redeliver later.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenantID := vars["tenant_id"]
	gatewayName := vars["gateway_name"]
	logger := observability.FromContext(r.Context()).WithField("gateway", gatewayName)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read payload")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Webhook-Signature")
	}

	result, err := s.dispatcher.HandleWebhook(r.Context(), tenantID, gatewayName, payload, signature)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			logger.Warn("Webhook rejected: signature verification failed")

			event := audit.NewEvent(r.Context(), r, audit.EventTypeWebhookReject, audit.EventStatusDenied)
			event.ResourceType = audit.ResourceTypeWebhook
			event.ResourceID = gatewayName
			event.ErrorMessage = "signature verification failed"
			s.recordAudit(r, event)

			httputil.WriteBadRequest(w, "signature verification failed")
			return
		}
		logger.WithError(err).Error("Webhook processing failed")
		httputil.WriteInternalError(w, errors.New("webhook processing failed"))
		return
	}

	response := map[string]interface{}{
		"received": true,
		"event_id": result.EventID,
	}
	if result.Duplicate {
		response["duplicate"] = true
	}
	if result.Message != "" {
		response["message"] = result.Message
	}
	httputil.WriteSuccess(w, response)
}
