package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/nimbushost/billing/pkg/audit"
	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/httputil"
	"github.com/nimbushost/billing/pkg/observability"
	"github.com/nimbushost/billing/pkg/payments"
)

// createPaymentRequest is the body of POST /tenants/{tenant_id}/payments.
type createPaymentRequest struct {
	InvoiceID      string            `json:"invoice_id"`
	PaymentMethod  string            `json:"payment_method,omitempty"`
	BillingCountry string            `json:"billing_country,omitempty"`
	ReturnURL      string            `json:"return_url,omitempty"`
	CancelURL      string            `json:"cancel_url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type paymentResponse struct {
	Payment        *payments.Payment     `json:"payment"`
	Status         gateway.PaymentStatus `json:"status"`
	ClientSecret   string                `json:"client_secret,omitempty"`
	RequiresAction bool                  `json:"requires_action,omitempty"`
	NextActionURL  string                `json:"next_action_url,omitempty"`
}

func (s *Server) createPayment(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]

	var req createPaymentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.InvoiceID == "" {
		httputil.WriteValidationError(w, "invoice_id is required")
		return
	}

	method := gateway.PaymentMethodCard
	if req.PaymentMethod != "" {
		method = gateway.PaymentMethodType(req.PaymentMethod)
	}

	result, err := s.orchestrator.ProcessPayment(r.Context(), payments.ProcessPaymentParams{
		TenantID:       tenantID,
		InvoiceID:      req.InvoiceID,
		PaymentMethod:  method,
		BillingCountry: req.BillingCountry,
		ReturnURL:      req.ReturnURL,
		CancelURL:      req.CancelURL,
		Metadata:       req.Metadata,
	})
	if err != nil {
		s.writePaymentError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, paymentResponse{
		Payment:        result.Payment,
		Status:         result.Status,
		ClientSecret:   result.ClientSecret,
		RequiresAction: result.RequiresAction,
		NextActionURL:  result.NextActionURL,
	})
}

func (s *Server) getPayment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	payment, err := s.orchestrator.GetPayment(r.Context(), vars["tenant_id"], vars["payment_id"])
	if err != nil {
		s.writePaymentError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, payment)
}

func (s *Server) listPayments(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]

	list, err := s.orchestrator.ListPayments(r.Context(), tenantID)
	if err != nil {
		s.writePaymentError(w, r, err)
		return
	}
	if list == nil {
		list = []*payments.Payment{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"payments": list})
}

func (s *Server) listAttempts(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	attempts, err := s.orchestrator.ListAttempts(r.Context(), vars["tenant_id"], vars["payment_id"])
	if err != nil {
		s.writePaymentError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []*payments.PaymentAttempt{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"attempts": attempts})
}

// confirmPaymentRequest carries the provider intent id the client finished
// authenticating.
type confirmPaymentRequest struct {
	IntentID string `json:"intent_id"`
}

func (s *Server) confirmPayment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req confirmPaymentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.IntentID == "" {
		httputil.WriteValidationError(w, "intent_id is required")
		return
	}

	// ownership check before touching the provider
	if _, err := s.orchestrator.GetPayment(r.Context(), vars["tenant_id"], vars["payment_id"]); err != nil {
		s.writePaymentError(w, r, err)
		return
	}

	result, err := s.orchestrator.ConfirmPayment(r.Context(), vars["payment_id"], req.IntentID)
	if err != nil {
		s.writePaymentError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, paymentResponse{
		Status:         result.Status,
		RequiresAction: result.RequiresAction,
		NextActionURL:  result.NextActionURL,
	})
}

// refundPaymentRequest is the body of the refund endpoint. A zero or absent
// amount refunds the full charge.
type refundPaymentRequest struct {
	Amount string `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) refundPayment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req refundPaymentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	amount := decimal.Zero
	if req.Amount != "" {
		parsed, err := decimal.NewFromString(req.Amount)
		if err != nil {
			httputil.WriteValidationError(w, "invalid amount")
			return
		}
		amount = parsed
	}

	refund, err := s.orchestrator.ProcessRefund(r.Context(), vars["tenant_id"], vars["payment_id"], amount, req.Reason)
	if err != nil {
		event := audit.NewEvent(r.Context(), r, audit.EventTypePaymentRefund, audit.EventStatusFailure)
		event.ResourceType = audit.ResourceTypePayment
		event.ResourceID = vars["payment_id"]
		event.ErrorMessage = err.Error()
		s.recordAudit(r, event)

		s.writePaymentError(w, r, err)
		return
	}

	event := audit.NewEvent(r.Context(), r, audit.EventTypePaymentRefund, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypePayment
	event.ResourceID = vars["payment_id"]
	event.Metadata = map[string]interface{}{
		"amount": amount.String(),
		"reason": req.Reason,
	}
	s.recordAudit(r, event)

	httputil.WriteSuccess(w, refund)
}

// writePaymentError maps domain errors to HTTP status codes.
func (s *Server) writePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.FromContext(r.Context())

	switch {
	case errors.Is(err, payments.ErrPaymentNotFound),
		errors.Is(err, payments.ErrInvoiceNotFound),
		errors.Is(err, payments.ErrSubscriptionNotFound),
		errors.Is(err, gateway.ErrConfigNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, payments.ErrAlreadyPaid),
		errors.Is(err, payments.ErrNotRefundable),
		errors.Is(err, payments.ErrReconciliationConflict):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, gateway.ErrNoGatewayAvailable):
		httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, gateway.ErrUnknownGateway):
		httputil.WriteBadRequest(w, err.Error())
	default:
		var provErr *gateway.ProviderError
		if errors.As(err, &provErr) {
			logger.WithError(err).WithField("gateway", provErr.Gateway).Warn("Provider call failed")
			httputil.WriteErrorMessage(w, http.StatusBadGateway, err.Error())
			return
		}
		logger.WithError(err).Error("Payment operation failed")
		httputil.WriteInternalError(w, err)
	}
}
