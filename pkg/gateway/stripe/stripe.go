// Package stripe implements the Stripe payment gateway adapter. It talks to
// the Stripe REST API directly with form-encoded requests and verifies
// webhook signatures using Stripe's t=/v1= HMAC-SHA256 scheme.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nimbushost/billing/pkg/gateway"
)

const (
	defaultAPIBase = "https://api.stripe.com"
	requestTimeout = 10 * time.Second
)

// Factory constructs Stripe adapters for the gateway manager.
type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Name() string { return "stripe" }

func (f *Factory) New() gateway.Adapter {
	return &Adapter{
		client:  &http.Client{Timeout: requestTimeout},
		apiBase: defaultAPIBase,
	}
}

// Adapter is the Stripe implementation of gateway.Adapter. A fresh instance
// is created and initialized per logical operation; it never outlives one
// tenant's request.
type Adapter struct {
	client  *http.Client
	apiBase string

	apiKey        string
	webhookSecret string
}

func (a *Adapter) Name() string { return "stripe" }

func (a *Adapter) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{
		CreateIntent:  true,
		Confirm:       true,
		Capture:       true,
		Refund:        true,
		WebhookVerify: true,
		PaymentMethods: []gateway.PaymentMethodType{
			gateway.PaymentMethodCard,
			gateway.PaymentMethodWallet,
		},
	}
}

func (a *Adapter) SupportedCurrencies() []string {
	return []string{"USD", "EUR", "GBP", "CAD", "AUD", "JPY", "CHF", "SEK", "NOK", "DKK"}
}

// SupportedCountries is empty: Stripe settles in enough countries that the
// configuration-level allowlist is the only country restriction applied.
func (a *Adapter) SupportedCountries() []string { return nil }

// Initialize binds the adapter to one tenant's Stripe credentials.
func (a *Adapter) Initialize(cfg gateway.Credentials) error {
	if err := cfg.Validate("stripe"); err != nil {
		return err
	}
	a.apiKey = strings.TrimSpace(cfg.Stripe.APIKey)
	a.webhookSecret = strings.TrimSpace(cfg.Stripe.WebhookSecret)
	if base := strings.TrimSpace(cfg.Stripe.APIBase); base != "" {
		a.apiBase = strings.TrimRight(base, "/")
	}
	return nil
}

// HealthCheck verifies the credentials by fetching the account balance.
func (a *Adapter) HealthCheck(ctx context.Context) (gateway.HealthResult, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBase+"/v1/balance", nil)
	if err != nil {
		return gateway.HealthResult{}, gateway.WrapProviderErr("stripe", "health_check", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return gateway.HealthResult{Healthy: false, Status: "unreachable", Latency: time.Since(start)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gateway.HealthResult{
			Healthy: false,
			Status:  fmt.Sprintf("stripe returned %d", resp.StatusCode),
			Latency: time.Since(start),
		}, nil
	}
	return gateway.HealthResult{Healthy: true, Status: "ok", Latency: time.Since(start)}, nil
}

// paymentIntent is the subset of Stripe's PaymentIntent object we consume.
type paymentIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	NextAction   *struct {
		RedirectToURL struct {
			URL string `json:"url"`
		} `json:"redirect_to_url"`
	} `json:"next_action"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
	Metadata map[string]string `json:"metadata"`
}

type refundObject struct {
	ID              string `json:"id"`
	PaymentIntentID string `json:"payment_intent"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreatePaymentIntent creates a Stripe PaymentIntent in the tenant's
// account. Amounts are already in minor units.
func (a *Adapter) CreatePaymentIntent(ctx context.Context, params gateway.IntentParams) (*gateway.Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.AmountMinor, 10))
	form.Set("currency", strings.ToLower(params.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	if params.ReturnURL != "" {
		form.Set("return_url", params.ReturnURL)
	}
	for k, v := range params.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	raw, err := a.post(ctx, "/v1/payment_intents", form, "create_intent")
	if err != nil {
		return nil, err
	}

	var intent paymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, gateway.WrapProviderErr("stripe", "create_intent", err)
	}

	status := mapIntentStatus(intent.Status)
	return &gateway.Intent{
		ID:             intent.ID,
		Status:         status,
		ClientSecret:   intent.ClientSecret,
		RequiresAction: intent.Status == "requires_action",
		NextActionURL:  nextActionURL(&intent),
		Amount:         gateway.FromMinorUnits(intent.Amount),
		Currency:       strings.ToUpper(intent.Currency),
		Raw:            raw,
	}, nil
}

// ConfirmPayment confirms an existing PaymentIntent.
func (a *Adapter) ConfirmPayment(ctx context.Context, params gateway.ConfirmParams) (*gateway.PaymentResult, error) {
	form := url.Values{}
	if params.ReturnURL != "" {
		form.Set("return_url", params.ReturnURL)
	}

	path := fmt.Sprintf("/v1/payment_intents/%s/confirm", url.PathEscape(params.IntentID))
	raw, err := a.post(ctx, path, form, "confirm")
	if err != nil {
		return nil, err
	}

	var intent paymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, gateway.WrapProviderErr("stripe", "confirm", err)
	}

	return &gateway.PaymentResult{
		IntentID:       intent.ID,
		Status:         mapIntentStatus(intent.Status),
		RequiresAction: intent.Status == "requires_action",
		NextActionURL:  nextActionURL(&intent),
		Raw:            raw,
	}, nil
}

// RefundPayment refunds a charge by PaymentIntent id. A zero amount refunds
// the full charge.
func (a *Adapter) RefundPayment(ctx context.Context, params gateway.RefundParams) (*gateway.RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", params.IntentID)
	if params.AmountMinor > 0 {
		form.Set("amount", strconv.FormatInt(params.AmountMinor, 10))
	}
	if params.Reason != "" {
		form.Set("reason", params.Reason)
	}

	raw, err := a.post(ctx, "/v1/refunds", form, "refund")
	if err != nil {
		return nil, err
	}

	var refund refundObject
	if err := json.Unmarshal(raw, &refund); err != nil {
		return nil, gateway.WrapProviderErr("stripe", "refund", err)
	}

	return &gateway.RefundResult{
		RefundID: refund.ID,
		IntentID: refund.PaymentIntentID,
		Status:   mapRefundStatus(refund.Status),
		Amount:   gateway.FromMinorUnits(refund.Amount),
		Currency: strings.ToUpper(refund.Currency),
		Raw:      raw,
	}, nil
}

// VerifySignature validates a Stripe-Signature header value against the
// payload using HMAC-SHA256 over "<timestamp>.<payload>". Pure function of
// its arguments; comparison is constant-time.
func (a *Adapter) VerifySignature(payload []byte, signature, secret string) bool {
	timestamp, signatures, err := parseSignatureHeader(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// HandleWebhook parses a verified Stripe event payload into the canonical
// outcome. Unhandled event types return Processed=false, never an error.
func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte) (*gateway.WebhookOutcome, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, gateway.WrapProviderErr("stripe", "webhook_parse", err)
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, gateway.WrapProviderErr("stripe", "webhook_parse", errors.New("event id missing"))
	}

	outcome := &gateway.WebhookOutcome{
		EventID:   event.ID,
		EventType: event.Type,
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.processing", "payment_intent.canceled":
		var intent paymentIntent
		if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
			return nil, gateway.WrapProviderErr("stripe", "webhook_parse", err)
		}
		outcome.Processed = true
		outcome.IntentID = intent.ID
		outcome.Status = statusForEvent(event.Type, intent.Status)
		if intent.LastPaymentError != nil {
			outcome.Message = intent.LastPaymentError.Message
		}
		outcome.Data = map[string]string{
			"amount":   strconv.FormatInt(intent.Amount, 10),
			"currency": strings.ToUpper(intent.Currency),
		}
		for k, v := range intent.Metadata {
			outcome.Data[k] = v
		}
	default:
		// Accepted and ignored so Stripe stops retrying.
		outcome.Processed = false
	}

	return outcome, nil
}

func (a *Adapter) post(ctx context.Context, path string, form url.Values, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, gateway.WrapProviderErr("stripe", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, gateway.WrapProviderErr("stripe", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gateway.WrapProviderErr("stripe", op, err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, gateway.WrapProviderErr("stripe", op,
				fmt.Errorf("stripe api error %d (%s): %s", resp.StatusCode, apiErr.Error.Code, apiErr.Error.Message))
		}
		return nil, gateway.WrapProviderErr("stripe", op, fmt.Errorf("stripe api error %d", resp.StatusCode))
	}
	return body, nil
}

// mapIntentStatus maps a Stripe PaymentIntent status to the canonical
// status. Total: anything unrecognized maps to pending, never to a terminal
// state.
func mapIntentStatus(status string) gateway.PaymentStatus {
	switch status {
	case "succeeded":
		return gateway.StatusCompleted
	case "processing":
		return gateway.StatusProcessing
	case "canceled":
		return gateway.StatusFailed
	case "requires_payment_method", "requires_confirmation", "requires_action", "requires_capture":
		return gateway.StatusPending
	default:
		return gateway.StatusPending
	}
}

// statusForEvent maps the webhook event type to a status, falling back to
// the embedded object's status when the event type alone is not decisive.
func statusForEvent(eventType, objectStatus string) gateway.PaymentStatus {
	switch eventType {
	case "payment_intent.succeeded":
		return gateway.StatusCompleted
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return gateway.StatusFailed
	case "payment_intent.processing":
		return gateway.StatusProcessing
	default:
		return mapIntentStatus(objectStatus)
	}
}

func mapRefundStatus(status string) gateway.RefundStatus {
	switch status {
	case "succeeded":
		return gateway.RefundSucceeded
	case "failed", "canceled":
		return gateway.RefundFailed
	default:
		return gateway.RefundPending
	}
}

func nextActionURL(intent *paymentIntent) string {
	if intent.NextAction == nil {
		return ""
	}
	return intent.NextAction.RedirectToURL.URL
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		kv := strings.SplitN(piece, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.TrimSpace(kv[0]) {
		case "t":
			timestamp = strings.TrimSpace(kv[1])
		case "v1":
			signatures = append(signatures, strings.TrimSpace(kv[1]))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("malformed signature header")
	}
	return timestamp, signatures, nil
}
