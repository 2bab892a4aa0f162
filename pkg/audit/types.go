package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Gateway configuration events
	EventTypeGatewayConfigure EventType = "gateway.configure"
	EventTypeGatewayTest      EventType = "gateway.test"

	// Payment events
	EventTypePaymentCreate  EventType = "payment.create"
	EventTypePaymentConfirm EventType = "payment.confirm"
	EventTypePaymentRefund  EventType = "payment.refund"

	// Webhook events
	EventTypeWebhookReceive EventType = "webhook.receive"
	EventTypeWebhookReject  EventType = "webhook.reject"

	// Renewal events
	EventTypeRenewalInvoice EventType = "renewal.invoice_create"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being acted on
type ResourceType string

const (
	ResourceTypeGateway ResourceType = "gateway"
	ResourceTypePayment ResourceType = "payment"
	ResourceTypeInvoice ResourceType = "invoice"
	ResourceTypeWebhook ResourceType = "webhook"
)

// Event represents a single audit log entry. Metadata must never contain
// credential material; record which configuration changed, not its secrets.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Tenant scoping
	TenantID string `json:"tenant_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	// Additional details
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	// Scope filters
	TenantID string

	// Event filters
	EventTypes []EventType
	Status     *EventStatus

	// Resource filters
	ResourceType ResourceType
	ResourceID   string

	// Pagination
	Limit  int
	Offset int
}
