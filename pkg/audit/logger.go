package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nimbushost/billing/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// Searcher retrieves stored audit events. The database logger implements
// it; file loggers do not.
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
}

type contextKey string

const loggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
// when none is set.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return NopLogger{}
}

// NopLogger discards all events. Used when auditing is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, *Event) error { return nil }
func (NopLogger) Close() error                      { return nil }

// NewEvent builds an event with the request context fields populated. The
// request id comes from the observability context so audit entries join up
// with log lines.
func NewEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *Event {
	event := &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: observability.GetRequestID(ctx),
		TenantID:  observability.GetTenantID(ctx),
	}

	if r != nil {
		event.Method = r.Method
		event.Path = r.URL.Path
		event.IPAddress = clientIP(r)
	}

	return event
}

// clientIP records the caller address for forensics, never for
// authorization. The forwarding headers are only meaningful when the
// service sits behind an edge proxy that strips client-supplied values;
// exposed directly, they are attacker-controlled and only RemoteAddr can
// be trusted.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// first hop only; proxies append, clients can prepend
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
