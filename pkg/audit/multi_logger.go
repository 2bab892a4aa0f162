package audit

import (
	"context"
	"fmt"
	"strings"
)

// MultiLogger fans events out to several loggers. A sink failure does not
// stop delivery to the remaining sinks; all failures are reported together.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to all the given loggers
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log delivers the event to every sink
func (l *MultiLogger) Log(ctx context.Context, event *Event) error {
	var failures []string
	for _, logger := range l.loggers {
		if err := logger.Log(ctx, event); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("audit sinks failed: %s", strings.Join(failures, "; "))
	}
	return nil
}

// Close closes every sink
func (l *MultiLogger) Close() error {
	var failures []string
	for _, logger := range l.loggers {
		if err := logger.Close(); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("audit sinks failed to close: %s", strings.Join(failures, "; "))
	}
	return nil
}

var _ Logger = (*MultiLogger)(nil)
