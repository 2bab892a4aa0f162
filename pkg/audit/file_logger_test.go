package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.ndjson")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	first := &Event{
		Timestamp: time.Now().UTC(),
		EventType: EventTypeGatewayConfigure,
		Status:    EventStatusSuccess,
		TenantID:  "tenant-1",
	}
	second := &Event{
		Timestamp:    time.Now().UTC(),
		EventType:    EventTypeWebhookReject,
		Status:       EventStatusDenied,
		TenantID:     "tenant-2",
		ErrorMessage: "signature verification failed",
	}

	require.NoError(t, logger.Log(context.Background(), first))

	// Each event is flushed as soon as it is logged.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"gateway.configure"`)

	require.NoError(t, logger.Log(context.Background(), second))
	require.NoError(t, logger.Close())

	data, err = os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	got, err := FromJSON([]byte(lines[1]))
	require.NoError(t, err)
	assert.Equal(t, EventTypeWebhookReject, got.EventType)
	assert.Equal(t, EventStatusDenied, got.Status)
	assert.Equal(t, "tenant-2", got.TenantID)
	assert.Equal(t, "signature verification failed", got.ErrorMessage)
}

func TestFileLogger_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)
	require.NoError(t, logger.Log(context.Background(), &Event{EventType: EventTypePaymentRefund}))
	require.NoError(t, logger.Close())

	// Reopening must not truncate the existing log.
	logger, err = NewFileLogger(path)
	require.NoError(t, err)
	require.NoError(t, logger.Log(context.Background(), &Event{EventType: EventTypePaymentConfirm}))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
}
