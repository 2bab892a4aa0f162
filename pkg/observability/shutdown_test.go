package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShutdownManager(server *http.Server, timeout time.Duration) *ShutdownManager {
	return NewShutdownManager(NewLogger(ErrorLevel, io.Discard), server, timeout)
}

func TestShutdownRunsHooksInRegistrationOrder(t *testing.T) {
	sm := newTestShutdownManager(nil, time.Second)

	var order []string
	for _, name := range []string{"scanner", "bus", "database"} {
		name := name
		sm.RegisterShutdownFunc(func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"scanner", "bus", "database"}, order)
}

func TestShutdownFailingHookDoesNotStopLaterHooks(t *testing.T) {
	sm := newTestShutdownManager(nil, time.Second)

	busErr := errors.New("broker flush failed")
	sm.RegisterShutdownFunc(func(context.Context) error { return busErr })

	closed := false
	sm.RegisterShutdownFunc(func(context.Context) error {
		closed = true
		return nil
	})

	err := sm.Shutdown(context.Background())
	assert.ErrorIs(t, err, busErr)
	assert.True(t, closed, "later hooks must still run")
}

func TestShutdownDeadlineSkipsRemainingHooks(t *testing.T) {
	sm := newTestShutdownManager(nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	sm.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return nil
	})

	ran := false
	sm.RegisterShutdownFunc(func(context.Context) error {
		ran = true
		return nil
	})

	err := sm.Shutdown(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran, "hooks after the deadline must be skipped")
}

func TestShutdownDrainsHTTPServer(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0"}
	sm := newTestShutdownManager(server, time.Second)

	// Shutdown on a never-started server returns immediately with no error.
	require.NoError(t, sm.Shutdown(context.Background()))

	// the server is now unusable, proving Shutdown reached it
	err := server.ListenAndServe()
	assert.ErrorIs(t, err, http.ErrServerClosed)
}

func TestNewShutdownManagerDefaultsTimeout(t *testing.T) {
	sm := newTestShutdownManager(nil, 0)
	assert.Equal(t, defaultShutdownTimeout, sm.timeout)
}
