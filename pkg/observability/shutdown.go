package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const defaultShutdownTimeout = 30 * time.Second

// ShutdownFunc releases one resource during shutdown.
type ShutdownFunc func(context.Context) error

// ShutdownManager drains the HTTP server and then runs registered hooks in
// registration order, all under one deadline. Hooks run sequentially:
// registration order is the dependency order (stop producers before closing
// the stores they write to), so parallel teardown would race.
type ShutdownManager struct {
	logger  *Logger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	hooks []ShutdownFunc
}

func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &ShutdownManager{
		logger:  logger,
		server:  server,
		timeout: timeout,
	}
}

// RegisterShutdownFunc appends a hook. Hooks run in the order they were
// registered.
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, fn)
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then performs the
// shutdown sequence under the configured timeout.
func (sm *ShutdownManager) WaitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	sm.logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	return sm.Shutdown(ctx)
}

// Shutdown drains the server and runs the hooks. Every hook runs even when
// an earlier one fails; the errors are joined so none is swallowed. When the
// deadline expires the remaining hooks are skipped.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	var errs []error

	if sm.server != nil {
		sm.logger.Info("Draining HTTP server")
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server drain failed")
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	sm.mu.Lock()
	hooks := make([]ShutdownFunc, len(sm.hooks))
	copy(hooks, sm.hooks)
	sm.mu.Unlock()

	for i, hook := range hooks {
		if ctx.Err() != nil {
			sm.logger.WithField("remaining", len(hooks)-i).Warn("Shutdown deadline reached, skipping remaining hooks")
			errs = append(errs, fmt.Errorf("shutdown deadline reached with %d hooks remaining: %w", len(hooks)-i, ctx.Err()))
			break
		}
		if err := hook(ctx); err != nil {
			sm.logger.WithError(err).Errorf("Shutdown hook %d failed", i)
			errs = append(errs, fmt.Errorf("shutdown hook %d: %w", i, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}
