package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ErrDegraded marks a check failure that should not fail readiness. A check
// returning an error wrapping ErrDegraded reports the dependency as degraded
// instead of unhealthy.
var ErrDegraded = errors.New("dependency degraded")

// DependencyCheck verifies one dependency. Critical checks fail readiness
// when they error; non-critical checks only degrade it, so losing an
// optimization layer never takes payment traffic out of rotation.
type DependencyCheck struct {
	Name     string
	Critical bool
	Run      func(ctx context.Context) error
}

// HealthChecker runs dependency checks for the liveness and readiness
// endpoints.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []DependencyCheck
}

// NewHealthChecker builds a checker for the service's core dependencies.
// The payment store is critical; Redis only backs webhook dedup and rate
// limits, which both fall back to PostgreSQL, so it is checked as optional.
// Either argument may be nil.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	hc := &HealthChecker{}
	if db != nil {
		hc.AddCheck(DependencyCheck{Name: "database", Critical: true, Run: databaseCheck(db)})
	}
	if redisClient != nil {
		hc.AddCheck(DependencyCheck{Name: "redis", Run: redisCheck(redisClient)})
	}
	return hc
}

// AddCheck registers an additional dependency check.
func (h *HealthChecker) AddCheck(c DependencyCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// DependencyStatus is the outcome of one check.
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthStatus is the aggregate the readiness endpoint serves.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// Check runs every registered dependency check and aggregates the worst
// outcome.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]DependencyCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Dependencies: make(map[string]DependencyStatus, len(checks)),
	}

	for _, c := range checks {
		start := time.Now()
		err := c.Run(ctx)
		dep := DependencyStatus{
			Status:    StatusHealthy,
			LatencyMS: time.Since(start).Milliseconds(),
		}

		switch {
		case err == nil:
		case errors.Is(err, ErrDegraded):
			dep.Status = StatusDegraded
			dep.Message = err.Error()
			status.degrade()
		case c.Critical:
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
			status.Status = StatusUnhealthy
		default:
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
			status.degrade()
		}
		status.Dependencies[c.Name] = dep
	}
	return status
}

func (s *HealthStatus) degrade() {
	if s.Status != StatusUnhealthy {
		s.Status = StatusDegraded
	}
}

// Liveness reports whether the process is running. It never touches
// dependencies so a dependency outage cannot cause a restart loop.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness runs the dependency checks. Degraded still answers 200 so
// traffic keeps flowing; only a critical failure returns 503.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

func databaseCheck(db *sql.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return fmt.Errorf("health query failed: %w", err)
		}
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
			return fmt.Errorf("%w: connection pool saturated (%d/%d)",
				ErrDegraded, stats.OpenConnections, stats.MaxOpenConnections)
		}
		return nil
	}
}

func redisCheck(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// RegisterHealthRoutes mounts the health endpoints on the health listener.
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
