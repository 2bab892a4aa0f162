package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHealthDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLivenessIgnoresDependencies(t *testing.T) {
	// no checks registered at all; liveness must still answer
	checker := NewHealthChecker(nil, nil)

	rec := httptest.NewRecorder()
	checker.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), StatusHealthy)
}

func TestReadinessHealthyDatabase(t *testing.T) {
	checker := NewHealthChecker(newHealthDB(t), nil)

	rec := httptest.NewRecorder()
	checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	status := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Dependencies["database"].Status)
}

func TestReadinessFailsWhenDatabaseDown(t *testing.T) {
	db := newHealthDB(t)
	require.NoError(t, db.Close())
	checker := NewHealthChecker(db, nil)

	rec := httptest.NewRecorder()
	checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRedisOutageOnlyDegrades(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	checker := NewHealthChecker(newHealthDB(t), rdb)
	mr.Close()

	status := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
	assert.Equal(t, StatusHealthy, status.Dependencies["database"].Status)

	// degraded still serves traffic
	rec := httptest.NewRecorder()
	checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCriticalCheckFailureWinsOverDegraded(t *testing.T) {
	checker := NewHealthChecker(nil, nil)
	checker.AddCheck(DependencyCheck{
		Name: "archive",
		Run:  func(context.Context) error { return fmt.Errorf("%w: bucket slow", ErrDegraded) },
	})
	checker.AddCheck(DependencyCheck{
		Name:     "event_bus",
		Critical: true,
		Run:      func(context.Context) error { return errors.New("broker unreachable") },
	})

	status := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, StatusDegraded, status.Dependencies["archive"].Status)
	assert.Equal(t, "broker unreachable", status.Dependencies["event_bus"].Message)
}

func TestDegradedCheckReportsDegraded(t *testing.T) {
	checker := NewHealthChecker(newHealthDB(t), nil)
	checker.AddCheck(DependencyCheck{
		Name:     "database_pool",
		Critical: true,
		Run:      func(context.Context) error { return fmt.Errorf("%w: pool saturated", ErrDegraded) },
	})

	status := checker.Check(context.Background())
	// critical checks wrapping ErrDegraded still only degrade
	assert.Equal(t, StatusDegraded, status.Status)
}

func TestRegisterHealthRoutes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, NewHealthChecker(newHealthDB(t), nil))

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
