package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	client := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
	}, "test")

	ctx := context.Background()
	key := "tenant:tenant-1"

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("request beyond limit should be denied")
	}
}

func TestDistributedRateLimiter_Remaining(t *testing.T) {
	client := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Minute,
	}, "test")

	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "unseen")
	if err != nil {
		t.Fatalf("Remaining() error = %v", err)
	}
	if remaining != 5 {
		t.Errorf("Remaining() for unseen key = %d, want 5", remaining)
	}

	limiter.Allow(ctx, "seen")
	limiter.Allow(ctx, "seen")

	remaining, err = limiter.Remaining(ctx, "seen")
	if err != nil {
		t.Fatalf("Remaining() error = %v", err)
	}
	if remaining != 3 {
		t.Errorf("Remaining() after two requests = %d, want 3", remaining)
	}
}

func TestDistributedRateLimiter_Reset(t *testing.T) {
	client := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}, "test")

	ctx := context.Background()
	key := "tenant:tenant-1"

	limiter.Allow(ctx, key)
	if allowed, _ := limiter.Allow(ctx, key); allowed {
		t.Fatal("second request should be denied")
	}

	if err := limiter.Reset(ctx, key); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if allowed, _ := limiter.Allow(ctx, key); !allowed {
		t.Error("request after reset should be allowed")
	}
}

func TestDistributedRateLimiter_SharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	config := &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}
	limiterA := NewDistributedRateLimiter(clientA, config, "test")
	limiterB := NewDistributedRateLimiter(clientB, config, "test")

	ctx := context.Background()
	key := "tenant:tenant-1"

	limiterA.Allow(ctx, key)
	limiterB.Allow(ctx, key)

	// Both instances consumed the shared budget.
	if allowed, _ := limiterA.Allow(ctx, key); allowed {
		t.Error("third request should be denied across instances")
	}
}

func TestDistributedRateLimitMiddleware_Handler(t *testing.T) {
	client := setupRedis(t)
	m := NewDistributedRateLimitMiddleware(client)
	m.tenantLimiter = NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	}, "ratelimit:tenant")

	router := mux.NewRouter()
	router.Use(m.Handler)
	router.HandleFunc("/api/v1/tenants/{tenant_id}/payments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/v1/tenants/tenant-1/payments", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := do(); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", rec.Code)
	}
	if rec := do(); rec.Code != http.StatusOK {
		t.Fatalf("second request: status = %d, want 200", rec.Code)
	}
	if rec := do(); rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request: status = %d, want 429", rec.Code)
	}
}

func TestDistributedRateLimitMiddleware_FailsOpenOnRedisError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewDistributedRateLimitMiddleware(client)

	// Kill Redis to simulate an outage.
	mr.Close()

	router := mux.NewRouter()
	router.Use(m.Handler)
	router.HandleFunc("/api/v1/tenants/{tenant_id}/payments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/v1/tenants/tenant-1/payments", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (fail open)", rec.Code)
	}
}

func TestDistributedRateLimitMiddleware_FailsClosedWhenConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewDistributedRateLimitMiddleware(client)
	m.SetFallbackEnabled(false)

	mr.Close()

	router := mux.NewRouter()
	router.Use(m.Handler)
	router.HandleFunc("/api/v1/tenants/{tenant_id}/payments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/v1/tenants/tenant-1/payments", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 (fail closed)", rec.Code)
	}
}
