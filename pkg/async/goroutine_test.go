package async

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimbushost/billing/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestSafeGo_Success(t *testing.T) {
	executed := atomic.Bool{}

	SafeGo(context.Background(), testLogger(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	waitFor(t, executed.Load)
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	executed := atomic.Bool{}

	SafeGo(context.Background(), testLogger(), time.Second, "panicking task", func(ctx context.Context) error {
		defer executed.Store(true)
		panic("boom")
	})

	waitFor(t, executed.Load)
}

func TestSafeGo_Timeout(t *testing.T) {
	timedOut := atomic.Bool{}

	SafeGo(context.Background(), testLogger(), 20*time.Millisecond, "slow task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			timedOut.Store(true)
			return ctx.Err()
		}
	})

	waitFor(t, timedOut.Load)
}

func TestBatch_ProcessesAllItems(t *testing.T) {
	var count atomic.Int64

	errs := Batch(context.Background(), 4, []int{1, 2, 3, 4, 5, 6, 7, 8}, func(ctx context.Context, n int) error {
		count.Add(int64(n))
		return nil
	})

	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if got := count.Load(); got != 36 {
		t.Errorf("expected sum 36, got %d", got)
	}
}

func TestBatch_CollectsErrors(t *testing.T) {
	errs := Batch(context.Background(), 2, []int{1, 2, 3, 4}, func(ctx context.Context, n int) error {
		if n%2 == 0 {
			return errors.New("even")
		}
		return nil
	})

	if len(errs) != 2 {
		t.Errorf("expected 2 errors, got %d: %v", len(errs), errs)
	}
}

func TestBatch_RecoversPanics(t *testing.T) {
	var processed atomic.Int64

	errs := Batch(context.Background(), 2, []int{1, 2, 3}, func(ctx context.Context, n int) error {
		if n == 2 {
			panic("bad item")
		}
		processed.Add(1)
		return nil
	})

	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
	}
	if processed.Load() != 2 {
		t.Errorf("expected the remaining items to process, got %d", processed.Load())
	}
}

func TestBatch_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var processed atomic.Int64
	errs := Batch(ctx, 1, []int{1, 2, 3}, func(ctx context.Context, n int) error {
		processed.Add(1)
		return nil
	})

	if len(errs) == 0 {
		t.Error("expected a context error")
	}
}

func TestBatch_EmptyInput(t *testing.T) {
	errs := Batch(context.Background(), 4, nil, func(ctx context.Context, n int) error {
		t.Error("fn should not run")
		return nil
	})
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
