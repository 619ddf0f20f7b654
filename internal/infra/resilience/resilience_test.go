package resilience_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
)

func fastConfig(retries int) resilience.Config {
	return resilience.Config{MaxRetries: retries, InitialBackoff: time.Millisecond}
}

func TestRetryWithBackoff_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := resilience.RetryWithBackoff(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_RecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	err := resilience.RetryWithBackoff(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryWithBackoff_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	sentinel := errors.New("still down")
	err := resilience.RetryWithBackoff(context.Background(), fastConfig(2), func() error {
		calls++
		return sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 1 try + 2 retries, got %d calls", calls)
	}
}

func TestRetryWithBackoff_StopsOnPermanent(t *testing.T) {
	calls := 0
	sentinel := errors.New("row already exists")
	err := resilience.RetryWithBackoff(context.Background(), fastConfig(5), func() error {
		calls++
		return resilience.Permanent(sentinel)
	})

	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if !resilience.IsPermanent(err) {
		t.Error("expected the returned error to stay marked permanent")
	}
}

func TestRetryWithBackoff_CancelledContextSkipsCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := resilience.RetryWithBackoff(ctx, resilience.Config{MaxRetries: 5, InitialBackoff: time.Second}, func() error {
		called = true
		return errors.New("error")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("fn must not run with a cancelled context")
	}
}

func TestCircuitBreaker_IgnoresPermanentErrors(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test")
	for i := 0; i < 10; i++ {
		_, _ = cb.Execute(func() (any, error) {
			return nil, resilience.Permanent(errors.New("bad request"))
		})
	}
	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("expected closed breaker, got %s", cb.State())
	}

	cb = resilience.NewCircuitBreaker("test-failing")
	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, errors.New("timeout") })
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", cb.State())
	}

	_, err := cb.Execute(func() (any, error) { return nil, nil })
	if !resilience.IsBreakerRejection(err) {
		t.Errorf("expected breaker rejection, got %v", err)
	}
}

func TestBulkhead_AcquireRelease(t *testing.T) {
	bh := resilience.NewBulkhead(2)

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}
	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := bh.Acquire(ctx); err == nil {
		t.Fatal("expected timeout on third acquire")
	}

	bh.Release()

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
}

func TestBulkhead_DoBoundsConcurrency(t *testing.T) {
	bh := resilience.NewBulkhead(1)
	var inFlight, peak int32

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			_ = bh.Do(context.Background(), func() error {
				n := atomic.AddInt32(&inFlight, 1)
				if n > atomic.LoadInt32(&peak) {
					atomic.StoreInt32(&peak, n)
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	if peak != 1 {
		t.Errorf("expected at most 1 concurrent call, saw %d", peak)
	}
}
