package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, JitterFrac: 0}
}

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testPolicy(5), AlwaysRetryable, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), testPolicy(5), func(err error) bool { return false }, func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected the permanent error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt for a non-retryable error, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testPolicy(3), AlwaysRetryable, func(ctx context.Context) error {
		calls++
		return errors.New("still failing")
	})
	if err == nil {
		t.Fatal("expected the last error after exhaustion")
	}
	if calls != 3 {
		t.Errorf("expected exactly MaxAttempts calls, got %d", calls)
	}
}

func TestDoObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, testPolicy(3), AlwaysRetryable, func(ctx context.Context) error {
		t.Fatal("fn must not run under a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDelayGrowsExponentially(t *testing.T) {
	p := Policy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, JitterFrac: 0}
	if d := p.Delay(1); d != 100*time.Millisecond {
		t.Errorf("attempt 1: got %v, want 100ms", d)
	}
	if d := p.Delay(3); d != 400*time.Millisecond {
		t.Errorf("attempt 3: got %v, want 400ms", d)
	}
}

func TestRetryableStatusClassification(t *testing.T) {
	for _, status := range []int{429, 408, 502, 503, 504} {
		if !RetryableStatus(status) {
			t.Errorf("expected status %d to be retryable", status)
		}
	}
	for _, status := range []int{200, 400, 401, 404, 500} {
		if RetryableStatus(status) {
			t.Errorf("expected status %d to be non-retryable", status)
		}
	}
}
