package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if !policy.ShouldRetry(errors.New("connection refused"), 1) {
		t.Error("expected connection error to be retryable")
	}
	if policy.ShouldRetry(errors.New("error"), 3) {
		t.Error("should not retry after max attempts")
	}

	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second} {
		if got := policy.NextDelay(attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestIsRetryableByStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, tt := range tests {
		err := fmt.Errorf("complete: %w", &StatusError{StatusCode: tt.status, Err: errors.New("x")})
		if got := IsRetryable(err); got != tt.want {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, got)
		}
	}
}

func TestIsRetryableNonRetryable(t *testing.T) {
	for _, err := range []error{nil, context.Canceled, errors.New("invalid request"), errors.New("unauthorized")} {
		if IsRetryable(err) {
			t.Errorf("expected %v to be non-retryable", err)
		}
	}
	if !IsRetryable(context.DeadlineExceeded) {
		t.Error("expected deadline exceeded to be retryable")
	}
}

func TestRetryPolicyMaxDelayCap(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: 1 * time.Second,
		Multiplier:   10,
		MaxDelay:     5 * time.Second,
	}
	if delay := policy.NextDelay(3); delay != 5*time.Second {
		t.Errorf("expected cap at 5s, got %v", delay)
	}
}

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
}

func TestExecuteSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{StatusCode: 503, Err: errors.New("busy")}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestExecuteStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Execute(context.Background(), func(context.Context) error {
		calls++
		return &StatusError{StatusCode: 401, Err: errors.New("bad key")}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestExecuteReturnsLastError(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Execute(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("attempt %d: connection reset", calls)
	})
	if err == nil || err.Error() != "attempt 2: connection reset" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestExecuteHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Execute(ctx, func(context.Context) error {
			calls++
			return errors.New("connection refused")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
