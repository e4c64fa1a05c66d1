// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
)

func TestBackoffDoubles(t *testing.T) {
	rc := RetryConfig{BackoffBase: 10 * time.Millisecond, MaxDelay: 35 * time.Millisecond}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 35 * time.Millisecond, 35 * time.Millisecond}
	for i, w := range want {
		if got := rc.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := rc.Backoff(0); got != 0 {
		t.Errorf("Backoff(0) = %v, want 0", got)
	}

	uncapped := RetryConfig{BackoffBase: time.Millisecond}
	if got := uncapped.Backoff(4); got != 8*time.Millisecond {
		t.Errorf("uncapped Backoff(4) = %v, want 8ms", got)
	}
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithBackoffBase(time.Millisecond)
	err := config.Do(context.Background(), func(context.Context, int) error {
		attempts++
		if attempts < 3 {
			return stderrors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithMaxAttempts(2).WithBackoffBase(time.Millisecond)
	err := config.Do(context.Background(), func(context.Context, int) error {
		attempts++
		return stderrors.New("always fails")
	})

	if !errors.HasCode(err, errors.CodeMaxRetriesExceeded) {
		t.Errorf("expected MAX_RETRIES_EXCEEDED, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	attempts := 0
	err := DefaultRetryConfig().Do(context.Background(), func(context.Context, int) error {
		attempts++
		return errors.New(errors.CodeCapabilityNotFound, "no such capability", nil)
	})

	if !errors.HasCode(err, errors.CodeCapabilityNotFound) {
		t.Errorf("expected the original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}

	attempts = 0
	config := DefaultRetryConfig().WithIsRecoverable(func(error) bool { return false })
	_ = config.Do(context.Background(), func(context.Context, int) error {
		attempts++
		return stderrors.New("plain error")
	})
	if attempts != 1 {
		t.Errorf("expected 1 attempt with custom predicate, got %d", attempts)
	}
}

func TestRetryRecoverableTypedError(t *testing.T) {
	transient := errors.New(errors.CodeTimeout, "timed out", nil).WithRecoverable(true)

	attempts := 0
	err := DefaultRetryConfig().WithBackoffBase(time.Millisecond).Do(context.Background(), func(context.Context, int) error {
		attempts++
		if attempts < 2 {
			return transient
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected retry to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig().WithBackoffBase(time.Second)

	attempts := 0
	err := config.Do(ctx, func(context.Context, int) error {
		attempts++
		cancel()
		return stderrors.New("transient error")
	})

	if !errors.HasCode(err, errors.CodeContextLost) {
		t.Errorf("expected CONTEXT_LOST, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		name        string
		duration    time.Duration
		sleepTime   time.Duration
		expectError bool
	}{
		{"fast operation", time.Second, 5 * time.Millisecond, false},
		{"slow operation", 20 * time.Millisecond, time.Second, true},
		{"no timeout", 0, 5 * time.Millisecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithTimeout(context.Background(), tt.duration, func(ctx context.Context) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(tt.sleepTime):
					return nil
				}
			})

			if tt.expectError {
				if !errors.HasCode(err, errors.CodeTimeout) {
					t.Errorf("expected TIMEOUT, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWithTimeoutResult(t *testing.T) {
	value, err := WithTimeoutResult(context.Background(), time.Second, func(context.Context) (string, error) {
		return "success", nil
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if value != "success" {
		t.Errorf("expected 'success', got %v", value)
	}
}

func TestFallbackRegistry(t *testing.T) {
	r := NewFallbackRegistry()
	if err := r.RegisterFallback("primary", "b"); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := r.RegisterFallback("primary", "a"); err != nil {
		t.Fatalf("register a: %v", err)
	}

	got := r.Fallbacks("primary")
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("expected registration order [b a], got %v", got)
	}
	got[0] = "mutated"
	if r.Fallbacks("primary")[0] != "b" {
		t.Errorf("Fallbacks must return a copy")
	}

	if err := r.RegisterFallback("primary", "primary"); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for self fallback, got %v", err)
	}
	if err := r.RegisterFallback("primary", "a"); !errors.HasCode(err, errors.CodeDuplicateCapability) {
		t.Errorf("expected DUPLICATE_CAPABILITY, got %v", err)
	}

	if err := r.RegisterAll(map[string][]string{"other": {"x", "y"}}); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	if got := r.Fallbacks("other"); len(got) != 2 || got[1] != "y" {
		t.Errorf("unexpected fallbacks %v", got)
	}

	r.Clear("primary")
	if got := r.Fallbacks("primary"); len(got) != 0 {
		t.Errorf("expected no fallbacks after Clear, got %v", got)
	}

	var nilRegistry *FallbackRegistry
	if got := nilRegistry.Fallbacks("primary"); got != nil {
		t.Errorf("nil registry should have no fallbacks")
	}
}

func TestCircuitBreakerClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Name: "test"})
	if cb.State() != StateClosed {
		t.Errorf("expected initial state Closed")
	}

	for i := 0; i < 5; i++ {
		if err := cb.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
			t.Errorf("call %d failed: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("expected state to remain Closed after success")
	}
}

func TestCircuitBreakerOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Name: "test"})

	for i := 0; i < 2; i++ {
		_ = cb.Call(context.Background(), func(context.Context) error {
			return stderrors.New("failure")
		})
	}
	if cb.State() != StateOpen {
		t.Errorf("expected state Open after %d failures", 2)
	}

	err := cb.Call(context.Background(), func(context.Context) error {
		t.Fatalf("should not execute in open state")
		return nil
	})
	if !errors.HasCode(err, errors.CodeToolExecution) {
		t.Errorf("expected TOOL_EXECUTION_ERROR when circuit is open, got %v", err)
	}
	if errors.As(err).Recoverable {
		t.Errorf("an open circuit must not be retried")
	}
}

func TestCircuitBreakerHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
		Name:             "test",
	})

	_ = cb.Call(context.Background(), func(context.Context) error { return stderrors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected circuit to be open")
	}

	time.Sleep(80 * time.Millisecond)
	_ = cb.Call(context.Background(), func(context.Context) error { return nil })
	if cb.State() != StateHalfOpen {
		t.Errorf("expected state HalfOpen after timeout")
	}

	_ = cb.Call(context.Background(), func(context.Context) error { return nil })
	if cb.State() != StateClosed {
		t.Errorf("expected state Closed after successes in half-open")
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Name: "test"})

	_ = cb.Call(context.Background(), func(context.Context) error { return stderrors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected circuit to be open")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("expected state Closed after reset")
	}
	if err := cb.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("call failed after reset: %v", err)
	}
}

func TestBreakersPerCapability(t *testing.T) {
	b := NewBreakers(CircuitBreakerConfig{FailureThreshold: 1})
	b.For("a").Open()
	if b.For("a").State() != StateOpen {
		t.Errorf("expected a to stay open")
	}
	if b.For("b").State() != StateClosed {
		t.Errorf("breakers must be independent")
	}
}

func TestRetryDefaultRecoverability(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"untyped", stderrors.New("reset"), true},
		{"tool error", errors.New(errors.CodeToolExecution, "503", nil), true},
		{"timeout", errors.New(errors.CodeTimeout, "slow", nil), true},
		{"permanent tool error", errors.New(errors.CodeToolExecution, "panicked", nil).WithPermanent(), false},
		{"context lost", errors.New(errors.CodeContextLost, "cancelled", nil), false},
		{"invalid plan", errors.New(errors.CodeInvalidPlan, "bad ref", nil), false},
		{"flagged recoverable", errors.New(errors.CodeInternal, "flaky", nil).WithRecoverable(true), true},
	}
	for _, tc := range cases {
		if got := isRecoverableDefault(tc.err); got != tc.want {
			t.Errorf("%s: isRecoverableDefault = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRetryMergeStepPolicy(t *testing.T) {
	base := DefaultRetryConfig()
	if got := base.Merge(nil); got.MaxAttempts != base.MaxAttempts || got.MaxDelay != base.MaxDelay {
		t.Errorf("nil policy must keep defaults, got %+v", got)
	}

	merged := base.Merge(&core.RetryPolicy{MaxAttempts: 4, BackoffBase: 8 * time.Second})
	if merged.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", merged.MaxAttempts)
	}
	want := []time.Duration{8 * time.Second, 16 * time.Second, 32 * time.Second}
	for i, w := range want {
		if got := merged.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}

	attemptsOnly := base.Merge(&core.RetryPolicy{MaxAttempts: 2})
	if attemptsOnly.BackoffBase != base.BackoffBase || attemptsOnly.MaxDelay != base.MaxDelay {
		t.Errorf("attempts-only policy must keep the default backoff, got %+v", attemptsOnly)
	}
}
