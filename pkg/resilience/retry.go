// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience wraps capability invocation with retry, ordered
// fallbacks, per-attempt timeouts and circuit breaking. Runner implements
// core.StepRunner so it plugs into both the plan and the chain executor.
package resilience

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first (>= 1).
	MaxAttempts int

	// BackoffBase is the wait after the first failed attempt. The wait after
	// attempt n is BackoffBase * 2^(n-1).
	BackoffBase time.Duration

	// MaxDelay caps a single backoff wait. Zero means no cap.
	MaxDelay time.Duration

	// Jitter adds randomness to backoff; 0.1 means ±10%.
	Jitter float64

	// AttemptTimeout bounds each attempt when used by Runner. Zero disables it.
	AttemptTimeout time.Duration

	// IsRecoverable decides whether an error is worth another attempt.
	// If nil, isRecoverableDefault is used.
	IsRecoverable func(error) bool
}

// DefaultRetryConfig returns the configuration used when a step declares no
// retry policy of its own.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffBase: 100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(n int) RetryConfig {
	rc.MaxAttempts = n
	return rc
}

// WithBackoffBase returns a new config with BackoffBase set.
func (rc RetryConfig) WithBackoffBase(d time.Duration) RetryConfig {
	rc.BackoffBase = d
	return rc
}

// WithAttemptTimeout returns a new config with AttemptTimeout set.
func (rc RetryConfig) WithAttemptTimeout(d time.Duration) RetryConfig {
	rc.AttemptTimeout = d
	return rc
}

// WithIsRecoverable returns a new config with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// Merge overlays a step's retry policy. Zero fields of p keep rc's values.
// A step that sets its own BackoffBase gets the uncapped doubling sequence.
func (rc RetryConfig) Merge(p *core.RetryPolicy) RetryConfig {
	if p == nil {
		return rc
	}
	if p.MaxAttempts > 0 {
		rc.MaxAttempts = p.MaxAttempts
	}
	if p.BackoffBase > 0 {
		rc.BackoffBase = p.BackoffBase
		rc.MaxDelay = 0
	}
	return rc
}

// Backoff returns the wait after the given failed attempt (1-based).
func (rc RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 || rc.BackoffBase <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	delay := rc.BackoffBase << shift
	if delay < 0 || (rc.MaxDelay > 0 && delay > rc.MaxDelay) {
		delay = rc.MaxDelay
	}
	if rc.Jitter > 0 {
		spread := float64(delay) * rc.Jitter
		delay += time.Duration(spread * (2*rand.Float64() - 1))
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// Do calls fn until it succeeds, returns a non-recoverable error or
// MaxAttempts is reached. fn receives the 1-based attempt number. When the
// attempts run out the last error is wrapped in MAX_RETRIES_EXCEEDED.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = isRecoverableDefault
	}

	var lastErr error
	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, rc.Backoff(attempt-1)); err != nil {
				return errors.New(errors.CodeContextLost, "context canceled during retry", err).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts)
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return errors.New(errors.CodeContextLost, "context canceled during retry", err).
				WithContext("attempt", attempt)
		}
		if !recoverable(err) {
			return err
		}
	}

	return errors.New(errors.CodeMaxRetriesExceeded,
		fmt.Sprintf("gave up after %d attempts", rc.MaxAttempts), lastErr).
		WithContext("max_attempts", rc.MaxAttempts).
		WithRecoverable(false)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isRecoverableDefault retries untyped errors, tool failures and timeouts
// unless they are marked permanent. Other typed errors are retried only when
// flagged recoverable.
func isRecoverableDefault(err error) bool {
	if err == nil || errors.CodeOf(err) == "" {
		return err != nil
	}
	e := errors.As(err)
	if e.Permanent {
		return false
	}
	switch e.Code {
	case errors.CodeToolExecution, errors.CodeTimeout:
		return true
	}
	return e.Recoverable
}
