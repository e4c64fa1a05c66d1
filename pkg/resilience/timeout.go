// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"

	"github.com/jllopis/skillchain/pkg/errors"
)

// WithTimeout runs fn with a deadline of d.
// Returns errors.CodeTimeout if the deadline is exceeded.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	_, err := WithTimeoutResult(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// WithTimeoutResult runs fn with a deadline of d and returns its result. fn
// gets the derived context; if it ignores cancellation the call still
// returns once the deadline passes and fn finishes in the background. A zero
// d calls fn directly.
func WithTimeoutResult[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		return zero, deadlineError(ctx, d)
	case res := <-done:
		if res.err != nil && ctx.Err() != nil {
			return zero, deadlineError(ctx, d)
		}
		return res.value, res.err
	}
}

func deadlineError(ctx context.Context, d time.Duration) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.New(errors.CodeTimeout, "attempt exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String()).
			WithRecoverable(true)
	}
	return errors.New(errors.CodeContextLost, "attempt canceled", ctx.Err())
}
