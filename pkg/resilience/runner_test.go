// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/skillchain/pkg/chain"
	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
	"github.com/jllopis/skillchain/pkg/planner"
	ktesting "github.com/jllopis/skillchain/pkg/testing"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BackoffBase: time.Millisecond}
}

var errCarrier = errors.New(errors.CodeToolExecution, "carrier api 503", nil)

// flaky scripts id to fail its first k calls with a tool error.
func flaky(id string, k int) *ktesting.ScriptedInvoker {
	inv := ktesting.NewScriptedInvoker()
	inv.On(id).FailTimes(k, errCarrier).Return(core.Values{"ok": core.Bool(true)})
	return inv
}

// down scripts id to fail every call with a tool error.
func down(id string) *ktesting.ScriptedInvoker {
	inv := ktesting.NewScriptedInvoker()
	inv.On(id).Fail(errCarrier)
	return inv
}

func TestRunnerRecoversWithinRetryBudget(t *testing.T) {
	const maxAttempts = 4
	for k := 0; k < maxAttempts; k++ {
		inv := flaky("flaky", k)
		r := NewRunner(inv, WithRetry(fastRetry(maxAttempts)))

		res := r.Run(context.Background(), core.Invocation{StepID: "s", CapabilityID: "flaky"})
		if res.Status != core.StatusSucceeded {
			t.Fatalf("k=%d: expected success, got %s (%v)", k, res.Status, res.Err)
		}
		if len(res.Attempts) != k+1 || inv.CallCount("flaky") != k+1 {
			t.Errorf("k=%d: expected %d attempts, got %d records and %d calls",
				k, k+1, len(res.Attempts), inv.CallCount("flaky"))
		}
		if res.FallbackUsed {
			t.Errorf("k=%d: no fallback expected", k)
		}
		for i, a := range res.Attempts {
			if a.Number != i+1 || a.CapabilityID != "flaky" {
				t.Errorf("k=%d: unexpected attempt record %+v", k, a)
			}
		}
	}
}

func TestRunnerExhaustsRetries(t *testing.T) {
	inv := down("down")
	r := NewRunner(inv, WithRetry(fastRetry(3)))

	res := r.Run(context.Background(), core.Invocation{StepID: "s", CapabilityID: "down"})
	if res.Status != core.StatusFailed {
		t.Fatalf("expected failure, got %s", res.Status)
	}
	if !errors.HasCode(res.Err, errors.CodeMaxRetriesExceeded) {
		t.Errorf("expected MAX_RETRIES_EXCEEDED, got %v", res.Err)
	}
	if !errors.HasCode(res.Err, errors.CodeToolExecution) {
		t.Errorf("expected the tool error as cause, got %v", res.Err)
	}
	if inv.CallCount("down") != 3 || len(res.Attempts) != 3 {
		t.Errorf("expected 3 attempts, got %d calls and %d records", inv.CallCount("down"), len(res.Attempts))
	}
}

func TestRunnerUsesFallbacksInOrder(t *testing.T) {
	var primary, first, second atomic.Int32
	handlers := core.Handlers{
		"primary": func(context.Context, core.Values) (core.Values, error) {
			primary.Add(1)
			return nil, stderrors.New("primary down")
		},
		"first": func(context.Context, core.Values) (core.Values, error) {
			first.Add(1)
			return nil, stderrors.New("first down")
		},
		"second": func(_ context.Context, in core.Values) (core.Values, error) {
			second.Add(1)
			return core.Values{"echo": in["x"]}, nil
		},
	}
	fallbacks := NewFallbackRegistry()
	_ = fallbacks.RegisterFallback("primary", "first")
	_ = fallbacks.RegisterFallback("primary", "second")
	r := NewRunner(handlers, WithRetry(fastRetry(2)), WithFallbacks(fallbacks))

	res := r.Run(context.Background(), core.Invocation{
		StepID: "s", CapabilityID: "primary", Inputs: core.Values{"x": core.String("v")},
	})
	if res.Status != core.StatusSucceededViaFallback {
		t.Fatalf("expected success via fallback, got %s (%v)", res.Status, res.Err)
	}
	if !res.FallbackUsed || res.FallbackID != "second" || res.ExecutedBy != "second" {
		t.Errorf("expected fallback second to be recorded, got %+v", res)
	}
	if primary.Load() != 2 || first.Load() != 2 || second.Load() != 1 {
		t.Errorf("unexpected call counts primary=%d first=%d second=%d", primary.Load(), first.Load(), second.Load())
	}
	if len(res.Attempts) != 5 {
		t.Errorf("expected 5 attempt records, got %d", len(res.Attempts))
	}
	if !res.Outputs["echo"].Equal(core.String("v")) {
		t.Errorf("fallback must receive the step inputs, got %v", res.Outputs)
	}
}

func TestRunnerNoAvailableFallback(t *testing.T) {
	boom := func(context.Context, core.Values) (core.Values, error) { return nil, stderrors.New("down") }
	fallbacks := NewFallbackRegistry()
	_ = fallbacks.RegisterFallback("primary", "backup")
	r := NewRunner(core.Handlers{"primary": boom, "backup": boom}, WithRetry(fastRetry(1)), WithFallbacks(fallbacks))

	res := r.Run(context.Background(), core.Invocation{StepID: "s", CapabilityID: "primary"})
	if res.Status != core.StatusFailed {
		t.Fatalf("expected failure, got %s", res.Status)
	}
	if !errors.HasCode(res.Err, errors.CodeNoAvailableFallback) {
		t.Errorf("expected NO_AVAILABLE_FALLBACK, got %v", res.Err)
	}
	if !errors.HasCode(res.Err, errors.CodeMaxRetriesExceeded) {
		t.Errorf("expected the primary failure in the chain, got %v", res.Err)
	}
}

func TestRunnerStepPolicyOverridesDefault(t *testing.T) {
	r := NewRunner(down("x"), WithRetry(fastRetry(5)))

	res := r.Run(context.Background(), core.Invocation{
		StepID: "s", CapabilityID: "x",
		Retry: &core.RetryPolicy{MaxAttempts: 2, BackoffBase: time.Millisecond},
	})
	if len(res.Attempts) != 2 {
		t.Errorf("expected the step policy's 2 attempts, got %d", len(res.Attempts))
	}
}

func TestRunnerPanicIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	r := NewRunner(core.Handlers{
		"boom": func(context.Context, core.Values) (core.Values, error) {
			calls.Add(1)
			panic("kaboom")
		},
	}, WithRetry(fastRetry(3)))

	res := r.Run(context.Background(), core.Invocation{StepID: "s", CapabilityID: "boom"})
	if !errors.HasCode(res.Err, errors.CodeToolExecution) {
		t.Errorf("expected TOOL_EXECUTION_ERROR, got %v", res.Err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestRunnerRetriesTypedToolErrors(t *testing.T) {
	var calls atomic.Int32
	r := NewRunner(core.Handlers{
		"quote": func(context.Context, core.Values) (core.Values, error) {
			if calls.Add(1) <= 2 {
				return nil, errors.New(errors.CodeToolExecution, "carrier api 503", nil)
			}
			return core.Values{"price": core.Number(12)}, nil
		},
	}, WithRetry(fastRetry(3)))

	res := r.Run(context.Background(), core.Invocation{StepID: "s", CapabilityID: "quote"})
	if res.Status != core.StatusSucceeded {
		t.Fatalf("expected success, got %s (%v)", res.Status, res.Err)
	}
	if calls.Load() != 3 || len(res.Attempts) != 3 {
		t.Errorf("expected 3 attempts, got %d calls and %d records", calls.Load(), len(res.Attempts))
	}
}

func TestRunnerMissingHandlerIsNotRetried(t *testing.T) {
	inv := ktesting.NewScriptedInvoker()
	inv.Fallthrough = core.Handlers{}
	r := NewRunner(inv, WithRetry(fastRetry(3)))

	res := r.Run(context.Background(), core.Invocation{StepID: "s", CapabilityID: "ghost"})
	if !errors.HasCode(res.Err, errors.CodeCapabilityNotFound) {
		t.Errorf("expected the missing handler cause, got %v", res.Err)
	}
	if errors.HasCode(res.Err, errors.CodeMaxRetriesExceeded) || inv.CallCount("ghost") != 1 {
		t.Errorf("expected a single attempt, got %d calls (%v)", inv.CallCount("ghost"), res.Err)
	}
}

func TestRunnerAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	r := NewRunner(core.Handlers{
		"slow": func(ctx context.Context, _ core.Values) (core.Values, error) {
			calls.Add(1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return core.Values{}, nil
			}
		},
	}, WithRetry(fastRetry(2).WithAttemptTimeout(20*time.Millisecond)))

	res := r.Run(context.Background(), core.Invocation{StepID: "s", CapabilityID: "slow"})
	if !errors.HasCode(res.Err, errors.CodeMaxRetriesExceeded) || !errors.HasCode(res.Err, errors.CodeTimeout) {
		t.Errorf("expected MAX_RETRIES_EXCEEDED caused by TIMEOUT, got %v", res.Err)
	}
	if calls.Load() != 2 {
		t.Errorf("timeouts should be retried, got %d calls", calls.Load())
	}
}

func TestRunnerCircuitBreaker(t *testing.T) {
	inv := down("flaky")
	r := NewRunner(inv,
		WithRetry(fastRetry(3)),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute}),
	)

	for i := 0; i < 3; i++ {
		r.Run(context.Background(), core.Invocation{StepID: "s", CapabilityID: "flaky"})
	}
	if inv.CallCount("flaky") != 2 {
		t.Errorf("expected the open breaker to stop retries and later runs, got %d calls", inv.CallCount("flaky"))
	}
}

func TestPlanExecutorRetriesAndFallsBack(t *testing.T) {
	inv := ktesting.NewScriptedInvoker()
	inv.On("flaky").FailTimes(2, errCarrier).Return(core.Values{"n": core.Number(1)})
	inv.On("legacy").Fail(errors.New(errors.CodeToolExecution, "endpoint retired", nil))
	inv.On("modern").Return(core.Values{"n": core.Number(2)})
	r := NewRunner(inv, WithRetry(fastRetry(1)))
	if err := r.Fallbacks().RegisterFallback("legacy", "modern"); err != nil {
		t.Fatalf("register: %v", err)
	}

	plan := &planner.Plan{ID: "p", Steps: []planner.Step{
		{ID: "a", Capability: "flaky", Retry: &core.RetryPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond}},
		{ID: "b", Capability: "legacy"},
	}}
	res := NewPlanExecutor(r, core.PolicyAbort).Execute(context.Background(), plan, nil)
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Errors)
	}
	a, _ := res.Step("a")
	if len(a.Attempts) != 3 || a.FallbackUsed {
		t.Errorf("step a: expected 3 attempts and no fallback, got %+v", a)
	}
	b, _ := res.Step("b")
	if b.Status != core.StatusSucceededViaFallback || b.FallbackID != "modern" {
		t.Errorf("step b: expected fallback modern, got %+v", b)
	}
	if !res.Outputs["b.n"].Equal(core.Number(2)) {
		t.Errorf("expected fallback outputs under the step id, got %v", res.Outputs)
	}
	if got := strings.Join(inv.Order(), ","); got != "flaky,flaky,flaky,legacy,modern" {
		t.Errorf("unexpected call order %s", got)
	}
}

func TestChainExecutorContinuesWithNull(t *testing.T) {
	var got core.Value
	handlers := core.Handlers{
		"produce": func(context.Context, core.Values) (core.Values, error) {
			return nil, stderrors.New("down")
		},
		"consume": func(_ context.Context, in core.Values) (core.Values, error) {
			got = in["x"]
			return core.Values{}, nil
		},
	}
	c := &chain.Chain{
		ID:           "c",
		Capabilities: []string{"produce", "consume"},
		Connections: []chain.Connection{{
			From: chain.Endpoint{CapabilityID: "produce", Field: "n"},
			To:   chain.Endpoint{CapabilityID: "consume", Field: "x"},
		}},
	}

	res := NewChainExecutor(NewRunner(handlers, WithRetry(fastRetry(2))), core.PolicyContinue).
		Execute(context.Background(), c, nil)
	if res.Success {
		t.Fatalf("expected an unsuccessful run")
	}
	if len(res.Steps) != 2 || res.Steps[0].Status != core.StatusNulled {
		t.Fatalf("expected produce nulled and consume run, got %+v", res.Steps)
	}
	if !errors.HasCode(res.Err(), errors.CodeMaxRetriesExceeded) {
		t.Errorf("expected MAX_RETRIES_EXCEEDED recorded, got %v", res.Err())
	}
	if !got.IsNull() {
		t.Errorf("expected consume to receive null, got %v", got)
	}
}
