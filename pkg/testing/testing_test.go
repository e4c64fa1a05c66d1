// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing_test

import (
	"context"
	stderrors "errors"
	"reflect"
	"testing"
	"time"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
	"github.com/jllopis/skillchain/pkg/planner"
	"github.com/jllopis/skillchain/pkg/resilience"
	ktesting "github.com/jllopis/skillchain/pkg/testing"
)

var errTransient = stderrors.New("transient")

func fetchPlan() *planner.Plan {
	return &planner.Plan{ID: "p", Steps: []planner.Step{
		{ID: "fetch", Capability: "fetch"},
		{ID: "store", Capability: "store", Inputs: map[string]planner.Binding{
			"data": planner.Ref("fetch", "data"),
		}},
	}}
}

func TestScriptedInvokerQueue(t *testing.T) {
	inv := ktesting.NewScriptedInvoker()
	inv.On("fetch").FailTimes(2, errTransient).Return(core.Values{"data": core.String("x")})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := inv.Invoke(ctx, "fetch", nil); !stderrors.Is(err, errTransient) {
			t.Fatalf("call %d: expected transient error, got %v", i+1, err)
		}
	}
	for i := 0; i < 2; i++ {
		out, err := inv.Invoke(ctx, "fetch", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !out["data"].Equal(core.String("x")) {
			t.Errorf("unexpected outputs %v", out.Plain())
		}
	}
	if inv.CallCount("fetch") != 4 {
		t.Errorf("expected 4 calls, got %d", inv.CallCount("fetch"))
	}
	if _, err := inv.Invoke(ctx, "unknown", nil); err == nil {
		t.Error("expected error for unscripted capability")
	}
}

func TestScriptedInvokerFallthroughAndDelay(t *testing.T) {
	inv := ktesting.NewScriptedInvoker()
	inv.Fallthrough = core.Handlers{
		"echo": func(_ context.Context, in core.Values) (core.Values, error) { return in, nil },
	}
	inv.On("slow").Delay(time.Second)

	out, err := inv.Invoke(context.Background(), "echo", core.Values{"v": core.Number(1)})
	if err != nil || !out["v"].Equal(core.Number(1)) {
		t.Fatalf("fallthrough failed: %v %v", out, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := inv.Invoke(ctx, "slow", nil); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if got := inv.Order(); !reflect.DeepEqual(got, []string{"echo", "slow"}) {
		t.Errorf("order = %v", got)
	}
	inv.Reset()
	if len(inv.Calls()) != 0 {
		t.Error("Reset should clear calls")
	}
}

func TestScenarioRetryThenSucceed(t *testing.T) {
	inv := ktesting.NewScriptedInvoker()
	inv.On("fetch").FailTimes(2, errTransient).Return(core.Values{"data": core.String("payload")})
	inv.On("store").Handle(func(_ context.Context, in core.Values) (core.Values, error) {
		return core.Values{"stored": in["data"]}, nil
	})

	runner := resilience.NewRunner(inv, resilience.WithRetry(resilience.RetryConfig{MaxAttempts: 3, BackoffBase: time.Millisecond}))
	exec := planner.NewExecutor(runner, core.PolicyAbort)

	scenario := ktesting.NewScenario("fetch recovers").
		WithTimeout(5*time.Second).
		ExpectSuccess().
		ExpectAttempts("fetch", 3).
		ExpectStepStatus("store", core.StatusSucceeded).
		ExpectOutput("store.stored", core.String("payload")).
		ExpectMaxDuration(2 * time.Second)

	result := scenario.Run(t, func(ctx context.Context) *core.ExecutionResult {
		return exec.Execute(ctx, fetchPlan(), nil)
	})
	result.Assert(t, scenario)
}

func TestScenarioFallbackAndAbort(t *testing.T) {
	inv := ktesting.NewScriptedInvoker()
	inv.On("fetch").Fail(errTransient)
	inv.On("fetch_mirror").Return(core.Values{"data": core.String("mirror")})
	inv.On("store").Panic("disk on fire")

	fallbacks := resilience.NewFallbackRegistry()
	if err := fallbacks.RegisterFallback("fetch", "fetch_mirror"); err != nil {
		t.Fatal(err)
	}
	runner := resilience.NewRunner(inv,
		resilience.WithRetry(resilience.RetryConfig{MaxAttempts: 2, BackoffBase: time.Millisecond}),
		resilience.WithFallbacks(fallbacks))
	exec := planner.NewExecutor(runner, core.PolicyAbort)

	scenario := ktesting.NewScenario("mirror serves fetch, store panics").
		ExpectFailure().
		ExpectFallback("fetch", "fetch_mirror").
		ExpectStepStatus("store", core.StatusFailed).
		ExpectErrorCode(errors.CodeToolExecution)

	result := scenario.Run(t, func(ctx context.Context) *core.ExecutionResult {
		return exec.Execute(ctx, fetchPlan(), nil)
	})
	result.Assert(t, scenario)

	if inv.CallCount("store") != 1 {
		t.Errorf("panics are not retried: store called %d times", inv.CallCount("store"))
	}
}

func TestAssertions(t *testing.T) {
	inv := ktesting.NewScriptedInvoker()
	inv.On("fetch").Return(core.Values{"data": core.Number(1)})
	inv.On("store")
	res := planner.NewExecutor(core.NewDirectRunner(inv), core.PolicyContinue).
		Execute(context.Background(), fetchPlan(), nil)

	a := ktesting.NewAssertions(t)
	a.AssertResult(res).
		Succeeded().
		StepOrder("fetch", "store").
		StepStatus("fetch", core.StatusSucceeded).
		Output("fetch.data", core.Number(1))
	a.AssertLen(inv.Calls(), 2, "calls")
	a.AssertEqual([]string{"fetch", "store"}, inv.Order(), "order")
	a.AssertErrorCode(errors.New(errors.CodeTimeout, "slow", nil), errors.CodeTimeout, "code")
	if a.Failed() {
		t.Fatal("assertions reported failure")
	}
}

func TestStubEmbedder(t *testing.T) {
	e := &ktesting.StubEmbedder{
		Vectors: map[string][]float32{"a": {1, 0}},
		Default: []float32{0, 1},
	}
	v, err := e.Embed(context.Background(), "a")
	ktesting.RequireNoError(t, err, "embed a")
	if !reflect.DeepEqual(v, []float32{1, 0}) {
		t.Errorf("unexpected vector %v", v)
	}
	v, _ = e.Embed(context.Background(), "other")
	if !reflect.DeepEqual(v, []float32{0, 1}) {
		t.Errorf("expected default vector, got %v", v)
	}

	e.Err = stderrors.New("model offline")
	if _, err := e.Embed(context.Background(), "other"); err == nil {
		t.Error("expected error")
	}
	if e.Calls() != 3 {
		t.Errorf("calls = %d, want 3", e.Calls())
	}
}
