// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing skillchain plans and chains.
//
// This package includes:
//   - Scenario definitions for declarative execution tests
//   - A scripted invoker and a stub embedder
//   - Assertion helpers for execution results
//
// Example usage:
//
//	inv := testing.NewScriptedInvoker()
//	inv.On("fetch").FailTimes(2, errTransient).Return(core.Values{"data": core.String("x")})
//
//	scenario := testing.NewScenario("fetch recovers").
//	    ExpectSuccess().
//	    ExpectAttempts("fetch", 3)
//
//	result := scenario.Run(t, func(ctx context.Context) *core.ExecutionResult {
//	    return executor.Execute(ctx, plan, nil)
//	})
//	result.Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
)

// Scenario defines a test scenario for one execution.
type Scenario struct {
	name          string
	description   string
	context       context.Context
	timeout       time.Duration
	expectations  []Expectation
	setupFuncs    []func() error
	teardownFuncs []func() error
}

// Expectation defines a condition to verify after running a scenario.
type Expectation interface {
	// Check verifies the expectation against the result.
	Check(result *ScenarioResult) error
	// Description returns a human-readable description of the expectation.
	Description() string
}

// RunFunc performs the execution under test.
type RunFunc func(ctx context.Context) *core.ExecutionResult

// ScenarioResult contains the outcome of running a scenario.
type ScenarioResult struct {
	Execution *core.ExecutionResult
	Duration  time.Duration
}

// NewScenario creates a new test scenario with the given name.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		timeout: 30 * time.Second,
		context: context.Background(),
	}
}

// WithDescription adds a description to the scenario.
func (s *Scenario) WithDescription(desc string) *Scenario {
	s.description = desc
	return s
}

// WithContext sets the parent context.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout bounds the whole run.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithSetup adds a setup function to run before the scenario.
func (s *Scenario) WithSetup(fn func() error) *Scenario {
	s.setupFuncs = append(s.setupFuncs, fn)
	return s
}

// WithTeardown adds a teardown function to run after the scenario.
func (s *Scenario) WithTeardown(fn func() error) *Scenario {
	s.teardownFuncs = append(s.teardownFuncs, fn)
	return s
}

// Expect adds an expectation to the scenario.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectSuccess expects a successful run.
func (s *Scenario) ExpectSuccess() *Scenario {
	return s.Expect(successExpectation{want: true})
}

// ExpectFailure expects a failed run.
func (s *Scenario) ExpectFailure() *Scenario {
	return s.Expect(successExpectation{want: false})
}

// ExpectErrorCode expects at least one recorded error with code.
func (s *Scenario) ExpectErrorCode(code errors.ErrorCode) *Scenario {
	return s.Expect(errorCodeExpectation{code: code})
}

// ExpectOutput expects key ("step.field") to hold want in the final outputs.
func (s *Scenario) ExpectOutput(key string, want core.Value) *Scenario {
	return s.Expect(outputExpectation{key: key, want: want})
}

// ExpectStepStatus expects stepID to end with status.
func (s *Scenario) ExpectStepStatus(stepID string, status core.StepStatus) *Scenario {
	return s.Expect(stepStatusExpectation{step: stepID, status: status})
}

// ExpectFallback expects stepID to have been served by fallbackID.
func (s *Scenario) ExpectFallback(stepID, fallbackID string) *Scenario {
	return s.Expect(fallbackExpectation{step: stepID, fallback: fallbackID})
}

// ExpectAttempts expects stepID to have made exactly n attempts.
func (s *Scenario) ExpectAttempts(stepID string, n int) *Scenario {
	return s.Expect(attemptsExpectation{step: stepID, n: n})
}

// ExpectMaxDuration expects the scenario to complete within d.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(maxDurationExpectation{max: d})
}

// Run executes the scenario.
func (s *Scenario) Run(t *testing.T, run RunFunc) *ScenarioResult {
	t.Helper()

	for _, setup := range s.setupFuncs {
		if err := setup(); err != nil {
			t.Fatalf("scenario %q setup failed: %v", s.name, err)
		}
	}
	defer func() {
		for _, teardown := range s.teardownFuncs {
			if err := teardown(); err != nil {
				t.Errorf("scenario %q teardown failed: %v", s.name, err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	start := time.Now()
	res := run(ctx)
	if res == nil {
		t.Fatalf("scenario %q returned no execution result", s.name)
	}
	return &ScenarioResult{Execution: res, Duration: time.Since(start)}
}

// Assert checks all expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()
	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", scenario.name, exp.Description(), err)
		}
	}
}

type successExpectation struct{ want bool }

func (e successExpectation) Check(r *ScenarioResult) error {
	if r.Execution.Success != e.want {
		return fmt.Errorf("success = %v, errors: %v", r.Execution.Success, r.Execution.ErrorMessages())
	}
	return nil
}

func (e successExpectation) Description() string {
	if e.want {
		return "run succeeds"
	}
	return "run fails"
}

type errorCodeExpectation struct{ code errors.ErrorCode }

func (e errorCodeExpectation) Check(r *ScenarioResult) error {
	for _, err := range r.Execution.Errors {
		if errors.HasCode(err, e.code) {
			return nil
		}
	}
	return fmt.Errorf("no %s error among %v", e.code, r.Execution.ErrorMessages())
}

func (e errorCodeExpectation) Description() string {
	return fmt.Sprintf("error code %s", e.code)
}

type outputExpectation struct {
	key  string
	want core.Value
}

func (e outputExpectation) Check(r *ScenarioResult) error {
	got, ok := r.Execution.Outputs[e.key]
	if !ok {
		return fmt.Errorf("output %q missing", e.key)
	}
	if !got.Equal(e.want) {
		return fmt.Errorf("output %q = %v, want %v", e.key, got.Any(), e.want.Any())
	}
	return nil
}

func (e outputExpectation) Description() string {
	return fmt.Sprintf("output %s", e.key)
}

type stepStatusExpectation struct {
	step   string
	status core.StepStatus
}

func (e stepStatusExpectation) Check(r *ScenarioResult) error {
	sr, ok := r.Execution.Step(e.step)
	if !ok {
		return fmt.Errorf("step %q did not run", e.step)
	}
	if sr.Status != e.status {
		return fmt.Errorf("step %q status = %s, want %s", e.step, sr.Status, e.status)
	}
	return nil
}

func (e stepStatusExpectation) Description() string {
	return fmt.Sprintf("step %s %s", e.step, e.status)
}

type fallbackExpectation struct{ step, fallback string }

func (e fallbackExpectation) Check(r *ScenarioResult) error {
	sr, ok := r.Execution.Step(e.step)
	if !ok {
		return fmt.Errorf("step %q did not run", e.step)
	}
	if !sr.FallbackUsed || sr.FallbackID != e.fallback {
		return fmt.Errorf("step %q fallback = %q (used=%v), want %q", e.step, sr.FallbackID, sr.FallbackUsed, e.fallback)
	}
	return nil
}

func (e fallbackExpectation) Description() string {
	return fmt.Sprintf("step %s falls back to %s", e.step, e.fallback)
}

type attemptsExpectation struct {
	step string
	n    int
}

func (e attemptsExpectation) Check(r *ScenarioResult) error {
	sr, ok := r.Execution.Step(e.step)
	if !ok {
		return fmt.Errorf("step %q did not run", e.step)
	}
	if len(sr.Attempts) != e.n {
		return fmt.Errorf("step %q made %d attempts, want %d", e.step, len(sr.Attempts), e.n)
	}
	return nil
}

func (e attemptsExpectation) Description() string {
	return fmt.Sprintf("step %s makes %d attempts", e.step, e.n)
}

type maxDurationExpectation struct{ max time.Duration }

func (e maxDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("duration %v exceeds maximum %v", r.Duration, e.max)
	}
	return nil
}

func (e maxDurationExpectation) Description() string {
	return fmt.Sprintf("duration <= %v", e.max)
}
