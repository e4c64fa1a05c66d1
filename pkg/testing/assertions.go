// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"reflect"
	"strings"
	"testing"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
)

// Assertions provides assertion helpers for testing.
type Assertions struct {
	t      *testing.T
	failed bool
}

// NewAssertions creates a new assertions helper.
func NewAssertions(t *testing.T) *Assertions {
	return &Assertions{t: t}
}

// Failed returns true if any assertion has failed.
func (a *Assertions) Failed() bool {
	return a.failed
}

// AssertEqual asserts that two values are deeply equal.
func (a *Assertions) AssertEqual(expected, actual any, msg string) {
	a.t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		a.t.Errorf("%s: expected %v, got %v", msg, expected, actual)
		a.failed = true
	}
}

// AssertTrue asserts that the value is true.
func (a *Assertions) AssertTrue(value bool, msg string) {
	a.t.Helper()
	if !value {
		a.t.Errorf("%s: expected true", msg)
		a.failed = true
	}
}

// AssertNoError asserts that the error is nil.
func (a *Assertions) AssertNoError(err error, msg string) {
	a.t.Helper()
	if err != nil {
		a.t.Errorf("%s: unexpected error: %v", msg, err)
		a.failed = true
	}
}

// AssertErrorCode asserts that err carries code somewhere in its chain.
func (a *Assertions) AssertErrorCode(err error, code errors.ErrorCode, msg string) {
	a.t.Helper()
	if !errors.HasCode(err, code) {
		a.t.Errorf("%s: expected %s, got %v", msg, code, err)
		a.failed = true
	}
}

// AssertErrorContains asserts that the error message contains the substring.
func (a *Assertions) AssertErrorContains(err error, substr, msg string) {
	a.t.Helper()
	if err == nil {
		a.t.Errorf("%s: expected error containing %q, got nil", msg, substr)
		a.failed = true
		return
	}
	if !strings.Contains(err.Error(), substr) {
		a.t.Errorf("%s: error %q does not contain %q", msg, err.Error(), substr)
		a.failed = true
	}
}

// AssertLen asserts the length of a string, slice, array or map.
func (a *Assertions) AssertLen(value any, expected int, msg string) {
	a.t.Helper()
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
	default:
		a.t.Errorf("%s: cannot get length of %T", msg, value)
		a.failed = true
		return
	}
	if v.Len() != expected {
		a.t.Errorf("%s: expected length %d, got %d", msg, expected, v.Len())
		a.failed = true
	}
}

// ResultAssertions provides assertion helpers for execution results.
type ResultAssertions struct {
	*Assertions
	res *core.ExecutionResult
}

// AssertResult creates assertions for res.
func (a *Assertions) AssertResult(res *core.ExecutionResult) *ResultAssertions {
	a.t.Helper()
	if res == nil {
		a.t.Error("execution result is nil")
		a.failed = true
		return &ResultAssertions{Assertions: a, res: &core.ExecutionResult{}}
	}
	return &ResultAssertions{Assertions: a, res: res}
}

// Succeeded asserts the run succeeded.
func (r *ResultAssertions) Succeeded() *ResultAssertions {
	r.t.Helper()
	if !r.res.Success {
		r.t.Errorf("expected success, got errors: %v", r.res.ErrorMessages())
		r.failed = true
	}
	return r
}

// Failed asserts the run failed.
func (r *ResultAssertions) Failed() *ResultAssertions {
	r.t.Helper()
	if r.res.Success {
		r.t.Error("expected failure, got success")
		r.failed = true
	}
	return r
}

// HasErrorCode asserts some recorded error carries code.
func (r *ResultAssertions) HasErrorCode(code errors.ErrorCode) *ResultAssertions {
	r.t.Helper()
	for _, err := range r.res.Errors {
		if errors.HasCode(err, code) {
			return r
		}
	}
	r.t.Errorf("no %s error among %v", code, r.res.ErrorMessages())
	r.failed = true
	return r
}

// StepStatus asserts how stepID ended.
func (r *ResultAssertions) StepStatus(stepID string, status core.StepStatus) *ResultAssertions {
	r.t.Helper()
	sr, ok := r.res.Step(stepID)
	switch {
	case !ok:
		r.t.Errorf("step %q did not run", stepID)
		r.failed = true
	case sr.Status != status:
		r.t.Errorf("step %q status = %s, want %s", stepID, sr.Status, status)
		r.failed = true
	}
	return r
}

// StepOrder asserts the recorded step order.
func (r *ResultAssertions) StepOrder(ids ...string) *ResultAssertions {
	r.t.Helper()
	got := make([]string, len(r.res.Steps))
	for i, s := range r.res.Steps {
		got[i] = s.StepID
	}
	if !reflect.DeepEqual(got, ids) {
		r.t.Errorf("step order = %v, want %v", got, ids)
		r.failed = true
	}
	return r
}

// Output asserts key holds want in the final outputs.
func (r *ResultAssertions) Output(key string, want core.Value) *ResultAssertions {
	r.t.Helper()
	got, ok := r.res.Outputs[key]
	switch {
	case !ok:
		r.t.Errorf("output %q missing", key)
		r.failed = true
	case !got.Equal(want):
		r.t.Errorf("output %q = %v, want %v", key, got.Any(), want.Any())
		r.failed = true
	}
	return r
}

// RequireNoError fails the test immediately if err is not nil.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// RequireErrorCode fails the test immediately unless err carries code.
func RequireErrorCode(t *testing.T, err error, code errors.ErrorCode, msg string) {
	t.Helper()
	if !errors.HasCode(err, code) {
		t.Fatalf("%s: expected %s, got %v", msg, code, err)
	}
}
