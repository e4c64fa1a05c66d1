// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jllopis/skillchain/pkg/errors"
)

// RetryPolicy bounds the attempts made for a single step.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base"`
}

// Invocation is one step handed to a StepRunner.
type Invocation struct {
	StepID       string
	CapabilityID string
	Inputs       Values
	Retry        *RetryPolicy
}

// StepStatus describes how a step ended.
type StepStatus string

const (
	StatusSucceeded            StepStatus = "succeeded"
	StatusSucceededViaFallback StepStatus = "succeeded_via_fallback"
	StatusSkipped              StepStatus = "skipped"
	StatusFailed               StepStatus = "failed"
	StatusNulled               StepStatus = "nulled"
)

// Attempt records a single call to a capability.
type Attempt struct {
	CapabilityID string        `json:"capability_id"`
	Number       int           `json:"number"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Err          error         `json:"-"`
}

// StartAttempt opens an attempt record.
func StartAttempt(capabilityID string, number int) Attempt {
	return Attempt{CapabilityID: capabilityID, Number: number, StartedAt: time.Now()}
}

// Finish closes the attempt with its outcome.
func (a Attempt) Finish(err error) Attempt {
	a.Duration = time.Since(a.StartedAt)
	a.Err = err
	return a
}

// Succeeded reports whether the attempt returned without error.
func (a Attempt) Succeeded() bool { return a.Err == nil }

// StepResult is the outcome of one plan step or chain link.
type StepResult struct {
	StepID       string        `json:"step_id"`
	CapabilityID string        `json:"capability_id"`
	ExecutedBy   string        `json:"executed_by,omitempty"`
	Status       StepStatus    `json:"status"`
	FallbackUsed bool          `json:"fallback_used"`
	FallbackID   string        `json:"fallback_id,omitempty"`
	Attempts     []Attempt     `json:"attempts,omitempty"`
	Outputs      Values        `json:"outputs,omitempty"`
	Err          error         `json:"-"`
	Duration     time.Duration `json:"duration"`
}

// OK reports whether the step produced outputs.
func (r StepResult) OK() bool {
	return r.Status == StatusSucceeded || r.Status == StatusSucceededViaFallback
}

// ExecutionResult is returned by every executor. Execution errors are
// collected here and never escape as panics or bare errors.
type ExecutionResult struct {
	RunID    string        `json:"run_id"`
	Success  bool          `json:"success"`
	Steps    []StepResult  `json:"steps"`
	Errors   []error       `json:"-"`
	Outputs  Values        `json:"outputs,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Step returns the result recorded for stepID.
func (r *ExecutionResult) Step(stepID string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return StepResult{}, false
}

// Fail records err and marks the run as failed.
func (r *ExecutionResult) Fail(err error) {
	if err == nil {
		return
	}
	r.Success = false
	r.Errors = append(r.Errors, err)
}

// Err joins every recorded error, or returns nil.
func (r *ExecutionResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return stderrors.Join(r.Errors...)
}

// ErrorMessages renders recorded errors for display.
func (r *ExecutionResult) ErrorMessages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

// FailurePolicy decides what happens when a step fails after retries and fallbacks.
type FailurePolicy string

const (
	// PolicyAbort stops the run at the first unrecoverable step failure.
	PolicyAbort FailurePolicy = "abort"
	// PolicyContinue binds the failed step's declared outputs to null and proceeds.
	PolicyContinue FailurePolicy = "continue"
)

// ParseFailurePolicy parses "abort" or "continue".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	p := FailurePolicy(strings.ToLower(strings.TrimSpace(s)))
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// Validate rejects unset or unknown policies.
func (p FailurePolicy) Validate() error {
	switch p {
	case PolicyAbort, PolicyContinue:
		return nil
	case "":
		return errors.New(errors.CodeInvalidPlan, "failure policy must be set explicitly (abort or continue)", nil)
	default:
		return errors.New(errors.CodeInvalidPlan, fmt.Sprintf("unknown failure policy %q", string(p)), nil)
	}
}
