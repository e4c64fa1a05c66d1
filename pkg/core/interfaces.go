// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package core holds the data model shared by every skillchain component:
// capabilities, values, invocation contracts and execution results.
package core

import (
	"context"
	"fmt"

	"github.com/jllopis/skillchain/pkg/errors"
)

// Invoker executes a capability. Implementations are external collaborators
// (MCP servers, local handlers, remote APIs) and may be slow or fail.
type Invoker interface {
	Invoke(ctx context.Context, capabilityID string, inputs Values) (Values, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, capabilityID string, inputs Values) (Values, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, capabilityID string, inputs Values) (Values, error) {
	return f(ctx, capabilityID, inputs)
}

// Handler implements a single capability in process.
type Handler func(ctx context.Context, inputs Values) (Values, error)

// Handlers maps capability ids to in-process handlers.
type Handlers map[string]Handler

// Invoke implements Invoker.
func (h Handlers) Invoke(ctx context.Context, capabilityID string, inputs Values) (Values, error) {
	handler, ok := h[capabilityID]
	if !ok {
		return nil, errors.New(errors.CodeToolExecution, "no handler for capability",
			errors.Newf(errors.CodeCapabilityNotFound, "capability %q has no handler", capabilityID)).
			WithContext("capability", capabilityID).
			WithPermanent()
	}
	return handler(ctx, inputs)
}

// Lookup resolves capability descriptors. The registry implements it.
type Lookup interface {
	Get(id string) (Capability, error)
}

// StepRunner runs a single invocation and reports how it went.
// The plain runner makes one attempt; resilient runners retry and fall back.
type StepRunner interface {
	Run(ctx context.Context, inv Invocation) StepResult
}

// SafeInvoke calls the invoker, converting panics and untyped errors into
// TOOL_EXECUTION_ERROR.
func SafeInvoke(ctx context.Context, invoker Invoker, capabilityID string, inputs Values) (out Values, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = errors.New(errors.CodeToolExecution, "capability panicked", fmt.Errorf("%v", r)).
				WithContext("capability", capabilityID).
				WithPermanent()
		}
	}()
	if invoker == nil {
		return nil, errors.New(errors.CodeToolExecution, "no invoker configured", nil).
			WithContext("capability", capabilityID).
			WithPermanent()
	}
	out, err = invoker.Invoke(ctx, capabilityID, inputs)
	if err != nil {
		return nil, wrapToolError(capabilityID, err)
	}
	if out == nil {
		out = Values{}
	}
	return out, nil
}

func wrapToolError(capabilityID string, err error) error {
	switch errors.CodeOf(err) {
	case errors.CodeToolExecution, errors.CodeTimeout, errors.CodeContextLost:
		return err
	}
	return errors.New(errors.CodeToolExecution, fmt.Sprintf("capability %q failed", capabilityID), err).
		WithContext("capability", capabilityID).
		WithRecoverable(true)
}

// DirectRunner makes exactly one attempt per invocation.
type DirectRunner struct {
	Invoker Invoker
}

// NewDirectRunner wraps an invoker in a single-attempt runner.
func NewDirectRunner(invoker Invoker) *DirectRunner {
	return &DirectRunner{Invoker: invoker}
}

// Run implements StepRunner.
func (r *DirectRunner) Run(ctx context.Context, inv Invocation) StepResult {
	attempt := StartAttempt(inv.CapabilityID, 1)
	out, err := SafeInvoke(ctx, r.Invoker, inv.CapabilityID, inv.Inputs)
	attempt = attempt.Finish(err)

	res := StepResult{
		StepID:       inv.StepID,
		CapabilityID: inv.CapabilityID,
		ExecutedBy:   inv.CapabilityID,
		Attempts:     []Attempt{attempt},
		Duration:     attempt.Duration,
	}
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	res.Status = StatusSucceeded
	res.Outputs = out
	return res
}
