// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
	"github.com/jllopis/skillchain/pkg/telemetry"
)

// Executor runs chains strictly in order through a StepRunner.
type Executor struct {
	runner  core.StepRunner
	policy  core.FailurePolicy
	lookup  core.Lookup
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLookup validates chain fields against registered capabilities.
func WithLookup(l core.Lookup) ExecutorOption {
	return func(e *Executor) { e.lookup = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records step metrics.
func WithMetrics(m *telemetry.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates a chain executor. The failure policy must be set.
func NewExecutor(runner core.StepRunner, policy core.FailurePolicy, opts ...ExecutorOption) *Executor {
	e := &Executor{
		runner: runner,
		policy: policy,
		logger: slog.Default(),
		tracer: otel.Tracer("skillchain/chain"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs c. The first capability receives inputs; every later one
// receives the values carried by the connections that target it.
func (e *Executor) Execute(ctx context.Context, c *Chain, inputs core.Values) *core.ExecutionResult {
	start := time.Now()
	ctx, runID := core.EnsureRunID(ctx)
	res := &core.ExecutionResult{RunID: runID, Success: true}
	defer func() { res.Duration = time.Since(start) }()

	chainID, length := "", 0
	if c != nil {
		chainID, length = c.ID, c.Len()
	}
	ctx, span := e.tracer.Start(ctx, "Chain.Execute",
		trace.WithAttributes(telemetry.RunAttributes(runID, chainID, string(e.policy), length)...))
	defer span.End()

	if err := e.prepare(c); err != nil {
		res.Fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordError(ctx, err, "chain")
		return res
	}

	pending := map[string]core.Values{c.Capabilities[0]: inputs.Clone()}
	for i, id := range c.Capabilities {
		if err := ctx.Err(); err != nil {
			res.Fail(errors.New(errors.CodeContextLost, "chain cancelled before "+id, err))
			break
		}
		step := e.runStep(ctx, runID, i, id, pending[id])
		res.Steps = append(res.Steps, step)

		var outputs core.Values
		switch {
		case step.OK():
			outputs = step.Outputs
			res.Outputs = step.Outputs
		case e.policy == core.PolicyContinue:
			res.Steps[len(res.Steps)-1].Status = core.StatusNulled
			res.Fail(step.Err)
			res.Outputs = nil
		default:
			res.Fail(step.Err)
			span.SetStatus(codes.Error, "chain aborted")
			return res
		}

		if err := e.forward(c, id, outputs, pending); err != nil {
			res.Fail(err)
			if e.policy == core.PolicyAbort {
				span.SetStatus(codes.Error, "chain aborted")
				return res
			}
		}
	}
	if res.Success {
		span.SetStatus(codes.Ok, "")
	}
	return res
}

func (e *Executor) prepare(c *Chain) error {
	if err := e.policy.Validate(); err != nil {
		return err
	}
	if e.runner == nil {
		return errors.New(errors.CodeInternal, "executor has no step runner", nil)
	}
	return c.Validate(e.lookup)
}

func (e *Executor) runStep(ctx context.Context, runID string, index int, id string, inputs core.Values) core.StepResult {
	ctx, span := e.tracer.Start(ctx, "Chain.Step",
		trace.WithAttributes(telemetry.StepAttributes(runID, id, id, false)...),
		trace.WithAttributes(attribute.Int(telemetry.AttrGroupIndex, index)),
	)
	defer span.End()

	if inputs == nil {
		inputs = core.Values{}
	}
	res := e.runner.Run(ctx, core.Invocation{StepID: id, CapabilityID: id, Inputs: inputs})
	res.StepID, res.CapabilityID = id, id

	span.SetAttributes(attribute.String(telemetry.AttrStepStatus, string(res.Status)))
	e.metrics.RecordStep(ctx, id, string(res.Status), res.Duration)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		e.metrics.RecordError(ctx, res.Err, "chain")
		e.logger.WarnContext(ctx, "chain step failed",
			slog.String("run_id", runID),
			slog.String("capability", id),
			slog.Int("attempts", len(res.Attempts)),
			slog.String("error", res.Err.Error()),
		)
	} else {
		span.SetStatus(codes.Ok, "")
		e.logger.DebugContext(ctx, "chain step finished",
			slog.String("run_id", runID),
			slog.String("capability", id),
			slog.String("executed_by", res.ExecutedBy),
			slog.Duration("duration", res.Duration),
		)
	}
	return res
}

// forward binds the outputs of id into the pending inputs of downstream
// capabilities. A nil outputs map (failed step under continue) binds nulls.
func (e *Executor) forward(c *Chain, id string, outputs core.Values, pending map[string]core.Values) error {
	for _, conn := range c.ConnectionsFrom(id) {
		v, ok := outputs[conn.From.Field]
		if !ok {
			v = core.Null()
		}
		if conn.Transform != nil && outputs != nil {
			transformed, err := applyTransform(conn, v)
			if err != nil {
				return err
			}
			v = transformed
		}
		target := pending[conn.To.CapabilityID]
		if target == nil {
			target = core.Values{}
			pending[conn.To.CapabilityID] = target
		}
		target[conn.To.Field] = v
	}
	return nil
}

func applyTransform(conn Connection, v core.Value) (out core.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
		if err != nil {
			err = errors.New(errors.CodeToolExecution, fmt.Sprintf("transform on %s failed", conn), err).
				WithContext("connection", conn.String())
		}
	}()
	return conn.Transform(v)
}
