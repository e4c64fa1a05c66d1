// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
	"github.com/jllopis/skillchain/pkg/telemetry"
)

// Executor runs plans through a StepRunner.
type Executor struct {
	runner      core.StepRunner
	policy      core.FailurePolicy
	lookup      core.Lookup
	audit       AuditStore
	maxParallel int
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithLookup enables capability checks during validation and lets the
// executor learn each capability's declared outputs.
func WithLookup(l core.Lookup) Option {
	return func(e *Executor) { e.lookup = l }
}

// WithAuditStore records one event per finished step.
func WithAuditStore(s AuditStore) Option {
	return func(e *Executor) { e.audit = s }
}

// WithMaxParallel bounds the goroutines of a parallel group. Zero means no limit.
func WithMaxParallel(n int) Option {
	return func(e *Executor) { e.maxParallel = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records step metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates an executor. The failure policy has no default: an
// empty policy makes every run fail with INVALID_PLAN.
func NewExecutor(runner core.StepRunner, policy core.FailurePolicy, opts ...Option) *Executor {
	e := &Executor{
		runner: runner,
		policy: policy,
		logger: slog.Default(),
		tracer: otel.Tracer("skillchain/planner"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the failure policy applied to every run.
func (e *Executor) Policy() core.FailurePolicy { return e.policy }

// Lookup returns the configured capability lookup, if any.
func (e *Executor) Lookup() core.Lookup { return e.lookup }

// Execute validates and runs plan. Plan inputs are readable as input.<name>.
// Errors never escape: they are collected in the returned result.
func (e *Executor) Execute(ctx context.Context, plan *Plan, inputs core.Values) *core.ExecutionResult {
	start := time.Now()
	ctx, runID := core.EnsureRunID(ctx)
	res := &core.ExecutionResult{RunID: runID, Success: true}
	defer func() { res.Duration = time.Since(start) }()

	planID, steps := "", 0
	if plan != nil {
		planID, steps = plan.ID, len(plan.Steps)
	}
	ctx, span := e.tracer.Start(ctx, "Planner.Execute",
		trace.WithAttributes(telemetry.RunAttributes(runID, planID, string(e.policy), steps)...))
	defer span.End()

	if err := e.prepare(plan); err != nil {
		res.Fail(err)
		e.metrics.RecordError(ctx, err, "planner")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.ErrorContext(ctx, "plan rejected",
			slog.String("plan", planID),
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		return res
	}

	ec := NewExecContext(inputs)
	groups := plan.Groups()
	e.logger.InfoContext(ctx, "plan started",
		slog.String("plan", planID),
		slog.String("run_id", runID),
		slog.Int("steps", steps),
		slog.Int("groups", len(groups)),
		slog.String("policy", string(e.policy)),
	)

	for gi, group := range groups {
		if err := ctx.Err(); err != nil {
			res.Fail(errors.New(errors.CodeContextLost, "run cancelled before group "+fmt.Sprint(gi), err))
			break
		}
		aborted := false
		for _, r := range e.runGroup(ctx, planID, runID, gi, group, ec) {
			res.Steps = append(res.Steps, r)
			if r.Status == core.StatusFailed || r.Status == core.StatusNulled {
				res.Fail(r.Err)
				aborted = aborted || e.policy == core.PolicyAbort
			}
		}
		if aborted {
			e.logger.WarnContext(ctx, "plan aborted",
				slog.String("plan", planID),
				slog.String("run_id", runID),
				slog.Int("group", gi),
			)
			break
		}
	}

	res.Outputs = ec.StepOutputs()
	if res.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, "plan failed")
	}
	e.logger.InfoContext(ctx, "plan finished",
		slog.String("plan", planID),
		slog.String("run_id", runID),
		slog.Bool("success", res.Success),
		slog.Int("errors", len(res.Errors)),
		slog.Duration("duration", time.Since(start)),
	)
	return res
}

func (e *Executor) prepare(plan *Plan) error {
	if err := e.policy.Validate(); err != nil {
		return err
	}
	if e.runner == nil {
		return errors.New(errors.CodeInternal, "executor has no step runner", nil)
	}
	warnings, err := plan.Validate(e.lookup)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		e.logger.Warn("plan validation warning", slog.String("plan", plan.ID), slog.String("warning", w.Error()))
	}
	return nil
}

// runGroup runs a group and returns the results in step order. Members of a
// parallel group are all attempted even when some fail.
func (e *Executor) runGroup(ctx context.Context, planID, runID string, gi int, group []Step, ec *ExecContext) []core.StepResult {
	results := make([]core.StepResult, len(group))
	if len(group) == 1 {
		results[0] = e.runStep(ctx, planID, runID, gi, group[0], ec)
		return results
	}
	var g errgroup.Group
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}
	for i, s := range group {
		g.Go(func() error {
			results[i] = e.runStep(ctx, planID, runID, gi, s, ec)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Executor) runStep(ctx context.Context, planID, runID string, gi int, s Step, ec *ExecContext) core.StepResult {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "Planner.Step",
		trace.WithAttributes(telemetry.StepAttributes(runID, s.ID, s.Capability, s.Parallel)...),
		trace.WithAttributes(attribute.Int(telemetry.AttrGroupIndex, gi)),
	)
	defer span.End()

	res := e.invoke(ctx, s, ec)
	res.StepID = s.ID
	res.CapabilityID = s.Capability
	if res.Duration == 0 {
		res.Duration = time.Since(started)
	}

	switch {
	case res.OK():
		e.writeOutputs(s, res.Outputs, ec)
	case res.Status == core.StatusFailed && e.policy == core.PolicyContinue:
		res.Status = core.StatusNulled
		e.writeNulls(s, ec)
	}

	span.SetAttributes(attribute.String(telemetry.AttrStepStatus, string(res.Status)))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		e.metrics.RecordError(ctx, res.Err, "planner")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	e.metrics.RecordStep(ctx, s.Capability, string(res.Status), res.Duration)
	e.logStep(ctx, runID, s, res)
	e.record(ctx, planID, runID, started, res)
	return res
}

func (e *Executor) invoke(ctx context.Context, s Step, ec *ExecContext) core.StepResult {
	if s.Condition != nil {
		ok, err := s.Condition.Evaluate(ec)
		if err != nil {
			return failed(errors.New(errors.CodeInvalidPlan,
				fmt.Sprintf("step %q condition %q", s.ID, s.Condition.String()), err).WithContext("step", s.ID))
		}
		if !ok {
			return core.StepResult{Status: core.StatusSkipped}
		}
	}
	inputs := make(core.Values, len(s.Inputs))
	for name, b := range s.Inputs {
		v, err := b.Resolve(ec)
		if err != nil {
			return failed(errors.New(errors.CodeInvalidPlan,
				fmt.Sprintf("step %q input %q", s.ID, name), err).WithContext("step", s.ID))
		}
		inputs[name] = v
	}
	return e.runner.Run(ctx, core.Invocation{
		StepID:       s.ID,
		CapabilityID: s.Capability,
		Inputs:       inputs,
		Retry:        s.Retry,
	})
}

func failed(err error) core.StepResult {
	return core.StepResult{Status: core.StatusFailed, Err: err}
}

// writeOutputs stores every returned output and null for any declared output
// the capability did not return.
func (e *Executor) writeOutputs(s Step, out core.Values, ec *ExecContext) {
	for name, v := range out {
		ec.Set(s.ID, name, v)
	}
	declared, _ := DeclaredOutputs(s, e.lookup)
	for _, name := range declared {
		if _, ok := out[name]; !ok {
			ec.Set(s.ID, name, core.Null())
		}
	}
}

func (e *Executor) writeNulls(s Step, ec *ExecContext) {
	declared, _ := DeclaredOutputs(s, e.lookup)
	for _, name := range declared {
		ec.Set(s.ID, name, core.Null())
	}
}

func (e *Executor) logStep(ctx context.Context, runID string, s Step, res core.StepResult) {
	attrs := []any{
		slog.String("run_id", runID),
		slog.String("step", s.ID),
		slog.String("capability", s.Capability),
		slog.String("status", string(res.Status)),
		slog.Int("attempts", len(res.Attempts)),
		slog.Duration("duration", res.Duration),
	}
	if res.FallbackUsed {
		attrs = append(attrs, slog.String("fallback", res.FallbackID))
	}
	if res.Err != nil {
		attrs = append(attrs, slog.String("error", res.Err.Error()))
		e.logger.WarnContext(ctx, "step failed", attrs...)
		return
	}
	e.logger.DebugContext(ctx, "step finished", attrs...)
}

func (e *Executor) record(ctx context.Context, planID, runID string, started time.Time, res core.StepResult) {
	if e.audit == nil {
		return
	}
	ev := AuditEvent{
		PlanID:       planID,
		RunID:        runID,
		StepID:       res.StepID,
		CapabilityID: res.CapabilityID,
		ExecutedBy:   res.ExecutedBy,
		Status:       string(res.Status),
		Attempts:     len(res.Attempts),
		StartedAt:    started,
		FinishedAt:   time.Now(),
	}
	if res.OK() {
		ev.Output = res.Outputs.Plain()
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	if err := e.audit.Record(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "audit record failed",
			slog.String("step", res.StepID),
			slog.String("error", err.Error()),
		)
	}
}
