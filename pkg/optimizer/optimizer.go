// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package optimizer improves plans by hill climbing: it measures a baseline
// run, applies structural edits one at a time, re-measures, and keeps the
// best-scoring variant.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/skillchain/pkg/chain"
	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
	"github.com/jllopis/skillchain/pkg/planner"
)

// Score weights.
const (
	weightTime     = 0.4
	weightResource = 0.3
	weightCost     = 0.2
	weightQuality  = 0.1
)

// floor keeps the reciprocal terms finite for free or instantaneous runs.
const floor = 1e-6

// Measurement is what one run of a plan cost.
type Measurement struct {
	Duration time.Duration `json:"duration"`
	Resource float64       `json:"resource"`
	Cost     float64       `json:"cost"`
	Quality  float64       `json:"quality"`
}

// Score combines the measurement into one number; higher is better.
func (m Measurement) Score() float64 {
	return weightTime/max(m.Duration.Seconds(), floor) +
		weightResource/max(m.Resource, floor) +
		weightCost/max(m.Cost, floor) +
		weightQuality*m.Quality
}

// Report describes an optimization run.
type Report struct {
	Baseline  Measurement `json:"baseline"`
	Best      Measurement `json:"best"`
	Applied   []string    `json:"applied,omitempty"`
	Evaluated int         `json:"evaluated"`
	Discarded int         `json:"discarded"`
	Rounds    int         `json:"rounds"`
}

// Improved reports whether any edit was kept.
func (r Report) Improved() bool { return len(r.Applied) > 0 }

// Optimizer searches for a better-scoring variant of a plan.
type Optimizer struct {
	executor *planner.Executor
	lookup   core.Lookup
	costs    CostModel
	quality  QualityFunc
	rounds   int
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithCostModel replaces DefaultCostModel.
func WithCostModel(m CostModel) Option {
	return func(o *Optimizer) {
		if m != nil {
			o.costs = m
		}
	}
}

// WithQuality replaces SucceededFraction.
func WithQuality(q QualityFunc) Option {
	return func(o *Optimizer) {
		if q != nil {
			o.quality = q
		}
	}
}

// WithRounds sets how many improvement passes run (default 1). A pass that
// keeps nothing ends the search early.
func WithRounds(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.rounds = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an optimizer that measures plans with executor. The
// executor's lookup provides output types and declared dependencies.
func New(executor *planner.Executor, opts ...Option) *Optimizer {
	o := &Optimizer{
		executor: executor,
		lookup:   executor.Lookup(),
		quality:  SucceededFraction,
		rounds:   1,
		logger:   slog.Default(),
		tracer:   otel.Tracer("skillchain/optimizer"),
	}
	o.costs = DefaultCostModel{Lookup: o.lookup}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize measures plan against input and returns the best variant found
// with a report. The input plan is not modified. The baseline run must
// succeed; candidates that fail validation or execution are discarded.
func (o *Optimizer) Optimize(ctx context.Context, plan *planner.Plan, input core.Values) (*planner.Plan, Report, error) {
	ctx, span := o.tracer.Start(ctx, "Optimizer.Optimize")
	defer span.End()

	var report Report
	if _, err := plan.Validate(o.lookup); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, report, err
	}

	best := plan.Clone()
	baseline, err := o.measure(ctx, best, input)
	if err != nil {
		err = errors.New(errors.CodeInvalidPlan, "baseline run failed", err).WithContext("plan", plan.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, report, err
	}
	report.Baseline, report.Best = baseline, baseline
	bestScore := baseline.Score()

	for round := 0; round < o.rounds; round++ {
		report.Rounds++
		var (
			roundBest  *planner.Plan
			roundMeas  Measurement
			roundScore = bestScore
			roundEdit  string
		)
		for _, cand := range o.candidates(best) {
			if err := ctx.Err(); err != nil {
				return nil, report, errors.New(errors.CodeContextLost, "optimization cancelled", err)
			}
			report.Evaluated++
			if _, err := cand.plan.Validate(o.lookup); err != nil {
				report.Discarded++
				o.logger.DebugContext(ctx, "candidate invalid", slog.String("edit", cand.edit), slog.String("error", err.Error()))
				continue
			}
			m, err := o.measure(ctx, cand.plan, input)
			if err != nil {
				report.Discarded++
				o.logger.DebugContext(ctx, "candidate failed", slog.String("edit", cand.edit), slog.String("error", err.Error()))
				continue
			}
			score := m.Score()
			o.logger.DebugContext(ctx, "candidate measured",
				slog.String("edit", cand.edit),
				slog.Float64("score", score),
				slog.Duration("duration", m.Duration),
			)
			if score > roundScore {
				roundBest, roundMeas, roundScore, roundEdit = cand.plan, m, score, cand.edit
			}
		}
		if roundBest == nil {
			break
		}
		best, bestScore = roundBest, roundScore
		report.Best = roundMeas
		report.Applied = append(report.Applied, roundEdit)
	}

	span.SetAttributes(
		attribute.Int("skillchain.optimizer.evaluated", report.Evaluated),
		attribute.Int("skillchain.optimizer.applied", len(report.Applied)),
	)
	span.SetStatus(codes.Ok, "")
	o.logger.InfoContext(ctx, "optimization finished",
		slog.String("plan", plan.ID),
		slog.Int("evaluated", report.Evaluated),
		slog.Any("applied", report.Applied),
		slog.Float64("baseline_score", baseline.Score()),
		slog.Float64("best_score", bestScore),
	)
	return best, report, nil
}

// OptimizeChain converts c to a plan and optimizes it.
func (o *Optimizer) OptimizeChain(ctx context.Context, c *chain.Chain, input core.Values) (*planner.Plan, Report, error) {
	plan, err := chain.ToPlan(c)
	if err != nil {
		return nil, Report{}, err
	}
	return o.Optimize(ctx, plan, input)
}

func (o *Optimizer) measure(ctx context.Context, plan *planner.Plan, input core.Values) (Measurement, error) {
	res := o.executor.Execute(ctx, plan.Clone(), input)
	if !res.Success {
		if err := res.Err(); err != nil {
			return Measurement{}, err
		}
		return Measurement{}, fmt.Errorf("plan %s did not succeed", plan.ID)
	}
	return Measurement{
		Duration: res.Duration,
		Resource: o.costs.Resource(plan, res),
		Cost:     o.costs.Cost(plan, res),
		Quality:  o.quality(res),
	}, nil
}
