// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/skillchain/pkg/chain"
	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
	"github.com/jllopis/skillchain/pkg/planner"
	"github.com/jllopis/skillchain/pkg/telemetry"
)

// Runner is a core.StepRunner that retries a failing capability and then
// tries its registered fallbacks in order, each with its own retry loop.
type Runner struct {
	invoker   core.Invoker
	retry     RetryConfig
	fallbacks *FallbackRegistry
	breakers  *Breakers
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithRetry sets the retry configuration used when a step has no policy.
func WithRetry(rc RetryConfig) Option {
	return func(r *Runner) { r.retry = rc }
}

// WithFallbacks sets the fallback registry.
func WithFallbacks(f *FallbackRegistry) Option {
	return func(r *Runner) { r.fallbacks = f }
}

// WithCircuitBreaker guards every capability with its own breaker.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(r *Runner) { r.breakers = NewBreakers(config) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records attempts, fallbacks and recoveries.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a resilient runner around invoker.
func NewRunner(invoker core.Invoker, opts ...Option) *Runner {
	r := &Runner{
		invoker: invoker,
		retry:   DefaultRetryConfig(),
		logger:  slog.Default(),
		tracer:  otel.Tracer("skillchain/resilience"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fallbacks returns the runner's fallback registry, creating one if needed.
func (r *Runner) Fallbacks() *FallbackRegistry {
	if r.fallbacks == nil {
		r.fallbacks = NewFallbackRegistry()
	}
	return r.fallbacks
}

// Run implements core.StepRunner.
func (r *Runner) Run(ctx context.Context, inv core.Invocation) core.StepResult {
	start := time.Now()
	cfg := r.retry.Merge(inv.Retry)
	res := core.StepResult{StepID: inv.StepID, CapabilityID: inv.CapabilityID}
	defer func() { res.Duration = time.Since(start) }()

	out, err := r.attempt(ctx, cfg, inv.CapabilityID, "", inv.Inputs, &res.Attempts)
	if err == nil {
		if len(res.Attempts) > 1 {
			r.metrics.RecordRecovery(ctx, errors.CodeOf(res.Attempts[0].Err))
		}
		res.Status, res.ExecutedBy, res.Outputs = core.StatusSucceeded, inv.CapabilityID, out
		return res
	}
	primaryErr := err

	fallbacks := r.fallbacks.Fallbacks(inv.CapabilityID)
	if len(fallbacks) == 0 || errors.HasCode(err, errors.CodeContextLost) {
		res.Status, res.Err = core.StatusFailed, primaryErr
		return res
	}

	for _, fb := range fallbacks {
		r.logger.InfoContext(ctx, "trying fallback",
			slog.String("step", inv.StepID),
			slog.String("capability", inv.CapabilityID),
			slog.String("fallback", fb),
			slog.String("error", err.Error()),
		)
		out, err = r.attempt(ctx, cfg, fb, inv.CapabilityID, inv.Inputs, &res.Attempts)
		if err == nil {
			r.metrics.RecordFallback(ctx, inv.CapabilityID, fb)
			r.metrics.RecordRecovery(ctx, errors.CodeOf(primaryErr))
			res.Status = core.StatusSucceededViaFallback
			res.ExecutedBy, res.FallbackUsed, res.FallbackID = fb, true, fb
			res.Outputs = out
			return res
		}
		if errors.HasCode(err, errors.CodeContextLost) {
			res.Status, res.Err = core.StatusFailed, err
			return res
		}
	}

	res.Status = core.StatusFailed
	res.Err = errors.New(errors.CodeNoAvailableFallback,
		"capability "+inv.CapabilityID+" and all its fallbacks failed", primaryErr).
		WithContext("capability", inv.CapabilityID).
		WithContext("fallbacks", fallbacks).
		WithContext("last_error", err.Error())
	return res
}

// attempt runs the retry loop for one capability, appending every attempt
// to log. fallbackOf is the primary id when capabilityID is a fallback.
func (r *Runner) attempt(ctx context.Context, cfg RetryConfig, capabilityID, fallbackOf string, inputs core.Values, log *[]core.Attempt) (core.Values, error) {
	var out core.Values
	err := cfg.Do(ctx, func(ctx context.Context, n int) error {
		ctx, span := r.tracer.Start(ctx, "Resilience.Attempt",
			trace.WithAttributes(telemetry.AttemptAttributes(capabilityID, n, cfg.MaxAttempts, fallbackOf)...))
		defer span.End()

		a := core.StartAttempt(capabilityID, n)
		values, err := r.call(ctx, cfg.AttemptTimeout, capabilityID, inputs)
		*log = append(*log, a.Finish(err))
		r.metrics.RecordAttempt(ctx, capabilityID, err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.DebugContext(ctx, "attempt failed",
				slog.String("capability", capabilityID),
				slog.Int("attempt", n),
				slog.String("error", err.Error()),
			)
			return err
		}
		span.SetStatus(codes.Ok, "")
		out = values
		return nil
	})
	return out, err
}

// call makes one bounded invocation, through the capability's breaker when
// breakers are configured.
func (r *Runner) call(ctx context.Context, timeout time.Duration, capabilityID string, inputs core.Values) (core.Values, error) {
	invoke := func(ctx context.Context) (core.Values, error) {
		return WithTimeoutResult(ctx, timeout, func(ctx context.Context) (core.Values, error) {
			return core.SafeInvoke(ctx, r.invoker, capabilityID, inputs)
		})
	}
	if r.breakers == nil {
		return invoke(ctx)
	}
	cb := r.breakers.For(capabilityID)
	var out core.Values
	err := cb.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = invoke(ctx)
		return err
	})
	r.metrics.RecordCircuitBreakerState(ctx, capabilityID, cb.State().gauge())
	return out, err
}

// NewPlanExecutor builds a plan executor that runs every step through r.
func NewPlanExecutor(r *Runner, policy core.FailurePolicy, opts ...planner.Option) *planner.Executor {
	return planner.NewExecutor(r, policy, opts...)
}

// NewChainExecutor builds a chain executor that runs every link through r.
func NewChainExecutor(r *Runner, policy core.FailurePolicy, opts ...chain.ExecutorOption) *chain.Executor {
	return chain.NewExecutor(r, policy, opts...)
}
