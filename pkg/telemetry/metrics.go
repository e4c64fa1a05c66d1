// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/skillchain/pkg/errors"
)

// Metrics records orchestration counters. A nil *Metrics is a no-op so
// components can hold one unconditionally.
type Metrics struct {
	steps        metric.Int64Counter
	attempts     metric.Int64Counter
	fallbacks    metric.Int64Counter
	recoveries   metric.Int64Counter
	errors       metric.Int64Counter
	stepDuration metric.Float64Histogram
	breakerState metric.Int64Gauge
}

// NewMetrics creates the orchestration instruments on the global meter provider.
func NewMetrics(_ context.Context) (*Metrics, error) {
	meter := otel.Meter("skillchain/orchestration")

	steps, err := meter.Int64Counter(
		"skillchain.steps.total",
		metric.WithDescription("Executed steps by capability and status"),
	)
	if err != nil {
		return nil, err
	}
	attempts, err := meter.Int64Counter(
		"skillchain.attempts.total",
		metric.WithDescription("Capability invocation attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Int64Counter(
		"skillchain.fallbacks.used",
		metric.WithDescription("Steps satisfied by a fallback capability"),
	)
	if err != nil {
		return nil, err
	}
	recoveries, err := meter.Int64Counter(
		"skillchain.errors.recovered",
		metric.WithDescription("Failures recovered by retry or fallback, by error code"),
	)
	if err != nil {
		return nil, err
	}
	errorCounter, err := meter.Int64Counter(
		"skillchain.errors.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}
	stepDuration, err := meter.Float64Histogram(
		"skillchain.step.duration",
		metric.WithDescription("Step wall-clock duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	breakerState, err := meter.Int64Gauge(
		"skillchain.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per capability (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		steps:        steps,
		attempts:     attempts,
		fallbacks:    fallbacks,
		recoveries:   recoveries,
		errors:       errorCounter,
		stepDuration: stepDuration,
		breakerState: breakerState,
	}, nil
}

// RecordStep counts a finished step and its duration.
func (m *Metrics) RecordStep(ctx context.Context, capabilityID, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrCapabilityID, capabilityID),
		attribute.String(AttrStepStatus, status),
	)
	m.steps.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}

// RecordAttempt counts a single invocation attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, capabilityID string, ok bool) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCapabilityID, capabilityID),
		attribute.Bool("success", ok),
	))
}

// RecordFallback counts a step satisfied by fallback instead of primary.
func (m *Metrics) RecordFallback(ctx context.Context, primary, fallback string) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCapabilityID, primary),
		attribute.String(AttrFallbackID, fallback),
	))
}

// RecordRecovery counts an error that retry or fallback handled.
func (m *Metrics) RecordRecovery(ctx context.Context, code errors.ErrorCode) {
	if m == nil {
		return
	}
	m.recoveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", string(code)),
	))
}

// RecordError counts err under its code for component.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code := "UNKNOWN"
	recoverable := "unknown"
	if e := errors.As(err); e != nil && errors.CodeOf(err) != "" {
		code = string(e.Code)
		recoverable = e.RecoverableString()
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", code),
		attribute.String("component", component),
		attribute.String("recoverable", recoverable),
	))
}

// RecordCircuitBreakerState records the breaker state (0=open, 1=half-open, 2=closed).
func (m *Metrics) RecordCircuitBreakerState(ctx context.Context, capabilityID string, state int64) {
	if m == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(
		attribute.String(AttrCapabilityID, capabilityID),
	))
}
