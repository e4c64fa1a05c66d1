// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides logging, tracing and metrics for skillchain.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on skillchain spans and metrics.
const (
	// Run attributes
	AttrRunID  = "skillchain.run.id"
	AttrPlanID = "skillchain.plan.id"
	AttrPolicy = "skillchain.run.policy"

	// Step attributes
	AttrStepID       = "skillchain.step.id"
	AttrStepStatus   = "skillchain.step.status"
	AttrStepParallel = "skillchain.step.parallel"
	AttrGroupIndex   = "skillchain.group.index"
	AttrGroupSize    = "skillchain.group.size"

	// Capability attributes
	AttrCapabilityID = "skillchain.capability.id"
	AttrAttempt      = "skillchain.attempt"
	AttrMaxAttempts  = "skillchain.attempt.max"
	AttrFallbackID   = "skillchain.fallback.id"
	AttrFallbackOf   = "skillchain.fallback.primary"
	AttrDurationMs   = "skillchain.duration_ms"

	// Discovery attributes
	AttrQuery      = "skillchain.discovery.query"
	AttrCandidates = "skillchain.discovery.candidates"
	AttrMatches    = "skillchain.discovery.matches"

	// Chain attributes
	AttrChainID     = "skillchain.chain.id"
	AttrChainLength = "skillchain.chain.length"
	AttrChainMax    = "skillchain.chain.max_length"
)

// RunAttributes returns attributes for a plan or chain run span.
func RunAttributes(runID, planID, policy string, steps int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.Int("skillchain.run.steps", steps),
	}
	if planID != "" {
		attrs = append(attrs, attribute.String(AttrPlanID, planID))
	}
	if policy != "" {
		attrs = append(attrs, attribute.String(AttrPolicy, policy))
	}
	return attrs
}

// StepAttributes returns attributes for a step span.
func StepAttributes(runID, stepID, capabilityID string, parallel bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrStepID, stepID),
		attribute.String(AttrCapabilityID, capabilityID),
		attribute.Bool(AttrStepParallel, parallel),
	}
	if runID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, runID))
	}
	return attrs
}

// AttemptAttributes returns attributes for a single invocation attempt.
// fallbackOf names the primary capability when the attempt targets a fallback.
func AttemptAttributes(capabilityID string, attempt, maxAttempts int, fallbackOf string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrCapabilityID, capabilityID),
		attribute.Int(AttrAttempt, attempt),
	}
	if maxAttempts > 0 {
		attrs = append(attrs, attribute.Int(AttrMaxAttempts, maxAttempts))
	}
	if fallbackOf != "" {
		attrs = append(attrs, attribute.String(AttrFallbackOf, fallbackOf))
	}
	return attrs
}

// DiscoveryAttributes returns attributes for a discovery span.
func DiscoveryAttributes(query string, candidates, matches int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrQuery, Truncate(query, 200)),
		attribute.Int(AttrCandidates, candidates),
		attribute.Int(AttrMatches, matches),
	}
}

// ChainAttributes returns attributes for a composition span.
func ChainAttributes(chainID string, length, maxLength int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrChainLength, length),
		attribute.Int(AttrChainMax, maxLength),
	}
	if chainID != "" {
		attrs = append(attrs, attribute.String(AttrChainID, chainID))
	}
	return attrs
}

// Truncate shortens s to maxLen bytes, marking the cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 500
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
