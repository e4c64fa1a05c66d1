// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestRunAttributes(t *testing.T) {
	attrs := RunAttributes("run-1", "plan-a", "abort", 3)
	assertAttributes(t, attrs, map[string]any{
		AttrRunID:              "run-1",
		AttrPlanID:             "plan-a",
		AttrPolicy:             "abort",
		"skillchain.run.steps": 3,
	})

	minimal := RunAttributes("run-2", "", "", 0)
	if len(minimal) != 2 {
		t.Errorf("expected only required attributes, got %d", len(minimal))
	}
}

func TestStepAttributes(t *testing.T) {
	attrs := StepAttributes("run-1", "fetch-step", "fetch", true)
	assertAttributes(t, attrs, map[string]any{
		AttrRunID:        "run-1",
		AttrStepID:       "fetch-step",
		AttrCapabilityID: "fetch",
		AttrStepParallel: true,
	})
}

func TestAttemptAttributes(t *testing.T) {
	attrs := AttemptAttributes("fetch-mirror", 2, 3, "fetch")
	assertAttributes(t, attrs, map[string]any{
		AttrCapabilityID: "fetch-mirror",
		AttrAttempt:      2,
		AttrMaxAttempts:  3,
		AttrFallbackOf:   "fetch",
	})

	primary := AttemptAttributes("fetch", 1, 0, "")
	if len(primary) != 2 {
		t.Errorf("expected 2 attributes, got %d", len(primary))
	}
}

func TestDiscoveryAttributes(t *testing.T) {
	long := strings.Repeat("q", 300)
	attrs := DiscoveryAttributes(long, 10, 2)
	assertAttributes(t, attrs, map[string]any{
		AttrCandidates: 10,
		AttrMatches:    2,
	})
	for _, a := range attrs {
		if string(a.Key) == AttrQuery && len(a.Value.AsString()) != 203 {
			t.Errorf("expected truncated query, got %d bytes", len(a.Value.AsString()))
		}
	}
}

func TestChainAttributes(t *testing.T) {
	assertAttributes(t, ChainAttributes("chain-1", 3, 5), map[string]any{
		AttrChainID:     "chain-1",
		AttrChainLength: 3,
		AttrChainMax:    5,
	})
}

func TestTruncate(t *testing.T) {
	if Truncate("short", 10) != "short" {
		t.Errorf("short strings must be kept")
	}
	if got := Truncate("abcdef", 3); got != "abc..." {
		t.Errorf("unexpected truncation %q", got)
	}
}

// assertAttributes checks that expected key-value pairs exist in attrs
func assertAttributes(t *testing.T, attrs []attribute.KeyValue, expected map[string]any) {
	t.Helper()

	found := make(map[string]attribute.KeyValue)
	for _, attr := range attrs {
		found[string(attr.Key)] = attr
	}

	for key, expectedVal := range expected {
		attr, ok := found[key]
		if !ok {
			t.Errorf("missing attribute %s", key)
			continue
		}

		var actualVal any
		switch attr.Value.Type() {
		case attribute.STRING:
			actualVal = attr.Value.AsString()
		case attribute.INT64:
			actualVal = int(attr.Value.AsInt64())
		case attribute.FLOAT64:
			actualVal = attr.Value.AsFloat64()
		case attribute.BOOL:
			actualVal = attr.Value.AsBool()
		}

		if actualVal != expectedVal {
			t.Errorf("attribute %s: got %v, want %v", key, actualVal, expectedVal)
		}
	}
}
