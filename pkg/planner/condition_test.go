// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"testing"

	"github.com/jllopis/skillchain/pkg/core"
)

func TestConditionEvaluate(t *testing.T) {
	ec := NewExecContext(core.Values{"force": core.Bool(false)})
	ec.Set("check", "status", core.String("ok"))
	ec.Set("check", "score", core.Number(0.82))
	ec.Set("check", "tags", core.List(core.String("urgent"), core.String("eu")))
	ec.Set("check", "meta", core.MustFromAny(map[string]any{"region": "EMEA"}))
	ec.Set("check", "note", core.String("alpha-beta"))
	ec.Set("check", "empty", core.Null())

	cases := []struct {
		cond string
		want bool
	}{
		{"check.status", true},
		{"!check.status", false},
		{"check.empty", false},
		{"!check.empty", true},
		{"check.status == ok", true},
		{"check.status == 'ok'", true},
		{"check.status != ok", false},
		{"check.score >= 0.8", true},
		{"check.score > 0.9", false},
		{"check.score < 1", true},
		{"check.status > 1", false},
		{"check.meta.region == EMEA", true},
		{"check.meta.zone == null", true},
		{"check.tags contains urgent", true},
		{"check.tags contains 'us'", false},
		{"check.note contains beta", true},
		{"check.meta contains region", true},
		{"input.force || check.score > 0.5", true},
		{"input.force && check.score > 0.5", false},
		{"check.note == 'a && b' || check.status == ok", true},
	}

	for _, tc := range cases {
		c, err := ParseCondition(tc.cond)
		if err != nil {
			t.Fatalf("condition %q compile: %v", tc.cond, err)
		}
		got, err := c.Evaluate(ec)
		if err != nil {
			t.Fatalf("condition %q error: %v", tc.cond, err)
		}
		if got != tc.want {
			t.Fatalf("condition %q expected %v, got %v", tc.cond, tc.want, got)
		}
	}
}

func TestConditionUndefinedKey(t *testing.T) {
	c := MustCondition("missing.value == 1")
	if _, err := c.Evaluate(NewExecContext(nil)); err == nil {
		t.Fatalf("expected error for undefined key")
	}
	refs := c.Refs()
	if len(refs) != 1 || refs[0].Key() != "missing.value" {
		t.Fatalf("unexpected refs: %v", refs)
	}
}

func TestParseConditionErrors(t *testing.T) {
	for _, expr := range []string{"", "status", "a.b ==", "!a.b == 1", "a..b"} {
		if _, err := ParseCondition(expr); err == nil {
			t.Fatalf("expected error for %q", expr)
		}
	}
}
