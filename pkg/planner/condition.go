// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/skillchain/pkg/core"
)

// Condition is a compiled predicate over the execution context. A step whose
// condition is false is skipped.
//
// Expressions compare context values with literals:
//
//	fetch.status == ok
//	score.value >= 0.8 && !fetch.cached
//	fetch.tags contains "urgent" || input.force
//
// A bare path tests truthiness. Paths are step.field followed by optional
// object field names. && binds tighter than ||; there are no parentheses.
type Condition struct {
	expr string
	refs []ContextRef
	eval func(ec *ExecContext) (bool, error)
}

// When builds a condition from a Go predicate. refs lists the context keys
// the predicate reads so plan validation can check them.
func When(description string, refs []ContextRef, fn func(ec *ExecContext) (bool, error)) *Condition {
	return &Condition{expr: description, refs: refs, eval: fn}
}

// ParseCondition compiles expr.
func ParseCondition(expr string) (*Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty condition")
	}
	c := &Condition{expr: expr}
	var ors []func(*ExecContext) (bool, error)
	for _, disj := range splitOutsideQuotes(expr, "||") {
		var ands []func(*ExecContext) (bool, error)
		for _, term := range splitOutsideQuotes(disj, "&&") {
			fn, ref, err := compileTerm(term)
			if err != nil {
				return nil, fmt.Errorf("condition %q: %w", expr, err)
			}
			c.refs = append(c.refs, ref)
			ands = append(ands, fn)
		}
		ors = append(ors, allOf(ands))
	}
	c.eval = anyOf(ors)
	return c, nil
}

// MustCondition is ParseCondition that panics on error.
func MustCondition(expr string) *Condition {
	c, err := ParseCondition(expr)
	if err != nil {
		panic(err)
	}
	return c
}

// Evaluate runs the predicate against ec.
func (c *Condition) Evaluate(ec *ExecContext) (bool, error) {
	if c == nil || c.eval == nil {
		return true, nil
	}
	return c.eval(ec)
}

// Refs returns the context keys read by the condition.
func (c *Condition) Refs() []ContextRef {
	if c == nil {
		return nil
	}
	return append([]ContextRef(nil), c.refs...)
}

func (c *Condition) String() string {
	if c == nil {
		return ""
	}
	return c.expr
}

// MarshalJSON implements json.Marshaler.
func (c Condition) MarshalJSON() ([]byte, error) { return json.Marshal(c.expr) }

// UnmarshalJSON implements json.Unmarshaler.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCondition(s)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (c Condition) MarshalYAML() (interface{}, error) { return c.expr, nil }

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseCondition(s)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

type operator string

const (
	opTruthy   operator = ""
	opEq       operator = "=="
	opNe       operator = "!="
	opGe       operator = ">="
	opLe       operator = "<="
	opGt       operator = ">"
	opLt       operator = "<"
	opContains operator = "contains"
)

// Two-character operators come first so ">=" is not read as ">".
var operators = []operator{opEq, opNe, opGe, opLe, opGt, opLt}

func compileTerm(term string) (func(*ExecContext) (bool, error), ContextRef, error) {
	term = strings.TrimSpace(term)
	negate := false
	if strings.HasPrefix(term, "!") && !strings.HasPrefix(term, "!=") {
		negate = true
		term = strings.TrimSpace(term[1:])
	}

	lhs, op, rhs := splitComparison(term)
	ref, path, err := parsePath(lhs)
	if err != nil {
		return nil, ContextRef{}, err
	}
	if negate && op != opTruthy {
		return nil, ContextRef{}, fmt.Errorf("negation only applies to a bare path, got %q", term)
	}
	var want core.Value
	if op != opTruthy {
		if rhs == "" {
			return nil, ContextRef{}, fmt.Errorf("missing value after %s", op)
		}
		want = parseLiteral(rhs)
	}

	fn := func(ec *ExecContext) (bool, error) {
		v, ok := ec.Get(ref)
		if !ok {
			return false, fmt.Errorf("context key %q is not defined", ref.Key())
		}
		for _, name := range path {
			v, _ = v.Field(name)
		}
		result := compare(v, op, want)
		if negate {
			result = !result
		}
		return result, nil
	}
	return fn, ref, nil
}

func splitComparison(term string) (string, operator, string) {
	if idx := indexOutsideQuotes(term, " contains "); idx >= 0 {
		return strings.TrimSpace(term[:idx]), opContains, strings.TrimSpace(term[idx+len(" contains "):])
	}
	for _, op := range operators {
		if idx := indexOutsideQuotes(term, string(op)); idx >= 0 {
			return strings.TrimSpace(term[:idx]), op, strings.TrimSpace(term[idx+len(op):])
		}
	}
	return term, opTruthy, ""
}

func parsePath(s string) (ContextRef, []string, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "$"), ".")
	if len(parts) < 2 {
		return ContextRef{}, nil, fmt.Errorf("invalid path %q: want step.field", s)
	}
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\"'") {
			return ContextRef{}, nil, fmt.Errorf("invalid path %q", s)
		}
	}
	return ContextRef{Step: parts[0], Field: parts[1]}, parts[2:], nil
}

func parseLiteral(s string) core.Value {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return core.String(s[1 : len(s)-1])
	}
	switch s {
	case "true":
		return core.Bool(true)
	case "false":
		return core.Bool(false)
	case "null":
		return core.Null()
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return core.Number(n)
	}
	return core.String(s)
}

func compare(v core.Value, op operator, want core.Value) bool {
	switch op {
	case opTruthy:
		return v.Truthy()
	case opEq:
		return v.Equal(want)
	case opNe:
		return !v.Equal(want)
	case opGt, opGe, opLt, opLe:
		a, okA := v.AsNumber()
		b, okB := want.AsNumber()
		if !okA || !okB {
			return false
		}
		switch op {
		case opGt:
			return a > b
		case opGe:
			return a >= b
		case opLt:
			return a < b
		default:
			return a <= b
		}
	case opContains:
		return contains(v, want)
	}
	return false
}

func contains(v, want core.Value) bool {
	if s, ok := v.AsString(); ok {
		sub, ok := want.AsString()
		return ok && strings.Contains(s, sub)
	}
	if items, ok := v.Items(); ok {
		for _, item := range items {
			if item.Equal(want) {
				return true
			}
		}
		return false
	}
	if _, ok := v.Fields(); ok {
		key, ok := want.AsString()
		if !ok {
			return false
		}
		_, found := v.Field(key)
		return found
	}
	return false
}

func allOf(fns []func(*ExecContext) (bool, error)) func(*ExecContext) (bool, error) {
	return func(ec *ExecContext) (bool, error) {
		for _, fn := range fns {
			ok, err := fn(ec)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

func anyOf(fns []func(*ExecContext) (bool, error)) func(*ExecContext) (bool, error) {
	return func(ec *ExecContext) (bool, error) {
		for _, fn := range fns {
			ok, err := fn(ec)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

func indexOutsideQuotes(s, sub string) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case strings.HasPrefix(s[i:], sub):
			return i
		}
	}
	return -1
}

func splitOutsideQuotes(s, sep string) []string {
	var out []string
	for {
		idx := indexOutsideQuotes(s, sep)
		if idx < 0 {
			return append(out, s)
		}
		out = append(out, s[:idx])
		s = s[idx+len(sep):]
	}
}
