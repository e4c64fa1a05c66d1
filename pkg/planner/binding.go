// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/skillchain/pkg/core"
)

// InputStep is the pseudo step id under which plan-level inputs are stored.
const InputStep = "input"

// ContextRef points at a value written by an earlier step.
type ContextRef struct {
	Step  string
	Field string
}

// ParseContextRef parses "step.field". A leading "$" is accepted.
func ParseContextRef(s string) (ContextRef, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	step, field, ok := strings.Cut(s, ".")
	if !ok || step == "" || field == "" {
		return ContextRef{}, fmt.Errorf("invalid context reference %q: want step.field", s)
	}
	return ContextRef{Step: step, Field: field}, nil
}

// Key returns the execution context key "step.field".
func (r ContextRef) Key() string { return r.Step + "." + r.Field }

func (r ContextRef) String() string { return r.Key() }

// Binding supplies one step input: a literal value or a context reference.
type Binding struct {
	literal core.Value
	ref     *ContextRef
}

// Literal binds a constant value.
func Literal(v core.Value) Binding { return Binding{literal: v} }

// Ref binds the value stored under step.field.
func Ref(step, field string) Binding {
	return Binding{ref: &ContextRef{Step: step, Field: field}}
}

// ContextRef returns the reference when the binding is one.
func (b Binding) ContextRef() (ContextRef, bool) {
	if b.ref == nil {
		return ContextRef{}, false
	}
	return *b.ref, true
}

// IsRef reports whether the binding reads from the execution context.
func (b Binding) IsRef() bool { return b.ref != nil }

// Value returns the literal value. It is null for references.
func (b Binding) Value() core.Value { return b.literal }

// Resolve returns the bound value, reading references from ec.
func (b Binding) Resolve(ec *ExecContext) (core.Value, error) {
	if b.ref == nil {
		return b.literal, nil
	}
	v, ok := ec.Get(*b.ref)
	if !ok {
		return core.Null(), fmt.Errorf("context key %q is not defined", b.ref.Key())
	}
	return v, nil
}

// bindingFromValue turns a decoded file value into a binding. An object with
// a single "ref" key is a reference; a single "literal" key escapes objects
// that would otherwise look like one.
func bindingFromValue(v core.Value) (Binding, error) {
	fields, ok := v.Fields()
	if !ok || len(fields) != 1 {
		return Literal(v), nil
	}
	if raw, ok := fields["ref"]; ok {
		s, ok := raw.AsString()
		if !ok {
			return Binding{}, fmt.Errorf("ref must be a string, got %s", raw.Kind())
		}
		ref, err := ParseContextRef(s)
		if err != nil {
			return Binding{}, err
		}
		return Binding{ref: &ref}, nil
	}
	if lit, ok := fields["literal"]; ok {
		return Literal(lit), nil
	}
	return Literal(v), nil
}

func (b Binding) fileValue() core.Value {
	if b.ref != nil {
		return core.Object(map[string]core.Value{"ref": core.String(b.ref.Key())})
	}
	if fields, ok := b.literal.Fields(); ok && len(fields) == 1 {
		_, isRef := fields["ref"]
		_, isLit := fields["literal"]
		if isRef || isLit {
			return core.Object(map[string]core.Value{"literal": b.literal})
		}
	}
	return b.literal
}

// MarshalJSON implements json.Marshaler.
func (b Binding) MarshalJSON() ([]byte, error) { return json.Marshal(b.fileValue()) }

// UnmarshalJSON implements json.Unmarshaler.
func (b *Binding) UnmarshalJSON(data []byte) error {
	var v core.Value
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := bindingFromValue(v)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b Binding) MarshalYAML() (interface{}, error) { return b.fileValue().MarshalYAML() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *Binding) UnmarshalYAML(node *yaml.Node) error {
	var v core.Value
	if err := node.Decode(&v); err != nil {
		return err
	}
	parsed, err := bindingFromValue(v)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
