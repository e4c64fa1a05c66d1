// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package planner models orchestration plans and executes them: steps run in
// list order, contiguous parallel steps fan out together, conditions gate
// steps and context references carry outputs forward.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
)

// Plan is an ordered list of steps.
type Plan struct {
	ID    string `json:"id" yaml:"id"`
	Goal  string `json:"goal,omitempty" yaml:"goal,omitempty"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Step invokes one capability.
type Step struct {
	ID         string             `json:"id" yaml:"id"`
	Capability string             `json:"capability" yaml:"capability"`
	Inputs     map[string]Binding `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	// Outputs overrides the output names declared by the capability.
	Outputs   []string          `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Condition *Condition        `json:"condition,omitempty" yaml:"condition,omitempty"`
	Parallel  bool              `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	Retry     *core.RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Refs returns every context reference the step reads, inputs first in
// sorted input order, then condition references.
func (s Step) Refs() []ContextRef {
	names := make([]string, 0, len(s.Inputs))
	for name := range s.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	var refs []ContextRef
	for _, name := range names {
		if ref, ok := s.Inputs[name].ContextRef(); ok {
			refs = append(refs, ref)
		}
	}
	return append(refs, s.Condition.Refs()...)
}

// Clone returns a copy that can be edited without touching s.
func (s Step) Clone() Step {
	out := s
	if s.Inputs != nil {
		out.Inputs = make(map[string]Binding, len(s.Inputs))
		for k, v := range s.Inputs {
			out.Inputs[k] = v
		}
	}
	out.Outputs = append([]string(nil), s.Outputs...)
	if s.Retry != nil {
		r := *s.Retry
		out.Retry = &r
	}
	return out
}

// Clone deep-copies the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{ID: p.ID, Goal: p.Goal, Steps: make([]Step, len(p.Steps))}
	for i, s := range p.Steps {
		out.Steps[i] = s.Clone()
	}
	return out
}

// Step returns the step with the given id.
func (p *Plan) Step(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Groups partitions the steps: a maximal run of contiguous parallel steps is
// one group and every other step is a group of its own.
func (p *Plan) Groups() [][]Step {
	var groups [][]Step
	for i := 0; i < len(p.Steps); {
		if !p.Steps[i].Parallel {
			groups = append(groups, []Step{p.Steps[i]})
			i++
			continue
		}
		j := i
		for j < len(p.Steps) && p.Steps[j].Parallel {
			j++
		}
		groups = append(groups, p.Steps[i:j])
		i = j
	}
	return groups
}

// DeclaredOutputs returns the output names a step writes to the context:
// the step override, else the capability's declared outputs. The second
// result is false when neither is known.
func DeclaredOutputs(s Step, lookup core.Lookup) ([]string, bool) {
	if len(s.Outputs) > 0 {
		return s.Outputs, true
	}
	if lookup == nil {
		return nil, false
	}
	c, err := lookup.Get(s.Capability)
	if err != nil || len(c.Outputs) == 0 {
		return nil, false
	}
	names := make([]string, len(c.Outputs))
	for i, o := range c.Outputs {
		names[i] = o.Name
	}
	return names, true
}

// Validate checks the plan structure. With a lookup it also checks that
// capabilities exist, required inputs are bound and literal values fit
// structural input types. Type problems come back as warnings; the first
// structural problem is returned as the error.
func (p *Plan) Validate(lookup core.Lookup) ([]error, error) {
	if p == nil {
		return nil, invalid("plan is nil")
	}
	if len(p.Steps) == 0 {
		return nil, invalid("plan %q has no steps", p.ID)
	}

	var warnings []error
	seen := make(map[string]bool, len(p.Steps))
	groupOf := make(map[string]int, len(p.Steps))
	for gi, group := range p.Groups() {
		for _, s := range group {
			if err := validateStepID(s, seen); err != nil {
				return nil, err
			}
			seen[s.ID] = true
			var capability *core.Capability
			if lookup != nil {
				c, err := lookup.Get(s.Capability)
				if err != nil {
					return nil, errors.New(errors.CodeCapabilityNotFound,
						fmt.Sprintf("step %q uses unknown capability %q", s.ID, s.Capability), err).
						WithContext("step", s.ID)
				}
				capability = &c
			}
			for _, ref := range s.Refs() {
				if err := p.checkRef(s, ref, gi, groupOf, lookup); err != nil {
					return nil, err
				}
			}
			if capability == nil {
				continue
			}
			for _, in := range capability.RequiredInputs() {
				if _, ok := s.Inputs[in.Name]; !ok {
					return nil, errors.Newf(errors.CodeMissingRequiredInput,
						"step %q: required input %q of %s is not bound", s.ID, in.Name, capability.ID).
						WithContext("step", s.ID).
						WithContext("input", in.Name)
				}
			}
			warnings = append(warnings, p.typeWarnings(s, *capability, lookup)...)
		}
		for _, s := range group {
			groupOf[s.ID] = gi
		}
	}
	return warnings, nil
}

func validateStepID(s Step, seen map[string]bool) error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return invalid("step without id")
	case s.ID == InputStep:
		return invalid("step id %q is reserved for plan inputs", InputStep)
	case strings.Contains(s.ID, "."):
		return invalid("step id %q must not contain '.'", s.ID)
	case strings.TrimSpace(s.Capability) == "":
		return invalid("step %q has no capability", s.ID)
	}
	if seen[s.ID] {
		return invalid("duplicate step id %q", s.ID)
	}
	return nil
}

// checkRef requires references to point at steps of earlier groups and, when
// the producer's outputs are known, at one of them.
func (p *Plan) checkRef(s Step, ref ContextRef, group int, groupOf map[string]int, lookup core.Lookup) error {
	if ref.Step == InputStep {
		return nil
	}
	g, ok := groupOf[ref.Step]
	if !ok || g >= group {
		if _, exists := p.Step(ref.Step); exists || ref.Step == s.ID {
			return invalid("step %q references %s which does not run before it", s.ID, ref.Key())
		}
		return invalid("step %q references unknown step %q", s.ID, ref.Step)
	}
	producer, _ := p.Step(ref.Step)
	if outputs, known := DeclaredOutputs(producer, lookup); known && !containsString(outputs, ref.Field) {
		return invalid("step %q references %s but %s declares outputs %v", s.ID, ref.Key(), ref.Step, outputs)
	}
	return nil
}

func (p *Plan) typeWarnings(s Step, c core.Capability, lookup core.Lookup) []error {
	var warnings []error
	names := make([]string, 0, len(s.Inputs))
	for name := range s.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		in, declared := c.Input(name)
		if !declared {
			continue
		}
		b := s.Inputs[name]
		ref, isRef := b.ContextRef()
		if !isRef {
			v := b.Value()
			if !v.IsNull() && !v.MatchesType(in.Type) {
				warnings = append(warnings, mismatch(s.ID, name, v.Kind().String(), in.Type))
			}
			continue
		}
		if ref.Step == InputStep || lookup == nil {
			continue
		}
		producer, _ := p.Step(ref.Step)
		pc, err := lookup.Get(producer.Capability)
		if err != nil {
			continue
		}
		if out, ok := pc.Output(ref.Field); ok && !core.SameType(out.Type, in.Type) {
			warnings = append(warnings, mismatch(s.ID, name, out.Type, in.Type))
		}
	}
	return warnings
}

func mismatch(step, input, got, want string) error {
	return errors.Newf(errors.CodeTypeMismatch, "step %q input %q: got %s, want %s", step, input, got, want).
		WithContext("step", step).
		WithContext("input", input).
		WithRecoverable(true)
}

func invalid(format string, args ...any) *errors.Error {
	return errors.Newf(errors.CodeInvalidPlan, format, args...)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
