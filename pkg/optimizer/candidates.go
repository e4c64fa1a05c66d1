// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"fmt"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/dependency"
	"github.com/jllopis/skillchain/pkg/planner"
)

type candidate struct {
	edit string
	plan *planner.Plan
}

// candidates lists every single-edit variant of p.
func (o *Optimizer) candidates(p *planner.Plan) []candidate {
	var out []candidate
	out = append(out, o.removals(p)...)
	out = append(out, o.parallelizations(p)...)
	out = append(out, o.swaps(p)...)
	return out
}

// removals drops a step whose capability produces the same output types as
// the step before it, pointing its readers at the previous step instead.
func (o *Optimizer) removals(p *planner.Plan) []candidate {
	if o.lookup == nil {
		return nil
	}
	var out []candidate
	for i := 1; i < len(p.Steps); i++ {
		prev, cur := p.Steps[i-1], p.Steps[i]
		if len(prev.Outputs) > 0 || len(cur.Outputs) > 0 {
			continue
		}
		rename, ok := o.sameOutputTypes(prev.Capability, cur.Capability)
		if !ok || readByCondition(p, cur.ID) {
			continue
		}

		cand := p.Clone()
		cand.Steps = append(cand.Steps[:i], cand.Steps[i+1:]...)
		for j := range cand.Steps {
			for name, b := range cand.Steps[j].Inputs {
				ref, isRef := b.ContextRef()
				if !isRef || ref.Step != cur.ID {
					continue
				}
				if field, ok := rename[ref.Field]; ok {
					cand.Steps[j].Inputs[name] = planner.Ref(prev.ID, field)
				}
			}
		}
		out = append(out, candidate{edit: "remove " + cur.ID, plan: cand})
	}
	return out
}

// sameOutputTypes maps b's output names onto a's when both capabilities
// declare the same output types in the same order.
func (o *Optimizer) sameOutputTypes(a, b string) (map[string]string, bool) {
	ca, err := o.lookup.Get(a)
	if err != nil {
		return nil, false
	}
	cb, err := o.lookup.Get(b)
	if err != nil || len(ca.Outputs) == 0 || len(ca.Outputs) != len(cb.Outputs) {
		return nil, false
	}
	rename := make(map[string]string, len(cb.Outputs))
	for k := range cb.Outputs {
		if ca.Outputs[k].Type == "" || !core.SameType(ca.Outputs[k].Type, cb.Outputs[k].Type) {
			return nil, false
		}
		rename[cb.Outputs[k].Name] = ca.Outputs[k].Name
	}
	return rename, true
}

func readByCondition(p *planner.Plan, stepID string) bool {
	for _, s := range p.Steps {
		for _, ref := range s.Condition.Refs() {
			if ref.Step == stepID {
				return true
			}
		}
	}
	return false
}

// parallelizations marks two adjacent steps parallel when every member of
// the resulting group is independent of the others.
func (o *Optimizer) parallelizations(p *planner.Plan) []candidate {
	var out []candidate
	for i := 0; i+1 < len(p.Steps); i++ {
		if p.Steps[i].Parallel && p.Steps[i+1].Parallel {
			continue
		}
		cand := p.Clone()
		cand.Steps[i].Parallel = true
		cand.Steps[i+1].Parallel = true
		if !o.groupIndependent(cand, i) {
			continue
		}
		out = append(out, candidate{
			edit: fmt.Sprintf("parallelize %s,%s", p.Steps[i].ID, p.Steps[i+1].ID),
			plan: cand,
		})
	}
	return out
}

// groupIndependent checks the parallel run containing index i.
func (o *Optimizer) groupIndependent(p *planner.Plan, i int) bool {
	lo, hi := i, i
	for lo > 0 && p.Steps[lo-1].Parallel {
		lo--
	}
	for hi+1 < len(p.Steps) && p.Steps[hi+1].Parallel {
		hi++
	}
	for a := lo; a <= hi; a++ {
		for b := a + 1; b <= hi; b++ {
			if !o.independent(p.Steps[a], p.Steps[b]) {
				return false
			}
		}
	}
	return true
}

// swaps exchanges adjacent sequential steps that do not depend on each other.
func (o *Optimizer) swaps(p *planner.Plan) []candidate {
	var out []candidate
	for i := 0; i+1 < len(p.Steps); i++ {
		a, b := p.Steps[i], p.Steps[i+1]
		if a.Parallel || b.Parallel || !o.independent(a, b) {
			continue
		}
		cand := p.Clone()
		cand.Steps[i], cand.Steps[i+1] = cand.Steps[i+1], cand.Steps[i]
		out = append(out, candidate{edit: fmt.Sprintf("swap %s,%s", a.ID, b.ID), plan: cand})
	}
	return out
}

// independent reports that neither step reads the other's outputs and
// neither capability depends on the other. Lookup failures count as
// dependent.
func (o *Optimizer) independent(a, b planner.Step) bool {
	if reads(a, b.ID) || reads(b, a.ID) {
		return false
	}
	if o.lookup == nil || a.Capability == b.Capability {
		return true
	}
	r := dependency.NewResolver(o.lookup)
	if dep, err := r.DependsOn(a.Capability, b.Capability); err != nil || dep {
		return false
	}
	if dep, err := r.DependsOn(b.Capability, a.Capability); err != nil || dep {
		return false
	}
	return true
}

func reads(s planner.Step, stepID string) bool {
	for _, ref := range s.Refs() {
		if ref.Step == stepID {
			return true
		}
	}
	return false
}
