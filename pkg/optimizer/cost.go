// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/planner"
)

// CostModel prices a finished run.
type CostModel interface {
	// Resource returns the resource usage of the run, in model units.
	Resource(plan *planner.Plan, res *core.ExecutionResult) float64
	// Cost returns the monetary (or budget) cost of the run.
	Cost(plan *planner.Plan, res *core.ExecutionResult) float64
}

// QualityFunc grades the outputs of a run in [0,1].
type QualityFunc func(res *core.ExecutionResult) float64

// DefaultCostModel charges UnitResource per executed step and the
// Metadata.Cost of whichever capability actually ran each step.
type DefaultCostModel struct {
	Lookup       core.Lookup
	UnitResource float64
}

// Resource implements CostModel.
func (m DefaultCostModel) Resource(_ *planner.Plan, res *core.ExecutionResult) float64 {
	unit := m.UnitResource
	if unit <= 0 {
		unit = 1
	}
	var total float64
	for _, s := range res.Steps {
		if s.Status != core.StatusSkipped {
			total += unit
		}
	}
	return total
}

// Cost implements CostModel.
func (m DefaultCostModel) Cost(_ *planner.Plan, res *core.ExecutionResult) float64 {
	if m.Lookup == nil {
		return 0
	}
	var total float64
	for _, s := range res.Steps {
		if s.Status == core.StatusSkipped {
			continue
		}
		id := s.ExecutedBy
		if id == "" {
			id = s.CapabilityID
		}
		if c, err := m.Lookup.Get(id); err == nil {
			total += c.Metadata.Cost
		}
	}
	return total
}

// SucceededFraction is the default QualityFunc: the share of steps that
// produced outputs.
func SucceededFraction(res *core.ExecutionResult) float64 {
	if len(res.Steps) == 0 {
		return 0
	}
	ok := 0
	for _, s := range res.Steps {
		if s.OK() {
			ok++
		}
	}
	return float64(ok) / float64(len(res.Steps))
}
