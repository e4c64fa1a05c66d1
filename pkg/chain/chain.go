// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package chain builds and runs linear capability chains: each capability
// feeds one declared output into the next capability's declared input.
package chain

import (
	"fmt"
	"strings"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
	"github.com/jllopis/skillchain/pkg/planner"
)

// Endpoint names one field of one capability.
type Endpoint struct {
	CapabilityID string `json:"capability_id" yaml:"capability_id"`
	Field        string `json:"field" yaml:"field"`
}

func (e Endpoint) String() string { return e.CapabilityID + "." + e.Field }

// Transform adapts a value on its way between two capabilities.
type Transform func(core.Value) (core.Value, error)

// Connection moves one output into one input.
type Connection struct {
	From      Endpoint  `json:"from" yaml:"from"`
	To        Endpoint  `json:"to" yaml:"to"`
	Transform Transform `json:"-" yaml:"-"`
}

func (c Connection) String() string { return c.From.String() + " -> " + c.To.String() }

// Chain is an ordered list of capabilities with explicit data-flow edges.
type Chain struct {
	ID           string           `json:"id" yaml:"id"`
	Goal         string           `json:"goal,omitempty" yaml:"goal,omitempty"`
	Capabilities []string         `json:"capabilities" yaml:"capabilities"`
	Connections  []Connection     `json:"connections" yaml:"connections"`
	Inputs       []core.Parameter `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs      []core.Parameter `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Len returns the number of capabilities.
func (c *Chain) Len() int { return len(c.Capabilities) }

// Tail returns the last capability id.
func (c *Chain) Tail() string {
	if len(c.Capabilities) == 0 {
		return ""
	}
	return c.Capabilities[len(c.Capabilities)-1]
}

// Contains reports whether id is part of the chain.
func (c *Chain) Contains(id string) bool {
	return c.index(id) >= 0
}

// ConnectionsFrom returns the connections leaving id, in declaration order.
func (c *Chain) ConnectionsFrom(id string) []Connection {
	var out []Connection
	for _, conn := range c.Connections {
		if conn.From.CapabilityID == id {
			out = append(out, conn)
		}
	}
	return out
}

func (c *Chain) index(id string) int {
	for i, cid := range c.Capabilities {
		if cid == id {
			return i
		}
	}
	return -1
}

// Validate checks the chain structure: unique capabilities, connections
// between members where the source precedes the target and, with a lookup,
// that every endpoint field is declared by its capability.
func (c *Chain) Validate(lookup core.Lookup) error {
	if c == nil || len(c.Capabilities) == 0 {
		return errors.New(errors.CodeInvalidPlan, "chain has no capabilities", nil)
	}
	caps := make(map[string]core.Capability, len(c.Capabilities))
	for i, id := range c.Capabilities {
		if c.index(id) != i {
			return errors.Newf(errors.CodeInvalidPlan, "capability %q appears twice in chain", id)
		}
		if lookup == nil {
			continue
		}
		capability, err := lookup.Get(id)
		if err != nil {
			return err
		}
		caps[id] = capability
	}
	for _, conn := range c.Connections {
		from, to := c.index(conn.From.CapabilityID), c.index(conn.To.CapabilityID)
		switch {
		case from < 0 || to < 0:
			return errors.Newf(errors.CodeInvalidPlan, "connection %s links a capability outside the chain", conn)
		case from >= to:
			return errors.Newf(errors.CodeInvalidPlan, "connection %s does not flow forward", conn)
		}
		if lookup == nil {
			continue
		}
		if _, ok := caps[conn.From.CapabilityID].Output(conn.From.Field); !ok {
			return errors.Newf(errors.CodeInvalidPlan, "connection %s: %s has no output %q",
				conn, conn.From.CapabilityID, conn.From.Field)
		}
		if _, ok := caps[conn.To.CapabilityID].Input(conn.To.Field); !ok {
			return errors.Newf(errors.CodeInvalidPlan, "connection %s: %s has no input %q",
				conn, conn.To.CapabilityID, conn.To.Field)
		}
	}
	return nil
}

// ToPlan converts the chain into an equivalent sequential plan. Chain inputs
// become plan inputs of the first step. Connections carrying a Transform
// cannot be expressed as plan bindings and are rejected.
func ToPlan(c *Chain) (*planner.Plan, error) {
	if err := c.Validate(nil); err != nil {
		return nil, err
	}
	plan := &planner.Plan{ID: c.ID, Goal: c.Goal}
	stepIDs := c.StepIDs()
	for i, id := range c.Capabilities {
		step := planner.Step{ID: stepIDs[id], Capability: id, Inputs: map[string]planner.Binding{}}
		if i == 0 {
			for _, in := range c.Inputs {
				step.Inputs[in.Name] = planner.Ref(planner.InputStep, in.Name)
			}
		}
		plan.Steps = append(plan.Steps, step)
	}
	for _, conn := range c.Connections {
		if conn.Transform != nil {
			return nil, errors.Newf(errors.CodeInvalidPlan,
				"connection %s has a transform and cannot be converted to a plan", conn)
		}
		step := &plan.Steps[c.index(conn.To.CapabilityID)]
		step.Inputs[conn.To.Field] = planner.Ref(stepIDs[conn.From.CapabilityID], conn.From.Field)
	}
	return plan, nil
}

// StepIDs maps each capability of the chain to the plan step id used by
// ToPlan. Dots become underscores; ids that would clash after that, or with
// the reserved input step, get a numeric suffix.
func (c *Chain) StepIDs() map[string]string {
	out := make(map[string]string, len(c.Capabilities))
	used := map[string]bool{planner.InputStep: true}
	for _, id := range c.Capabilities {
		base := strings.ReplaceAll(id, ".", "_")
		candidate := base
		for n := 2; used[candidate]; n++ {
			candidate = fmt.Sprintf("%s_%d", base, n)
		}
		used[candidate] = true
		out[id] = candidate
	}
	return out
}

// Describe renders the chain as "a -> b -> c (n connections)".
func (c *Chain) Describe() string {
	return fmt.Sprintf("%s (%d connections)", strings.Join(c.Capabilities, " -> "), len(c.Connections))
}
