// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"sort"
	"sync"

	"github.com/jllopis/skillchain/pkg/core"
)

// ExecContext holds the values produced during one plan run, keyed by
// "step.field". Plan inputs live under "input.<name>". It is safe for the
// concurrent writes of a parallel group and is never shared between runs.
type ExecContext struct {
	mu     sync.RWMutex
	values map[string]core.Value
}

// NewExecContext seeds a context with the plan inputs.
func NewExecContext(inputs core.Values) *ExecContext {
	ec := &ExecContext{values: make(map[string]core.Value, len(inputs))}
	for name, v := range inputs {
		ec.values[InputStep+"."+name] = v
	}
	return ec
}

// Get returns the value stored for ref.
func (c *ExecContext) Get(ref ContextRef) (core.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[ref.Key()]
	return v, ok
}

// Set stores v under step.field.
func (c *ExecContext) Set(step, field string, v core.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[step+"."+field] = v
}

// Has reports whether step.field is defined.
func (c *ExecContext) Has(ref ContextRef) bool {
	_, ok := c.Get(ref)
	return ok
}

// Keys returns every defined key in sorted order.
func (c *ExecContext) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StepOutputs copies every value written by steps, leaving out plan inputs.
func (c *ExecContext) StepOutputs() core.Values {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(core.Values, len(c.values))
	for k, v := range c.values {
		if len(k) > len(InputStep) && k[:len(InputStep)+1] == InputStep+"." {
			continue
		}
		out[k] = v
	}
	return out
}
