// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"strings"

	"github.com/jllopis/skillchain/pkg/errors"
)

// Parameter describes a single capability input or output.
type Parameter struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Metadata carries descriptive capability attributes.
type Metadata struct {
	Category string            `json:"category,omitempty" yaml:"category,omitempty"`
	Version  string            `json:"version,omitempty" yaml:"version,omitempty"`
	Owner    string            `json:"owner,omitempty" yaml:"owner,omitempty"`
	Cost     float64           `json:"cost,omitempty" yaml:"cost,omitempty"`
	Extra    map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Capability is a registered unit of functionality with declared inputs,
// outputs and dependencies.
type Capability struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	Description  string      `json:"description" yaml:"description"`
	Capabilities []string    `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Inputs       []Parameter `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs      []Parameter `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Dependencies []string    `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Resources    []string    `json:"resources,omitempty" yaml:"resources,omitempty"`
	Metadata     Metadata    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Input returns the declared input with the given name.
func (c Capability) Input(name string) (Parameter, bool) {
	return findParam(c.Inputs, name)
}

// Output returns the declared output with the given name.
func (c Capability) Output(name string) (Parameter, bool) {
	return findParam(c.Outputs, name)
}

// RequiredInputs returns the inputs flagged as required, in declaration order.
func (c Capability) RequiredInputs() []Parameter {
	var out []Parameter
	for _, p := range c.Inputs {
		if p.Required {
			out = append(out, p)
		}
	}
	return out
}

// HasTag reports whether the capability declares tag (case-insensitive).
func (c Capability) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range c.Capabilities {
		if strings.ToLower(t) == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c Capability) Clone() Capability {
	out := c
	out.Capabilities = cloneStrings(c.Capabilities)
	out.Inputs = cloneParams(c.Inputs)
	out.Outputs = cloneParams(c.Outputs)
	out.Dependencies = cloneStrings(c.Dependencies)
	out.Resources = cloneStrings(c.Resources)
	if c.Metadata.Extra != nil {
		out.Metadata.Extra = make(map[string]string, len(c.Metadata.Extra))
		for k, v := range c.Metadata.Extra {
			out.Metadata.Extra[k] = v
		}
	}
	return out
}

// Validate checks the structural rules a capability must satisfy before registration.
func (c Capability) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New(errors.CodeInvalidInput, "capability id is required", nil)
	}
	if err := uniqueParams(c.ID, "input", c.Inputs); err != nil {
		return err
	}
	if err := uniqueParams(c.ID, "output", c.Outputs); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Dependencies))
	for _, dep := range c.Dependencies {
		if dep == c.ID {
			return errors.Newf(errors.CodeCircularDependency, "capability %q depends on itself", c.ID).
				WithContext("path", []string{c.ID, c.ID})
		}
		if seen[dep] {
			return errors.Newf(errors.CodeInvalidInput, "capability %q declares dependency %q twice", c.ID, dep)
		}
		seen[dep] = true
	}
	return nil
}

func uniqueParams(id, kind string, params []Parameter) error {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if strings.TrimSpace(p.Name) == "" {
			return errors.Newf(errors.CodeInvalidInput, "capability %q has an unnamed %s", id, kind)
		}
		if seen[p.Name] {
			return errors.Newf(errors.CodeInvalidInput, "capability %q declares %s %q twice", id, kind, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

func findParam(params []Parameter, name string) (Parameter, bool) {
	for _, p := range params {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneParams(in []Parameter) []Parameter {
	if in == nil {
		return nil
	}
	out := make([]Parameter, len(in))
	copy(out, in)
	return out
}

// SameType compares two parameter type tags. An empty tag or "any" matches everything.
func SameType(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" || a == "any" || b == "any" {
		return true
	}
	return a == b
}
