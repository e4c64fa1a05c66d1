// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package compat checks whether one capability can feed another.
package compat

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/dependency"
)

const (
	missingInputFactor = 0.7
	typeMismatchFactor = 0.9
	resourceFactor     = 0.5
)

// Result is the outcome of Analyze. Compatible is true when Issues is empty.
type Result struct {
	Compatible bool     `json:"compatible"`
	Score      float64  `json:"score"`
	Issues     []string `json:"issues,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// ResourcePolicy reports exclusive resource conflicts between two capabilities.
type ResourcePolicy interface {
	Conflicts(a, b core.Capability) []string
}

// NoResourceConflicts never reports a conflict.
type NoResourceConflicts struct{}

// Conflicts implements ResourcePolicy.
func (NoResourceConflicts) Conflicts(core.Capability, core.Capability) []string { return nil }

// ExclusiveResources treats every declared resource as an exclusive claim and
// reports each one both capabilities hold.
type ExclusiveResources struct{}

// Conflicts implements ResourcePolicy.
func (ExclusiveResources) Conflicts(a, b core.Capability) []string {
	held := make(map[string]bool, len(a.Resources))
	for _, r := range a.Resources {
		held[r] = true
	}
	var shared []string
	for _, r := range b.Resources {
		if held[r] {
			shared = append(shared, r)
			delete(held, r)
		}
	}
	sort.Strings(shared)
	return shared
}

// Analyzer runs the output/input, dependency and resource checks.
type Analyzer struct {
	resolver  *dependency.Resolver
	resources ResourcePolicy
	logger    *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithResourcePolicy replaces the default NoResourceConflicts policy.
func WithResourcePolicy(p ResourcePolicy) Option {
	return func(a *Analyzer) {
		if p != nil {
			a.resources = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAnalyzer creates an analyzer. The lookup is used for transitive
// dependency checks; it may be nil, in which case only direct
// dependencies declared on the two capabilities are considered.
func NewAnalyzer(lookup core.Lookup, opts ...Option) *Analyzer {
	a := &Analyzer{
		resources: NoResourceConflicts{},
		logger:    slog.Default(),
	}
	if lookup != nil {
		a.resolver = dependency.NewResolver(lookup)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze checks whether a's outputs can feed b.
func (an *Analyzer) Analyze(a, b core.Capability) Result {
	res := Result{Score: 1}

	for _, in := range b.RequiredInputs() {
		out, ok := a.Output(in.Name)
		if !ok {
			res.Issues = append(res.Issues, fmt.Sprintf("%s requires input %q which %s does not produce", b.ID, in.Name, a.ID))
			res.Score *= missingInputFactor
			continue
		}
		if !core.SameType(out.Type, in.Type) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("type mismatch on %q: %s produces %s, %s expects %s",
				in.Name, a.ID, typeName(out.Type), b.ID, typeName(in.Type)))
			res.Score *= typeMismatchFactor
		}
	}

	aNeedsB := an.dependsOn(a, b, &res)
	bNeedsA := an.dependsOn(b, a, &res)
	if aNeedsB && bNeedsA {
		res.Issues = append(res.Issues, fmt.Sprintf("circular dependency between %s and %s", a.ID, b.ID))
		res.Score = 0
	}

	for _, r := range an.resources.Conflicts(a, b) {
		res.Issues = append(res.Issues, fmt.Sprintf("%s and %s both claim exclusive resource %q", a.ID, b.ID, r))
		res.Score *= resourceFactor
	}

	res.Score = clamp(res.Score)
	res.Compatible = len(res.Issues) == 0
	an.logger.Debug("compatibility analyzed",
		slog.String("from", a.ID),
		slog.String("to", b.ID),
		slog.Bool("compatible", res.Compatible),
		slog.Float64("score", res.Score),
	)
	return res
}

// dependsOn reports whether x depends on y. A capability compared with
// itself does not count. Lookup failures become warnings.
func (an *Analyzer) dependsOn(x, y core.Capability, res *Result) bool {
	if x.ID == y.ID {
		return false
	}
	for _, d := range x.Dependencies {
		if d == y.ID {
			return true
		}
	}
	if an.resolver == nil || len(x.Dependencies) == 0 {
		return false
	}
	ok, err := an.resolver.DependsOn(x.ID, y.ID)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("dependency check for %s: %v", x.ID, err))
		return false
	}
	return ok
}

func typeName(t string) string {
	if t == "" {
		return "any"
	}
	return t
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
