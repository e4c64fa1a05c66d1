// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package dependency orders capabilities so that dependencies always run
// before their dependents.
package dependency

import (
	"strings"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
)

// Resolver walks declared dependencies through a capability lookup.
type Resolver struct {
	lookup core.Lookup
}

// NewResolver creates a resolver over lookup (usually a *registry.Registry).
func NewResolver(lookup core.Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve returns id and its transitive dependencies in post-order:
// every dependency precedes its dependents and id comes last.
func (r *Resolver) Resolve(id string) ([]string, error) {
	g, err := r.BuildGraph(id)
	if err != nil {
		return nil, err
	}
	return g.Order, nil
}

// BuildGraph resolves id and returns the nodes in resolution order together
// with the dependent -> dependency edges.
func (r *Resolver) BuildGraph(id string) (*Graph, error) {
	w := &walker{
		lookup:   r.lookup,
		visiting: make(map[string]bool),
		visited:  make(map[string]bool),
		graph:    &Graph{Root: id, Nodes: make(map[string]core.Capability)},
	}
	if err := w.visit(id); err != nil {
		return nil, err
	}
	return w.graph, nil
}

// DependsOn reports whether a depends on b directly or transitively. It
// tolerates cycles; a capability missing along the way is an error.
func (r *Resolver) DependsOn(a, b string) (bool, error) {
	seen := map[string]bool{a: true}
	queue := []string{a}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		c, err := r.lookup.Get(id)
		if err != nil {
			return false, err
		}
		for _, dep := range c.Dependencies {
			if dep == b {
				return true, nil
			}
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return false, nil
}

type walker struct {
	lookup   core.Lookup
	visiting map[string]bool
	visited  map[string]bool
	path     []string
	graph    *Graph
}

func (w *walker) visit(id string) error {
	if w.visited[id] {
		return nil
	}
	if w.visiting[id] {
		return cycleError(w.path, id)
	}
	c, err := w.lookup.Get(id)
	if err != nil {
		if errors.HasCode(err, errors.CodeCapabilityNotFound) {
			return err
		}
		return errors.New(errors.CodeCapabilityNotFound, "dependency lookup failed", err).
			WithContext("capability", id)
	}

	w.visiting[id] = true
	w.path = append(w.path, id)
	for _, dep := range c.Dependencies {
		w.graph.Edges = append(w.graph.Edges, Edge{From: id, To: dep})
		if err := w.visit(dep); err != nil {
			return err
		}
	}
	w.path = w.path[:len(w.path)-1]
	delete(w.visiting, id)

	w.visited[id] = true
	w.graph.Order = append(w.graph.Order, id)
	w.graph.Nodes[id] = c
	return nil
}

func cycleError(path []string, id string) error {
	start := 0
	for i, p := range path {
		if p == id {
			start = i
			break
		}
	}
	cycle := append(append([]string{}, path[start:]...), id)
	return errors.Newf(errors.CodeCircularDependency, "circular dependency: %s", strings.Join(cycle, " -> ")).
		WithContext("path", cycle)
}
