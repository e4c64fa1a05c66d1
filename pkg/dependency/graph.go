// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package dependency

import (
	"fmt"
	"strings"

	"github.com/jllopis/skillchain/pkg/core"
)

// Graph is the dependency closure of a root capability.
type Graph struct {
	Root  string                     `json:"root"`
	Order []string                   `json:"order"`
	Nodes map[string]core.Capability `json:"-"`
	Edges []Edge                     `json:"edges"`
}

// Edge points from a dependent to one of its dependencies.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Mermaid renders the graph as a mermaid flowchart. Dependencies point at
// their dependents so the chart reads in execution order.
func (g *Graph) Mermaid() string {
	var sb strings.Builder
	ids := g.nodeIDs()
	sb.WriteString("graph TD\n")
	for _, id := range g.Order {
		fmt.Fprintf(&sb, "    %s[%q]\n", ids[id], g.label(id))
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&sb, "    %s --> %s\n", ids[e.To], ids[e.From])
	}
	if g.Root != "" {
		fmt.Fprintf(&sb, "    style %s fill:#90EE90\n", ids[g.Root])
	}
	return sb.String()
}

// Dot renders the graph in Graphviz DOT format.
func (g *Graph) Dot() string {
	var sb strings.Builder
	sb.WriteString("digraph G {\n")
	sb.WriteString("    rankdir=TB;\n")
	sb.WriteString("    node [shape=box, style=rounded];\n")
	for _, id := range g.Order {
		attrs := fmt.Sprintf("label=%q", g.label(id))
		if id == g.Root {
			attrs += ", style=\"rounded,filled\", fillcolor=\"#90EE90\""
		}
		fmt.Fprintf(&sb, "    %q [%s];\n", id, attrs)
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&sb, "    %q -> %q;\n", e.To, e.From)
	}
	sb.WriteString("}\n")
	return sb.String()
}

func (g *Graph) label(id string) string {
	if c, ok := g.Nodes[id]; ok && c.Name != "" && c.Name != id {
		return id + ": " + c.Name
	}
	return id
}

// nodeIDs assigns every capability a distinct mermaid-safe identifier.
// Ids that sanitize to the same string get a numeric suffix in order.
func (g *Graph) nodeIDs() map[string]string {
	out := make(map[string]string, len(g.Order))
	used := make(map[string]bool, len(g.Order))
	assign := func(id string) {
		if _, ok := out[id]; ok {
			return
		}
		base := sanitize(id)
		candidate := base
		for n := 2; used[candidate]; n++ {
			candidate = fmt.Sprintf("%s_%d", base, n)
		}
		used[candidate] = true
		out[id] = candidate
	}
	for _, id := range g.Order {
		assign(id)
	}
	for _, e := range g.Edges {
		assign(e.From)
		assign(e.To)
	}
	if g.Root != "" {
		assign(g.Root)
	}
	return out
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, id)
}
