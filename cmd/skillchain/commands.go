// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/dependency"
	"github.com/jllopis/skillchain/pkg/discovery"
	"github.com/jllopis/skillchain/pkg/registry"
	"github.com/jllopis/skillchain/pkg/skills"
)

// cli runs one command against an app and writes to out.
type cli struct {
	app  *app
	out  io.Writer
	json bool
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parseInterspersed lets positional arguments come before flags.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func (c *cli) list(args []string) error {
	fs := c.flagSet("list")
	category := fs.String("category", "", "Filter by category")
	tag := fs.String("tag", "", "Filter by capability tag")
	search := fs.String("search", "", "Substring search")
	stats := fs.Bool("stats", false, "Append per-category counts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var caps []core.Capability
	reg := c.app.registry
	switch {
	case *category != "":
		caps = reg.FindByCategory(*category)
	case *tag != "":
		caps = reg.FindByCapabilityTag(*tag)
	case *search != "":
		caps = reg.Search(*search)
	default:
		caps = reg.List()
	}

	if c.json {
		if *stats {
			return printJSON(c.out, struct {
				Capabilities []core.Capability `json:"capabilities"`
				Categories   []categoryCount   `json:"categories"`
			}{caps, categoryCounts(reg, caps)})
		}
		return printJSON(c.out, caps)
	}
	w := newTabWriter(c.out)
	writeRow(w, "ID", "CATEGORY", "INPUTS", "OUTPUTS", "DESCRIPTION")
	for _, capability := range caps {
		writeRow(w, capability.ID, capability.Metadata.Category,
			paramList(capability.Inputs), paramList(capability.Outputs),
			truncate(capability.Description, 60))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if *stats {
		fmt.Fprintln(c.out)
		w = newTabWriter(c.out)
		writeRow(w, "CATEGORY", "COUNT")
		for _, cc := range categoryCounts(reg, caps) {
			writeRow(w, cc.Category, fmt.Sprint(cc.Count))
		}
		return w.Flush()
	}
	return nil
}

type categoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// categoryCounts counts the registry entries of every category present in
// caps, sorted by name. Uncategorized entries are reported under "-".
func categoryCounts(reg *registry.Registry, caps []core.Capability) []categoryCount {
	seen := map[string]bool{}
	var out []categoryCount
	for _, capability := range caps {
		category := capability.Metadata.Category
		if seen[category] {
			continue
		}
		seen[category] = true
		if category == "" {
			n := 0
			for _, other := range caps {
				if other.Metadata.Category == "" {
					n++
				}
			}
			out = append(out, categoryCount{Category: "-", Count: n})
			continue
		}
		out = append(out, categoryCount{Category: category, Count: len(reg.FindByCategory(category))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

func paramList(params []core.Parameter) string {
	parts := make([]string, len(params))
	for i, p := range params {
		name := p.Name
		if p.Required {
			name += "*"
		}
		if p.Type != "" {
			name += ":" + p.Type
		}
		parts[i] = name
	}
	return strings.Join(parts, ",")
}

type validateResult struct {
	Capabilities int      `json:"capabilities"`
	Valid        bool     `json:"valid"`
	Problems     []string `json:"problems,omitempty"`
}

// validate checks every registered capability, resolves its dependency
// closure and checks SKILL.md bodies for the configured required sections.
func (c *cli) validate(args []string) error {
	if len(args) > 0 {
		return newInvalidArgumentError(args[0], "validate takes no arguments")
	}
	res := validateResult{Valid: true}
	for _, capability := range c.app.registry.List() {
		res.Capabilities++
		if err := capability.Validate(); err != nil {
			res.Problems = append(res.Problems, fmt.Sprintf("%s: %v", capability.ID, err))
			continue
		}
		if _, err := c.app.resolver.Resolve(capability.ID); err != nil {
			res.Problems = append(res.Problems, fmt.Sprintf("%s: %v", capability.ID, err))
		}
	}
	for _, spec := range c.app.skills {
		if missing := skills.MissingSections(spec.Body, c.app.cfg.Skills.RequiredSections); len(missing) > 0 {
			res.Problems = append(res.Problems,
				fmt.Sprintf("%s: missing sections: %s", spec.Name, strings.Join(missing, ", ")))
		}
	}
	res.Valid = len(res.Problems) == 0

	if c.json {
		if err := printJSON(c.out, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(c.out, "%d capabilities checked\n", res.Capabilities)
		for _, p := range res.Problems {
			fmt.Fprintf(c.out, "  ✗ %s\n", p)
		}
		if res.Valid {
			fmt.Fprintln(c.out, "  ✓ registry is valid")
		}
	}
	if !res.Valid {
		return fmt.Errorf("%d problem(s) found", len(res.Problems))
	}
	return nil
}

func (c *cli) discover(ctx context.Context, args []string) error {
	fs := c.flagSet("discover")
	top := fs.Int("top", 0, "Return at most n matches")
	all := fs.Bool("all", false, "Ignore the relevance threshold")
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	query := strings.Join(pos, " ")
	if strings.TrimSpace(query) == "" {
		return newInvalidArgumentError("query", "discover needs a query")
	}

	var matches []discovery.Match
	switch {
	case *all:
		matches, err = c.app.discoverer.Rank(ctx, query)
	case *top > 0:
		matches, err = c.app.discoverer.DiscoverTop(ctx, query, *top)
	default:
		matches, err = c.app.discoverer.Discover(ctx, query)
	}
	if err != nil {
		return err
	}

	if c.json {
		return printJSON(c.out, matches)
	}
	w := newTabWriter(c.out)
	writeRow(w, "ID", "RELEVANCE", "CONFIDENCE", "REASONS")
	for _, m := range matches {
		writeRow(w, m.Capability.ID,
			strconv.FormatFloat(m.Relevance, 'f', 3, 64),
			strconv.FormatFloat(m.Confidence, 'f', 3, 64),
			strings.Join(m.Reasons, "; "))
	}
	return w.Flush()
}

func (c *cli) resolve(args []string) error {
	if len(args) != 1 {
		return newInvalidArgumentError(strings.Join(args, " "), "resolve needs exactly one capability id")
	}
	order, err := c.app.resolver.Resolve(args[0])
	if err != nil {
		return err
	}
	if c.json {
		return printJSON(c.out, map[string]any{"capability": args[0], "order": order})
	}
	for i, id := range order {
		fmt.Fprintf(c.out, "%d. %s\n", i+1, id)
	}
	return nil
}

type graphResult struct {
	Format  string            `json:"format"`
	Root    string            `json:"root"`
	Content string            `json:"content,omitempty"`
	Nodes   int               `json:"nodes"`
	Edges   []dependency.Edge `json:"edges"`
	Order   []string          `json:"order"`
}

func (c *cli) graph(args []string) error {
	fs := c.flagSet("graph")
	output := fs.String("output", "mermaid", "Output format: mermaid, dot, json")
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return newInvalidArgumentError(strings.Join(pos, " "), "graph needs exactly one capability id")
	}

	g, err := c.app.resolver.BuildGraph(pos[0])
	if err != nil {
		return err
	}
	result := graphResult{Format: *output, Root: g.Root, Nodes: len(g.Order), Edges: g.Edges, Order: g.Order}
	switch *output {
	case "mermaid":
		result.Content = g.Mermaid()
	case "dot":
		result.Content = g.Dot()
	case "json":
	default:
		return newInvalidArgumentError(*output, "output must be mermaid, dot or json")
	}

	if c.json || *output == "json" {
		return printJSON(c.out, result)
	}
	_, err = fmt.Fprintln(c.out, result.Content)
	return err
}

func (c *cli) compat(args []string) error {
	if len(args) != 2 {
		return newInvalidArgumentError(strings.Join(args, " "), "compat needs two capability ids")
	}
	a, err := c.app.registry.Get(args[0])
	if err != nil {
		return err
	}
	b, err := c.app.registry.Get(args[1])
	if err != nil {
		return err
	}
	res := c.app.analyzer.Analyze(a, b)

	if c.json {
		return printJSON(c.out, res)
	}
	fmt.Fprintf(c.out, "%s -> %s: compatible=%t score=%.2f\n", a.ID, b.ID, res.Compatible, res.Score)
	for _, issue := range res.Issues {
		fmt.Fprintf(c.out, "  issue: %s\n", issue)
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(c.out, "  warning: %s\n", warning)
	}
	return nil
}

type composeResult struct {
	ID           string           `json:"id"`
	Goal         string           `json:"goal"`
	Capabilities []string         `json:"capabilities"`
	Connections  []string         `json:"connections"`
	Inputs       []core.Parameter `json:"inputs,omitempty"`
	Outputs      []core.Parameter `json:"outputs,omitempty"`
	Execution    *executionReport `json:"execution,omitempty"`
}

func (c *cli) compose(ctx context.Context, args []string) error {
	fs := c.flagSet("compose")
	maxLen := fs.Int("max", c.app.cfg.Compose.MaxLength, "Maximum chain length")
	execute := fs.Bool("run", false, "Execute the chain after composing it")
	policy := fs.String("policy", c.app.cfg.Executor.Policy, "Failure policy: abort or continue")
	var inputs multiFlag
	fs.Var(&inputs, "input", "Chain input key=value (repeatable)")
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	task := strings.Join(pos, " ")

	ch, err := c.app.composer.BuildChain(ctx, task, *maxLen)
	if err != nil {
		return err
	}
	res := composeResult{
		ID:           ch.ID,
		Goal:         ch.Goal,
		Capabilities: ch.Capabilities,
		Inputs:       ch.Inputs,
		Outputs:      ch.Outputs,
	}
	for _, conn := range ch.Connections {
		res.Connections = append(res.Connections, conn.String())
	}

	var exec *core.ExecutionResult
	if *execute {
		p, err := core.ParseFailurePolicy(*policy)
		if err != nil {
			return err
		}
		in, err := parseInputs(inputs)
		if err != nil {
			return err
		}
		exec = c.app.chainExecutor(p).Execute(ctx, ch, in)
		res.Execution = newExecutionReport(exec)
	}

	if c.json {
		if err := printJSON(c.out, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(c.out, "chain %s (%d capabilities)\n", ch.ID, ch.Len())
		fmt.Fprintln(c.out, ch.Describe())
		if res.Execution != nil {
			printExecution(c.out, res.Execution)
		}
	}
	return runFailed(exec)
}

type healthReport struct {
	Status     core.HealthStatus `json:"status"`
	Components []healthComponent `json:"components"`
}

type healthComponent struct {
	Name      string            `json:"name"`
	Status    core.HealthStatus `json:"status"`
	Message   string            `json:"message,omitempty"`
	LatencyMs int64             `json:"latency_ms"`
}

func (c *cli) health(ctx context.Context, args []string) error {
	if len(args) > 0 {
		return newInvalidArgumentError(args[0], "health takes no arguments")
	}
	results, overall := c.app.health().CheckAll(ctx)
	report := healthReport{Status: overall}
	for _, r := range results {
		report.Components = append(report.Components, healthComponent{
			Name:      r.Component,
			Status:    r.Status,
			Message:   r.Message,
			LatencyMs: r.Latency.Milliseconds(),
		})
	}

	if c.json {
		if err := printJSON(c.out, report); err != nil {
			return err
		}
	} else {
		tw := newTabWriter(c.out)
		writeRow(tw, "COMPONENT", "STATUS", "LATENCY", "MESSAGE")
		for _, comp := range report.Components {
			writeRow(tw, comp.Name, string(comp.Status), fmt.Sprintf("%dms", comp.LatencyMs), comp.Message)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if overall == core.HealthUnhealthy {
		return fmt.Errorf("health status %s", overall)
	}
	return nil
}
