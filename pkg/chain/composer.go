// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package chain

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/skillchain/pkg/compat"
	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/discovery"
	"github.com/jllopis/skillchain/pkg/errors"
	"github.com/jllopis/skillchain/pkg/telemetry"
)

// DefaultMaxLength bounds composed chains when the caller passes no limit.
const DefaultMaxLength = 5

// CompletePredicate reports whether a partial chain already satisfies the task.
type CompletePredicate func(c *Chain) bool

// Discoverer is the part of discovery the composer needs.
type Discoverer interface {
	Discover(ctx context.Context, query string) ([]discovery.Match, error)
}

// Composer greedily builds chains from discovery results. It never
// backtracks: once a capability is appended it stays.
type Composer struct {
	discoverer Discoverer
	lookup     core.Lookup
	analyzer   *compat.Analyzer
	complete   CompletePredicate
	logger     *slog.Logger
	tracer     trace.Tracer
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithAnalyzer replaces the default compatibility analyzer.
func WithAnalyzer(a *compat.Analyzer) ComposerOption {
	return func(c *Composer) {
		if a != nil {
			c.analyzer = a
		}
	}
}

// WithComplete stops composition as soon as p holds.
func WithComplete(p CompletePredicate) ComposerOption {
	return func(c *Composer) { c.complete = p }
}

// WithComposerLogger sets the logger.
func WithComposerLogger(l *slog.Logger) ComposerOption {
	return func(c *Composer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewComposer creates a composer. lookup is used to validate the result and
// by the default analyzer for dependency checks.
func NewComposer(d Discoverer, lookup core.Lookup, opts ...ComposerOption) *Composer {
	c := &Composer{
		discoverer: d,
		lookup:     lookup,
		analyzer:   compat.NewAnalyzer(lookup),
		logger:     slog.Default(),
		tracer:     otel.Tracer("skillchain/chain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OutputsType returns the predicate "the chain tail produces an output of
// type typ", a common completion check.
func OutputsType(lookup core.Lookup, typ string) CompletePredicate {
	return func(c *Chain) bool {
		tail, err := lookup.Get(c.Tail())
		if err != nil {
			return false
		}
		for _, out := range tail.Outputs {
			if strings.EqualFold(out.Type, typ) {
				return true
			}
		}
		return false
	}
}

// BuildChain composes a chain for task with at most maxLength capabilities
// (DefaultMaxLength when maxLength <= 0).
func (c *Composer) BuildChain(ctx context.Context, task string, maxLength int) (*Chain, error) {
	if strings.TrimSpace(task) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "task description is empty", nil)
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	ctx, span := c.tracer.Start(ctx, "Composer.BuildChain")
	defer span.End()

	chain, err := c.compose(ctx, task, maxLength)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(telemetry.ChainAttributes(chain.ID, chain.Len(), maxLength)...)
	span.SetStatus(codes.Ok, "")
	c.logger.InfoContext(ctx, "chain composed",
		slog.String("chain", chain.ID),
		slog.String("capabilities", strings.Join(chain.Capabilities, ",")),
		slog.Int("max_length", maxLength),
	)
	return chain, nil
}

func (c *Composer) compose(ctx context.Context, task string, maxLength int) (*Chain, error) {
	matches, err := c.discoverer.Discover(ctx, task)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, errors.Newf(errors.CodeCapabilityNotFound, "no capability matches task %q", task).
			WithContext("task", task)
	}

	first := matches[0].Capability
	chain := &Chain{Goal: task, Capabilities: []string{first.ID}}
	members := []core.Capability{first}

	for chain.Len() < maxLength {
		if c.complete != nil && c.complete(chain) {
			c.logger.DebugContext(ctx, "composition complete", slog.Int("length", chain.Len()))
			break
		}
		tail := members[len(members)-1]
		if len(tail.Outputs) == 0 {
			break
		}
		next, ok, err := c.nextCandidate(ctx, task, tail, chain)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		chain.Connections = append(chain.Connections, Connection{
			From: Endpoint{CapabilityID: tail.ID, Field: tail.Outputs[0].Name},
			To:   Endpoint{CapabilityID: next.ID, Field: next.Inputs[0].Name},
		})
		chain.Capabilities = append(chain.Capabilities, next.ID)
		members = append(members, next)
	}

	chain.ID = chainID(task, chain.Capabilities)
	chain.Inputs = first.RequiredInputs()
	chain.Outputs = append([]core.Parameter(nil), members[len(members)-1].Outputs...)
	if err := chain.Validate(c.lookup); err != nil {
		if errors.HasCode(err, errors.CodeInvalidPlan) {
			return nil, err
		}
		return nil, errors.New(errors.CodeInvalidPlan, "composed chain is invalid", err)
	}
	return chain, nil
}

// nextCandidate asks discovery for capabilities accepting the tail's first
// output and returns the top one not yet in the chain if it is compatible.
func (c *Composer) nextCandidate(ctx context.Context, task string, tail core.Capability, chain *Chain) (core.Capability, bool, error) {
	query := fmt.Sprintf("capabilities accepting %s: %s", outputType(tail.Outputs[0]), task)
	matches, err := c.discoverer.Discover(ctx, query)
	if err != nil {
		return core.Capability{}, false, err
	}
	var candidate *core.Capability
	for i := range matches {
		if !chain.Contains(matches[i].Capability.ID) {
			candidate = &matches[i].Capability
			break
		}
	}
	if candidate == nil {
		c.logger.DebugContext(ctx, "no further candidate", slog.String("query", query))
		return core.Capability{}, false, nil
	}
	if len(candidate.Inputs) == 0 {
		c.logger.DebugContext(ctx, "candidate takes no input", slog.String("candidate", candidate.ID))
		return core.Capability{}, false, nil
	}
	res := c.analyzer.Analyze(tail, *candidate)
	if !res.Compatible {
		c.logger.DebugContext(ctx, "candidate incompatible",
			slog.String("tail", tail.ID),
			slog.String("candidate", candidate.ID),
			slog.Any("issues", res.Issues),
		)
		return core.Capability{}, false, nil
	}
	return *candidate, true, nil
}

func outputType(p core.Parameter) string {
	if p.Type != "" {
		return p.Type
	}
	return p.Name
}

func chainID(task string, ids []string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(task))
	for _, id := range ids {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(id))
	}
	return fmt.Sprintf("chain-%08x", h.Sum32())
}
