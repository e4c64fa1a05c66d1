// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery ranks registered capabilities against a natural-language
// task description.
//
// Relevance blends three signals: semantic similarity between embeddings of
// the query and the capability description, keyword overlap (Jaccard over
// stop-word-filtered words) and the fraction of declared capability tags that
// appear in the query. The ranking is a heuristic: it is deterministic for a
// fixed registry, embedder and query but makes no claim of finding the best
// capability.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/memory"
	"github.com/jllopis/skillchain/pkg/telemetry"
)

// DefaultThreshold is the minimum relevance returned by Discover.
const DefaultThreshold = 0.5

// Match is a scored capability.
type Match struct {
	Capability core.Capability `json:"capability"`
	Relevance  float64         `json:"relevance"`
	Confidence float64         `json:"confidence"`
	Reasons    []string        `json:"reasons"`
}

// Weights blends the three relevance signals.
type Weights struct {
	Semantic float64 `json:"semantic"`
	Keyword  float64 `json:"keyword"`
	Tag      float64 `json:"tag"`
}

// DefaultWeights returns 0.4 semantic, 0.3 keyword, 0.3 tag.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.4, Keyword: 0.3, Tag: 0.3}
}

// Source lists candidate capabilities. *registry.Registry implements it.
type Source interface {
	List() []core.Capability
}

// Discoverer scores capabilities from a Source.
type Discoverer struct {
	source    Source
	scorer    SemanticScorer
	weights   Weights
	threshold float64
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithEmbedder uses an EmbeddingScorer over e with the default cache TTL.
func WithEmbedder(e memory.Embedder) Option {
	return func(d *Discoverer) {
		if e != nil {
			d.scorer = NewEmbeddingScorer(e, DefaultCacheTTL)
		}
	}
}

// WithScorer sets the semantic scorer.
func WithScorer(s SemanticScorer) Option {
	return func(d *Discoverer) { d.scorer = s }
}

// WithWeights overrides the signal weights.
func WithWeights(w Weights) Option {
	return func(d *Discoverer) { d.weights = w }
}

// WithThreshold overrides the relevance cut-off.
func WithThreshold(t float64) Option {
	return func(d *Discoverer) { d.threshold = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Discoverer) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Discoverer over source.
func New(source Source, opts ...Option) *Discoverer {
	d := &Discoverer{
		source:    source,
		weights:   DefaultWeights(),
		threshold: DefaultThreshold,
		logger:    slog.Default(),
		tracer:    otel.Tracer("skillchain/discovery"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Threshold returns the configured relevance cut-off.
func (d *Discoverer) Threshold() float64 { return d.threshold }

// Discover returns matches at or above the threshold, sorted by relevance
// descending. Ties keep registration order.
func (d *Discoverer) Discover(ctx context.Context, query string) ([]Match, error) {
	all, err := d.Rank(ctx, query)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, m := range all {
		if m.Relevance >= d.threshold {
			out = append(out, m)
		}
	}
	return out, nil
}

// DiscoverTop returns at most n matches from Discover.
func (d *Discoverer) DiscoverTop(ctx context.Context, query string, n int) ([]Match, error) {
	matches, err := d.Discover(ctx, query)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

// Rank scores every capability without applying the threshold.
func (d *Discoverer) Rank(ctx context.Context, query string) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, span := d.tracer.Start(ctx, "Discovery.Discover")
	defer span.End()

	candidates := d.source.List()
	semantic, semReason := d.semantic(ctx, query, candidates)

	queryWords := wordSet(memory.Keywords(query))
	lowerQuery := strings.ToLower(query)
	matches := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		matches = append(matches, d.score(c, semantic, i, semReason, queryWords, lowerQuery))
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Relevance > matches[j].Relevance
	})

	above := 0
	for _, m := range matches {
		if m.Relevance >= d.threshold {
			above++
		}
	}
	span.SetAttributes(telemetry.DiscoveryAttributes(query, len(candidates), above)...)
	span.SetStatus(codes.Ok, "")
	d.logger.DebugContext(ctx, "discovery ranked capabilities",
		slog.String("query", telemetry.Truncate(query, 120)),
		slog.Int("candidates", len(candidates)),
		slog.Int("matches", above),
	)
	return matches, nil
}

func (d *Discoverer) semantic(ctx context.Context, query string, candidates []core.Capability) ([]float64, string) {
	if d.scorer == nil {
		return nil, "semantic similarity unavailable: no embedder configured"
	}
	scores, err := d.scorer.Similarities(ctx, query, candidates)
	if err != nil {
		d.logger.WarnContext(ctx, "semantic scoring failed", slog.String("error", err.Error()))
		return nil, "semantic similarity unavailable: " + err.Error()
	}
	return scores, ""
}

func (d *Discoverer) score(c core.Capability, semantic []float64, idx int, semReason string, queryWords map[string]bool, lowerQuery string) Match {
	var reasons []string
	signals := 0

	sem := 0.0
	if semantic != nil && idx < len(semantic) {
		sem = clamp(semantic[idx])
		if sem > 0 {
			signals++
			reasons = append(reasons, fmt.Sprintf("semantic similarity %.2f", sem))
		}
	} else if semReason != "" {
		reasons = append(reasons, semReason)
	}

	kw, shared := jaccard(queryWords, wordSet(memory.Keywords(c.Description)))
	if kw > 0 {
		signals++
		reasons = append(reasons, fmt.Sprintf("keyword overlap %.2f (%s)", kw, strings.Join(shared, ", ")))
	}

	tag, matched := tagFraction(c.Capabilities, lowerQuery)
	if tag > 0 {
		signals++
		reasons = append(reasons, fmt.Sprintf("declared capabilities matched %d/%d (%s)",
			len(matched), len(c.Capabilities), strings.Join(matched, ", ")))
	}

	relevance := clamp(d.weights.Semantic*sem + d.weights.Keyword*kw + d.weights.Tag*tag)
	return Match{
		Capability: c,
		Relevance:  relevance,
		Confidence: float64(signals) / 3,
		Reasons:    reasons,
	}
}

func wordSet(words []string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}

// jaccard returns |a∩b| / |a∪b| and the shared words in sorted order.
func jaccard(a, b map[string]bool) (float64, []string) {
	if len(a) == 0 && len(b) == 0 {
		return 0, nil
	}
	var shared []string
	for w := range a {
		if b[w] {
			shared = append(shared, w)
		}
	}
	union := len(a) + len(b) - len(shared)
	sort.Strings(shared)
	return float64(len(shared)) / float64(union), shared
}

func tagFraction(tags []string, lowerQuery string) (float64, []string) {
	if len(tags) == 0 {
		return 0, nil
	}
	var matched []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && strings.Contains(lowerQuery, t) {
			matched = append(matched, t)
		}
	}
	return float64(len(matched)) / float64(len(tags)), matched
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
