// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jllopis/skillchain/pkg/chain"
	"github.com/jllopis/skillchain/pkg/compat"
	"github.com/jllopis/skillchain/pkg/config"
	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/dependency"
	"github.com/jllopis/skillchain/pkg/discovery"
	"github.com/jllopis/skillchain/pkg/errors"
	skmcp "github.com/jllopis/skillchain/pkg/mcp"
	"github.com/jllopis/skillchain/pkg/memory"
	"github.com/jllopis/skillchain/pkg/memory/ollama"
	"github.com/jllopis/skillchain/pkg/memory/qdrant"
	"github.com/jllopis/skillchain/pkg/planner"
	"github.com/jllopis/skillchain/pkg/registry"
	"github.com/jllopis/skillchain/pkg/resilience"
	"github.com/jllopis/skillchain/pkg/skills"
	"github.com/jllopis/skillchain/pkg/telemetry"
)

// app holds every component built from configuration.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	registry   *registry.Registry
	skills     []skills.SkillSpec
	resolver   *dependency.Resolver
	discoverer *discovery.Discoverer
	analyzer   *compat.Analyzer
	composer   *chain.Composer
	runner     *resilience.Runner
	audit      planner.AuditStore
	mcp        *skmcp.Client
	embedder   memory.Embedder

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	a.logger = telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, version, telemetry.Config{
		Exporter:           cfg.Telemetry.Exporter,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
		OTLPHeaders:        cfg.Telemetry.OTLPHeaders,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if a.metrics, err = telemetry.NewMetrics(ctx); err != nil {
		a.logger.Warn("metrics disabled", slog.String("error", err.Error()))
	}

	if err := a.loadRegistry(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.buildDiscovery(); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.buildRunner(); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) loadRegistry(ctx context.Context) error {
	a.registry = registry.New(registry.WithLogger(telemetry.Component(a.logger, "registry")))

	if dir := a.cfg.Skills.Dir; dir != "" {
		specs, err := skills.LoadDir(dir)
		if err != nil {
			return fmt.Errorf("load skills from %s: %w", dir, err)
		}
		n, err := skills.RegisterSpecs(a.registry, specs)
		if err != nil {
			return fmt.Errorf("load skills from %s: %w", dir, err)
		}
		a.skills = specs
		a.logger.Debug("skills loaded", slog.String("dir", dir), slog.Int("count", n))
	}
	if path := a.cfg.Skills.Manifest; path != "" {
		if _, err := skills.RegisterManifest(a.registry, path); err != nil {
			return fmt.Errorf("load manifest: %w", err)
		}
	}

	if !a.cfg.MCP.Enabled() {
		return nil
	}
	client, err := newMCPClient(a.cfg.MCP)
	if err != nil {
		return errors.New(errors.CodeToolExecution, "connect to MCP server", err).WithRecoverable(true)
	}
	a.mcp = client
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	if a.cfg.MCP.ImportTools {
		n, err := skmcp.ImportTools(ctx, client, missingOnly{a.registry})
		if err != nil {
			return fmt.Errorf("import MCP tools: %w", err)
		}
		a.logger.Debug("mcp tools imported", slog.Int("count", n))
	}
	return nil
}

// missingOnly skips capabilities that are already registered so local
// descriptors win over imported tool schemas.
type missingOnly struct{ reg *registry.Registry }

func (m missingOnly) Register(c core.Capability) error {
	if m.reg.Has(c.ID) {
		return nil
	}
	return m.reg.Register(c)
}

func newMCPClient(cfg config.MCPConfig) (*skmcp.Client, error) {
	opts := []skmcp.ClientOption{
		skmcp.WithServerName("skillchain"),
		skmcp.WithTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second),
		skmcp.WithRetry(cfg.RetryCount, time.Duration(cfg.RetryBackoffMs)*time.Millisecond),
		skmcp.WithToolCacheTTL(time.Duration(cfg.CacheTTLSeconds) * time.Second),
	}
	switch strings.ToLower(cfg.Transport) {
	case "http", "streamable-http", "streamable_http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp.url is required for http transport")
		}
		return skmcp.NewClientWithStreamableHTTPProtocol(cfg.URL, cfg.ProtocolVersion, opts...)
	case "", "stdio":
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcp.command is required for stdio transport")
		}
		return skmcp.NewClientWithStdioProtocol(cfg.Command, cfg.Args, cfg.ProtocolVersion, opts...)
	default:
		return nil, fmt.Errorf("unknown mcp transport %q", cfg.Transport)
	}
}

func (a *app) buildDiscovery() error {
	embedder, err := newEmbedder(a.cfg.Embedder)
	if err != nil {
		return err
	}
	a.embedder = embedder

	w := discovery.Weights{
		Semantic: a.cfg.Discovery.SemanticWeight,
		Keyword:  a.cfg.Discovery.KeywordWeight,
		Tag:      a.cfg.Discovery.TagWeight,
	}
	opts := []discovery.Option{
		discovery.WithWeights(w),
		discovery.WithThreshold(a.cfg.Discovery.Threshold),
		discovery.WithLogger(telemetry.Component(a.logger, "discovery")),
	}
	if embedder != nil {
		scorer, err := a.newScorer(embedder)
		if err != nil {
			return err
		}
		opts = append(opts, discovery.WithScorer(scorer))
	}
	a.discoverer = discovery.New(a.registry, opts...)
	a.resolver = dependency.NewResolver(a.registry)

	var policy compat.ResourcePolicy = compat.NoResourceConflicts{}
	if a.cfg.Compose.ExclusiveResources {
		policy = compat.ExclusiveResources{}
	}
	a.analyzer = compat.NewAnalyzer(a.registry,
		compat.WithResourcePolicy(policy),
		compat.WithLogger(telemetry.Component(a.logger, "compat")))
	a.composer = chain.NewComposer(a.discoverer, a.registry,
		chain.WithAnalyzer(a.analyzer),
		chain.WithComposerLogger(telemetry.Component(a.logger, "composer")))
	return nil
}

func newEmbedder(cfg config.EmbedderConfig) (memory.Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "hash":
		return memory.NewHashEmbedder(cfg.Dimensions), nil
	case "ollama":
		return ollama.NewEmbedder(cfg.BaseURL, cfg.Model,
			ollama.WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second)), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
}

func (a *app) newScorer(embedder memory.Embedder) (discovery.SemanticScorer, error) {
	if !a.cfg.Discovery.UseIndex {
		ttl := time.Duration(a.cfg.Discovery.CacheTTLSeconds) * time.Second
		return discovery.NewEmbeddingScorer(embedder, ttl), nil
	}
	var store memory.VectorStore
	switch strings.ToLower(a.cfg.Vector.Provider) {
	case "", "memory":
		store = memory.NewInMemoryStore()
	case "qdrant":
		q, err := qdrant.New(a.cfg.Vector.QdrantAddr)
		if err != nil {
			return nil, fmt.Errorf("connect to qdrant: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return q.Close() })
		store = q
	default:
		return nil, fmt.Errorf("unknown vector provider %q", a.cfg.Vector.Provider)
	}
	return discovery.NewIndexScorer(embedder, store, a.cfg.Vector.Collection), nil
}

func (a *app) buildRunner() error {
	ex := a.cfg.Executor
	retry := resilience.DefaultRetryConfig().
		WithMaxAttempts(ex.MaxAttempts).
		WithBackoffBase(ex.Backoff()).
		WithAttemptTimeout(ex.AttemptTimeout())
	if ex.MaxDelayMs > 0 {
		retry.MaxDelay = ex.MaxDelay()
	}

	fallbacks := resilience.NewFallbackRegistry()
	if err := fallbacks.RegisterAll(ex.Fallbacks); err != nil {
		return err
	}

	opts := []resilience.Option{
		resilience.WithRetry(retry),
		resilience.WithFallbacks(fallbacks),
		resilience.WithLogger(telemetry.Component(a.logger, "resilience")),
		resilience.WithMetrics(a.metrics),
	}
	if cb := ex.CircuitBreaker; cb.Enabled {
		opts = append(opts, resilience.WithCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: cb.SuccessThreshold,
			Timeout:          time.Duration(cb.TimeoutSeconds) * time.Second,
		}))
	}
	a.runner = resilience.NewRunner(a.invoker(), opts...)

	if a.cfg.Audit.Enabled {
		switch strings.ToLower(a.cfg.Audit.Driver) {
		case "sqlite":
			store, err := planner.OpenSQLiteAuditStore(a.cfg.Audit.DSN)
			if err != nil {
				return fmt.Errorf("open audit store: %w", err)
			}
			a.closers = append(a.closers, func(context.Context) error { return store.Close() })
			a.audit = store
		case "", "memory":
			a.audit = planner.NewMemoryAuditStore()
		default:
			return fmt.Errorf("unknown audit driver %q", a.cfg.Audit.Driver)
		}
	}
	return nil
}

// invoker routes capabilities to the MCP server when one is configured and
// to the echo invoker otherwise.
func (a *app) invoker() core.Invoker {
	if a.mcp == nil {
		return echoInvoker{lookup: a.registry}
	}
	inv := skmcp.NewInvoker(a.mcp)
	for capID, tool := range a.cfg.MCP.Tools {
		inv.MapTool(capID, tool)
	}
	return inv
}

func (a *app) planExecutor(policy core.FailurePolicy) *planner.Executor {
	opts := []planner.Option{
		planner.WithLookup(a.registry),
		planner.WithMaxParallel(a.cfg.Executor.MaxParallel),
		planner.WithLogger(telemetry.Component(a.logger, "planner")),
		planner.WithMetrics(a.metrics),
	}
	if a.audit != nil {
		opts = append(opts, planner.WithAuditStore(a.audit))
	}
	return resilience.NewPlanExecutor(a.runner, policy, opts...)
}

func (a *app) chainExecutor(policy core.FailurePolicy) *chain.Executor {
	return resilience.NewChainExecutor(a.runner, policy,
		chain.WithLookup(a.registry),
		chain.WithLogger(telemetry.Component(a.logger, "chain")),
		chain.WithMetrics(a.metrics))
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

// echoInvoker answers every registered capability without side effects:
// each declared output takes the input of the same name, the single input
// when there is only one, or a placeholder string. It makes dry runs of
// plans and chains possible without an MCP server.
type echoInvoker struct {
	lookup core.Lookup
}

func (e echoInvoker) Invoke(_ context.Context, capabilityID string, inputs core.Values) (core.Values, error) {
	c, err := e.lookup.Get(capabilityID)
	if err != nil {
		return nil, err
	}
	out := make(core.Values, len(c.Outputs))
	for _, p := range c.Outputs {
		switch v, ok := inputs[p.Name]; {
		case ok:
			out[p.Name] = v
		case len(inputs) == 1:
			for _, only := range inputs {
				out[p.Name] = only
			}
		default:
			out[p.Name] = core.String(capabilityID + "." + p.Name)
		}
	}
	return out, nil
}

// health registers a checker for every collaborator that was configured.
func (a *app) health() *core.HealthRegistry {
	timeout := time.Duration(a.cfg.MCP.TimeoutSeconds) * time.Second
	h := core.NewHealthRegistry(0, timeout)
	h.Register("registry", core.HealthCheckFunc(func(context.Context) core.HealthResult {
		n := len(a.registry.List())
		if n == 0 {
			return core.HealthResult{Status: core.HealthDegraded, Message: "no capabilities registered"}
		}
		return core.HealthResult{Status: core.HealthHealthy, Message: fmt.Sprintf("%d capabilities", n)}
	}))
	if a.mcp != nil {
		h.Register("mcp", core.ErrorCheck(core.HealthUnhealthy, func(ctx context.Context) error {
			_, err := a.mcp.ListTools(ctx)
			return err
		}))
	}
	if a.embedder != nil {
		h.Register("embedder", core.ErrorCheck(core.HealthDegraded, func(ctx context.Context) error {
			_, err := a.embedder.Embed(ctx, "health")
			return err
		}))
	}
	if a.audit != nil {
		h.Register("audit", core.ErrorCheck(core.HealthUnhealthy, func(ctx context.Context) error {
			_, err := a.audit.List(ctx, planner.AuditFilter{Limit: 1})
			return err
		}))
	}
	return h
}
