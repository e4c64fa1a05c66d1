// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health state of a collaborator such as an
// MCP server, an embedder or the audit store.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult represents the result of a health check.
type HealthResult struct {
	Status    HealthStatus  `json:"status"`
	Component string        `json:"component"`
	Message   string        `json:"message,omitempty"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency"`
	Error     error         `json:"-"`
}

// HealthChecker checks the health of a component.
type HealthChecker interface {
	Check(ctx context.Context) HealthResult
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) HealthResult

// Check implements HealthChecker.
func (f HealthCheckFunc) Check(ctx context.Context) HealthResult { return f(ctx) }

// ErrorCheck builds a checker from a probe: nil is healthy, an error is
// reported with the given status.
func ErrorCheck(onError HealthStatus, probe func(ctx context.Context) error) HealthChecker {
	return HealthCheckFunc(func(ctx context.Context) HealthResult {
		if err := probe(ctx); err != nil {
			return HealthResult{Status: onError, Message: err.Error(), Error: err}
		}
		return HealthResult{Status: HealthHealthy}
	})
}

// HealthRegistry runs named checkers. Results are cached for the TTL.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	cache    map[string]HealthResult
	cacheTTL time.Duration
	timeout  time.Duration
}

// NewHealthRegistry creates a registry. A zero cacheTTL disables caching;
// a zero timeout leaves checks bounded only by the caller's context.
func NewHealthRegistry(cacheTTL, timeout time.Duration) *HealthRegistry {
	return &HealthRegistry{
		checkers: make(map[string]HealthChecker),
		cache:    make(map[string]HealthResult),
		cacheTTL: cacheTTL,
		timeout:  timeout,
	}
}

// Register adds or replaces the checker for name.
func (r *HealthRegistry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
	delete(r.cache, name)
}

// Check runs the checker registered as name.
func (r *HealthRegistry) Check(ctx context.Context, name string) (HealthResult, error) {
	r.mu.RLock()
	checker, ok := r.checkers[name]
	cached, hit := r.cache[name]
	r.mu.RUnlock()
	if !ok {
		return HealthResult{}, fmt.Errorf("checker not registered: %s", name)
	}
	if hit && r.cacheTTL > 0 && time.Since(cached.LastCheck) < r.cacheTTL {
		return cached, nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	res := checker.Check(ctx)
	res.Component = name
	res.Latency = time.Since(start)
	if res.LastCheck.IsZero() {
		res.LastCheck = time.Now()
	}
	if res.Status == "" {
		res.Status = HealthHealthy
	}

	r.mu.Lock()
	r.cache[name] = res
	r.mu.Unlock()
	return res, nil
}

// CheckAll runs every checker in name order. The overall status is the
// worst individual status.
func (r *HealthRegistry) CheckAll(ctx context.Context) ([]HealthResult, HealthStatus) {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	overall := HealthHealthy
	results := make([]HealthResult, 0, len(names))
	for _, name := range names {
		res, err := r.Check(ctx, name)
		if err != nil {
			continue
		}
		results = append(results, res)
		switch {
		case res.Status == HealthUnhealthy:
			overall = HealthUnhealthy
		case res.Status == HealthDegraded && overall == HealthHealthy:
			overall = HealthDegraded
		}
	}
	return results, overall
}
