// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"slices"
	"sync"

	"github.com/jllopis/skillchain/pkg/errors"
)

// FallbackRegistry keeps, per primary capability, the ordered list of
// capabilities to substitute when the primary still fails after retries.
type FallbackRegistry struct {
	mu        sync.RWMutex
	fallbacks map[string][]string
}

// NewFallbackRegistry creates an empty registry.
func NewFallbackRegistry() *FallbackRegistry {
	return &FallbackRegistry{fallbacks: make(map[string][]string)}
}

// RegisterFallback appends fallback to primary's list. A capability cannot
// fall back to itself and a fallback is listed at most once per primary.
func (r *FallbackRegistry) RegisterFallback(primary, fallback string) error {
	switch {
	case primary == "" || fallback == "":
		return errors.New(errors.CodeInvalidInput, "fallback registration needs both capability ids", nil)
	case primary == fallback:
		return errors.Newf(errors.CodeInvalidInput, "capability %q cannot be its own fallback", primary)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.fallbacks[primary], fallback) {
		return errors.Newf(errors.CodeDuplicateCapability, "fallback %q already registered for %q", fallback, primary).
			WithContext("primary", primary)
	}
	r.fallbacks[primary] = append(r.fallbacks[primary], fallback)
	return nil
}

// RegisterAll registers every primary -> fallbacks entry of m, stopping at
// the first error. Primaries are processed in sorted order.
func (r *FallbackRegistry) RegisterAll(m map[string][]string) error {
	primaries := make([]string, 0, len(m))
	for p := range m {
		primaries = append(primaries, p)
	}
	slices.Sort(primaries)
	for _, p := range primaries {
		for _, fb := range m[p] {
			if err := r.RegisterFallback(p, fb); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fallbacks returns a copy of primary's fallbacks in registration order.
// A nil registry has none.
func (r *FallbackRegistry) Fallbacks(primary string) []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.fallbacks[primary])
}

// Clear removes every fallback registered for primary.
func (r *FallbackRegistry) Clear(primary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fallbacks, primary)
}
