// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry keeps the in-memory catalogue of capabilities.
//
// The registry is safe for concurrent use: lookups take a read lock and
// registrations are serialized. Every listing follows registration order.
package registry

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/errors"
)

// Registry stores capability descriptors by id.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]core.Capability
	order   []string
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registration events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]core.Capability),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a capability. The registry keeps its own copy.
func (r *Registry) Register(c core.Capability) error {
	c.ID = strings.TrimSpace(c.ID)
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Name == "" {
		c.Name = c.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[c.ID]; exists {
		return errors.Newf(errors.CodeDuplicateCapability, "capability %q already registered", c.ID).
			WithContext("capability", c.ID)
	}
	r.entries[c.ID] = c.Clone()
	r.order = append(r.order, c.ID)
	r.logger.Debug("capability registered",
		slog.String("capability", c.ID),
		slog.String("category", c.Metadata.Category),
		slog.Int("dependencies", len(c.Dependencies)),
	)
	return nil
}

// RegisterAll registers capabilities in order and stops at the first failure.
func (r *Registry) RegisterAll(caps ...core.Capability) error {
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Deregister removes a capability.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return notFound(id)
	}
	delete(r.entries, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Debug("capability deregistered", slog.String("capability", id))
	return nil
}

// Get returns a copy of the capability registered under id.
func (r *Registry) Get(id string) (core.Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[id]
	if !ok {
		return core.Capability{}, notFound(id)
	}
	return c.Clone(), nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IDs returns registered ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// List returns every capability in registration order.
func (r *Registry) List() []core.Capability {
	return r.filter(func(core.Capability) bool { return true })
}

// FindByCapabilityTag returns capabilities declaring tag (case-insensitive).
func (r *Registry) FindByCapabilityTag(tag string) []core.Capability {
	return r.filter(func(c core.Capability) bool { return c.HasTag(tag) })
}

// FindByCategory returns capabilities in category (case-insensitive).
func (r *Registry) FindByCategory(category string) []core.Capability {
	category = strings.TrimSpace(category)
	return r.filter(func(c core.Capability) bool {
		return strings.EqualFold(c.Metadata.Category, category)
	})
}

// Search matches query as a case-insensitive substring of the name,
// description or any declared tag. An empty query matches everything.
func (r *Registry) Search(query string) []core.Capability {
	q := strings.ToLower(strings.TrimSpace(query))
	return r.filter(func(c core.Capability) bool {
		if q == "" {
			return true
		}
		if strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(strings.ToLower(c.Description), q) {
			return true
		}
		for _, tag := range c.Capabilities {
			if strings.Contains(strings.ToLower(tag), q) {
				return true
			}
		}
		return false
	})
}

func (r *Registry) filter(keep func(core.Capability) bool) []core.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Capability, 0, len(r.order))
	for _, id := range r.order {
		c := r.entries[id]
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	return out
}

func notFound(id string) *errors.Error {
	return errors.Newf(errors.CodeCapabilityNotFound, "capability %q not found", id).
		WithContext("capability", id)
}
