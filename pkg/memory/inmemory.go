// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides embedding and vector index backends used by discovery.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound indicates no matching collection was found.
var ErrNotFound = errors.New("memory: not found")

// InMemoryStore is a brute-force VectorStore kept in process.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	size   uint64
	order  []string
	points map[string]Point
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{collections: make(map[string]*collection)}
}

// CreateCollection creates name when missing. Existing collections are kept.
func (s *InMemoryStore) CreateCollection(_ context.Context, name string, vectorSize uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil
	}
	s.collections[name] = &collection{size: vectorSize, points: make(map[string]Point)}
	return nil
}

// Upsert stores points, replacing any with the same id.
func (s *InMemoryStore) Upsert(_ context.Context, name string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("collection %q: %w", name, ErrNotFound)
	}
	for _, p := range points {
		if c.size > 0 && uint64(len(p.Vector)) != c.size {
			return fmt.Errorf("point %q has %d dimensions, collection %q expects %d", p.ID, len(p.Vector), name, c.size)
		}
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		c.points[p.ID] = p
	}
	return nil
}

// Search ranks points by cosine similarity. Ties keep insertion order.
func (s *InMemoryStore) Search(_ context.Context, name string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", name, ErrNotFound)
	}
	out := make([]SearchResult, 0, len(c.order))
	for _, id := range c.order {
		p := c.points[id]
		score := float32(Cosine(vector, p.Vector))
		if score < scoreThreshold {
			continue
		}
		out = append(out, SearchResult{ID: id, Score: score, Point: p})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
