// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/memory"
)

// SemanticScorer returns the cosine similarity between query and the
// description of each candidate, in candidate order.
type SemanticScorer interface {
	Similarities(ctx context.Context, query string, candidates []core.Capability) ([]float64, error)
}

const (
	DefaultCacheTTL        = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
)

// EmbeddingScorer embeds the query and every description, caching vectors
// by capability id and description hash.
type EmbeddingScorer struct {
	embedder memory.Embedder
	cache    *gocache.Cache
}

// NewEmbeddingScorer creates a scorer whose cached vectors expire after ttl
// (DefaultCacheTTL when ttl <= 0).
func NewEmbeddingScorer(embedder memory.Embedder, ttl time.Duration) *EmbeddingScorer {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &EmbeddingScorer{
		embedder: embedder,
		cache:    gocache.New(ttl, DefaultCleanupInterval),
	}
}

// Similarities implements SemanticScorer.
func (s *EmbeddingScorer) Similarities(ctx context.Context, query string, candidates []core.Capability) ([]float64, error) {
	qv, err := s.vector(ctx, "q:"+hashText(query), query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		dv, err := s.vector(ctx, descriptionKey(c), c.Description)
		if err != nil {
			return nil, fmt.Errorf("embed %q: %w", c.ID, err)
		}
		out[i] = memory.Cosine(qv, dv)
	}
	return out, nil
}

// CachedItems returns the number of cached vectors.
func (s *EmbeddingScorer) CachedItems() int {
	return s.cache.ItemCount()
}

func (s *EmbeddingScorer) vector(ctx context.Context, key, text string) ([]float32, error) {
	if cached, found := s.cache.Get(key); found {
		if vec, ok := cached.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(key, vec)
	return vec, nil
}

// IndexScorer keeps description vectors in a memory.VectorStore (in-memory
// or Qdrant) and reads similarities from a vector search.
type IndexScorer struct {
	embedder   memory.Embedder
	store      memory.VectorStore
	collection string

	mu      sync.Mutex
	ready   bool
	indexed map[string]string
}

// NewIndexScorer creates a scorer backed by store. The collection is created
// on first use with the dimension of the first embedding.
func NewIndexScorer(embedder memory.Embedder, store memory.VectorStore, collection string) *IndexScorer {
	if collection == "" {
		collection = "skillchain_capabilities"
	}
	return &IndexScorer{
		embedder:   embedder,
		store:      store,
		collection: collection,
		indexed:    make(map[string]string),
	}
}

// Similarities implements SemanticScorer.
func (s *IndexScorer) Similarities(ctx context.Context, query string, candidates []core.Capability) ([]float64, error) {
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	size, err := s.index(ctx, uint64(len(qv)), candidates)
	if err != nil {
		return nil, err
	}
	results, err := s.store.Search(ctx, s.collection, qv, size, -1)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	scores := make(map[string]float64, len(results))
	for _, r := range results {
		scores[r.ID] = float64(r.Score)
	}
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = scores[c.ID]
	}
	return out, nil
}

// index upserts stale descriptions and returns the number of indexed points.
func (s *IndexScorer) index(ctx context.Context, dims uint64, candidates []core.Capability) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		if err := s.store.CreateCollection(ctx, s.collection, dims); err != nil {
			return 0, fmt.Errorf("create collection: %w", err)
		}
		s.ready = true
	}
	var points []memory.Point
	for _, c := range candidates {
		h := hashText(c.Description)
		if s.indexed[c.ID] == h {
			continue
		}
		vec, err := s.embedder.Embed(ctx, c.Description)
		if err != nil {
			return 0, fmt.Errorf("embed %q: %w", c.ID, err)
		}
		points = append(points, memory.Point{
			ID:        c.ID,
			Vector:    vec,
			Payload:   map[string]interface{}{"name": c.Name, "category": c.Metadata.Category},
			Timestamp: time.Now().Unix(),
		})
		s.indexed[c.ID] = h
	}
	if len(points) == 0 {
		return len(s.indexed), nil
	}
	if err := s.store.Upsert(ctx, s.collection, points); err != nil {
		for _, p := range points {
			delete(s.indexed, p.ID)
		}
		return 0, fmt.Errorf("index capabilities: %w", err)
	}
	return len(s.indexed), nil
}

func descriptionKey(c core.Capability) string {
	return "d:" + c.ID + ":" + hashText(c.Description)
}

func hashText(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%016x", h.Sum64())
}
