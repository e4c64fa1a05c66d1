// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/memory"
)

type countingEmbedder struct {
	inner memory.Embedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func TestEmbeddingScorerCachesVectors(t *testing.T) {
	emb := &countingEmbedder{inner: memory.NewHashEmbedder(0)}
	s := NewEmbeddingScorer(emb, time.Minute)
	caps := []core.Capability(sampleCapabilities())

	first, err := s.Similarities(context.Background(), "fetch data", caps)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.EqualValues(t, 4, emb.calls.Load())
	assert.Equal(t, 4, s.CachedItems())

	second, err := s.Similarities(context.Background(), "fetch data", caps)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 4, emb.calls.Load())

	caps[0].Description = "Download files over HTTP"
	_, err = s.Similarities(context.Background(), "fetch data", caps)
	require.NoError(t, err)
	assert.EqualValues(t, 5, emb.calls.Load(), "changed description is re-embedded")
}

func TestIndexScorerMatchesEmbeddingScorer(t *testing.T) {
	emb := &countingEmbedder{inner: memory.NewHashEmbedder(0)}
	store := memory.NewInMemoryStore()
	idx := NewIndexScorer(emb, store, "")
	caps := []core.Capability(sampleCapabilities())

	want, err := NewEmbeddingScorer(memory.NewHashEmbedder(0), 0).Similarities(context.Background(), "transform data records", caps)
	require.NoError(t, err)

	got, err := idx.Similarities(context.Background(), "transform data records", caps)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-5, caps[i].ID)
	}
	assert.EqualValues(t, 4, emb.calls.Load())

	_, err = idx.Similarities(context.Background(), "transform data records", caps)
	require.NoError(t, err)
	assert.EqualValues(t, 5, emb.calls.Load(), "only the query is embedded once indexed")
}
