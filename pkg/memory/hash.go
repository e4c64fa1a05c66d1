// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions is the vector size of NewHashEmbedder.
const DefaultDimensions = 256

// StopWords are ignored by Keywords and the hashing embedder. Besides common
// English words it holds the filler words of composer queries.
var StopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "in": true,
	"into": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "this": true, "to": true, "was": true,
	"with": true, "then": true, "than": true, "some": true, "any": true, "all": true,
	"each": true, "i": true, "we": true, "you": true, "me": true, "my": true,
	"our": true, "your": true, "please": true, "can": true, "will": true,
	"should": true, "would": true, "do": true, "does": true,
	"capability": true, "capabilities": true, "accepting": true,
}

// Tokenize lower-cases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Keywords returns the tokens of text that are not stop words.
func Keywords(text string) []string {
	tokens := Tokenize(text)
	out := tokens[:0]
	for _, t := range tokens {
		if !StopWords[t] {
			out = append(out, t)
		}
	}
	return out
}

// HashEmbedder is a deterministic bag-of-words embedder: every keyword is
// hashed with FNV-1a into one of Dims buckets and the vector is L2-normalised.
// It needs no model and is the offline default.
type HashEmbedder struct {
	Dims int
}

// NewHashEmbedder creates an embedder with dims buckets (DefaultDimensions when dims <= 0).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{Dims: dims}
}

// Embed implements Embedder.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dims := e.Dims
	if dims <= 0 {
		dims = DefaultDimensions
	}
	vec := make([]float32, dims)
	for _, word := range Keywords(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(dims)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
