// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package ollama embeds text through an Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the address of a local Ollama server.
const DefaultBaseURL = "http://localhost:11434"

// Embedder implements memory.Embedder using Ollama.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Embedder) {
		if c != nil {
			e.client = c
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Embedder) {
		if d > 0 {
			e.client.Timeout = d
		}
	}
}

// NewEmbedder creates a new Ollama Embedder.
func NewEmbedder(baseURL, model string, opts ...Option) *Embedder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	e := &Embedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed converts a text string into a vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding api call failed: %w", err)
	}
	defer resp.Body.Close()

	var embResp embeddingResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&embResp)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && embResp.Error != "" {
			return nil, fmt.Errorf("ollama api returned status %d: %s", resp.StatusCode, embResp.Error)
		}
		return nil, fmt.Errorf("ollama api returned status: %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", decodeErr)
	}
	if len(embResp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding for model %q", e.model)
	}

	vec := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
