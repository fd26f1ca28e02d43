// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding computes text embeddings for semantic retrieval.
//
// Three backends are available, selected by EMBEDDING_BACKEND:
//
//   - "openai": embeddings API of an OpenAI-compatible endpoint
//   - "http":   a standalone embedding service (EMBEDDING_SERVICE_URL)
//   - "hash":   deterministic local vectors, for tests and offline use
//
// Similarity is cosine over the raw vectors; retrieval layers are
// agnostic to the backend's dimensionality.
package embedding

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"golang.org/x/time/rate"
)

// Embedder computes a vector embedding for one text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cosine returns the cosine similarity of two vectors in [-1, 1].
// Mismatched lengths or zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RateLimited wraps an Embedder with a token-bucket limiter so bulk
// operations (corpus rebuilds, learner sweeps) cannot saturate the
// upstream API.
type RateLimited struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimited allows ratePerSec requests with the given burst.
func NewRateLimited(inner Embedder, ratePerSec float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

// Embed waits for limiter admission, then delegates.
func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}
	return r.inner.Embed(ctx, text)
}

// NewFromEnv constructs the backend selected by EMBEDDING_BACKEND.
// Defaults to "http" when EMBEDDING_SERVICE_URL is set, else "hash".
func NewFromEnv() (Embedder, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("EMBEDDING_BACKEND")))
	if backend == "" {
		if os.Getenv("EMBEDDING_SERVICE_URL") != "" {
			backend = "http"
		} else {
			backend = "hash"
		}
	}
	switch backend {
	case "openai":
		return NewOpenAIEmbedder()
	case "http":
		return NewServiceEmbedder()
	case "hash":
		return NewHashEmbedder(256), nil
	default:
		return nil, fmt.Errorf("unknown EMBEDDING_BACKEND %q (expected openai, http, or hash)", backend)
	}
}

var _ Embedder = (*RateLimited)(nil)
