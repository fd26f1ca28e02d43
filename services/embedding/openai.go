// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.embedding")

// OpenAIEmbedder calls the embeddings endpoint of an OpenAI-compatible
// API. Model is taken from EMBEDDING_MODEL (default text-embedding-3-small).
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewOpenAIEmbedder() (*OpenAIEmbedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	model := openai.EmbeddingModel(os.Getenv("EMBEDDING_MODEL"))
	if model == "" {
		model = openai.SmallEmbedding3
		slog.Warn("EMBEDDING_MODEL not set, defaulting to text-embedding-3-small")
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Embed implements the Embedder interface.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "OpenAIEmbedder.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("embedding.model", string(e.model)))

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embeddings API call failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embeddings API returned no data")
	}
	return resp.Data[0].Embedding, nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
