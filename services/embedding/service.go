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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel/codes"
)

// ServiceEmbedder posts text to a standalone embedding service.
//
// Wire contract: POST {"text": "..."} to EMBEDDING_SERVICE_URL, the
// service answers {"embedding": [...]}.
type ServiceEmbedder struct {
	httpClient *http.Client
	url        string
}

type serviceRequest struct {
	Text string `json:"text"`
}

type serviceResponse struct {
	Embedding []float32 `json:"embedding"`
}

func NewServiceEmbedder() (*ServiceEmbedder, error) {
	url := os.Getenv("EMBEDDING_SERVICE_URL")
	if url == "" {
		return nil, fmt.Errorf("EMBEDDING_SERVICE_URL environment variable not set")
	}
	return &ServiceEmbedder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
	}, nil
}

// Embed implements the Embedder interface.
func (e *ServiceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "ServiceEmbedder.Embed")
	defer span.End()

	reqBody, err := json.Marshal(serviceRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to setup embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to reach the embedding service: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var body serviceResponse
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return nil, fmt.Errorf("failed to parse the embedding service response: %w", err)
	}
	if len(body.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	return body.Embedding, nil
}

var _ Embedder = (*ServiceEmbedder)(nil)
