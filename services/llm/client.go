// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the client abstraction over LLM backends.
//
// Two backends are supported: OpenAI-compatible HTTP APIs (including
// self-hosted gateways via OPENAI_BASE_URL) and Ollama. The backend is
// selected at startup by LLM_BACKEND_TYPE.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// GenerationParams are the optional sampling knobs passed per request.
// Nil fields use backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// ToolDefinition describes one callable tool advertised to the model.
// Parameters is a JSON Schema document.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Stream event types delivered to a StreamCallback.
type StreamEventType int

const (
	// StreamEventToken carries one chunk of assistant text.
	StreamEventToken StreamEventType = iota
	// StreamEventToolCalls carries the completed tool-call batch. It is
	// delivered at most once, after all fragments have been assembled.
	StreamEventToolCalls
	// StreamEventDone marks the end of a successful stream.
	StreamEventDone
	// StreamEventError carries a mid-stream failure.
	StreamEventError
)

// StreamEvent is one callback delivery during ChatStream.
type StreamEvent struct {
	Type      StreamEventType
	Token     string
	ToolCalls []ToolCall
	Err       error
}

// StreamCallback receives stream events in order. Returning a non-nil
// error aborts the stream; the error is propagated out of ChatStream.
type StreamCallback func(event StreamEvent) error

// ChatResult is the assembled outcome of one chat turn.
type ChatResult struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// LLMClient is the standard interface over LLM backends.
type LLMClient interface {
	// Generate runs a single-prompt completion. Used for question
	// rewriting and other non-conversational calls.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat runs a non-streaming multi-turn completion.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream runs a streaming completion with optional tools. Text
	// tokens and the assembled tool-call batch are delivered through cb;
	// the full result is also returned for persistence.
	ChatStream(ctx context.Context, messages []datatypes.Message, tools []ToolDefinition,
		params GenerationParams, cb StreamCallback) (ChatResult, error)
}

// NewClientFromEnv constructs the backend selected by LLM_BACKEND_TYPE
// ("openai" or "ollama"). Defaults to openai.
func NewClientFromEnv() (LLMClient, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_BACKEND_TYPE")))
	switch backend {
	case "", "openai":
		return NewOpenAIClient()
	case "ollama":
		return NewOllamaClient()
	default:
		return nil, fmt.Errorf("unknown LLM_BACKEND_TYPE %q (expected openai or ollama)", backend)
	}
}
