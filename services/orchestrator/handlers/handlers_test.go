// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
	"github.com/AleutianAI/AleutianQuery/services/embedding"
	"github.com/AleutianAI/AleutianQuery/services/executor"
	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/agent"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/analyzer"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/fewshot"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/learner"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/prompts"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/store"
)

// scriptedLLM plays back one ChatResult (plus token stream) per
// round-trip. Generate returns empty, so the analyzer keeps the raw
// question.
type scriptedLLM struct {
	turns  []llm.ChatResult
	tokens [][]string
	calls  int
}

func (s *scriptedLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return "", nil
}

func (s *scriptedLLM) Chat(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams) (string, error) {
	return "", nil
}

func (s *scriptedLLM) ChatStream(_ context.Context, _ []datatypes.Message, _ []llm.ToolDefinition,
	_ llm.GenerationParams, cb llm.StreamCallback) (llm.ChatResult, error) {

	i := s.calls
	s.calls++
	if i >= len(s.turns) {
		i = len(s.turns) - 1
	}
	if i < len(s.tokens) {
		for _, tok := range s.tokens[i] {
			if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Token: tok}); err != nil {
				return llm.ChatResult{}, err
			}
		}
	}
	if len(s.turns) == 0 {
		return llm.ChatResult{}, nil
	}
	return s.turns[i], nil
}

type fakeExec struct {
	rs *executor.ResultSet
}

func (f *fakeExec) Query(_ context.Context, _ string, _ int) (*executor.ResultSet, error) {
	return f.rs, nil
}

func (f *fakeExec) Tables(_ context.Context) ([]executor.TableInfo, error) { return nil, nil }

func (f *fakeExec) Close() error { return nil }

type testEnv struct {
	h      *Handlers
	st     *store.Store
	router *gin.Engine
}

// newTestEnv assembles the whole pipeline on an in-memory store with a
// scripted model and a canned query result.
func newTestEnv(t *testing.T, turns []llm.ChatResult, tokens [][]string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	client := &scriptedLLM{turns: turns, tokens: tokens}
	dicts, err := analyzer.NewDictionaries(st, "", nil)
	require.NoError(t, err)

	emb := embedding.NewHashEmbedder(128)
	artifacts, err := store.NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	exec := &fakeExec{rs: &executor.ResultSet{
		Columns: []string{"day", "pv"},
		Rows:    [][]string{{"2026-08-01", "120"}, {"2026-08-02", "95"}},
	}}
	toolbox := agent.NewToolbox(exec, artifacts, nil)

	h := NewHandlers(Config{
		Store:    st,
		Dicts:    dicts,
		Analyzer: analyzer.New(dicts, client, st, nil),
		Selector: fewshot.New(st, emb, nil),
		Composer: prompts.New(st, nil),
		Loop:     agent.NewLoop(client, toolbox, agent.NewPermissionManager(), nil),
		Learner:  learner.New(st, emb, nil),
		Options:  extensions.DefaultOptions(),
	})

	env := &testEnv{h: h, st: st}
	env.router = env.routes()
	return env
}

func (e *testEnv) routes() *gin.Engine {
	r := gin.New()
	r.POST("/api/chat/stream", e.h.HandleChatStream)

	r.GET("/api/conversations", e.h.HandleListConversations)
	r.GET("/api/conversations/:id", e.h.HandleGetConversation)
	r.DELETE("/api/conversations/:id", e.h.HandleDeleteConversation)
	r.GET("/api/conversations/:id/feedback", e.h.HandleGetFeedback)

	r.POST("/api/feedback/vote", e.h.HandleVote)
	r.POST("/api/feedback/rate", e.h.HandleRate)
	r.GET("/api/feedback/stats", e.h.HandleFeedbackStats)

	r.GET("/api/knowledge/time-rules", e.h.HandleListTimeRules)
	r.POST("/api/knowledge/time-rules", e.h.HandlePutTimeRule)
	r.DELETE("/api/knowledge/time-rules/:keyword", e.h.HandleDeleteTimeRule)
	r.GET("/api/knowledge/terms", e.h.HandleListBusinessTerms)
	r.POST("/api/knowledge/terms", e.h.HandlePutBusinessTerm)
	r.DELETE("/api/knowledge/terms/:term", e.h.HandleDeleteBusinessTerm)
	r.GET("/api/knowledge/mappings", e.h.HandleListFieldMappings)
	r.POST("/api/knowledge/mappings", e.h.HandlePutFieldMapping)
	r.DELETE("/api/knowledge/mappings/:display", e.h.HandleDeleteFieldMapping)
	r.GET("/api/knowledge/prompts/:name", e.h.HandleListPromptVersions)
	r.POST("/api/knowledge/prompts/:name", e.h.HandlePutPromptVersion)
	r.POST("/api/knowledge/prompts/:name/activate/:version", e.h.HandleActivatePrompt)
	r.GET("/api/knowledge/stats", e.h.HandleKnowledgeStats)
	r.POST("/api/knowledge/reload", e.h.HandleReloadKnowledge)

	r.GET("/api/memory/stats", e.h.HandleMemoryStats)
	r.GET("/api/memory/tools", e.h.HandleRecentToolMemories)
	r.GET("/api/memory/texts", e.h.HandleRecentTextMemories)
	r.GET("/api/memory/rag-high-score", e.h.HandleRAGHighScore)
	r.GET("/api/memory/profile/:userId", e.h.HandleGetProfile)
	r.POST("/api/memory/profile/:userId/refresh", e.h.HandleRefreshProfile)
	r.GET("/api/memory/history/:userId", e.h.HandleQueryHistory)
	r.GET("/api/memory/tools/:userId", e.h.HandleToolMemory)

	r.GET("/health", e.h.HandleHealth)
	return r
}

// do performs one request; body may be nil or any JSON-marshalable
// value.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decode unmarshals a JSON response body into a generic map.
func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// parseSSE decodes the event frames of an SSE body back into Events,
// plus whether the [DONE] sentinel arrived.
func parseSSE(t *testing.T, body string) (events []datatypes.Event, done bool) {
	t.Helper()
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			done = true
			continue
		}
		ev, err := datatypes.ParseWireEvent([]byte(payload))
		require.NoError(t, err, "frame: %s", payload)
		events = append(events, ev)
	}
	return events, done
}

func eventKinds(events []datatypes.Event) []datatypes.EventKind {
	out := make([]datatypes.EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}
