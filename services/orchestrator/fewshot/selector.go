// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fewshot picks worked examples for the prompt: question/SQL
// pairs from the learned corpus plus the user's own recent successful
// queries, merged on a shared similarity scale.
package fewshot

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianQuery/services/embedding"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/store"
)

var tracer = otel.Tracer("aleutian.fewshot")

const (
	// Corpus admission floors for retrieval. Pairs below either floor
	// stay in the store but never reach a prompt.
	minCompositeScore = 3.5
	minQualityScore   = 0.7

	ragWeight    = 0.6
	memoryWeight = 0.4

	// DefaultLimit caps exemplars per prompt.
	DefaultLimit = 3

	// How many recent tool invocations to consider per user.
	memoryScanLimit = 20

	// Recency half-life for execution-memory ranking.
	recencyHalfLife = 7 * 24 * time.Hour
)

// Sources an exemplar can come from.
const (
	SourceRAG    = "rag"
	SourceMemory = "memory"
)

// Result is one selection outcome. Debug is nil unless requested.
type Result struct {
	Exemplars []datatypes.Exemplar
	Debug     *datatypes.FewShotDebug
}

// Selector retrieves and merges exemplars. Stateless; safe for
// concurrent use.
type Selector struct {
	store    *store.Store
	embedder embedding.Embedder
	logger   *slog.Logger
}

func New(st *store.Store, emb embedding.Embedder, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{store: st, embedder: emb, logger: logger}
}

// Select returns up to limit exemplars for the question. Selection
// never fails the request: a broken embedder or empty corpus yields an
// empty result.
func (s *Selector) Select(ctx context.Context, question, userID string, limit int, returnDebug bool) *Result {
	ctx, span := tracer.Start(ctx, "fewshot.Select")
	defer span.End()

	if limit <= 0 {
		limit = DefaultLimit
	}

	var queryVec []float32
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, question)
		if err != nil {
			s.logger.Warn("question embedding failed, skipping retrieval", "error", err)
			span.RecordError(err)
		} else {
			queryVec = vec
		}
	}

	ragCands := s.fromCorpus(queryVec)
	memCands := s.fromMemory(ctx, queryVec, userID)

	merged := merge(ragCands, memCands, limit)
	s.touchUsage(merged)

	span.SetAttributes(
		attribute.Int("rag.candidates", len(ragCands)),
		attribute.Int("memory.candidates", len(memCands)),
		attribute.Int("selected", len(merged)),
	)

	res := &Result{}
	for _, c := range merged {
		res.Exemplars = append(res.Exemplars, c.exemplar)
	}
	if returnDebug {
		res.Debug = &datatypes.FewShotDebug{
			RAGUsed:     countSource(res.Exemplars, SourceRAG) > 0,
			RAGCount:    countSource(res.Exemplars, SourceRAG),
			MemoryUsed:  countSource(res.Exemplars, SourceMemory) > 0,
			MemoryCount: countSource(res.Exemplars, SourceMemory),
		}
	}
	return res
}

type candidate struct {
	exemplar datatypes.Exemplar
	weighted float64
	qaID     string
}

// fromCorpus ranks learned QA pairs by cosine similarity, filtered by
// the admission floors.
func (s *Selector) fromCorpus(queryVec []float32) []candidate {
	if s.store == nil || queryVec == nil {
		return nil
	}
	pairs, err := s.store.ListQAPairs()
	if err != nil {
		s.logger.Warn("qa corpus unavailable", "error", err)
		return nil
	}

	var out []candidate
	for _, qa := range pairs {
		if qa.Score < minCompositeScore || qa.QualityScore < minQualityScore {
			continue
		}
		if len(qa.Embedding) == 0 {
			continue
		}
		sim := embedding.Cosine(queryVec, qa.Embedding)
		if sim <= 0 {
			continue
		}
		out = append(out, candidate{
			exemplar: datatypes.Exemplar{
				Question:   qa.Question,
				SQL:        qa.SQL,
				Source:     SourceRAG,
				Similarity: sim,
			},
			weighted: sim * ragWeight,
			qaID:     qa.ID,
		})
	}
	return out
}

// fromMemory ranks the user's recent successful run_sql invocations by
// recency-decayed similarity.
func (s *Selector) fromMemory(ctx context.Context, queryVec []float32, userID string) []candidate {
	if s.store == nil || queryVec == nil || userID == "" {
		return nil
	}
	usages, err := s.store.ListToolUsage(userID, memoryScanLimit)
	if err != nil {
		s.logger.Warn("execution memory unavailable", "user_id", userID, "error", err)
		return nil
	}

	now := time.Now().UTC()
	var out []candidate
	for _, u := range usages {
		if !u.Success || u.ToolName != "run_sql" || u.Question == "" {
			continue
		}
		sqlText := memorySQL(u.Arguments)
		if sqlText == "" {
			continue
		}
		vec, err := s.embedder.Embed(ctx, u.Question)
		if err != nil {
			s.logger.Warn("memory embedding failed", "error", err)
			continue
		}
		sim := embedding.Cosine(queryVec, vec)
		if sim <= 0 {
			continue
		}
		age := now.Sub(u.CreatedAt)
		recency := math.Exp2(-float64(age) / float64(recencyHalfLife))
		out = append(out, candidate{
			exemplar: datatypes.Exemplar{
				Question:   u.Question,
				SQL:        sqlText,
				Source:     SourceMemory,
				Similarity: sim,
			},
			weighted: sim * recency * memoryWeight,
		})
	}
	return out
}

// memorySQL recovers the bare statement from a remembered run_sql
// invocation. Arguments hold the tool-call JSON payload; a prompt must
// never show the serialized envelope.
func memorySQL(arguments string) string {
	var args struct {
		SQL string `json:"sql"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err == nil && strings.TrimSpace(args.SQL) != "" {
		return strings.TrimSpace(args.SQL)
	}
	trimmed := strings.TrimSpace(arguments)
	if strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return trimmed
	}
	return ""
}

// merge combines both sources on the weighted scale, de-duplicates by
// question fingerprint (first, i.e. highest-ranked, wins), and caps
// the result.
func merge(rag, mem []candidate, limit int) []candidate {
	all := append(append([]candidate{}, rag...), mem...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].weighted > all[j].weighted })

	seen := make(map[string]bool)
	var out []candidate
	for _, c := range all {
		fp := fingerprint(c.exemplar.Question)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

func fingerprint(question string) string {
	return strings.ToLower(strings.Join(strings.Fields(question), " "))
}

// touchUsage bumps usage counters on the corpus pairs that made it
// into the prompt, feeding the learner's eviction sweep.
func (s *Selector) touchUsage(selected []candidate) {
	if s.store == nil {
		return
	}
	for _, c := range selected {
		if c.qaID == "" {
			continue
		}
		if err := s.store.TouchQAPairUsage(c.qaID); err != nil {
			s.logger.Warn("usage touch failed", "qa_id", c.qaID, "error", err)
		}
	}
}

func countSource(ex []datatypes.Exemplar, source string) int {
	n := 0
	for _, e := range ex {
		if e.Source == source {
			n++
		}
	}
	return n
}
