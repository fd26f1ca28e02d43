// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package learner promotes well-rated question/SQL pairs into the
// retrieval corpus and keeps the corpus healthy: scoring, admission,
// near-duplicate merging, and a background eviction sweep.
package learner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianQuery/services/embedding"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/store"
)

var tracer = otel.Tracer("aleutian.learner")

// Rating weights and vote values.
const (
	weightExpert = 0.5
	weightLLM    = 0.3
	weightUser   = 0.2

	voteLikeValue    = 5.0
	voteDislikeValue = 1.0
)

// Admission and hygiene thresholds.
const (
	admitComposite = 4.0
	admitQuality   = 0.7

	dedupSimilarity   = 0.93
	dedupCompositeGap = 0.2

	evictComposite = 3.0
	evictMinAge    = 30 * 24 * time.Hour
)

// Actions returned by Learn.
const (
	ActionStored  = "stored"
	ActionUpdated = "updated"
	ActionSkipped = "skipped"
)

// Ratings carries whatever feedback signals exist for one answer.
type Ratings struct {
	Expert   *int
	UserVote string
	LLMScore *float64
}

// Learner is the corpus maintainer. Safe for concurrent use; all
// state lives in the store.
type Learner struct {
	store    *store.Store
	embedder embedding.Embedder
	logger   *slog.Logger
}

func New(st *store.Store, emb embedding.Embedder, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{store: st, embedder: emb, logger: logger}
}

// Learn considers one rated answer for the corpus and reports what
// happened to it.
func (l *Learner) Learn(ctx context.Context, question, sqlText, answer string, ratings Ratings) (string, error) {
	ctx, span := tracer.Start(ctx, "learner.Learn")
	defer span.End()

	composite, ok := CompositeScore(ratings)
	if !ok {
		span.SetAttributes(attribute.String("action", ActionSkipped))
		return ActionSkipped, nil
	}
	quality := QualityScore(question, sqlText, answer)
	span.SetAttributes(
		attribute.Float64("composite", composite),
		attribute.Float64("quality", quality),
	)

	if composite < admitComposite || quality < admitQuality {
		span.SetAttributes(attribute.String("action", ActionSkipped))
		return ActionSkipped, nil
	}

	vec, err := l.embedder.Embed(ctx, question)
	if err != nil {
		return "", fmt.Errorf("embed question: %w", err)
	}

	if nearest, sim := l.nearest(vec); nearest != nil &&
		sim >= dedupSimilarity && composite-nearest.Score < dedupCompositeGap {
		nearest.UsageCount++
		if composite > nearest.Score {
			nearest.Score = composite
		}
		if quality > nearest.QualityScore {
			nearest.QualityScore = quality
		}
		if err := l.store.PutQAPair(nearest); err != nil {
			return "", fmt.Errorf("merge qa pair: %w", err)
		}
		span.SetAttributes(attribute.String("action", ActionUpdated))
		return ActionUpdated, nil
	}

	qa := &datatypes.QAPair{
		Question:      question,
		SQL:           sqlText,
		AnswerPreview: AnswerPreview(answer),
		Embedding:     vec,
		RawScore:      composite,
		Score:         composite,
		QualityScore:  quality,
		Source:        datatypes.QASourceFeedback,
		Tags:          ExtractTags(question, sqlText),
		Category:      Categorize(question),
	}
	if err := l.store.PutQAPair(qa); err != nil {
		return "", fmt.Errorf("store qa pair: %w", err)
	}
	span.SetAttributes(attribute.String("action", ActionStored))
	return ActionStored, nil
}

func (l *Learner) nearest(vec []float32) (*datatypes.QAPair, float64) {
	pairs, err := l.store.ListQAPairs()
	if err != nil {
		l.logger.Warn("dedup lookup failed", "error", err)
		return nil, 0
	}
	var (
		best    *datatypes.QAPair
		bestSim float64
	)
	for i := range pairs {
		sim := embedding.Cosine(vec, pairs[i].Embedding)
		if sim > bestSim {
			best = &pairs[i]
			bestSim = sim
		}
	}
	return best, bestSim
}

// Evict removes corpus entries nobody wants: poorly scored, never
// retrieved, and old. Returns the number removed.
func (l *Learner) Evict(ctx context.Context) (int, error) {
	_, span := tracer.Start(ctx, "learner.Evict")
	defer span.End()

	pairs, err := l.store.ListQAPairs()
	if err != nil {
		return 0, fmt.Errorf("list qa pairs: %w", err)
	}
	cutoff := time.Now().UTC().Add(-evictMinAge)
	removed := 0
	for _, qa := range pairs {
		if qa.Score >= evictComposite || qa.UsageCount > 0 || qa.CreatedAt.After(cutoff) {
			continue
		}
		if err := l.store.DeleteQAPair(qa.ID); err != nil {
			l.logger.Warn("eviction failed", "qa_id", qa.ID, "error", err)
			continue
		}
		removed++
	}
	span.SetAttributes(attribute.Int("removed", removed))
	return removed, nil
}

// Sweep runs Evict on an interval until the context ends.
func (l *Learner) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := l.Evict(ctx)
			if err != nil {
				l.logger.Warn("eviction sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				l.logger.Info("evicted stale qa pairs", "removed", removed)
			}
		}
	}
}

// =============================================================================
// Scoring
// =============================================================================

// CompositeScore is the weighted average over the ratings present.
// Returns ok=false when no signal exists.
func CompositeScore(r Ratings) (float64, bool) {
	sum, weights := 0.0, 0.0
	if r.Expert != nil {
		sum += weightExpert * float64(*r.Expert)
		weights += weightExpert
	}
	if r.LLMScore != nil {
		sum += weightLLM * *r.LLMScore
		weights += weightLLM
	}
	switch r.UserVote {
	case datatypes.VoteLike:
		sum += weightUser * voteLikeValue
		weights += weightUser
	case datatypes.VoteDislike:
		sum += weightUser * voteDislikeValue
		weights += weightUser
	}
	if weights == 0 {
		return 0, false
	}
	return sum / weights, true
}

// QualityScore estimates how reusable a pair is, in [0, 1]: question
// clarity up to 0.3, SQL validity up to 0.4, answer plausibility up to
// 0.3. A pair without a question cannot be retrieved and scores zero
// outright.
func QualityScore(question, sqlText, answer string) float64 {
	if strings.TrimSpace(question) == "" {
		return 0
	}
	score := questionClarity(question) + sqlValidity(sqlText) + answerPlausibility(answer)
	if score > 1 {
		score = 1
	}
	return score
}

func questionClarity(question string) float64 {
	q := strings.TrimSpace(question)
	if q == "" {
		return 0
	}
	score := 0.15
	if n := utf8.RuneCountInString(q); n >= 5 && n <= 100 {
		score += 0.15
	}
	return score
}

var forbiddenSQL = []string{"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "PRAGMA", "ATTACH"}

func sqlValidity(sqlText string) float64 {
	s := strings.ToUpper(strings.TrimSpace(sqlText))
	if s == "" {
		return 0
	}
	for _, kw := range forbiddenSQL {
		if strings.Contains(s, kw) {
			return 0
		}
	}
	score := 0.0
	if strings.HasPrefix(s, "SELECT") {
		score += 0.2
	}
	if strings.Contains(s, "FROM") {
		score += 0.1
	}
	if len(s) >= 20 && len(s) <= 500 {
		score += 0.1
	}
	if score > 0.4 {
		score = 0.4
	}
	return score
}

func answerPlausibility(answer string) float64 {
	a := strings.TrimSpace(answer)
	if a == "" {
		return 0
	}
	score := 0.15
	if utf8.RuneCountInString(a) >= 10 {
		score += 0.15
	}
	return score
}
