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
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/store"
)

const (
	defaultHistoryLimit = 20

	defaultHighScoreLimit = 100
	defaultMinScore       = 4.0
	highScoreMinQuality   = 0.7

	textContentMaxRunes = 500
)

// HandleGetProfile is GET /api/memory/profile/:userId. A user with no
// learned profile gets an empty one rather than a 404; the frontend
// treats both the same.
func (h *Handlers) HandleGetProfile(c *gin.Context) {
	userID := c.Param("userId")
	profile, err := h.store.GetProfile(userID)
	if err == store.ErrNotFound {
		profile = &datatypes.UserProfile{UserID: userID}
		err = nil
	}
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// HandleQueryHistory is GET /api/memory/history/:userId?limit=N,
// newest first.
func (h *Handlers) HandleQueryHistory(c *gin.Context) {
	userID := c.Param("userId")
	entries, err := h.store.ListQueryHistory(userID, limitParam(c))
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// HandleToolMemory is GET /api/memory/tools/:userId?limit=N, newest
// first.
func (h *Handlers) HandleToolMemory(c *gin.Context) {
	userID := c.Param("userId")
	usages, err := h.store.ListToolUsage(userID, limitParam(c))
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool_usage": usages})
}

// HandleRefreshProfile is POST /api/memory/profile/:userId/refresh. It
// re-derives the profile from query history on demand instead of
// waiting for the next completed chat turn.
func (h *Handlers) HandleRefreshProfile(c *gin.Context) {
	userID := c.Param("userId")
	if h.learner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "learner unavailable"})
		return
	}
	if err := h.learner.UpdateProfile(c.Request.Context(), userID); err != nil {
		notFoundOr500(c, err)
		return
	}
	h.HandleGetProfile(c)
}

// HandleMemoryStats is GET /api/memory/stats, a corpus-wide overview
// for the admin dashboard.
func (h *Handlers) HandleMemoryStats(c *gin.Context) {
	usages, err := h.store.ListAllToolUsage(0)
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	successful := 0
	for _, u := range usages {
		if u.Success {
			successful++
		}
	}
	pairs, err := h.store.ListQAPairs()
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_tool_memories":      len(usages),
		"successful_tool_memories": successful,
		"total_text_memories":      len(pairs),
	})
}

// HandleRecentToolMemories is GET /api/memory/tools?limit=N, the
// newest tool executions across all users.
func (h *Handlers) HandleRecentToolMemories(c *gin.Context) {
	usages, err := h.store.ListAllToolUsage(limitParam(c))
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": usages})
}

type textMemory struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HandleRecentTextMemories is GET /api/memory/texts?limit=N. Each
// corpus entry is rendered as one plain-text memory, content capped so
// the listing stays scannable.
func (h *Handlers) HandleRecentTextMemories(c *gin.Context) {
	pairs, err := h.store.ListQAPairs()
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].CreatedAt.After(pairs[j].CreatedAt) })
	limit := limitParam(c)
	if len(pairs) > limit {
		pairs = pairs[:limit]
	}
	memories := make([]textMemory, 0, len(pairs))
	for _, qa := range pairs {
		content := qa.Question
		if qa.AnswerPreview != "" {
			content += "\n" + qa.AnswerPreview
		}
		if runes := []rune(content); len(runes) > textContentMaxRunes {
			content = string(runes[:textContentMaxRunes])
		}
		memories = append(memories, textMemory{ID: qa.ID, Content: content, Timestamp: qa.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"memories": memories})
}

// HandleRAGHighScore is GET /api/memory/rag-high-score?limit&min_score.
// It returns corpus entries above both the score floor and the quality
// floor, best first, embeddings stripped.
func (h *Handlers) HandleRAGHighScore(c *gin.Context) {
	pairs, err := h.store.ListQAPairs()
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	minScore := floatParam(c, "min_score", defaultMinScore)

	cases := make([]datatypes.QAPair, 0)
	for _, qa := range pairs {
		if qa.Score < minScore || qa.QualityScore < highScoreMinQuality {
			continue
		}
		qa.Embedding = nil
		cases = append(cases, qa)
	}
	sort.Slice(cases, func(i, j int) bool {
		if cases[i].Score != cases[j].Score {
			return cases[i].Score > cases[j].Score
		}
		return cases[i].QualityScore > cases[j].QualityScore
	})
	limit := defaultHighScoreLimit
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "")); err == nil && v > 0 {
		limit = v
	}
	if len(cases) > limit {
		cases = cases[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"cases": cases})
}

func floatParam(c *gin.Context, name string, fallback float64) float64 {
	v, err := strconv.ParseFloat(c.DefaultQuery(name, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", ""))
	if err != nil || limit <= 0 {
		return defaultHistoryLimit
	}
	return limit
}
