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
	"context"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/learner"
)

// learnTimeout bounds the post-feedback learning pass; it runs detached
// from the request so a slow embedding backend never delays the caller.
const learnTimeout = 15 * time.Second

type voteRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	Vote           string `json:"vote" binding:"required,oneof=like dislike none"`
}

type rateRequest struct {
	ConversationID string   `json:"conversationId" binding:"required"`
	Rating         *float64 `json:"rating" binding:"required,min=1,max=5"`
	Reviewer       string   `json:"reviewer" binding:"required,oneof=expert llm"`
}

// HandleVote is POST /api/feedback/vote, the thumbs up/down path.
func (h *Handlers) HandleVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.applyFeedback(c, &datatypes.Feedback{
		ConversationID: req.ConversationID,
		UserVote:       req.Vote,
	}, "feedback.vote")
}

// HandleRate is POST /api/feedback/rate, the scored path. The reviewer
// field says whose score this is: "expert" ratings land on the whole
// 1..5 scale, "llm" scores keep their fraction. The other channel keeps
// its previous value under the merge semantics of the store.
func (h *Handlers) HandleRate(c *gin.Context) {
	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	update := &datatypes.Feedback{ConversationID: req.ConversationID}
	if req.Reviewer == "expert" {
		rating := int(math.Round(*req.Rating))
		update.ExpertRating = &rating
	} else {
		update.LLMScore = req.Rating
	}
	h.applyFeedback(c, update, "feedback.rate")
}

// HandleGetFeedback is GET /api/feedback/:id — the current merged state
// plus the full history for the conversation.
func (h *Handlers) HandleGetFeedback(c *gin.Context) {
	id := c.Param("id")
	current, err := h.store.GetFeedback(id)
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	history, err := h.store.ListFeedbackHistory(id)
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": current, "history": history})
}

// HandleFeedbackStats is GET /api/feedback/stats.
func (h *Handlers) HandleFeedbackStats(c *gin.Context) {
	stats, err := h.store.GetFeedbackStats()
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// applyFeedback writes the update, then kicks the learner with the
// merged rating state and the question/SQL/answer pulled from the
// conversation transcript.
func (h *Handlers) applyFeedback(c *gin.Context, update *datatypes.Feedback, eventType string) {
	if _, err := h.store.GetConversation(update.ConversationID); err != nil {
		notFoundOr500(c, err)
		return
	}
	if err := h.store.SetFeedback(update); err != nil {
		notFoundOr500(c, err)
		return
	}

	merged, err := h.store.GetFeedback(update.ConversationID)
	if err != nil {
		notFoundOr500(c, err)
		return
	}

	h.auditLog(c.Request.Context(), extensions.AuditEvent{
		EventType:    eventType,
		Timestamp:    time.Now().UTC(),
		Action:       "update",
		ResourceType: "feedback",
		ResourceID:   update.ConversationID,
		Outcome:      "recorded",
	})

	action := h.notifyLearner(update.ConversationID, merged)
	c.JSON(http.StatusOK, gin.H{"feedback": merged, "learner_action": action})
}

// notifyLearner runs the admission pipeline for the conversation's last
// exchange. Learning failures never fail the feedback write.
func (h *Handlers) notifyLearner(convID string, merged *datatypes.Feedback) string {
	if h.learner == nil {
		return learner.ActionSkipped
	}
	question, sqlText, answer := h.lastExchange(convID)
	if question == "" || sqlText == "" {
		return learner.ActionSkipped
	}

	ctx, cancel := context.WithTimeout(context.Background(), learnTimeout)
	defer cancel()
	action, err := h.learner.Learn(ctx, question, sqlText, answer, learner.Ratings{
		Expert:   merged.ExpertRating,
		UserVote: merged.UserVote,
		LLMScore: merged.LLMScore,
	})
	if err != nil {
		h.logger.Warn("learner pass failed", "conversation_id", convID, "error", err)
		return learner.ActionSkipped
	}
	h.metrics.RecordLearnerAction(action)
	return action
}

// lastExchange walks the transcript backwards for the most recent
// assistant turn that executed SQL, and the user question preceding it.
func (h *Handlers) lastExchange(convID string) (question, sqlText, answer string) {
	msgs, err := h.store.ListMessages(convID)
	if err != nil {
		return "", "", ""
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != "assistant" || m.Extra == nil || m.Extra.SQL == "" {
			continue
		}
		sqlText = m.Extra.SQL
		answer = m.Content
		for j := i - 1; j >= 0; j-- {
			if msgs[j].Role == "user" {
				question = msgs[j].Content
				break
			}
		}
		return question, sqlText, answer
	}
	return "", "", ""
}
