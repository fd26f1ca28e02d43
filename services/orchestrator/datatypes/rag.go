// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// QAPair sources.
const (
	QASourceExpert   = "expert"
	QASourceFeedback = "feedback"
	QASourceAuto     = "auto"
)

// QAPair is one entry of the RAG corpus: an approved question/SQL pair with
// its embedding and quality signals.
type QAPair struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	SQL           string    `json:"sql"`
	AnswerPreview string    `json:"answer_preview,omitempty"`
	Embedding     []float32 `json:"embedding,omitempty"`
	RawScore      float64   `json:"raw_score"`
	Score         float64   `json:"score"`
	QualityScore  float64   `json:"quality_score"`
	Source        string    `json:"source"`
	Tags          []string  `json:"tags,omitempty"`
	Category      string    `json:"category,omitempty"`
	UsageCount    int       `json:"usage_count"`
	LastUsedAt    time.Time `json:"last_used_at,omitzero"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Exemplar is one few-shot example injected into the system prompt.
// Source is "rag" or "memory".
type Exemplar struct {
	Question   string  `json:"question"`
	SQL        string  `json:"sql"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

// FewShotDebug is the retrieval debug block persisted on the assistant
// message when the caller asked for it.
type FewShotDebug struct {
	RAGUsed     bool `json:"rag_used"`
	RAGCount    int  `json:"rag_count"`
	MemoryUsed  bool `json:"memory_used"`
	MemoryCount int  `json:"memory_count"`
}

// User votes.
const (
	VoteLike    = "like"
	VoteDislike = "dislike"
	VoteNone    = "none"
)

// Feedback is the current rating state of one conversation. At most one
// current row exists per conversation; history is retained separately.
type Feedback struct {
	ConversationID string    `json:"conversation_id"`
	ExpertRating   *int      `json:"expert_rating,omitempty"`
	UserVote       string    `json:"user_vote,omitempty"`
	LLMScore       *float64  `json:"llm_score,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ToolUsage is one remembered tool invocation from a user's execution
// memory. Successful run_sql usages feed the few-shot selector.
type ToolUsage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ToolName  string    `json:"tool_name"`
	Question  string    `json:"question"`
	Arguments string    `json:"arguments"`
	Summary   string    `json:"summary,omitempty"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}
