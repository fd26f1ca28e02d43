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

// Conversation is one chat thread owned by a user. It is created on the
// first user message and destroyed only by explicit delete.
type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserNickname string    `json:"user_nickname,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Summary      string    `json:"summary,omitempty"`
	Source       string    `json:"source"`
	HasError     bool      `json:"has_error"`
	Aborted      bool      `json:"aborted,omitempty"`
}

// ConversationMessage is one persisted message. Messages are immutable once
// the surrounding stream has completed; Extra is attached to the assistant
// message at end of turn.
type ConversationMessage struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Role           string        `json:"role"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	Extra          *MessageExtra `json:"extra,omitempty"`
}

// MessageExtra is the side structure attached to an assistant message after
// its stream completes. It is the debug footprint of the whole pipeline:
// what the analyzer saw, what was retrieved, what the agent executed.
type MessageExtra struct {
	SQL            string           `json:"sql,omitempty"`
	FileHash       string           `json:"file_hash,omitempty"`
	Chart          *ChartInfo       `json:"chart,omitempty"`
	ReasoningSteps []ReasoningStep  `json:"reasoning_steps,omitempty"`
	SemanticTokens []SemanticToken  `json:"semantic_tokens,omitempty"`
	SelectedTables []TableCandidate `json:"selected_tables,omitempty"`
	Knowledge      []KnowledgeItem  `json:"knowledge,omitempty"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	FewShotDebug   *FewShotDebug    `json:"fewshot_debug,omitempty"`
	Feasibility    *Feasibility     `json:"feasibility,omitempty"`
	SQLRejected    bool             `json:"sql_rejected,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
	Aborted        bool             `json:"aborted,omitempty"`
}

// ToolCallRecord is the durable record of one tool dispatch. No record ever
// holds a forbidden keyword in a SQL argument; the safeguard runs first.
type ToolCallRecord struct {
	Name          string    `json:"name"`
	Arguments     string    `json:"arguments"`
	ResultSummary string    `json:"result_summary,omitempty"`
	Success       bool      `json:"success"`
	CalledAt      time.Time `json:"called_at"`
}
