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

// Semantic token types produced by the analyzer.
const (
	TokenTimeRule     = "time_rule"
	TokenComparison   = "comparison"
	TokenTerm         = "term"
	TokenFieldMapping = "field_mapping"
	TokenChartHint    = "chart_hint"
	TokenMetric       = "metric"
	TokenDimension    = "dimension"
	TokenSort         = "sort"
	TokenPlain        = "plain"
)

// SemanticToken is a classified substring span [Start, End) of the original
// question. Token spans never overlap, and the concatenation of all tokens
// (typed plus plain) reconstructs the question byte-for-byte.
type SemanticToken struct {
	Text      string          `json:"text"`
	Type      string          `json:"type"`
	TypeLabel string          `json:"type_label,omitempty"`
	Start     int             `json:"start"`
	End       int             `json:"end"`
	Knowledge *TokenKnowledge `json:"knowledge,omitempty"`
}

// TokenKnowledge is the optional payload attached to a typed token.
type TokenKnowledge struct {
	Description string `json:"description,omitempty"`
	Value       string `json:"value,omitempty"`
}

// TableCandidate is one ranked table suggestion with the reason it matched.
type TableCandidate struct {
	Name        string   `json:"name"`
	Columns     []string `json:"columns,omitempty"`
	RowCount    int      `json:"row_count"`
	MatchReason string   `json:"match_reason"`
	Score       float64  `json:"score,omitempty"`
}

// KnowledgeItem is a knowledge record matched against the question.
type KnowledgeItem struct {
	Type        string `json:"type"`
	Keyword     string `json:"keyword"`
	Description string `json:"description,omitempty"`
	Value       string `json:"value,omitempty"`
}

// Feasibility estimates whether the data on hand can answer the question.
//
// Confidence accumulates: +0.5 when tables matched, +0.2 when knowledge
// matched, up to +0.3 for business-keyword coverage. A question is
// answerable when confidence >= 0.3 and at least one table matched.
type Feasibility struct {
	CanAnswer   bool     `json:"can_answer"`
	Confidence  float64  `json:"confidence"`
	Reason      string   `json:"reason"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Analysis is the full analyzer output for one question. It never fails a
// request; degraded fields carry their zero values plus a warning.
type Analysis struct {
	OriginalQuestion  string           `json:"original_question"`
	RewrittenQuestion string           `json:"rewritten_question"`
	SemanticTokens    []SemanticToken  `json:"semantic_tokens"`
	SelectedTables    []TableCandidate `json:"selected_tables"`
	RelevantKnowledge []KnowledgeItem  `json:"relevant_knowledge"`
	Feasibility       Feasibility      `json:"feasibility"`
	Warnings          []string         `json:"warnings,omitempty"`
}
