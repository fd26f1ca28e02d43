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

// TimeRule maps a natural-language time keyword ("最近7天", "本月") onto a
// computable rule. RuleType selects the computation; Config is its
// JSON-encoded parameters (e.g. {"days": 7}).
type TimeRule struct {
	Keyword     string    `json:"keyword" yaml:"keyword"`
	RuleType    string    `json:"rule_type" yaml:"rule_type"`
	Config      string    `json:"config" yaml:"config"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Priority    int       `json:"priority" yaml:"priority"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// Time rule types.
const (
	TimeRuleRelative   = "relative"
	TimeRuleRecentDays = "recent_days"
	TimeRuleMonth      = "month"
	TimeRuleQuarter    = "quarter"
	TimeRuleComparison = "comparison"
)

// BusinessTerm is a domain vocabulary entry. TermType classifies it for the
// tokenizer (metric, dimension, filter, entity); SQLExpression, when set,
// is the canonical expression substituted into prompts.
type BusinessTerm struct {
	Term          string    `json:"term" yaml:"term"`
	TermType      string    `json:"term_type" yaml:"term_type"`
	Definition    string    `json:"definition" yaml:"definition"`
	SQLExpression string    `json:"sql_expression,omitempty" yaml:"sql_expression"`
	Priority      int       `json:"priority" yaml:"priority"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

// Business term types.
const (
	TermMetric    = "metric"
	TermDimension = "dimension"
	TermFilter    = "filter"
	TermEntity    = "entity"
)

// FieldMapping binds a display alias to a concrete column value, e.g.
// "小说频道" -> gio_event.channel = 'novel'.
type FieldMapping struct {
	DisplayName string    `json:"display_name" yaml:"display_name"`
	TableName   string    `json:"table_name" yaml:"table_name"`
	FieldName   string    `json:"field_name" yaml:"field_name"`
	FieldValue  string    `json:"field_value" yaml:"field_value"`
	Priority    int       `json:"priority" yaml:"priority"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// PromptVersion is one versioned prompt body. Exactly one version is active
// per Name at any instant; activation atomically deactivates siblings.
// Bodies use {placeholder} substitution points.
type PromptVersion struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Content   string    `json:"content"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Well-known prompt names.
const (
	PromptSystem      = "system_prompt"
	PromptRewrite     = "rewrite_prompt"
	PromptTableSelect = "table_select_prompt"
)
