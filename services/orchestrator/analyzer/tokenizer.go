// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// Pattern-matched spans that no literal dictionary can enumerate:
// parameterized time windows and "按X统计" dimension phrases. Patterns
// compete with dictionary entries in the same longest-match sweep.
var (
	recentWindowRe = regexp.MustCompile(`最近\d+(天|周|月|年|个月|小时)`)
	periodRe       = regexp.MustCompile(`(本|上|这)(周|月|季度|年)|今天|今年|昨天|前天`)
	dimensionRe    = regexp.MustCompile(`按([\p{Han}a-zA-Z0-9_]{1,8}?)(统计|分组|汇总|查看|拆分)`)
)

// candidate is one potential token span, in byte offsets.
type candidate struct {
	start, end int
	tokenType  string
	label      string
	knowledge  *datatypes.TokenKnowledge
	tier       int
	order      int
}

// Tokenize classifies the question into non-overlapping typed spans.
// Greedy longest-match, left to right: at each position the longest
// candidate wins; equal lengths fall back to tier, then to dictionary
// insertion order. Unmatched stretches become plain tokens, so the
// concatenation of all spans reconstructs the question byte-for-byte.
func Tokenize(question string, dicts *compiledDicts) []datatypes.SemanticToken {
	if question == "" {
		return nil
	}

	candidates := collectCandidates(question, dicts)
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.start != b.start {
			return a.start < b.start
		}
		if a.end != b.end {
			return a.end > b.end // longer first
		}
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		return a.order < b.order
	})

	var tokens []datatypes.SemanticToken
	cursor := 0
	emitPlain := func(from, to int) {
		if from < to {
			tokens = append(tokens, datatypes.SemanticToken{
				Text:  question[from:to],
				Type:  datatypes.TokenPlain,
				Start: from,
				End:   to,
			})
		}
	}

	for _, c := range candidates {
		if c.start < cursor {
			continue // overlaps an accepted span
		}
		emitPlain(cursor, c.start)
		tokens = append(tokens, datatypes.SemanticToken{
			Text:      question[c.start:c.end],
			Type:      c.tokenType,
			TypeLabel: c.label,
			Start:     c.start,
			End:       c.end,
			Knowledge: c.knowledge,
		})
		cursor = c.end
	}
	emitPlain(cursor, len(question))
	return tokens
}

func collectCandidates(question string, dicts *compiledDicts) []candidate {
	var out []candidate

	// Pattern candidates rank after every dictionary entry on an exact
	// tie, so a stored rule for the same keyword keeps its payload.
	const patternOrder = 1 << 30

	for _, e := range dicts.entries {
		from := 0
		for {
			idx := strings.Index(question[from:], e.text)
			if idx < 0 {
				break
			}
			start := from + idx
			out = append(out, candidate{
				start:     start,
				end:       start + len(e.text),
				tokenType: e.tokenType,
				label:     e.label,
				knowledge: e.knowledge,
				tier:      e.tier,
				order:     e.order,
			})
			from = start + len(e.text)
		}
	}

	for _, loc := range recentWindowRe.FindAllStringIndex(question, -1) {
		out = append(out, candidate{
			start:     loc[0],
			end:       loc[1],
			tokenType: datatypes.TokenTimeRule,
			label:     datatypes.TimeRuleRecentDays,
			knowledge: &datatypes.TokenKnowledge{Description: question[loc[0]:loc[1]]},
			tier:      tierTimeRule,
			order:     patternOrder,
		})
	}
	for _, loc := range periodRe.FindAllStringIndex(question, -1) {
		out = append(out, candidate{
			start:     loc[0],
			end:       loc[1],
			tokenType: datatypes.TokenTimeRule,
			label:     datatypes.TimeRuleRelative,
			knowledge: &datatypes.TokenKnowledge{Description: question[loc[0]:loc[1]]},
			tier:      tierTimeRule,
			order:     patternOrder,
		})
	}
	// The dimension span covers "按" plus the captured phrase but not
	// the trailing verb: "按日期统计" tokenizes as dimension "按日期"
	// followed by plain "统计".
	for _, loc := range dimensionRe.FindAllStringSubmatchIndex(question, -1) {
		out = append(out, candidate{
			start:     loc[0],
			end:       loc[3],
			tokenType: datatypes.TokenDimension,
			label:     "group_by",
			knowledge: &datatypes.TokenKnowledge{Value: question[loc[2]:loc[3]]},
			tier:      tierTerm,
			order:     patternOrder,
		})
	}
	return out
}

// ChartHint returns the first chart type the tokens suggest, or "".
func ChartHint(tokens []datatypes.SemanticToken) string {
	for _, t := range tokens {
		if t.Type == datatypes.TokenChartHint && t.Knowledge != nil {
			return t.Knowledge.Value
		}
	}
	return ""
}

// keywordOf returns the searchable keyword a token contributes to
// table selection, or "" for tokens that carry none.
func keywordOf(t datatypes.SemanticToken) string {
	switch t.Type {
	case datatypes.TokenMetric, datatypes.TokenTerm, datatypes.TokenFieldMapping:
		return t.Text
	case datatypes.TokenDimension:
		if t.Knowledge != nil && t.Knowledge.Value != "" {
			return t.Knowledge.Value
		}
		return t.Text
	}
	return ""
}

// coverage is the fraction of the question's runes inside non-plain
// spans.
func coverage(question string, tokens []datatypes.SemanticToken) float64 {
	total := utf8.RuneCountInString(question)
	if total == 0 {
		return 0
	}
	covered := 0
	for _, t := range tokens {
		if t.Type != datatypes.TokenPlain {
			covered += utf8.RuneCountInString(t.Text)
		}
	}
	return float64(covered) / float64(total)
}
