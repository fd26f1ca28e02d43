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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/store"
)

var tracer = otel.Tracer("aleutian.analyzer")

const (
	rewriteCacheSize = 100
	maxTables        = 5
)

const defaultRewritePrompt = `You normalize analytics questions for SQL generation.
Rewrite the question below so that pronouns are resolved using the previous turn,
field aliases are expanded to canonical names, and time expressions are explicit
(today is {today}). Reply with the rewritten question only.

Previous turn: {last_turn}
Question: {question}`

const defaultTableSelectPrompt = `Pick the tables needed to answer the question.
Available tables:
{tables}

Question: {question}
Reply with a comma-separated list of table names, nothing else.`

// UserContext carries the per-request user state the analyzer reads.
type UserContext struct {
	UserID          string
	LastTurn        string
	FocusDimensions []string
}

// Analyzer implements the analysis stage of the pipeline. Safe for
// concurrent use; the rewrite cache is the only mutable state.
type Analyzer struct {
	dicts  *Dictionaries
	client llm.LLMClient
	store  *store.Store
	logger *slog.Logger

	rewrites *fifoCache
}

func New(dicts *Dictionaries, client llm.LLMClient, st *store.Store, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		dicts:    dicts,
		client:   client,
		store:    st,
		logger:   logger,
		rewrites: newFIFOCache(rewriteCacheSize),
	}
}

// Analyze produces the full query plan for one question. It never
// returns an error; degraded stages leave zero values and append a
// warning instead.
func (a *Analyzer) Analyze(ctx context.Context, question string, uc UserContext) *datatypes.Analysis {
	ctx, span := tracer.Start(ctx, "analyzer.Analyze")
	defer span.End()
	span.SetAttributes(attribute.Int("question.bytes", len(question)))

	snap := a.dicts.snapshot()
	analysis := &datatypes.Analysis{
		OriginalQuestion: question,
		SemanticTokens:   Tokenize(question, snap),
	}

	analysis.RewrittenQuestion = a.rewrite(ctx, question, uc, analysis)
	analysis.SelectedTables = a.selectTables(ctx, question, snap, uc, analysis)
	analysis.RelevantKnowledge = matchKnowledge(analysis.SemanticTokens)
	analysis.Feasibility = assessFeasibility(question, analysis)

	span.SetAttributes(
		attribute.Int("tokens", len(analysis.SemanticTokens)),
		attribute.Int("tables", len(analysis.SelectedTables)),
		attribute.Bool("can_answer", analysis.Feasibility.CanAnswer),
	)
	return analysis
}

// =============================================================================
// Rewriting
// =============================================================================

func (a *Analyzer) rewrite(ctx context.Context, question string, uc UserContext, analysis *datatypes.Analysis) string {
	key := rewriteFingerprint(question, uc.UserID, uc.LastTurn)
	if cached, ok := a.rewrites.Get(key); ok {
		return cached
	}
	if a.client == nil {
		return question
	}

	prompt := a.promptBody(datatypes.PromptRewrite, defaultRewritePrompt)
	prompt = strings.NewReplacer(
		"{question}", question,
		"{last_turn}", uc.LastTurn,
		"{today}", time.Now().Format("2006-01-02"),
	).Replace(prompt)

	rewritten, err := a.client.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		a.logger.Warn("rewrite failed, using raw question", "error", err)
		analysis.Warnings = append(analysis.Warnings, "rewrite unavailable: "+err.Error())
		return question
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return question
	}
	a.rewrites.Put(key, rewritten)
	return rewritten
}

func rewriteFingerprint(question, userID, lastTurn string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(question))))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	h.Write([]byte{0})
	lt := sha256.Sum256([]byte(lastTurn))
	h.Write(lt[:])
	return hex.EncodeToString(h.Sum(nil))
}

// promptBody returns the active stored prompt for name, or fallback.
func (a *Analyzer) promptBody(name, fallback string) string {
	if a.store == nil {
		return fallback
	}
	p, err := a.store.ActivePrompt(name)
	if err != nil || p.Content == "" {
		return fallback
	}
	return p.Content
}

// =============================================================================
// Table selection
// =============================================================================

func (a *Analyzer) selectTables(ctx context.Context, question string, snap *compiledDicts,
	uc UserContext, analysis *datatypes.Analysis) []datatypes.TableCandidate {

	if len(snap.tables) == 0 {
		analysis.Warnings = append(analysis.Warnings, "no tables registered")
		return nil
	}

	scored := scoreTables(snap.tables, analysis.SemanticTokens, uc.FocusDimensions)
	if len(scored) > 0 {
		if len(scored) > maxTables {
			scored = scored[:maxTables]
		}
		return scored
	}

	// No keyword hit anything. Let the model pick from the registry.
	picked := a.llmSelectTables(ctx, question, snap, analysis)
	if len(picked) > maxTables {
		picked = picked[:maxTables]
	}
	return picked
}

func scoreTables(tables []tableMeta, tokens []datatypes.SemanticToken, focus []string) []datatypes.TableCandidate {
	var keywords []string
	for _, t := range tokens {
		if kw := keywordOf(t); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	var out []datatypes.TableCandidate
	for _, tbl := range tables {
		score := 0.0
		var reasons []string
		for _, kw := range keywords {
			if col, ok := matchAlias(tbl, kw); ok {
				score += 1.0
				reasons = append(reasons, fmt.Sprintf("%s -> %s", kw, col))
			}
		}
		for _, dim := range focus {
			if _, ok := matchAlias(tbl, dim); ok {
				score += 0.5
				reasons = append(reasons, "focus: "+dim)
			}
		}
		if score <= 0 {
			continue
		}
		out = append(out, datatypes.TableCandidate{
			Name:        tbl.Name,
			Columns:     tbl.Columns,
			RowCount:    tbl.RowCount,
			MatchReason: strings.Join(reasons, ", "),
			Score:       score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// matchAlias resolves a keyword against a table's alias map and raw
// column names.
func matchAlias(tbl tableMeta, keyword string) (string, bool) {
	if col, ok := tbl.Aliases[keyword]; ok {
		return col, true
	}
	for _, col := range tbl.Columns {
		if strings.EqualFold(col, keyword) {
			return col, true
		}
	}
	return "", false
}

func (a *Analyzer) llmSelectTables(ctx context.Context, question string,
	snap *compiledDicts, analysis *datatypes.Analysis) []datatypes.TableCandidate {

	if a.client == nil {
		analysis.Warnings = append(analysis.Warnings, "no table matched the question")
		return nil
	}

	var lines []string
	byName := make(map[string]tableMeta, len(snap.tables))
	for _, tbl := range snap.tables {
		byName[tbl.Name] = tbl
		lines = append(lines, fmt.Sprintf("- %s: %s (columns: %s)",
			tbl.Name, tbl.Description, strings.Join(tbl.Columns, ", ")))
	}

	prompt := a.promptBody(datatypes.PromptTableSelect, defaultTableSelectPrompt)
	prompt = strings.NewReplacer(
		"{tables}", strings.Join(lines, "\n"),
		"{question}", question,
	).Replace(prompt)

	reply, err := a.client.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		a.logger.Warn("table selection fallback failed", "error", err)
		analysis.Warnings = append(analysis.Warnings, "table selection unavailable: "+err.Error())
		return nil
	}

	var out []datatypes.TableCandidate
	for _, name := range strings.Split(reply, ",") {
		name = strings.Trim(strings.TrimSpace(name), "`\"'")
		tbl, ok := byName[name]
		if !ok {
			continue
		}
		out = append(out, datatypes.TableCandidate{
			Name:        tbl.Name,
			Columns:     tbl.Columns,
			RowCount:    tbl.RowCount,
			MatchReason: "model selection",
		})
	}
	if len(out) == 0 {
		analysis.Warnings = append(analysis.Warnings, "model selected no known table")
	}
	return out
}

// =============================================================================
// Knowledge matching and feasibility
// =============================================================================

// matchKnowledge lifts the knowledge payloads off recognized tokens,
// de-duplicated, in token order.
func matchKnowledge(tokens []datatypes.SemanticToken) []datatypes.KnowledgeItem {
	seen := make(map[string]bool)
	var out []datatypes.KnowledgeItem
	for _, t := range tokens {
		switch t.Type {
		case datatypes.TokenPlain, datatypes.TokenChartHint, datatypes.TokenSort:
			continue
		}
		if t.Knowledge == nil {
			continue
		}
		key := t.Type + ":" + t.Text
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, datatypes.KnowledgeItem{
			Type:        t.Type,
			Keyword:     t.Text,
			Description: t.Knowledge.Description,
			Value:       t.Knowledge.Value,
		})
	}
	return out
}

func assessFeasibility(question string, analysis *datatypes.Analysis) datatypes.Feasibility {
	conf := 0.0
	var reasons []string

	if len(analysis.SelectedTables) > 0 {
		conf += 0.5
		reasons = append(reasons, fmt.Sprintf("%d table(s) matched", len(analysis.SelectedTables)))
	} else {
		reasons = append(reasons, "no matching table")
	}
	if len(analysis.RelevantKnowledge) > 0 {
		conf += 0.2
		reasons = append(reasons, fmt.Sprintf("%d knowledge item(s)", len(analysis.RelevantKnowledge)))
	}
	cov := coverage(question, analysis.SemanticTokens)
	conf += 0.3 * cov
	reasons = append(reasons, fmt.Sprintf("keyword coverage %.0f%%", cov*100))

	f := datatypes.Feasibility{
		Confidence: conf,
		CanAnswer:  conf >= 0.3 && len(analysis.SelectedTables) > 0,
		Reason:     strings.Join(reasons, "; "),
	}
	if !f.CanAnswer {
		f.Suggestions = append(f.Suggestions,
			"mention a concrete metric or dimension the data tracks",
			"add a time range such as 最近7天 or 本月")
	}
	return f
}

// =============================================================================
// FIFO cache
// =============================================================================

// fifoCache is a bounded insert-order cache. Single lock; entries are
// never promoted, the oldest insertion is evicted first.
type fifoCache struct {
	mu    sync.Mutex
	max   int
	items map[string]string
	queue []string
}

func newFIFOCache(max int) *fifoCache {
	return &fifoCache{max: max, items: make(map[string]string, max)}
}

func (c *fifoCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *fifoCache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; exists {
		c.items[key] = value
		return
	}
	if len(c.queue) >= c.max {
		oldest := c.queue[0]
		c.queue = c.queue[1:]
		delete(c.items, oldest)
	}
	c.items[key] = value
	c.queue = append(c.queue, key)
}

func (c *fifoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
