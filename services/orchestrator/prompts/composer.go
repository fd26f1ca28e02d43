// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts assembles the system prompt for the agent loop from
// the active stored template, the analysis plan, retrieved exemplars,
// and the user's personalization profile.
package prompts

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/store"
)

const cacheSize = 200

// defaultSystemPrompt is used when no system_prompt version is active.
const defaultSystemPrompt = `You are a data analyst answering questions over a read-only SQL database.
Use the run_sql tool to fetch data and the visualize_data tool to suggest a chart.
Only SELECT statements are allowed. Answer in the language of the question.

{schema}

{glossary}

{exemplars}

{personalization}`

// Composer builds system prompts. Safe for concurrent use; the LRU is
// the only mutable state.
type Composer struct {
	store  *store.Store
	logger *slog.Logger
	cache  *lruCache
}

func New(st *store.Store, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{store: st, logger: logger, cache: newLRUCache(cacheSize)}
}

// Compose returns the system prompt for one request. Never fails: a
// missing template falls back to the built-in default.
func (c *Composer) Compose(user datatypes.User, profile *datatypes.UserProfile,
	analysis *datatypes.Analysis, exemplars []datatypes.Exemplar) string {

	template, versionID := c.activeTemplate()

	key := cacheKey(versionID, user.ID, analysis, exemplars)
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}

	prompt := strings.NewReplacer(
		"{schema}", schemaSection(analysis),
		"{glossary}", glossarySection(analysis),
		"{exemplars}", exemplarSection(exemplars),
		"{personalization}", personalizationSection(user, profile),
	).Replace(template)

	c.cache.Put(key, prompt)
	return prompt
}

func (c *Composer) activeTemplate() (body, versionID string) {
	if c.store == nil {
		return defaultSystemPrompt, "builtin"
	}
	p, err := c.store.ActivePrompt(datatypes.PromptSystem)
	if err != nil || p.Content == "" {
		if err != nil && err != store.ErrNotFound {
			c.logger.Warn("active prompt lookup failed, using builtin", "error", err)
		}
		return defaultSystemPrompt, "builtin"
	}
	return p.Content, p.Name + "@" + p.Version
}

func cacheKey(versionID, userID string, analysis *datatypes.Analysis, exemplars []datatypes.Exemplar) string {
	h := sha256.New()
	h.Write([]byte(versionID))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	h.Write([]byte{0})
	if analysis != nil {
		h.Write([]byte(analysis.RewrittenQuestion))
		for _, t := range analysis.SelectedTables {
			h.Write([]byte{0})
			h.Write([]byte(t.Name))
		}
		for _, k := range analysis.RelevantKnowledge {
			h.Write([]byte{0})
			h.Write([]byte(k.Keyword))
		}
	}
	for _, e := range exemplars {
		h.Write([]byte{0})
		h.Write([]byte(e.SQL))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// Sections
// =============================================================================

func schemaSection(analysis *datatypes.Analysis) string {
	if analysis == nil || len(analysis.SelectedTables) == 0 {
		return "No table has been pre-selected; inspect the schema before querying."
	}
	var b strings.Builder
	b.WriteString("Relevant tables:\n")
	for _, t := range analysis.SelectedTables {
		fmt.Fprintf(&b, "- %s (%d rows): %s\n", t.Name, t.RowCount, strings.Join(t.Columns, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func glossarySection(analysis *datatypes.Analysis) string {
	if analysis == nil || len(analysis.RelevantKnowledge) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Business glossary:\n")
	for _, k := range analysis.RelevantKnowledge {
		fmt.Fprintf(&b, "- %s: %s", k.Keyword, k.Description)
		if k.Value != "" {
			fmt.Fprintf(&b, " (= %s)", k.Value)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func exemplarSection(exemplars []datatypes.Exemplar) string {
	if len(exemplars) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Worked examples:\n")
	for _, e := range exemplars {
		fmt.Fprintf(&b, "Q: %s\nA (SQL): %s\n", e.Question, e.SQL)
	}
	return strings.TrimRight(b.String(), "\n")
}

func personalizationSection(user datatypes.User, profile *datatypes.UserProfile) string {
	var lines []string
	level := datatypes.ExpertiseIntermediate
	if profile != nil && profile.ExpertiseLevel != "" {
		level = profile.ExpertiseLevel
	}
	switch level {
	case datatypes.ExpertiseBeginner:
		lines = append(lines, "Explain each result in plain language and avoid jargon.")
	case datatypes.ExpertiseExpert:
		lines = append(lines, "Be terse; lead with numbers and skip explanations of basics.")
	default:
		lines = append(lines, "Keep explanations short and concrete.")
	}
	if user.Nickname != "" {
		lines = append(lines, "Address the user as "+user.Nickname+".")
	}
	if profile != nil {
		if profile.PreferredChartType != "" {
			lines = append(lines, "When charting, prefer "+profile.PreferredChartType+" charts unless the data demands otherwise.")
		}
		if len(profile.FocusDimensions) > 0 {
			lines = append(lines, "The user usually cares about: "+strings.Join(profile.FocusDimensions, ", ")+".")
		}
	}
	return strings.Join(lines, "\n")
}

// =============================================================================
// LRU cache
// =============================================================================

type lruEntry struct {
	key   string
	value string
}

// lruCache is a fixed-size LRU over composed prompts.
type lruCache struct {
	mu    sync.Mutex
	max   int
	order *list.List
	items map[string]*list.Element
}

func newLRUCache(max int) *lruCache {
	return &lruCache{max: max, order: list.New(), items: make(map[string]*list.Element, max)}
}

func (c *lruCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

func (c *lruCache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.max {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
	c.items[key] = c.order.PushFront(&lruEntry{key: key, value: value})
}

func (c *lruCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
