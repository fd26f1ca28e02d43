// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer turns a raw natural-language question into a
// structured query plan: typed semantic tokens, a canonical rewrite,
// ranked table candidates, and the knowledge records the question
// touches. Analysis degrades instead of failing; a broken LLM or an
// empty dictionary still produces a usable plan.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/store"
)

// Match tiers. Lower tier wins a tie on equal match length, so time
// rules beat business terms, which beat mappings, and so on.
const (
	tierTimeRule = iota
	tierComparison
	tierTerm
	tierMapping
	tierChartCompound
	tierChartSingle
	tierSort
)

// dictEntry is one literal keyword in the compiled dictionary.
type dictEntry struct {
	text      string
	tokenType string
	label     string
	knowledge *datatypes.TokenKnowledge
	tier      int
	order     int
}

// tableMeta is the selection metadata for one queryable table.
type tableMeta struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	RowCount    int               `yaml:"row_count"`
	Columns     []string          `yaml:"columns"`
	Aliases     map[string]string `yaml:"aliases"` // display keyword -> column
}

// compiledDicts is an immutable snapshot of everything the tokenizer
// and table selector need. Swapped atomically on reload.
type compiledDicts struct {
	entries []dictEntry
	tables  []tableMeta
}

// seedFile is the YAML shape of the knowledge seed.
type seedFile struct {
	TimeRules     []datatypes.TimeRule     `yaml:"time_rules"`
	BusinessTerms []datatypes.BusinessTerm `yaml:"business_terms"`
	FieldMappings []datatypes.FieldMapping `yaml:"field_mappings"`
	Tables        []tableMeta              `yaml:"tables"`
}

// Dictionaries compiles the knowledge store plus an optional YAML seed
// into the tokenizer's match tables. Reads are lock-free; Reload swaps
// the compiled snapshot atomically, and an fsnotify watcher re-reads
// the seed file when it changes on disk.
type Dictionaries struct {
	store    *store.Store
	seedPath string
	logger   *slog.Logger

	current atomic.Pointer[compiledDicts]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewDictionaries compiles an initial snapshot. seedPath may be empty.
func NewDictionaries(st *store.Store, seedPath string, logger *slog.Logger) (*Dictionaries, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dictionaries{store: st, seedPath: seedPath, logger: logger}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload recompiles from the store and seed file and swaps the
// snapshot in. Concurrent tokenizations keep using the old snapshot
// until the swap completes.
func (d *Dictionaries) Reload() error {
	seed, err := d.readSeed()
	if err != nil {
		return err
	}

	var (
		rules    []datatypes.TimeRule
		terms    []datatypes.BusinessTerm
		mappings []datatypes.FieldMapping
	)
	if d.store != nil {
		if rules, err = d.store.ListTimeRules(); err != nil {
			return fmt.Errorf("load time rules: %w", err)
		}
		if terms, err = d.store.ListBusinessTerms(); err != nil {
			return fmt.Errorf("load business terms: %w", err)
		}
		if mappings, err = d.store.ListFieldMappings(); err != nil {
			return fmt.Errorf("load field mappings: %w", err)
		}
	}
	rules = append(rules, seed.TimeRules...)
	terms = append(terms, seed.BusinessTerms...)
	mappings = append(mappings, seed.FieldMappings...)

	compiled := compile(rules, terms, mappings, seed.Tables)
	d.current.Store(compiled)
	d.logger.Debug("dictionaries reloaded",
		"entries", len(compiled.entries), "tables", len(compiled.tables))
	return nil
}

func (d *Dictionaries) readSeed() (*seedFile, error) {
	seed := &seedFile{}
	if d.seedPath == "" {
		return seed, nil
	}
	data, err := os.ReadFile(d.seedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return seed, nil
		}
		return nil, fmt.Errorf("read knowledge seed %s: %w", d.seedPath, err)
	}
	if err := yaml.Unmarshal(data, seed); err != nil {
		return nil, fmt.Errorf("parse knowledge seed %s: %w", d.seedPath, err)
	}
	return seed, nil
}

// Watch re-reads the seed file whenever it changes. Returns
// immediately when no seed path is configured. Stop with Close.
func (d *Dictionaries) Watch(ctx context.Context) error {
	if d.seedPath == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create seed watcher: %w", err)
	}
	if err := w.Add(d.seedPath); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", d.seedPath, err)
	}
	d.watcher = w
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := d.Reload(); err != nil {
					d.logger.Warn("seed reload failed", "path", d.seedPath, "error", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				d.logger.Warn("seed watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (d *Dictionaries) Close() error {
	if d.watcher != nil {
		err := d.watcher.Close()
		<-d.done
		return err
	}
	return nil
}

func (d *Dictionaries) snapshot() *compiledDicts { return d.current.Load() }

// Tables exposes the registered table metadata for the selector.
func (d *Dictionaries) Tables() []tableMeta { return d.snapshot().tables }

// =============================================================================
// Compilation
// =============================================================================

// Built-in chart hints and cue words. Compounds carry a lower tier
// than their constituent words so "变化趋势" can never tokenize as
// "变化"+"趋势".
var builtinChartCompounds = []struct{ text, chart string }{
	{"变化趋势", "line"},
	{"分布情况", "pie"},
	{"占比情况", "pie"},
	{"对比分析", "bar"},
}

var builtinChartSingles = []struct{ text, chart string }{
	{"趋势", "line"},
	{"走势", "line"},
	{"分布", "pie"},
	{"占比", "pie"},
	{"排行", "bar"},
	{"对比", "bar"},
}

var builtinComparisons = []struct{ text, kind string }{
	{"周同比", "wow"},
	{"环比", "mom"},
	{"同比", "yoy"},
}

var builtinSortCues = []struct{ text, dir string }{
	{"最高的", "desc"},
	{"最低的", "asc"},
	{"最多的", "desc"},
	{"最高", "desc"},
	{"最低", "asc"},
	{"排名", "desc"},
	{"排行榜", "desc"},
}

func compile(rules []datatypes.TimeRule, terms []datatypes.BusinessTerm,
	mappings []datatypes.FieldMapping, tables []tableMeta) *compiledDicts {

	c := &compiledDicts{tables: tables}
	order := 0
	add := func(e dictEntry) {
		if e.text == "" {
			return
		}
		e.order = order
		order++
		c.entries = append(c.entries, e)
	}

	for _, r := range rules {
		add(dictEntry{
			text:      r.Keyword,
			tokenType: datatypes.TokenTimeRule,
			label:     r.RuleType,
			knowledge: &datatypes.TokenKnowledge{Description: r.Description, Value: r.Config},
			tier:      tierTimeRule,
		})
	}
	for _, cmp := range builtinComparisons {
		add(dictEntry{
			text:      cmp.text,
			tokenType: datatypes.TokenComparison,
			label:     cmp.kind,
			knowledge: &datatypes.TokenKnowledge{Value: cmp.kind},
			tier:      tierComparison,
		})
	}
	for _, t := range terms {
		tokenType := datatypes.TokenTerm
		switch t.TermType {
		case datatypes.TermMetric:
			tokenType = datatypes.TokenMetric
		case datatypes.TermDimension:
			tokenType = datatypes.TokenDimension
		}
		add(dictEntry{
			text:      t.Term,
			tokenType: tokenType,
			label:     t.TermType,
			knowledge: &datatypes.TokenKnowledge{Description: t.Definition, Value: t.SQLExpression},
			tier:      tierTerm,
		})
	}
	for _, m := range mappings {
		add(dictEntry{
			text:      m.DisplayName,
			tokenType: datatypes.TokenFieldMapping,
			label:     m.TableName + "." + m.FieldName,
			knowledge: &datatypes.TokenKnowledge{
				Description: fmt.Sprintf("%s.%s = '%s'", m.TableName, m.FieldName, m.FieldValue),
				Value:       m.FieldValue,
			},
			tier: tierMapping,
		})
	}
	for _, h := range builtinChartCompounds {
		add(dictEntry{
			text:      h.text,
			tokenType: datatypes.TokenChartHint,
			label:     h.chart,
			knowledge: &datatypes.TokenKnowledge{Value: h.chart},
			tier:      tierChartCompound,
		})
	}
	for _, h := range builtinChartSingles {
		add(dictEntry{
			text:      h.text,
			tokenType: datatypes.TokenChartHint,
			label:     h.chart,
			knowledge: &datatypes.TokenKnowledge{Value: h.chart},
			tier:      tierChartSingle,
		})
	}
	for _, s := range builtinSortCues {
		add(dictEntry{
			text:      s.text,
			tokenType: datatypes.TokenSort,
			label:     s.dir,
			knowledge: &datatypes.TokenKnowledge{Value: s.dir},
			tier:      tierSort,
		})
	}
	return c
}
