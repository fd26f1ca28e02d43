// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

func timeRuleKey(keyword string) string   { return "kb:time:" + keyword }
func termKey(term string) string          { return "kb:term:" + term }
func mappingKey(display string) string    { return "kb:map:" + display }
func promptKey(name, version string) string {
	return fmt.Sprintf("prompt:%s:%s", name, version)
}

// =============================================================================
// Time Rules
// =============================================================================

// PutTimeRule upserts a time rule keyed by its keyword.
func (s *Store) PutTimeRule(rule *datatypes.TimeRule) error {
	if rule.Keyword == "" {
		return fmt.Errorf("time rule has no keyword")
	}
	rule.UpdatedAt = time.Now().UTC()
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, timeRuleKey(rule.Keyword), rule)
	})
}

func (s *Store) GetTimeRule(keyword string) (*datatypes.TimeRule, error) {
	var rule datatypes.TimeRule
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, timeRuleKey(keyword), &rule)
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Store) DeleteTimeRule(keyword string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(timeRuleKey(keyword)))
	})
}

func (s *Store) ListTimeRules() ([]datatypes.TimeRule, error) {
	var out []datatypes.TimeRule
	err := s.iteratePrefix("kb:time:", func(key string, value []byte) error {
		var rule datatypes.TimeRule
		if err := json.Unmarshal(value, &rule); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, rule)
		return nil
	})
	return out, err
}

// =============================================================================
// Business Terms
// =============================================================================

// PutBusinessTerm upserts a term keyed by its surface form.
func (s *Store) PutBusinessTerm(term *datatypes.BusinessTerm) error {
	if term.Term == "" {
		return fmt.Errorf("business term has no term")
	}
	term.UpdatedAt = time.Now().UTC()
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, termKey(term.Term), term)
	})
}

func (s *Store) GetBusinessTerm(term string) (*datatypes.BusinessTerm, error) {
	var bt datatypes.BusinessTerm
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, termKey(term), &bt)
	})
	if err != nil {
		return nil, err
	}
	return &bt, nil
}

func (s *Store) DeleteBusinessTerm(term string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(termKey(term)))
	})
}

func (s *Store) ListBusinessTerms() ([]datatypes.BusinessTerm, error) {
	var out []datatypes.BusinessTerm
	err := s.iteratePrefix("kb:term:", func(key string, value []byte) error {
		var bt datatypes.BusinessTerm
		if err := json.Unmarshal(value, &bt); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, bt)
		return nil
	})
	return out, err
}

// =============================================================================
// Field Mappings
// =============================================================================

func (s *Store) PutFieldMapping(m *datatypes.FieldMapping) error {
	if m.DisplayName == "" {
		return fmt.Errorf("field mapping has no display name")
	}
	m.UpdatedAt = time.Now().UTC()
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, mappingKey(m.DisplayName), m)
	})
}

func (s *Store) GetFieldMapping(display string) (*datatypes.FieldMapping, error) {
	var m datatypes.FieldMapping
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, mappingKey(display), &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) DeleteFieldMapping(display string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(mappingKey(display)))
	})
}

func (s *Store) ListFieldMappings() ([]datatypes.FieldMapping, error) {
	var out []datatypes.FieldMapping
	err := s.iteratePrefix("kb:map:", func(key string, value []byte) error {
		var m datatypes.FieldMapping
		if err := json.Unmarshal(value, &m); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// =============================================================================
// Prompt Versions
// =============================================================================

// PutPromptVersion upserts one prompt version. The first version stored
// under a name becomes active automatically; an incoming version marked
// active deactivates its siblings in the same transaction, so a name
// never holds two active versions.
func (s *Store) PutPromptVersion(p *datatypes.PromptVersion) error {
	if p.Name == "" || p.Version == "" {
		return fmt.Errorf("prompt version requires name and version")
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	return s.db.Update(func(txn *badger.Txn) error {
		others, err := s.promptVersionsTxn(txn, p.Name)
		if err != nil {
			return err
		}
		if p.IsActive {
			for i := range others {
				other := &others[i]
				if other.Version == p.Version || !other.IsActive {
					continue
				}
				other.IsActive = false
				other.UpdatedAt = now
				if err := setJSON(txn, promptKey(other.Name, other.Version), other); err != nil {
					return err
				}
			}
		} else {
			hasActive := false
			for _, other := range others {
				if other.IsActive && other.Version != p.Version {
					hasActive = true
					break
				}
			}
			if !hasActive {
				p.IsActive = true
			}
		}
		return setJSON(txn, promptKey(p.Name, p.Version), p)
	})
}

// ActivatePrompt marks one version active and atomically deactivates
// every sibling version of the same name.
func (s *Store) ActivatePrompt(name, version string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		versions, err := s.promptVersionsTxn(txn, name)
		if err != nil {
			return err
		}
		found := false
		for i := range versions {
			p := &versions[i]
			wasActive := p.IsActive
			p.IsActive = p.Version == version
			if p.IsActive {
				found = true
			}
			if p.IsActive != wasActive {
				p.UpdatedAt = time.Now().UTC()
				if err := setJSON(txn, promptKey(p.Name, p.Version), p); err != nil {
					return err
				}
			}
		}
		if !found {
			return ErrNotFound
		}
		return nil
	})
}

// ActivePrompt returns the active version for a prompt name.
func (s *Store) ActivePrompt(name string) (*datatypes.PromptVersion, error) {
	versions, err := s.ListPromptVersions(name)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if versions[i].IsActive {
			return &versions[i], nil
		}
	}
	return nil, ErrNotFound
}

// ListPromptVersions lists all versions stored under a name.
func (s *Store) ListPromptVersions(name string) ([]datatypes.PromptVersion, error) {
	var out []datatypes.PromptVersion
	err := s.db.View(func(txn *badger.Txn) error {
		var innerErr error
		out, innerErr = s.promptVersionsTxn(txn, name)
		return innerErr
	})
	return out, err
}

func (s *Store) promptVersionsTxn(txn *badger.Txn, name string) ([]datatypes.PromptVersion, error) {
	prefix := []byte("prompt:" + name + ":")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []datatypes.PromptVersion
	for it.Rewind(); it.Valid(); it.Next() {
		value, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		var p datatypes.PromptVersion
		if err := json.Unmarshal(value, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		out = append(out, p)
	}
	return out, nil
}

// =============================================================================
// Knowledge Stats
// =============================================================================

// KnowledgeStats summarizes the knowledge base for the admin surface.
type KnowledgeStats struct {
	TimeRules     int `json:"time_rules"`
	BusinessTerms int `json:"business_terms"`
	FieldMappings int `json:"field_mappings"`
	QAPairs       int `json:"qa_pairs"`
}

func (s *Store) GetKnowledgeStats() (*KnowledgeStats, error) {
	stats := &KnowledgeStats{}
	counts := []struct {
		prefix string
		target *int
	}{
		{"kb:time:", &stats.TimeRules},
		{"kb:term:", &stats.BusinessTerms},
		{"kb:map:", &stats.FieldMappings},
		{"qa:", &stats.QAPairs},
	}
	for _, c := range counts {
		n := 0
		if err := s.iteratePrefix(c.prefix, func(string, []byte) error {
			n++
			return nil
		}); err != nil {
			return nil, err
		}
		*c.target = n
	}
	return stats, nil
}
