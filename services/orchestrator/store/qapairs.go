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
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

func qaKey(id string) string { return "qa:" + id }

// PutQAPair upserts one RAG corpus entry, generating an ID when
// missing.
func (s *Store) PutQAPair(qa *datatypes.QAPair) error {
	if qa.ID == "" {
		qa.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if qa.CreatedAt.IsZero() {
		qa.CreatedAt = now
	}
	qa.UpdatedAt = now
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, qaKey(qa.ID), qa)
	})
}

func (s *Store) GetQAPair(id string) (*datatypes.QAPair, error) {
	var qa datatypes.QAPair
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, qaKey(id), &qa)
	})
	if err != nil {
		return nil, err
	}
	return &qa, nil
}

func (s *Store) DeleteQAPair(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(qaKey(id)))
	})
}

// ListQAPairs returns the entire corpus. The few-shot selector scans it
// in process; corpus sizes here are thousands, not millions.
func (s *Store) ListQAPairs() ([]datatypes.QAPair, error) {
	var out []datatypes.QAPair
	err := s.iteratePrefix("qa:", func(key string, value []byte) error {
		var qa datatypes.QAPair
		if err := json.Unmarshal(value, &qa); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, qa)
		return nil
	})
	return out, err
}

// TouchQAPairUsage increments usage count and stamps last-used. Unknown
// IDs are ignored; retrieval may race with eviction.
func (s *Store) TouchQAPairUsage(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var qa datatypes.QAPair
		if err := getJSON(txn, qaKey(id), &qa); err != nil {
			if err == ErrNotFound {
				return nil
			}
			return err
		}
		qa.UsageCount++
		qa.LastUsedAt = time.Now().UTC()
		return setJSON(txn, qaKey(id), &qa)
	})
}
