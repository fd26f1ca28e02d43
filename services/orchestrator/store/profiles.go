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

func profileKey(userID string) string { return "profile:" + userID }

func queryHistPrefix(userID string) string { return "qh:" + userID + ":" }

// PutProfile upserts a user's personalization profile.
func (s *Store) PutProfile(p *datatypes.UserProfile) error {
	if p.UserID == "" {
		return fmt.Errorf("profile has no user id")
	}
	p.UpdatedAt = time.Now().UTC()
	if len(p.FocusDimensions) > 5 {
		p.FocusDimensions = p.FocusDimensions[:5]
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, profileKey(p.UserID), p)
	})
}

// GetProfile returns ErrNotFound for users without a profile.
func (s *Store) GetProfile(userID string) (*datatypes.UserProfile, error) {
	var p datatypes.UserProfile
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, profileKey(userID), &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AppendQueryHistory records one query for the preference learner.
func (s *Store) AppendQueryHistory(entry *datatypes.QueryHistoryEntry) error {
	if entry.UserID == "" {
		return fmt.Errorf("query history entry has no user id")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	key := queryHistPrefix(entry.UserID) + tsKey(entry.CreatedAt) + ":" + entry.ID
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, key, entry)
	})
}

// ListQueryHistory returns a user's most recent entries, newest first,
// up to limit (0 means all).
func (s *Store) ListQueryHistory(userID string, limit int) ([]datatypes.QueryHistoryEntry, error) {
	var out []datatypes.QueryHistoryEntry
	err := s.iteratePrefix(queryHistPrefix(userID), func(key string, value []byte) error {
		var entry datatypes.QueryHistoryEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Keys are chronological; reverse for newest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
