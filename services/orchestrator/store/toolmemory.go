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
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

func toolMemPrefix(userID string) string { return "toolmem:" + userID + ":" }

// AppendToolUsage records one tool execution in the user's memory.
func (s *Store) AppendToolUsage(usage *datatypes.ToolUsage) error {
	if usage.UserID == "" {
		return fmt.Errorf("tool usage has no user id")
	}
	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	key := toolMemPrefix(usage.UserID) + tsKey(usage.CreatedAt) + ":" + usage.ID
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, key, usage)
	})
}

// ListAllToolUsage returns tool memory across every user, newest
// first, up to limit (0 means all). Keys group by user before time, so
// the global ordering needs an in-memory sort.
func (s *Store) ListAllToolUsage(limit int) ([]datatypes.ToolUsage, error) {
	var out []datatypes.ToolUsage
	err := s.iteratePrefix("toolmem:", func(key string, value []byte) error {
		var usage datatypes.ToolUsage
		if err := json.Unmarshal(value, &usage); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, usage)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListToolUsage returns a user's tool memory, newest first, up to
// limit (0 means all).
func (s *Store) ListToolUsage(userID string, limit int) ([]datatypes.ToolUsage, error) {
	var out []datatypes.ToolUsage
	err := s.iteratePrefix(toolMemPrefix(userID), func(key string, value []byte) error {
		var usage datatypes.ToolUsage
		if err := json.Unmarshal(value, &usage); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, usage)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
