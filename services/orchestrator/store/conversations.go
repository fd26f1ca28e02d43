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

func convKey(id string) string { return "conv:" + id }

func msgPrefix(convID string) string { return "msg:" + convID + ":" }

func msgKey(convID string, seq uint64) string {
	return fmt.Sprintf("msg:%s:%012d", convID, seq)
}

// CreateConversation persists a new conversation. A missing ID is
// generated; StartedAt/UpdatedAt are stamped when zero.
func (s *Store) CreateConversation(conv *datatypes.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conv.StartedAt.IsZero() {
		conv.StartedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, convKey(conv.ID), conv)
	})
}

// GetConversation returns ErrNotFound for unknown IDs.
func (s *Store) GetConversation(id string) (*datatypes.Conversation, error) {
	var conv datatypes.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, convKey(id), &conv)
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// UpdateConversation overwrites the stored conversation and bumps
// UpdatedAt.
func (s *Store) UpdateConversation(conv *datatypes.Conversation) error {
	conv.UpdatedAt = time.Now().UTC()
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, convKey(conv.ID), conv)
	})
}

// ListConversations returns a user's conversations, most recently
// updated first.
func (s *Store) ListConversations(userID string) ([]datatypes.Conversation, error) {
	var out []datatypes.Conversation
	err := s.iteratePrefix("conv:", func(key string, value []byte) error {
		var conv datatypes.Conversation
		if err := json.Unmarshal(value, &conv); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if userID == "" || conv.UserID == userID {
			out = append(out, conv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// DeleteConversation removes the conversation, its messages, and its
// feedback rows. Deleting an unknown ID is not an error.
func (s *Store) DeleteConversation(id string) error {
	if err := s.deleteByPrefix(msgPrefix(id)); err != nil {
		return err
	}
	if err := s.deleteByPrefix("feedback:hist:" + id + ":"); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte("feedback:cur:" + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(convKey(id)))
	})
}

// AppendMessage stores a message at the next sequence position and
// bumps the conversation's UpdatedAt. The message ID is generated when
// missing.
func (s *Store) AppendMessage(msg *datatypes.ConversationMessage) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("message has no conversation id")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	// Sequence increment, message write, and conversation bump share
	// one transaction so a crash cannot leave a gap.
	seqKey := "seq:msg:" + msg.ConversationID
	return s.db.Update(func(txn *badger.Txn) error {
		var current uint64
		if err := getJSON(txn, seqKey, &current); err != nil && err != ErrNotFound {
			return err
		}
		seq := current + 1
		if err := setJSON(txn, seqKey, seq); err != nil {
			return err
		}
		if err := setJSON(txn, msgKey(msg.ConversationID, seq), msg); err != nil {
			return err
		}
		var conv datatypes.Conversation
		if err := getJSON(txn, convKey(msg.ConversationID), &conv); err == nil {
			conv.UpdatedAt = time.Now().UTC()
			return setJSON(txn, convKey(msg.ConversationID), &conv)
		}
		return nil
	})
}

// ListMessages returns a conversation's messages in order.
func (s *Store) ListMessages(convID string) ([]datatypes.ConversationMessage, error) {
	var out []datatypes.ConversationMessage
	err := s.iteratePrefix(msgPrefix(convID), func(key string, value []byte) error {
		var msg datatypes.ConversationMessage
		if err := json.Unmarshal(value, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, msg)
		return nil
	})
	return out, err
}
