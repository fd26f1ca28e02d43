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

func feedbackCurKey(convID string) string { return "feedback:cur:" + convID }

func feedbackHistPrefix(convID string) string { return "feedback:hist:" + convID + ":" }

// SetFeedback merges the given fields into the conversation's current
// feedback state and appends a history snapshot. Nil/empty fields in
// the update leave the stored values untouched.
func (s *Store) SetFeedback(update *datatypes.Feedback) error {
	if update.ConversationID == "" {
		return fmt.Errorf("feedback has no conversation id")
	}
	now := time.Now().UTC()

	return s.db.Update(func(txn *badger.Txn) error {
		var current datatypes.Feedback
		if err := getJSON(txn, feedbackCurKey(update.ConversationID), &current); err != nil {
			if err != ErrNotFound {
				return err
			}
			current = datatypes.Feedback{ConversationID: update.ConversationID}
		}

		if update.ExpertRating != nil {
			current.ExpertRating = update.ExpertRating
		}
		if update.UserVote != "" {
			current.UserVote = update.UserVote
		}
		if update.LLMScore != nil {
			current.LLMScore = update.LLMScore
		}
		current.UpdatedAt = now

		if err := setJSON(txn, feedbackCurKey(update.ConversationID), &current); err != nil {
			return err
		}
		histKey := feedbackHistPrefix(update.ConversationID) + tsKey(now)
		return setJSON(txn, histKey, &current)
	})
}

// GetFeedback returns the current feedback state, or ErrNotFound.
func (s *Store) GetFeedback(convID string) (*datatypes.Feedback, error) {
	var fb datatypes.Feedback
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, feedbackCurKey(convID), &fb)
	})
	if err != nil {
		return nil, err
	}
	return &fb, nil
}

// ListFeedbackHistory returns all snapshots for a conversation, oldest
// first.
func (s *Store) ListFeedbackHistory(convID string) ([]datatypes.Feedback, error) {
	var out []datatypes.Feedback
	err := s.iteratePrefix(feedbackHistPrefix(convID), func(key string, value []byte) error {
		var fb datatypes.Feedback
		if err := json.Unmarshal(value, &fb); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, fb)
		return nil
	})
	return out, err
}

// FeedbackStats aggregates current feedback across all conversations.
type FeedbackStats struct {
	Total         int     `json:"total"`
	Likes         int     `json:"likes"`
	Dislikes      int     `json:"dislikes"`
	ExpertRatings int     `json:"expert_ratings"`
	AvgExpert     float64 `json:"avg_expert_rating"`
}

func (s *Store) GetFeedbackStats() (*FeedbackStats, error) {
	stats := &FeedbackStats{}
	var expertSum int
	err := s.iteratePrefix("feedback:cur:", func(key string, value []byte) error {
		var fb datatypes.Feedback
		if err := json.Unmarshal(value, &fb); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		stats.Total++
		switch fb.UserVote {
		case datatypes.VoteLike:
			stats.Likes++
		case datatypes.VoteDislike:
			stats.Dislikes++
		}
		if fb.ExpertRating != nil {
			stats.ExpertRatings++
			expertSum += *fb.ExpertRating
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if stats.ExpertRatings > 0 {
		stats.AvgExpert = float64(expertSum) / float64(stats.ExpertRatings)
	}
	return stats, nil
}
