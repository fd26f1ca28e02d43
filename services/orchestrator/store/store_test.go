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
	"encoding/csv"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// =============================================================================
// Conversations
// =============================================================================

func TestConversation_CreateGetDelete(t *testing.T) {
	s := openTestStore(t)

	conv := &datatypes.Conversation{UserID: "u-1", Source: "web"}
	require.NoError(t, s.CreateConversation(conv))
	assert.NotEmpty(t, conv.ID)
	assert.False(t, conv.StartedAt.IsZero())

	got, err := s.GetConversation(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)

	require.NoError(t, s.DeleteConversation(conv.ID))
	_, err = s.GetConversation(conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversation_GetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetConversation("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversation_ListFiltersByUser(t *testing.T) {
	s := openTestStore(t)

	for _, uid := range []string{"u-1", "u-1", "u-2"} {
		require.NoError(t, s.CreateConversation(&datatypes.Conversation{UserID: uid}))
	}

	mine, err := s.ListConversations("u-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, err := s.ListConversations("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMessages_AppendOrdering(t *testing.T) {
	s := openTestStore(t)

	conv := &datatypes.Conversation{UserID: "u-1"}
	require.NoError(t, s.CreateConversation(conv))

	contents := []string{"最近7天的访问量", "好的，正在查询。", "环比呢"}
	roles := []string{datatypes.RoleUser, datatypes.RoleAssistant, datatypes.RoleUser}
	for i := range contents {
		require.NoError(t, s.AppendMessage(&datatypes.ConversationMessage{
			ConversationID: conv.ID,
			Role:           roles[i],
			Content:        contents[i],
		}))
	}

	msgs, err := s.ListMessages(conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, msg := range msgs {
		assert.Equal(t, contents[i], msg.Content)
		assert.Equal(t, conv.ID, msg.ConversationID)
		assert.NotEmpty(t, msg.ID)
	}
}

func TestDeleteConversation_RemovesMessagesAndFeedback(t *testing.T) {
	s := openTestStore(t)

	conv := &datatypes.Conversation{UserID: "u-1"}
	require.NoError(t, s.CreateConversation(conv))
	require.NoError(t, s.AppendMessage(&datatypes.ConversationMessage{
		ConversationID: conv.ID, Role: datatypes.RoleUser, Content: "hi",
	}))
	require.NoError(t, s.SetFeedback(&datatypes.Feedback{
		ConversationID: conv.ID, UserVote: datatypes.VoteLike,
	}))

	require.NoError(t, s.DeleteConversation(conv.ID))

	msgs, err := s.ListMessages(conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = s.GetFeedback(conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Knowledge
// =============================================================================

func TestTimeRule_CRUD(t *testing.T) {
	s := openTestStore(t)

	rule := &datatypes.TimeRule{
		Keyword:  "最近7天",
		RuleType: datatypes.TimeRuleRecentDays,
		Config:   `{"days":7}`,
	}
	require.NoError(t, s.PutTimeRule(rule))

	got, err := s.GetTimeRule("最近7天")
	require.NoError(t, err)
	assert.Equal(t, datatypes.TimeRuleRecentDays, got.RuleType)
	assert.False(t, got.UpdatedAt.IsZero())

	rules, err := s.ListTimeRules()
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	require.NoError(t, s.DeleteTimeRule("最近7天"))
	_, err = s.GetTimeRule("最近7天")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBusinessTermAndMapping(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutBusinessTerm(&datatypes.BusinessTerm{
		Term: "活跃用户", TermType: datatypes.TermMetric,
		Definition: "7天内有过访问行为的用户",
	}))
	require.NoError(t, s.PutFieldMapping(&datatypes.FieldMapping{
		DisplayName: "小说频道", TableName: "gio_event",
		FieldName: "channel", FieldValue: "novel",
	}))

	term, err := s.GetBusinessTerm("活跃用户")
	require.NoError(t, err)
	assert.Equal(t, datatypes.TermMetric, term.TermType)

	m, err := s.GetFieldMapping("小说频道")
	require.NoError(t, err)
	assert.Equal(t, "novel", m.FieldValue)
}

func TestPromptVersions_FirstBecomesActive(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutPromptVersion(&datatypes.PromptVersion{
		Name: datatypes.PromptSystem, Version: "v1", Content: "a",
	}))

	active, err := s.ActivePrompt(datatypes.PromptSystem)
	require.NoError(t, err)
	assert.Equal(t, "v1", active.Version)
}

func TestPromptVersions_ActivationIsExclusive(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutPromptVersion(&datatypes.PromptVersion{
		Name: datatypes.PromptSystem, Version: "v1", Content: "a",
	}))
	require.NoError(t, s.PutPromptVersion(&datatypes.PromptVersion{
		Name: datatypes.PromptSystem, Version: "v2", Content: "b",
	}))

	require.NoError(t, s.ActivatePrompt(datatypes.PromptSystem, "v2"))

	versions, err := s.ListPromptVersions(datatypes.PromptSystem)
	require.NoError(t, err)
	activeCount := 0
	for _, v := range versions {
		if v.IsActive {
			activeCount++
			assert.Equal(t, "v2", v.Version)
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestPromptVersions_PutActiveDeactivatesSiblings(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutPromptVersion(&datatypes.PromptVersion{
		Name: datatypes.PromptSystem, Version: "v1", Content: "a",
	}))
	require.NoError(t, s.PutPromptVersion(&datatypes.PromptVersion{
		Name: datatypes.PromptSystem, Version: "v2", Content: "b", IsActive: true,
	}))

	versions, err := s.ListPromptVersions(datatypes.PromptSystem)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	activeCount := 0
	for _, v := range versions {
		if v.IsActive {
			activeCount++
			assert.Equal(t, "v2", v.Version)
		}
	}
	assert.Equal(t, 1, activeCount)

	active, err := s.ActivePrompt(datatypes.PromptSystem)
	require.NoError(t, err)
	assert.Equal(t, "v2", active.Version)
}

func TestActivatePrompt_UnknownVersion(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutPromptVersion(&datatypes.PromptVersion{
		Name: datatypes.PromptSystem, Version: "v1", Content: "a",
	}))
	assert.ErrorIs(t, s.ActivatePrompt(datatypes.PromptSystem, "v9"), ErrNotFound)
}

func TestKnowledgeStats(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutTimeRule(&datatypes.TimeRule{Keyword: "本月", RuleType: datatypes.TimeRuleMonth}))
	require.NoError(t, s.PutBusinessTerm(&datatypes.BusinessTerm{Term: "GMV", TermType: datatypes.TermMetric}))
	require.NoError(t, s.PutQAPair(&datatypes.QAPair{Question: "q", SQL: "SELECT 1"}))

	stats, err := s.GetKnowledgeStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TimeRules)
	assert.Equal(t, 1, stats.BusinessTerms)
	assert.Equal(t, 0, stats.FieldMappings)
	assert.Equal(t, 1, stats.QAPairs)
}

// =============================================================================
// QA Pairs
// =============================================================================

func TestQAPair_PutTouchUsage(t *testing.T) {
	s := openTestStore(t)

	qa := &datatypes.QAPair{Question: "最近7天的访问量", SQL: "SELECT 1", Score: 4.2}
	require.NoError(t, s.PutQAPair(qa))
	require.NotEmpty(t, qa.ID)

	require.NoError(t, s.TouchQAPairUsage(qa.ID))
	require.NoError(t, s.TouchQAPairUsage(qa.ID))

	got, err := s.GetQAPair(qa.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
	assert.False(t, got.LastUsedAt.IsZero())
}

func TestQAPair_TouchUnknownIsNoop(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.TouchQAPairUsage("ghost"))
}

// =============================================================================
// Feedback
// =============================================================================

func TestFeedback_MergeSemantics(t *testing.T) {
	s := openTestStore(t)

	rating := 4
	require.NoError(t, s.SetFeedback(&datatypes.Feedback{
		ConversationID: "c-1", ExpertRating: &rating,
	}))
	require.NoError(t, s.SetFeedback(&datatypes.Feedback{
		ConversationID: "c-1", UserVote: datatypes.VoteLike,
	}))

	fb, err := s.GetFeedback("c-1")
	require.NoError(t, err)
	require.NotNil(t, fb.ExpertRating)
	assert.Equal(t, 4, *fb.ExpertRating)
	assert.Equal(t, datatypes.VoteLike, fb.UserVote)

	hist, err := s.ListFeedbackHistory("c-1")
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestFeedbackStats(t *testing.T) {
	s := openTestStore(t)

	r5, r3 := 5, 3
	require.NoError(t, s.SetFeedback(&datatypes.Feedback{ConversationID: "c-1", UserVote: datatypes.VoteLike, ExpertRating: &r5}))
	require.NoError(t, s.SetFeedback(&datatypes.Feedback{ConversationID: "c-2", UserVote: datatypes.VoteDislike}))
	require.NoError(t, s.SetFeedback(&datatypes.Feedback{ConversationID: "c-3", ExpertRating: &r3}))

	stats, err := s.GetFeedbackStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Likes)
	assert.Equal(t, 1, stats.Dislikes)
	assert.Equal(t, 2, stats.ExpertRatings)
	assert.InDelta(t, 4.0, stats.AvgExpert, 1e-9)
}

// =============================================================================
// Profiles and Memory
// =============================================================================

func TestProfile_FocusDimensionsCapped(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutProfile(&datatypes.UserProfile{
		UserID:          "u-1",
		ExpertiseLevel:  datatypes.ExpertiseExpert,
		FocusDimensions: []string{"a", "b", "c", "d", "e", "f", "g"},
	}))

	p, err := s.GetProfile("u-1")
	require.NoError(t, err)
	assert.Len(t, p.FocusDimensions, 5)
}

func TestQueryHistory_NewestFirstWithLimit(t *testing.T) {
	s := openTestStore(t)

	for _, q := range []string{"q1", "q2", "q3"} {
		require.NoError(t, s.AppendQueryHistory(&datatypes.QueryHistoryEntry{
			UserID: "u-1", QueryText: q,
		}))
	}

	entries, err := s.ListQueryHistory("u-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "q3", entries[0].QueryText)
	assert.Equal(t, "q2", entries[1].QueryText)
}

func TestToolUsage_NewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i, sqlText := range []string{"SELECT 1", "SELECT 2"} {
		require.NoError(t, s.AppendToolUsage(&datatypes.ToolUsage{
			UserID:   "u-1",
			ToolName: "run_sql",
			Question: "q",
			Success:  i == 1,
			Arguments: sqlText,
		}))
	}

	usages, err := s.ListToolUsage("u-1", 0)
	require.NoError(t, err)
	require.Len(t, usages, 2)
	assert.Equal(t, "SELECT 2", usages[0].Arguments)
	assert.True(t, usages[0].Success)
}

// =============================================================================
// Artifacts
// =============================================================================

func TestArtifactStore_WriteAndLatest(t *testing.T) {
	a, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	hash := HashFor("SELECT day, pv FROM gio_event", []string{"day", "pv"})
	path, err := a.WriteCSV(hash, []string{"day", "pv"}, [][]string{
		{"2026-08-20", "120"},
		{"2026-08-21", "150"},
	})
	require.NoError(t, err)

	latest, err := a.LatestCSV(hash)
	require.NoError(t, err)
	assert.Equal(t, path, latest)

	f, err := os.Open(latest)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"day", "pv"}, records[0])
	assert.Equal(t, []string{"2026-08-21", "150"}, records[2])
}

func TestArtifactStore_LatestMissing(t *testing.T) {
	a, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	_, err = a.LatestCSV("nothing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHashFor_Stable(t *testing.T) {
	h1 := HashFor("SELECT 1", []string{"a"})
	h2 := HashFor("SELECT 1", []string{"a"})
	h3 := HashFor("SELECT 2", []string{"a"})
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 16)
}
