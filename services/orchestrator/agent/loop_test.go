// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianQuery/services/executor"
	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/store"
)

// scriptedLLM plays back one ChatResult (plus token stream, plus an
// optional error) per round-trip.
type scriptedLLM struct {
	turns  []llm.ChatResult
	tokens [][]string
	errs   []error
	calls  int
}

func (s *scriptedLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return "", nil
}

func (s *scriptedLLM) Chat(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams) (string, error) {
	return "", nil
}

func (s *scriptedLLM) ChatStream(_ context.Context, _ []datatypes.Message, _ []llm.ToolDefinition,
	_ llm.GenerationParams, cb llm.StreamCallback) (llm.ChatResult, error) {

	i := s.calls
	s.calls++
	if i >= len(s.turns) {
		i = len(s.turns) - 1
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return llm.ChatResult{}, s.errs[i]
	}
	if i < len(s.tokens) {
		for _, tok := range s.tokens[i] {
			if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Token: tok}); err != nil {
				return llm.ChatResult{}, err
			}
		}
	}
	return s.turns[i], nil
}

type fakeExec struct {
	rs      *executor.ResultSet
	lastSQL string
}

func (f *fakeExec) Query(_ context.Context, sql string, _ int) (*executor.ResultSet, error) {
	f.lastSQL = sql
	return f.rs, nil
}

func (f *fakeExec) Tables(_ context.Context) ([]executor.TableInfo, error) { return nil, nil }

func (f *fakeExec) Close() error { return nil }

func newToolbox(t *testing.T, rs *executor.ResultSet) (*Toolbox, *fakeExec) {
	t.Helper()
	artifacts, err := store.NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	exec := &fakeExec{rs: rs}
	return NewToolbox(exec, artifacts, nil), exec
}

func collectEvents() (Emitter, *[]datatypes.Event) {
	events := &[]datatypes.Event{}
	return func(e datatypes.Event) { *events = append(*events, e) }, events
}

func kinds(events []datatypes.Event) []datatypes.EventKind {
	var out []datatypes.EventKind
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

// =============================================================================
// SQL guard
// =============================================================================

func TestCheckSQL(t *testing.T) {
	cases := []struct {
		name    string
		sql     string
		wantErr string
	}{
		{"plain select", "SELECT day, pv FROM gio_event", ""},
		{"lowercase select", "select * from employee;", ""},
		{"leading whitespace", "  SELECT 1 FROM t", ""},
		{"empty", "   ", "empty"},
		{"no from", "SELECT 1", "no FROM clause"},
		{"insert", "INSERT INTO t VALUES (1)", "only SELECT"},
		{"embedded delete", "SELECT * FROM t; DELETE FROM t", "forbidden keyword DELETE"},
		{"pragma", "SELECT * FROM t WHERE PRAGMA = 1", "forbidden keyword PRAGMA"},
		{"drop lowercase", "select * from t where drop = 1", "forbidden keyword DROP"},
		{"column named dropped is fine", "SELECT dropped_items FROM inventory", ""},
		{"updated_at column is fine", "SELECT updated_at FROM t", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckSQL(tc.sql)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

// =============================================================================
// Permissions
// =============================================================================

func TestPermissions_Defaults(t *testing.T) {
	m := NewPermissionManager()

	assert.True(t, m.Allowed(datatypes.GroupAdmin, ToolRunSQL))
	assert.True(t, m.Allowed(datatypes.GroupAdmin, "future_tool"))
	assert.True(t, m.Allowed(datatypes.GroupUser, ToolRunSQL))
	assert.True(t, m.Allowed(datatypes.GroupGuest, ToolVisualizeData))
	assert.False(t, m.Allowed(datatypes.GroupUser, "future_tool"))
	assert.False(t, m.Allowed("nobody", ToolRunSQL))
}

func TestPermissions_GrantRevoke(t *testing.T) {
	m := NewPermissionManager()
	m.Revoke(datatypes.GroupGuest, ToolRunSQL)
	assert.False(t, m.Allowed(datatypes.GroupGuest, ToolRunSQL))

	m.Grant(datatypes.GroupGuest, ToolRunSQL)
	assert.True(t, m.Allowed(datatypes.GroupGuest, ToolRunSQL))
}

// =============================================================================
// Toolbox
// =============================================================================

func TestToolbox_RunSQLWritesArtifact(t *testing.T) {
	rows := make([][]string, 15)
	for i := range rows {
		rows[i] = []string{"2026-08-01", "100"}
	}
	tb, exec := newToolbox(t, &executor.ResultSet{Columns: []string{"day", "pv"}, Rows: rows})

	out, err := tb.Dispatch(context.Background(), ToolRunSQL, `{"sql": "SELECT day, pv FROM gio_event"}`)
	require.NoError(t, err)
	require.NotNil(t, out.DataFrame)
	assert.Equal(t, "SELECT day, pv FROM gio_event", exec.lastSQL)
	assert.Equal(t, 15, out.DataFrame.RowCount)
	assert.Len(t, out.DataFrame.Preview, previewRows)
	assert.NotEmpty(t, out.DataFrame.FileHash)
	assert.Contains(t, out.Reply, `"row_count":15`)

	path, err := tb.artifacts.LatestCSV(out.DataFrame.FileHash)
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestToolbox_RunSQLGuardRejects(t *testing.T) {
	tb, _ := newToolbox(t, &executor.ResultSet{})
	_, err := tb.Dispatch(context.Background(), ToolRunSQL, `{"sql": "DELETE FROM t"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sql rejected")
}

func TestToolbox_VisualizeUsesHintThenHeuristic(t *testing.T) {
	tb, _ := newToolbox(t, &executor.ResultSet{
		Columns: []string{"day", "pv"},
		Rows:    [][]string{{"2026-08-01", "100"}, {"2026-08-02", "200"}},
	})
	out, err := tb.Dispatch(context.Background(), ToolRunSQL, `{"sql": "SELECT day, pv FROM gio_event"}`)
	require.NoError(t, err)
	hash := out.DataFrame.FileHash

	viz, err := tb.Dispatch(context.Background(), ToolVisualizeData,
		`{"file_hash": "`+hash+`", "chart_type_hint": "pie"}`)
	require.NoError(t, err)
	assert.Equal(t, "pie", viz.Chart.Type)

	viz, err = tb.Dispatch(context.Background(), ToolVisualizeData, `{"file_hash": "`+hash+`"}`)
	require.NoError(t, err)
	assert.Equal(t, "line", viz.Chart.Type, "date-like x column implies a line chart")
	assert.Equal(t, "day", viz.Chart.XKey)
	assert.Equal(t, "pv", viz.Chart.YKey)
	assert.Equal(t, "pv by day", viz.Chart.Title)
}

func TestToolbox_VisualizeUnknownHash(t *testing.T) {
	tb, _ := newToolbox(t, &executor.ResultSet{})
	_, err := tb.Dispatch(context.Background(), ToolVisualizeData, `{"file_hash": "nope"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no dataframe")
}

func TestToolbox_UnknownTool(t *testing.T) {
	tb, _ := newToolbox(t, &executor.ResultSet{})
	_, err := tb.Dispatch(context.Background(), "format_disk", `{}`)
	require.Error(t, err)
}

// =============================================================================
// Loop
// =============================================================================

func runInput(group string) RunInput {
	return RunInput{
		User:         datatypes.User{ID: "u-1", Group: group},
		SystemPrompt: "You are a data analyst.",
		Question:     "最近7天的访问量趋势",
	}
}

func TestLoop_PlainAnswerStreamsDeltas(t *testing.T) {
	client := &scriptedLLM{
		turns:  []llm.ChatResult{{Content: "访问量稳定。", FinishReason: "stop"}},
		tokens: [][]string{{"访问量", "稳定。"}},
	}
	tb, _ := newToolbox(t, &executor.ResultSet{})
	loop := NewLoop(client, tb, NewPermissionManager(), nil)
	emit, events := collectEvents()

	res, err := loop.Run(context.Background(), runInput(datatypes.GroupUser), emit)
	require.NoError(t, err)

	assert.Equal(t, "访问量稳定。", res.Answer)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t,
		[]datatypes.EventKind{datatypes.EventTextDelta, datatypes.EventTextDelta},
		kinds(*events))
}

func TestLoop_ToolCallThenAnswer(t *testing.T) {
	client := &scriptedLLM{
		turns: []llm.ChatResult{
			{ToolCalls: []llm.ToolCall{{
				ID:        "call-1",
				Name:      ToolRunSQL,
				Arguments: `{"sql": "SELECT day, pv FROM gio_event"}`,
			}}, FinishReason: "tool_calls"},
			{Content: "done", FinishReason: "stop"},
		},
		tokens: [][]string{nil, {"done"}},
	}
	tb, _ := newToolbox(t, &executor.ResultSet{
		Columns: []string{"day", "pv"},
		Rows:    [][]string{{"2026-08-01", "100"}},
	})
	loop := NewLoop(client, tb, NewPermissionManager(), nil)
	emit, events := collectEvents()

	res, err := loop.Run(context.Background(), runInput(datatypes.GroupUser), emit)
	require.NoError(t, err)

	assert.Equal(t, "SELECT day, pv FROM gio_event", res.SQL)
	require.NotNil(t, res.DataFrame)
	assert.Equal(t, 1, res.DataFrame.RowCount)
	require.Len(t, res.ToolCalls, 1)
	assert.True(t, res.ToolCalls[0].Success)
	assert.Equal(t, 2, res.Iterations)

	assert.Equal(t, []datatypes.EventKind{
		datatypes.EventDataFrame,
		datatypes.EventToolCall,
		datatypes.EventTextDelta,
	}, kinds(*events))
}

func TestLoop_PermissionDeniedContinues(t *testing.T) {
	client := &scriptedLLM{
		turns: []llm.ChatResult{
			{ToolCalls: []llm.ToolCall{{
				ID: "call-1", Name: ToolRunSQL, Arguments: `{"sql": "SELECT 1 FROM t"}`,
			}}},
			{Content: "sorry", FinishReason: "stop"},
		},
	}
	tb, _ := newToolbox(t, &executor.ResultSet{})
	perms := NewPermissionManager()
	perms.Revoke(datatypes.GroupGuest, ToolRunSQL)
	loop := NewLoop(client, tb, perms, nil)
	emit, events := collectEvents()

	res, err := loop.Run(context.Background(), runInput(datatypes.GroupGuest), emit)
	require.NoError(t, err)

	require.Len(t, res.ToolCalls, 1)
	assert.False(t, res.ToolCalls[0].Success)

	var denied *datatypes.StreamError
	for _, e := range *events {
		if e.Kind == datatypes.EventError {
			denied = e.Err
		}
	}
	require.NotNil(t, denied)
	assert.Equal(t, datatypes.ErrCodePermission, denied.Code)
	assert.Equal(t, 2, client.calls, "loop must continue after a denial")
}

func TestLoop_RejectedSQLIsRecoverable(t *testing.T) {
	client := &scriptedLLM{
		turns: []llm.ChatResult{
			{ToolCalls: []llm.ToolCall{{
				ID: "call-1", Name: ToolRunSQL, Arguments: `{"sql": "DROP TABLE t"}`,
			}}},
			{Content: "cannot do that", FinishReason: "stop"},
		},
	}
	tb, _ := newToolbox(t, &executor.ResultSet{})
	loop := NewLoop(client, tb, NewPermissionManager(), nil)
	emit, _ := collectEvents()

	res, err := loop.Run(context.Background(), runInput(datatypes.GroupUser), emit)
	require.NoError(t, err)

	assert.True(t, res.SQLRejected)
	require.Len(t, res.ToolCalls, 1)
	assert.False(t, res.ToolCalls[0].Success)
	assert.Contains(t, res.ToolCalls[0].ResultSummary, "tool error")
}

func TestLoop_DeadlineRefusesIterations(t *testing.T) {
	client := &scriptedLLM{turns: []llm.ChatResult{{Content: "never reached"}}}
	tb, _ := newToolbox(t, &executor.ResultSet{})
	loop := NewLoop(client, tb, NewPermissionManager(), nil, WithDeadline(time.Nanosecond))
	emit, events := collectEvents()

	time.Sleep(time.Millisecond)
	res, err := loop.Run(context.Background(), runInput(datatypes.GroupUser), emit)
	require.NoError(t, err)

	assert.True(t, res.DeadlineHit)
	assert.Equal(t, 0, client.calls)
	require.Len(t, *events, 1)
	assert.Equal(t, datatypes.ErrCodeDeadlineExceeded, (*events)[0].Err.Code)
}

func TestLoop_IterationBudgetExhausted(t *testing.T) {
	client := &scriptedLLM{
		turns: []llm.ChatResult{
			{ToolCalls: []llm.ToolCall{{
				ID: "loop", Name: ToolRunSQL, Arguments: `{"sql": "SELECT 1 FROM t"}`,
			}}},
		},
	}
	tb, _ := newToolbox(t, &executor.ResultSet{Columns: []string{"c"}})
	loop := NewLoop(client, tb, NewPermissionManager(), nil, WithMaxIterations(2))
	emit, events := collectEvents()

	res, err := loop.Run(context.Background(), runInput(datatypes.GroupUser), emit)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Iterations)
	last := (*events)[len(*events)-1]
	require.Equal(t, datatypes.EventError, last.Kind)
	assert.Equal(t, datatypes.ErrCodeInternal, last.Err.Code)
}

func TestLoop_RetriesModelRoundTripOnce(t *testing.T) {
	client := &scriptedLLM{
		turns:  []llm.ChatResult{{}, {Content: "回答", FinishReason: "stop"}},
		tokens: [][]string{nil, {"回答"}},
		errs:   []error{errors.New("upstream hiccup"), nil},
	}
	tb, _ := newToolbox(t, &executor.ResultSet{})
	loop := NewLoop(client, tb, NewPermissionManager(), nil)
	emit, _ := collectEvents()

	res, err := loop.Run(context.Background(), runInput(datatypes.GroupUser), emit)
	require.NoError(t, err)

	assert.Equal(t, "回答", res.Answer)
	assert.Equal(t, 2, client.calls, "failed round-trip must be retried")
	assert.Equal(t, 1, res.Iterations, "the retry does not consume an iteration")
}

func TestLoop_PersistentModelFailureErrors(t *testing.T) {
	client := &scriptedLLM{
		turns: []llm.ChatResult{{}, {}},
		errs:  []error{errors.New("down"), errors.New("still down")},
	}
	tb, _ := newToolbox(t, &executor.ResultSet{})
	loop := NewLoop(client, tb, NewPermissionManager(), nil)
	emit, _ := collectEvents()

	_, err := loop.Run(context.Background(), runInput(datatypes.GroupUser), emit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model round-trip")
	assert.Equal(t, 2, client.calls, "exactly one retry, then give up")
}

func TestLoop_CanceledContextStops(t *testing.T) {
	client := &scriptedLLM{turns: []llm.ChatResult{{Content: "x"}}}
	tb, _ := newToolbox(t, &executor.ResultSet{})
	loop := NewLoop(client, tb, NewPermissionManager(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	emit, _ := collectEvents()

	_, err := loop.Run(ctx, runInput(datatypes.GroupUser), emit)
	assert.ErrorIs(t, err, context.Canceled)
}
