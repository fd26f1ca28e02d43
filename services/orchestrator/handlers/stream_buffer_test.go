// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

func TestStreamBuffer_OrderPreserved(t *testing.T) {
	buf := newStreamBuffer(8)
	buf.Push(datatypes.Event{Kind: datatypes.EventConversationID, ConversationID: "c-1"})
	buf.Push(datatypes.Event{Kind: datatypes.EventTextDelta, Text: "你好"})
	buf.Push(datatypes.Event{Kind: datatypes.EventDone})
	buf.Close()

	var got []datatypes.EventKind
	for ev := range buf.Events() {
		got = append(got, ev.Kind)
	}
	assert.Equal(t, []datatypes.EventKind{
		datatypes.EventConversationID,
		datatypes.EventTextDelta,
		datatypes.EventDone,
	}, got)
	assert.Zero(t, buf.Dropped())
}

func TestStreamBuffer_DropsStaleDeltasWhenNearFull(t *testing.T) {
	buf := newStreamBuffer(10) // high water at 8

	for i := 0; i < 9; i++ {
		buf.Push(datatypes.Event{Kind: datatypes.EventTextDelta, Text: "x", At: time.Now()})
	}

	stale := datatypes.Event{
		Kind: datatypes.EventTextDelta,
		Text: "stale",
		At:   time.Now().Add(-time.Second),
	}
	buf.Push(stale)
	assert.Equal(t, int64(1), buf.Dropped())
	assert.Len(t, buf.ch, 9)

	// A fresh delta still goes in.
	buf.Push(datatypes.Event{Kind: datatypes.EventTextDelta, Text: "fresh", At: time.Now()})
	assert.Equal(t, int64(1), buf.Dropped())
	assert.Len(t, buf.ch, 10)
}

func TestStreamBuffer_NeverDropsStructuredEvents(t *testing.T) {
	buf := newStreamBuffer(10)
	for i := 0; i < 9; i++ {
		buf.Push(datatypes.Event{Kind: datatypes.EventTextDelta, Text: "x", At: time.Now()})
	}

	stale := datatypes.Event{
		Kind: datatypes.EventReasoningStep,
		Step: &datatypes.ReasoningStep{Step: 1, Title: "分析问题", Status: datatypes.StepDone},
		At:   time.Now().Add(-time.Second),
	}
	buf.Push(stale)
	assert.Zero(t, buf.Dropped())
	assert.Len(t, buf.ch, 10)
}

func TestStreamBuffer_StampsMissingTimestamp(t *testing.T) {
	buf := newStreamBuffer(2)
	buf.Push(datatypes.Event{Kind: datatypes.EventTextDelta, Text: "x"})
	buf.Close()

	ev, ok := <-buf.Events()
	require.True(t, ok)
	assert.False(t, ev.At.IsZero())
}
