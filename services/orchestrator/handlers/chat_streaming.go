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
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/agent"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/analyzer"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/fewshot"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/store"
)

var tracer = otel.Tracer("aleutian.orchestrator.handlers")

const heartbeatInterval = 15 * time.Second

// Pipeline step numbers shown to the user. For any step, running
// precedes done/error.
const (
	stepAnalyze  = 1
	stepRetrieve = 2
	stepAnswer   = 3
)

// HandleChatStream is POST /api/chat/stream: the full pipeline behind
// one SSE response. The producer goroutine runs the pipeline and is
// the only writer to the stream buffer; this handler drains it to the
// client. conversation_id is always the first event; [DONE] is last
// except when the client disconnects mid-stream.
func (h *Handlers) HandleChatStream(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "handlers.HandleChatStream")
	defer span.End()

	var req datatypes.ChatStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.resolveUser(ctx, req.UserID, req.UserNickname)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity resolution failed"})
		return
	}
	span.SetAttributes(
		attribute.String("user.group", user.Group),
		attribute.Int("message.bytes", len(req.Message)),
	)

	conv, err := h.loadOrCreateConversation(&req, user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversation setup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "conversation setup failed"})
		return
	}

	if err := h.store.AppendMessage(&datatypes.ConversationMessage{
		ConversationID: conv.ID,
		Role:           datatypes.RoleUser,
		Content:        req.Message,
	}); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message persistence failed"})
		return
	}

	h.auditLog(ctx, extensions.AuditEvent{
		EventType:    "chat.stream",
		Timestamp:    time.Now().UTC(),
		UserID:       user.ID,
		Action:       "stream",
		ResourceType: "conversation",
		ResourceID:   conv.ID,
		Outcome:      "started",
	})

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	h.metrics.StreamStarted()
	defer h.metrics.StreamEnded()

	buffer := newStreamBuffer(streamBufferSize)
	go h.runPipeline(ctx, &req, user, conv, buffer, time.Now())

	h.drain(ctx, writer, buffer)
	h.metrics.RecordDroppedDeltas(buffer.Dropped())
}

// drain forwards buffered events to the client, interleaving
// keepalives, until the producer closes the buffer. A done event
// becomes the [DONE] sentinel.
func (h *Handlers) drain(ctx context.Context, writer SSEWriter, buffer *streamBuffer) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.metrics.RecordKeepAlive()
			if err := writer.WriteKeepAlive(); err != nil {
				h.logger.Debug("keepalive write failed, client likely gone", "error", err)
			}
		case ev, ok := <-buffer.Events():
			if !ok {
				if n := buffer.Dropped(); n > 0 {
					h.logger.Debug("dropped stale text deltas", "count", n)
				}
				return
			}
			if ev.Kind == datatypes.EventDone {
				if err := writer.WriteDone(); err != nil {
					h.logger.Debug("done write failed", "error", err)
				}
				continue
			}
			if err := writer.WriteEvent(ev); err != nil {
				// Client gone; the producer notices via ctx and
				// winds down on its own.
				h.logger.Debug("event write failed", "kind", ev.Kind, "error", err)
			}
		case <-ctx.Done():
			// Flush whatever the producer managed to queue, then
			// stop without a [DONE] sentinel.
			h.metrics.RecordClientDisconnect()
			for ev := range buffer.Events() {
				if ev.Kind == datatypes.EventDone {
					continue
				}
				_ = writer.WriteEvent(ev)
			}
			return
		}
	}
}

// runPipeline is the single producer: analyze, retrieve, compose, run
// the agent, persist. Always closes the buffer.
func (h *Handlers) runPipeline(ctx context.Context, req *datatypes.ChatStreamRequest,
	user datatypes.User, conv *datatypes.Conversation, buffer *streamBuffer, start time.Time) {

	ctx, span := tracer.Start(ctx, "handlers.runPipeline")
	defer span.End()
	defer buffer.Close()

	firstToken := false
	emit := func(ev datatypes.Event) {
		h.metrics.RecordEvent(string(ev.Kind))
		if !firstToken && ev.Kind == datatypes.EventTextDelta {
			firstToken = true
			h.metrics.RecordTimeToFirstToken(time.Since(start).Seconds())
		}
		buffer.Push(ev)
	}

	emit(datatypes.Event{Kind: datatypes.EventConversationID, ConversationID: conv.ID})

	profile := h.loadProfile(user.ID)

	// Stage 1: analysis.
	emit(stepEvent(stepAnalyze, "分析问题", datatypes.StepRunning, ""))
	_, lastAssistant := req.LastTurn()
	uc := analyzer.UserContext{UserID: user.ID, LastTurn: lastAssistant}
	if profile != nil {
		uc.FocusDimensions = profile.FocusDimensions
	}
	analysis := h.analyzer.Analyze(ctx, req.Message, uc)
	emit(stepEvent(stepAnalyze, "分析问题", datatypes.StepDone,
		analysisSummary(analysis)))

	// Stage 2: retrieval.
	emit(stepEvent(stepRetrieve, "检索相似示例", datatypes.StepRunning, ""))
	sel := h.selector.Select(ctx, analysis.RewrittenQuestion, user.ID, fewshot.DefaultLimit, true)
	emit(stepEvent(stepRetrieve, "检索相似示例", datatypes.StepDone,
		fmt.Sprintf("找到 %d 个相似示例", len(sel.Exemplars))))

	systemPrompt := h.composer.Compose(user, profile, analysis, sel.Exemplars)

	// Stage 3: the agent loop.
	emit(stepEvent(stepAnswer, "生成回答", datatypes.StepRunning, ""))
	res, runErr := h.loop.Run(ctx, agent.RunInput{
		User:         user,
		SystemPrompt: systemPrompt,
		History:      req.History,
		Question:     req.Message,
	}, emit)

	aborted := ctx.Err() != nil
	switch {
	case aborted:
		emit(stepEvent(stepAnswer, "生成回答", datatypes.StepError, "已中断"))
		h.metrics.RecordRequest(observability.StatusAborted, time.Since(start).Seconds())
	case runErr != nil:
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "agent run failed")
		emit(errorEvent(datatypes.ErrCodeUpstream,
			"the answer could not be generated", "try again in a moment"))
		emit(stepEvent(stepAnswer, "生成回答", datatypes.StepError, ""))
		h.metrics.RecordRequest(observability.StatusError, time.Since(start).Seconds())
	default:
		emit(stepEvent(stepAnswer, "生成回答", datatypes.StepDone, ""))
		h.metrics.RecordRequest(observability.StatusSuccess, time.Since(start).Seconds())
	}

	h.persistTurn(req, user, conv, analysis, sel.Debug, res, aborted, runErr != nil)

	// No [DONE] after a client disconnect.
	if !aborted {
		emit(datatypes.Event{Kind: datatypes.EventDone})
	}
}

// persistTurn writes the assistant message with its debug footprint,
// plus the learning signals (tool memory, query history, profile).
func (h *Handlers) persistTurn(req *datatypes.ChatStreamRequest, user datatypes.User,
	conv *datatypes.Conversation, analysis *datatypes.Analysis,
	debug *datatypes.FewShotDebug, res *agent.RunResult, aborted, failed bool) {

	// Detached context: persistence must survive the client hanging up.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	extra := &datatypes.MessageExtra{
		SemanticTokens: analysis.SemanticTokens,
		SelectedTables: analysis.SelectedTables,
		Knowledge:      analysis.RelevantKnowledge,
		Feasibility:    &analysis.Feasibility,
		FewShotDebug:   debug,
		Warnings:       analysis.Warnings,
		Aborted:        aborted,
	}
	content := ""
	if res != nil {
		content = res.Answer
		extra.SQL = res.SQL
		extra.ToolCalls = res.ToolCalls
		extra.SQLRejected = res.SQLRejected
		if res.DataFrame != nil {
			extra.FileHash = res.DataFrame.FileHash
		}
		extra.Chart = res.Chart
	}

	if err := h.store.AppendMessage(&datatypes.ConversationMessage{
		ConversationID: conv.ID,
		Role:           datatypes.RoleAssistant,
		Content:        content,
		Extra:          extra,
	}); err != nil {
		h.logger.Error("assistant message persistence failed",
			"conversation_id", conv.ID, "error", err)
	}

	if aborted || failed {
		conv.Aborted = conv.Aborted || aborted
		conv.HasError = conv.HasError || failed
		if err := h.store.UpdateConversation(conv); err != nil {
			h.logger.Warn("conversation flag update failed", "conversation_id", conv.ID, "error", err)
		}
	}

	if res != nil {
		if res.SQLRejected {
			h.metrics.RecordSQLRejection()
		}
		for _, call := range res.ToolCalls {
			h.metrics.RecordToolCall(call.Name, call.Success)
			if err := h.store.AppendToolUsage(&datatypes.ToolUsage{
				UserID:    user.ID,
				ToolName:  call.Name,
				Question:  req.Message,
				Arguments: call.Arguments,
				Summary:   call.ResultSummary,
				Success:   call.Success,
			}); err != nil {
				h.logger.Warn("tool memory write failed", "error", err)
			}
		}
	}

	entry := &datatypes.QueryHistoryEntry{
		UserID:    user.ID,
		QueryText: req.Message,
		Rewritten: analysis.RewrittenQuestion,
		ChartType: analyzer.ChartHint(analysis.SemanticTokens),
	}
	for _, tok := range analysis.SemanticTokens {
		switch tok.Type {
		case datatypes.TokenDimension:
			entry.Dimensions = append(entry.Dimensions, tok.Text)
		case datatypes.TokenMetric:
			entry.Metrics = append(entry.Metrics, tok.Text)
		case datatypes.TokenTimeRule:
			entry.TimeRange = tok.Text
		}
	}
	if err := h.store.AppendQueryHistory(entry); err != nil {
		h.logger.Warn("query history write failed", "error", err)
	}
	if err := h.learner.UpdateProfile(ctx, user.ID); err != nil {
		h.logger.Warn("profile update failed", "user_id", user.ID, "error", err)
	}
}

func (h *Handlers) loadOrCreateConversation(req *datatypes.ChatStreamRequest,
	user datatypes.User) (*datatypes.Conversation, error) {

	if req.ConversationID != "" {
		conv, err := h.store.GetConversation(req.ConversationID)
		if err == nil {
			return conv, nil
		}
		if err != store.ErrNotFound {
			return nil, err
		}
		// Unknown id: fall through and start fresh rather than fail
		// the stream.
	}
	conv := &datatypes.Conversation{
		UserID:       user.ID,
		UserNickname: user.Nickname,
		Summary:      datatypes.DedupKey(req.Message),
		Source:       "web",
	}
	if err := h.store.CreateConversation(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (h *Handlers) loadProfile(userID string) *datatypes.UserProfile {
	profile, err := h.store.GetProfile(userID)
	if err != nil {
		if err != store.ErrNotFound {
			h.logger.Warn("profile load failed", "user_id", userID, "error", err)
		}
		return nil
	}
	return profile
}

func stepEvent(step int, title, status, detail string) datatypes.Event {
	return datatypes.Event{
		Kind: datatypes.EventReasoningStep,
		Step: &datatypes.ReasoningStep{Step: step, Title: title, Status: status, Detail: detail},
	}
}

func errorEvent(code, message, hint string) datatypes.Event {
	return datatypes.Event{
		Kind: datatypes.EventError,
		Err:  &datatypes.StreamError{Code: code, Message: message, Hint: hint},
	}
}

func analysisSummary(a *datatypes.Analysis) string {
	if len(a.SelectedTables) == 0 {
		return "未匹配到数据表"
	}
	names := make([]string, 0, len(a.SelectedTables))
	for _, t := range a.SelectedTables {
		names = append(names, t.Name)
	}
	return "选择数据表: " + strings.Join(names, ", ")
}
