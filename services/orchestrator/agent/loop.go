// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent runs the tool-calling loop: it iterates with the
// model, dispatches run_sql and visualize_data calls, and emits the
// resulting events in producer order.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aleutian.agent")

const (
	// DefaultMaxIterations bounds model round-trips per request.
	DefaultMaxIterations = 8
	// DefaultDeadline bounds wall-clock time per request. The
	// iteration in flight when it expires is allowed to finish.
	DefaultDeadline = 60 * time.Second
)

// Emitter receives loop events in order. Implementations must not
// block indefinitely; the stream buffer applies its own backpressure.
type Emitter func(datatypes.Event)

// RunInput is everything one agent run needs.
type RunInput struct {
	User         datatypes.User
	SystemPrompt string
	History      []datatypes.Message
	Question     string
}

// RunResult summarizes a completed (or deadline-cut) run for
// persistence.
type RunResult struct {
	Answer      string
	SQL         string
	DataFrame   *datatypes.DataFrameInfo
	Chart       *datatypes.ChartInfo
	ToolCalls   []datatypes.ToolCallRecord
	Iterations  int
	DeadlineHit bool
	SQLRejected bool
}

// Loop is the agent executor. Stateless across runs; safe for
// concurrent use.
type Loop struct {
	client        llm.LLMClient
	tools         *Toolbox
	perms         *PermissionManager
	logger        *slog.Logger
	maxIterations int
	deadline      time.Duration
}

type LoopOption func(*Loop)

func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

func WithDeadline(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.deadline = d
		}
	}
}

func NewLoop(client llm.LLMClient, tools *Toolbox, perms *PermissionManager, logger *slog.Logger, opts ...LoopOption) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		client:        client,
		tools:         tools,
		perms:         perms,
		logger:        logger,
		maxIterations: DefaultMaxIterations,
		deadline:      DefaultDeadline,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run drives the loop to completion. Tool failures are recoverable and
// fed back to the model; only a failed model round-trip or a canceled
// context returns an error. The emitted event sequence is totally
// ordered because Run is the only producer.
func (l *Loop) Run(ctx context.Context, in RunInput, emit Emitter) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "agent.Run")
	defer span.End()
	span.SetAttributes(attribute.String("user.group", in.User.Group))

	deadlineAt := time.Now().Add(l.deadline)
	res := &RunResult{}
	var visible strings.Builder

	messages := make([]datatypes.Message, 0, len(in.History)+2)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleSystem, Content: in.SystemPrompt})
	messages = append(messages, in.History...)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleUser, Content: in.Question})

	retried := false
	for iter := 1; iter <= l.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			res.Answer = visible.String()
			return res, err
		}
		if time.Now().After(deadlineAt) {
			res.DeadlineHit = true
			emit(errEvent(datatypes.ErrCodeDeadlineExceeded,
				"the request ran out of time", "try a narrower question"))
			break
		}
		res.Iterations = iter

		chat, err := l.client.ChatStream(ctx, messages, Definitions(), llm.GenerationParams{},
			func(ev llm.StreamEvent) error {
				if ev.Type == llm.StreamEventToken && ev.Token != "" {
					visible.WriteString(ev.Token)
					emit(datatypes.Event{
						Kind: datatypes.EventTextDelta,
						Text: ev.Token,
						At:   time.Now(),
					})
				}
				return nil
			})
		if err != nil {
			// One retry per run; a transient upstream failure should
			// not cost the user the whole request. Clients drop any
			// repeated partial deltas via the dedup key.
			if !retried && ctx.Err() == nil {
				retried = true
				l.logger.Warn("model round-trip failed, retrying", "error", err)
				iter--
				continue
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "model round-trip failed")
			res.Answer = visible.String()
			return res, fmt.Errorf("model round-trip: %w", err)
		}

		if len(chat.ToolCalls) == 0 {
			res.Answer = visible.String()
			span.SetAttributes(attribute.Int("iterations", iter))
			return res, nil
		}

		messages = append(messages, assistantToolMessage(chat))
		for _, call := range chat.ToolCalls {
			messages = append(messages, l.dispatch(ctx, in.User, call, res, emit))
		}
	}

	if !res.DeadlineHit {
		emit(errEvent(datatypes.ErrCodeInternal,
			"the agent could not converge on an answer",
			"rephrase the question or split it up"))
	}
	res.Answer = visible.String()
	span.SetAttributes(attribute.Int("iterations", res.Iterations))
	return res, nil
}

// dispatch executes one tool call and returns the tool-role message to
// append to the transcript.
func (l *Loop) dispatch(ctx context.Context, user datatypes.User, call llm.ToolCall,
	res *RunResult, emit Emitter) datatypes.Message {

	record := datatypes.ToolCallRecord{
		Name:      call.Name,
		Arguments: call.Arguments,
		CalledAt:  time.Now().UTC(),
	}

	reply, failure := l.execute(ctx, user, call, res, emit)
	record.Success = failure == nil
	if failure != nil {
		reply = "tool error: " + failure.Error()
		l.logger.Warn("tool call failed",
			"tool", call.Name, "user_id", user.ID, "error", failure)
	}
	record.ResultSummary = truncate(reply, 500)
	res.ToolCalls = append(res.ToolCalls, record)

	emit(datatypes.Event{
		Kind: datatypes.EventToolCall,
		ToolCall: &datatypes.ToolCallInfo{
			Name:      call.Name,
			Arguments: call.Arguments,
			Summary:   record.ResultSummary,
			Success:   record.Success,
		},
		At: time.Now(),
	})

	return datatypes.Message{
		Role:       datatypes.RoleTool,
		Content:    reply,
		Name:       call.Name,
		ToolCallID: call.ID,
	}
}

func (l *Loop) execute(ctx context.Context, user datatypes.User, call llm.ToolCall,
	res *RunResult, emit Emitter) (string, error) {

	if !l.perms.Allowed(user.Group, call.Name) {
		emit(errEvent(datatypes.ErrCodePermission,
			fmt.Sprintf("group %q may not use %s", user.Group, call.Name), ""))
		return "", fmt.Errorf("permission denied for tool %s", call.Name)
	}

	out, err := l.tools.Dispatch(ctx, call.Name, call.Arguments)
	if err != nil {
		if strings.Contains(err.Error(), "sql rejected") {
			res.SQLRejected = true
		}
		return "", err
	}

	if out.SQL != "" {
		res.SQL = out.SQL
	}
	if out.DataFrame != nil {
		res.DataFrame = out.DataFrame
		emit(datatypes.Event{Kind: datatypes.EventDataFrame, DataFrame: out.DataFrame, At: time.Now()})
	}
	if out.Chart != nil {
		res.Chart = out.Chart
		emit(datatypes.Event{Kind: datatypes.EventChart, Chart: out.Chart, At: time.Now()})
	}
	return out.Reply, nil
}

func assistantToolMessage(chat llm.ChatResult) datatypes.Message {
	msg := datatypes.Message{Role: datatypes.RoleAssistant, Content: chat.Content}
	for _, c := range chat.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, datatypes.MessageToolCall{
			ID:        c.ID,
			Name:      c.Name,
			Arguments: c.Arguments,
		})
	}
	return msg
}

func errEvent(code, message, hint string) datatypes.Event {
	return datatypes.Event{
		Kind: datatypes.EventError,
		Err:  &datatypes.StreamError{Code: code, Message: message, Hint: hint},
		At:   time.Now(),
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	for len(string(runes)) > max {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
