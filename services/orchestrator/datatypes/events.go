// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file defines the closed set of stream event kinds carried over the
// chat SSE channel, and the wire encoding used by the stream orchestrator.
// Unknown fields on inbound payloads are preserved (store-and-forward);
// unknown event kinds are rejected.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Event Kinds
// =============================================================================

// EventKind identifies one kind of stream event.
//
// The set is closed: the stream orchestrator only ever produces these kinds,
// and ParseWireEvent rejects anything else.
type EventKind string

const (
	// EventConversationID announces the conversation identifier. It is
	// always the first event of a stream.
	EventConversationID EventKind = "conversation_id"

	// EventReasoningStep reports analyzer/agent progress visible to the user.
	EventReasoningStep EventKind = "reasoning_step"

	// EventTextDelta carries a chunk of assistant answer text.
	EventTextDelta EventKind = "text_delta"

	// EventToolCall reports a tool invocation and its outcome.
	EventToolCall EventKind = "tool_call"

	// EventDataFrame references a tabular query result artifact.
	EventDataFrame EventKind = "dataframe"

	// EventChart carries a chart descriptor derived from a dataframe.
	EventChart EventKind = "chart"

	// EventError reports a stream-level failure. It is followed by done.
	EventError EventKind = "error"

	// EventDone terminates a successful (or error-terminated) stream.
	EventDone EventKind = "done"
)

// StepStatus values for reasoning steps.
const (
	StepRunning = "running"
	StepDone    = "done"
	StepError   = "error"
)

// Stream error codes (see the error taxonomy in the service docs).
const (
	ErrCodeValidation       = "validation_error"
	ErrCodeUpstream         = "upstream_error"
	ErrCodeNotFound         = "not_found"
	ErrCodePermission       = "permission_denied"
	ErrCodeDeadlineExceeded = "deadline_exceeded"
	ErrCodeInternal         = "internal"
)

// =============================================================================
// Event Payloads
// =============================================================================

// ReasoningStep is a user-visible progress record. For a given Step number,
// a running event always precedes its done/error event.
type ReasoningStep struct {
	Step   int    `json:"step"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ToolCallInfo describes one tool invocation made by the agent loop.
type ToolCallInfo struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Summary   string `json:"summary,omitempty"`
	Success   bool   `json:"success"`
}

// DataFrameInfo references the CSV artifact produced by a run_sql call.
// The artifact {FileHash}/query_results_*.csv exists before this event
// is emitted.
type DataFrameInfo struct {
	FileHash string     `json:"file_hash"`
	RowCount int        `json:"row_count"`
	Columns  []string   `json:"columns"`
	Preview  [][]string `json:"preview,omitempty"`
}

// ChartInfo is a rendering hint; the service never renders charts itself.
type ChartInfo struct {
	Type     string `json:"type"`
	XKey     string `json:"x_key,omitempty"`
	YKey     string `json:"y_key,omitempty"`
	Title    string `json:"title,omitempty"`
	FileHash string `json:"file_hash,omitempty"`
}

// StreamError is the payload of an error event. Message is sanitized for
// client display; Hint gives the user something actionable.
type StreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// =============================================================================
// Event
// =============================================================================

// Event is one entry in a request's ordered event sequence.
//
// Exactly one payload field is set, matching Kind. At is the producer
// timestamp; the stream buffer uses it for its text-delta drop policy.
type Event struct {
	Kind           EventKind
	ConversationID string
	Text           string
	Step           *ReasoningStep
	ToolCall       *ToolCallInfo
	DataFrame      *DataFrameInfo
	Chart          *ChartInfo
	Err            *StreamError
	At             time.Time
}

// Droppable reports whether the event may be discarded under backpressure.
// Only plain text deltas are droppable; structured events never are.
func (e Event) Droppable() bool {
	return e.Kind == EventTextDelta
}

// =============================================================================
// Wire Encoding
// =============================================================================

// richPayload is the "rich" member of the wire shape.
type richPayload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// simplePayload is the "simple" member of the wire shape.
type simplePayload struct {
	Text string `json:"text"`
}

// wireEvent is the JSON shape written on the SSE channel:
//
//	{ "conversationId"?: "...",
//	  "rich"?: { "type": "...", "data": { ... } },
//	  "simple"?: { "text": "..." },
//	  "dedupKey"?: "..." }
type wireEvent struct {
	ConversationID string         `json:"conversationId,omitempty"`
	Rich           *richPayload   `json:"rich,omitempty"`
	Simple         *simplePayload `json:"simple,omitempty"`
	DedupKey       string         `json:"dedupKey,omitempty"`
}

// DedupKey derives the stable deduplication key for a text delta: the first
// 50 characters of the trimmed content. Consumers suppress duplicate keys
// within one request; the server is allowed to repeat them.
func DedupKey(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return string(runes)
}

// MarshalWire encodes the event into the SSE wire shape.
//
// # Outputs
//
//   - []byte: JSON document for a single "data:" line.
//   - error: Non-nil if the payload cannot be serialized or the event kind
//     has no wire representation.
func (e Event) MarshalWire() ([]byte, error) {
	var w wireEvent

	switch e.Kind {
	case EventConversationID:
		w.ConversationID = e.ConversationID
	case EventTextDelta:
		w.Simple = &simplePayload{Text: e.Text}
		w.DedupKey = DedupKey(e.Text)
	case EventReasoningStep:
		if err := setRich(&w, string(EventReasoningStep), e.Step); err != nil {
			return nil, err
		}
	case EventToolCall:
		if err := setRich(&w, string(EventToolCall), e.ToolCall); err != nil {
			return nil, err
		}
	case EventDataFrame:
		if err := setRich(&w, string(EventDataFrame), e.DataFrame); err != nil {
			return nil, err
		}
	case EventChart:
		if err := setRich(&w, string(EventChart), e.Chart); err != nil {
			return nil, err
		}
	case EventError:
		if err := setRich(&w, string(EventError), e.Err); err != nil {
			return nil, err
		}
	case EventDone:
		// The done sentinel is written by the SSE writer as "[DONE]",
		// not as a JSON event.
		return nil, fmt.Errorf("done event has no wire body")
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}

	return json.Marshal(w)
}

func setRich(w *wireEvent, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	w.Rich = &richPayload{Type: kind, Data: data}
	return nil
}

// wireRichKinds is the closed set of rich.type values accepted on parse.
var wireRichKinds = map[string]EventKind{
	string(EventReasoningStep): EventReasoningStep,
	string(EventToolCall):      EventToolCall,
	string(EventDataFrame):     EventDataFrame,
	string(EventChart):         EventChart,
	string(EventError):         EventError,
	// status_card is produced by legacy frontends; it is accepted and
	// surfaced as a reasoning step.
	"status_card": EventReasoningStep,
}

// ParseWireEvent decodes one wire JSON document back into an Event.
//
// Unknown top-level fields are ignored (permissive), but an unrecognized
// rich.type is an error: the event-kind vocabulary is closed.
func ParseWireEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("decode stream event: %w", err)
	}

	switch {
	case w.ConversationID != "":
		return Event{Kind: EventConversationID, ConversationID: w.ConversationID}, nil
	case w.Simple != nil:
		return Event{Kind: EventTextDelta, Text: w.Simple.Text}, nil
	case w.Rich != nil:
		kind, ok := wireRichKinds[w.Rich.Type]
		if !ok {
			return Event{}, fmt.Errorf("unknown rich event type %q", w.Rich.Type)
		}
		ev := Event{Kind: kind}
		var err error
		switch kind {
		case EventReasoningStep:
			ev.Step = &ReasoningStep{}
			err = json.Unmarshal(w.Rich.Data, ev.Step)
		case EventToolCall:
			ev.ToolCall = &ToolCallInfo{}
			err = json.Unmarshal(w.Rich.Data, ev.ToolCall)
		case EventDataFrame:
			ev.DataFrame = &DataFrameInfo{}
			err = json.Unmarshal(w.Rich.Data, ev.DataFrame)
		case EventChart:
			ev.Chart = &ChartInfo{}
			err = json.Unmarshal(w.Rich.Data, ev.Chart)
		case EventError:
			ev.Err = &StreamError{}
			err = json.Unmarshal(w.Rich.Data, ev.Err)
		}
		if err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", w.Rich.Type, err)
		}
		return ev, nil
	}

	return Event{}, fmt.Errorf("stream event has no recognizable payload")
}
