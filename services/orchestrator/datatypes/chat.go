// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains request types for the streaming chat endpoint and the
// message shape shared with the LLM clients.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Per SEC-003: Unbounded message input mitigation.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxHistoryMessages is the maximum number of history messages accepted
	// on a chat request. Per SEC-004: Unbounded message history mitigation.
	MaxHistoryMessages = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Register custom validator for message content size (SEC-003)
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces the SEC-003 byte-length cap. It checks byte
// length (not rune count) to prevent memory exhaustion with large payloads.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Message
// =============================================================================

// Message is a single chat message exchanged with an LLM backend.
//
// Role is one of "system", "user", "assistant", or "tool". ToolCallID links
// a tool-role result back to the assistant tool call that requested it;
// ToolCalls is set on assistant messages that requested tool execution.
type Message struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	Name       string            `json:"name,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []MessageToolCall `json:"tool_calls,omitempty"`
}

// MessageToolCall is one tool invocation requested by an assistant
// message. Arguments is the raw JSON argument document.
type MessageToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// =============================================================================
// Chat Stream Request
// =============================================================================

// ChatStreamRequest is the body of POST /api/chat/stream.
//
// # Fields
//
//   - Message: Required. The user's question. Limited to 32KB (SEC-003).
//   - ConversationID: Optional. Continues an existing conversation; a new
//     one is created when empty.
//   - History: Optional. Prior turns supplied by the client (0-100 entries).
//     Used for pronoun resolution during question rewriting; the durable
//     transcript is server-side.
//   - UserID: Required. Owner of the conversation; also keys tool
//     permissions and the personalization profile.
//   - UserNickname: Optional display name, persisted on the conversation.
//
// # Validation
//
// Uses go-playground/validator:
//   - Message: required, max 32768 bytes per SEC-003
//   - History: max 100 elements, each element validated
//   - UserID: required
type ChatStreamRequest struct {
	Message        string    `json:"message" validate:"required,maxbytes"`
	ConversationID string    `json:"conversationId"`
	History        []Message `json:"history" validate:"max=100,dive"`
	UserID         string    `json:"userId" validate:"required"`
	UserNickname   string    `json:"userNickname"`
}

// Validate validates the ChatStreamRequest fields.
//
// This method should be called after binding the JSON request.
func (r *ChatStreamRequest) Validate() error {
	return chatValidate.Struct(r)
}

// LastTurn returns the most recent user/assistant exchange from History,
// or empty strings when there is no prior turn. The analyzer uses it for
// pronoun resolution.
func (r *ChatStreamRequest) LastTurn() (user, assistant string) {
	for i := len(r.History) - 1; i >= 0; i-- {
		m := r.History[i]
		switch m.Role {
		case RoleAssistant:
			if assistant == "" {
				assistant = m.Content
			}
		case RoleUser:
			if user == "" && assistant != "" {
				user = m.Content
			}
		}
		if user != "" && assistant != "" {
			break
		}
	}
	return user, assistant
}
