// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"sync"
	"time"
)

// AuditEvent is one security-relevant event. Events are categorized as
// "category.action", e.g. "chat.stream", "tool.denied", "sql.rejected",
// "knowledge.update".
type AuditEvent struct {
	// EventType in "category.action" form.
	EventType string

	// Timestamp in UTC; implementations set it when zero.
	Timestamp time.Time

	// UserID is who performed the action ("system" for automation).
	UserID string

	// Action is the operation attempted.
	Action string

	// ResourceType and ResourceID identify the target, e.g.
	// ("conversation", convID) or ("qa_pair", qaID).
	ResourceType string
	ResourceID   string

	// Outcome is "success", "failure", "blocked", or "error".
	Outcome string

	// Metadata holds event-specific detail. Never put raw SQL result
	// data or credentials here.
	Metadata map[string]any
}

// AuditLogger records audit events. Log must return quickly; buffered
// implementations drain on Flush, which is called at shutdown.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events. Default for open source
// single-tenant deployments.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error { return nil }

// Flush is a no-op.
func (l *NopAuditLogger) Flush(ctx context.Context) error { return nil }

// MemoryAuditLogger keeps events in memory. Used by tests.
type MemoryAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
}

// Log appends the event, stamping Timestamp if unset.
func (l *MemoryAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// Flush is a no-op.
func (l *MemoryAuditLogger) Flush(ctx context.Context) error { return nil }

// Events returns a copy of the recorded events.
func (l *MemoryAuditLogger) Events() []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
