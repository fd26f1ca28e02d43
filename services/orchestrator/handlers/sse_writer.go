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
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes the event stream in the wire format clients consume:
// one "data: <json>\n\n" frame per event, terminated by the literal
// "data: [DONE]\n\n" sentinel. Implementations must be safe for
// concurrent use.
type SSEWriter interface {
	// WriteEvent serializes one event and flushes it immediately.
	// The done kind must go through WriteDone instead; it has no JSON
	// body.
	WriteEvent(event datatypes.Event) error

	// WriteDone emits the [DONE] sentinel. Call at most once, last.
	WriteDone() error

	// WriteKeepAlive sends an SSE comment to reset load-balancer idle
	// timers during long operations. Clients ignore it.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter wraps an http.ResponseWriter. A mutex serializes writes;
// the handler's keepalive ticker runs on a separate goroutine from the
// event drain.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter wraps w. Fails when the ResponseWriter cannot flush,
// which would make streaming pointless.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.Event) error {
	body, err := event.MarshalWire()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", body); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteDone() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprint(w.writer, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("write done sentinel: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response for streaming. Must run before
// the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// Compile-time interface check.
var _ SSEWriter = (*sseWriter)(nil)
