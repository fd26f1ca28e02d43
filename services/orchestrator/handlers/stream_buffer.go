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
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

const (
	// streamBufferSize bounds the event queue between the pipeline
	// producer and the network writer.
	streamBufferSize = 256

	// dropHighWater is the fill fraction above which stale text
	// deltas may be discarded.
	dropHighWater = 0.8

	// dropStaleAfter is the minimum age of a droppable delta before
	// the drop policy applies.
	dropStaleAfter = 100 * time.Millisecond
)

// streamBuffer is the single-producer single-consumer event queue of
// one request. Push blocks when full, except that text deltas older
// than dropStaleAfter are dropped once the buffer is more than 80%
// full; structured events are never dropped, so ordering and the
// dataframe-before-chart guarantee hold.
type streamBuffer struct {
	ch        chan datatypes.Event
	highWater int
	dropped   atomic.Int64
}

func newStreamBuffer(size int) *streamBuffer {
	if size <= 0 {
		size = streamBufferSize
	}
	return &streamBuffer{
		ch:        make(chan datatypes.Event, size),
		highWater: int(float64(size) * dropHighWater),
	}
}

// Push enqueues one event, applying the drop policy to stale deltas.
func (b *streamBuffer) Push(ev datatypes.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if ev.Droppable() && len(b.ch) > b.highWater && time.Since(ev.At) > dropStaleAfter {
		b.dropped.Add(1)
		return
	}
	b.ch <- ev
}

// Close signals the consumer that no more events follow.
func (b *streamBuffer) Close() { close(b.ch) }

// Events is the consumer side; ranges until Close.
func (b *streamBuffer) Events() <-chan datatypes.Event { return b.ch }

// Dropped reports how many stale deltas were discarded.
func (b *streamBuffer) Dropped() int64 { return b.dropped.Load() }
