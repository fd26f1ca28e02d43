// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the query
// pipeline.
//
// # Description
//
// Metrics cover the streaming chat endpoint end to end: request counts,
// stream durations, time to first token, per-kind event counts, tool
// executions, SQL guard rejections, backpressure drops, and learner
// admissions.
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for pipeline metrics
const pipelineSubsystem = "query"

// PipelineMetrics holds all Prometheus metrics for the chat pipeline.
//
// Initialize once at startup via InitMetrics(). All operations are
// thread-safe.
type PipelineMetrics struct {
	// RequestsTotal counts streaming requests.
	// Labels: status (success, error, aborted)
	RequestsTotal *prometheus.CounterVec

	// ActiveStreams tracks currently open streaming connections.
	ActiveStreams prometheus.Gauge

	// StreamDurationSeconds measures total stream duration.
	// Labels: status (success, error, aborted)
	StreamDurationSeconds *prometheus.HistogramVec

	// TimeToFirstTokenSeconds measures latency from request to the
	// first answer token.
	TimeToFirstTokenSeconds prometheus.Histogram

	// EventsTotal counts emitted stream events by kind.
	// Labels: kind (text_delta, reasoning_step, dataframe, ...)
	EventsTotal *prometheus.CounterVec

	// DroppedDeltasTotal counts text deltas discarded under
	// backpressure.
	DroppedDeltasTotal prometheus.Counter

	// ToolCallsTotal counts agent tool executions.
	// Labels: tool (run_sql, visualize_data), status (success, error)
	ToolCallsTotal *prometheus.CounterVec

	// SQLRejectionsTotal counts statements blocked by the SQL guard.
	SQLRejectionsTotal prometheus.Counter

	// LearnerActionsTotal counts learner admission outcomes.
	// Labels: action (stored, updated, skipped)
	LearnerActionsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive pings sent.
	KeepAlivesTotal prometheus.Counter

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	ClientDisconnectsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of PipelineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once
// at startup; a second call panics on duplicate registration.
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "requests_total",
				Help:      "Total streaming chat requests by terminal status",
			},
			[]string{"status"},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open streaming connections",
			},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		TimeToFirstTokenSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first answer token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		EventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "events_total",
				Help:      "Total stream events emitted by kind",
			},
			[]string{"kind"},
		),

		DroppedDeltasTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "dropped_deltas_total",
				Help:      "Total text deltas discarded under backpressure",
			},
		),

		ToolCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "tool_calls_total",
				Help:      "Total agent tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		SQLRejectionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "sql_rejections_total",
				Help:      "Total statements blocked by the SQL safeguard",
			},
		),

		LearnerActionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "learner_actions_total",
				Help:      "Total learner admission outcomes by action",
			},
			[]string{"action"},
		),

		KeepAlivesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
		),

		ClientDisconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// Stream status labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusAborted = "aborted"
)

// RecordRequest records a completed streaming request and its duration.
func (m *PipelineMetrics) RecordRequest(status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
	m.StreamDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// StreamStarted increments the active stream gauge.
func (m *PipelineMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *PipelineMetrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

// RecordEvent counts one emitted stream event.
func (m *PipelineMetrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// RecordTimeToFirstToken records first-token latency.
func (m *PipelineMetrics) RecordTimeToFirstToken(seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.Observe(seconds)
}

// RecordDroppedDeltas adds n discarded deltas.
func (m *PipelineMetrics) RecordDroppedDeltas(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.DroppedDeltasTotal.Add(float64(n))
}

// RecordToolCall records one tool execution outcome.
func (m *PipelineMetrics) RecordToolCall(tool string, success bool) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordSQLRejection counts one guard rejection.
func (m *PipelineMetrics) RecordSQLRejection() {
	if m == nil {
		return
	}
	m.SQLRejectionsTotal.Inc()
}

// RecordLearnerAction counts one admission outcome.
func (m *PipelineMetrics) RecordLearnerAction(action string) {
	if m == nil {
		return
	}
	m.LearnerActionsTotal.WithLabelValues(action).Inc()
}

// RecordKeepAlive counts one keepalive ping.
func (m *PipelineMetrics) RecordKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.Inc()
}

// RecordClientDisconnect counts one mid-stream disconnect.
func (m *PipelineMetrics) RecordClientDisconnect() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}
