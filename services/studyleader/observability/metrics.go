// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for study sessions.
//
// # Description
//
// Metrics cover the run lifecycle and session operations:
//   - Active polls gauge
//   - Poll ticks by observed run status
//   - Run outcomes and time spent waiting for them
//   - Session operations by result
//   - Assistants left behind by a failed teardown
//
// Metrics are exposed on /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is safe on a nil *SessionMetrics, so components can run
// without metrics in tests.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "studyleader"
	sessionSubsystem = "session"
	runSubsystem     = "run"
)

// Outcome labels for finished polls.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeAborted   = "aborted"
	OutcomeError     = "error"
)

// Operation labels for session operations.
const (
	OperationStart   = "start"
	OperationPost    = "post"
	OperationHistory = "history"
	OperationEnd     = "end"
)

// SessionMetrics holds all Prometheus metrics for the service.
//
// # Fields
//
//   - PollsActive: Gauge of polls currently waiting on a run
//   - PollTicksTotal: Counter of status checks by observed status
//   - RunsTotal: Counter of finished polls by outcome
//   - RunWaitSeconds: Histogram of time from first tick to outcome
//   - OperationsTotal: Counter of session operations by operation and status
//   - OrphanedAssistantsTotal: Counter of assistants whose thread was
//     deleted but which could not be deleted themselves
type SessionMetrics struct {
	PollsActive             prometheus.Gauge
	PollTicksTotal          *prometheus.CounterVec
	RunsTotal               *prometheus.CounterVec
	RunWaitSeconds          *prometheus.HistogramVec
	OperationsTotal         *prometheus.CounterVec
	OrphanedAssistantsTotal prometheus.Counter
}

// InitMetrics creates the metrics on the default Prometheus registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *SessionMetrics {
	return NewSessionMetrics(prometheus.DefaultRegisterer)
}

// NewSessionMetrics creates and registers the metrics on reg. Tests pass a
// fresh prometheus.NewRegistry() to stay isolated.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	factory := promauto.With(reg)

	return &SessionMetrics{
		PollsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: runSubsystem,
			Name:      "polls_active",
			Help:      "Number of runs currently being polled",
		}),

		PollTicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: runSubsystem,
			Name:      "poll_ticks_total",
			Help:      "Run status checks by observed status",
		}, []string{"status"}),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: runSubsystem,
			Name:      "outcomes_total",
			Help:      "Finished polls by outcome",
		}, []string{"outcome"}),

		RunWaitSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: runSubsystem,
			Name:      "wait_seconds",
			Help:      "Time spent polling a run until its outcome",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"outcome"}),

		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "operations_total",
			Help:      "Session operations by operation and status",
		}, []string{"operation", "status"}),

		OrphanedAssistantsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "orphaned_assistants_total",
			Help:      "Assistants left undeleted after their thread was deleted",
		}),
	}
}

// =============================================================================
// Recording Helpers
// =============================================================================

// PollStarted increments the active polls gauge.
func (m *SessionMetrics) PollStarted() {
	if m == nil {
		return
	}
	m.PollsActive.Inc()
}

// PollFinished decrements the active gauge and records the outcome.
func (m *SessionMetrics) PollFinished(outcome string, waited time.Duration) {
	if m == nil {
		return
	}
	m.PollsActive.Dec()
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunWaitSeconds.WithLabelValues(outcome).Observe(waited.Seconds())
}

// PollTick records one status check.
func (m *SessionMetrics) PollTick(status string) {
	if m == nil {
		return
	}
	m.PollTicksTotal.WithLabelValues(status).Inc()
}

// RecordOperation records a session operation result.
func (m *SessionMetrics) RecordOperation(operation string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}

// AssistantOrphaned records an assistant left behind by teardown.
func (m *SessionMetrics) AssistantOrphaned() {
	if m == nil {
		return
	}
	m.OrphanedAssistantsTotal.Inc()
}
