// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the analysis service.
//
// # Description
//
// Metrics cover the agent pipeline end to end:
//   - Run counters (by stage, terminal status, cache hit/miss)
//   - Run and provider latency histograms
//   - Dropped hallucinated references (the validator's discrepancy signal)
//   - Artifacts written per commit
//   - Revision conflicts and rate-limit denials
//
// Metrics are exposed via the /metrics endpoint. All recording helpers are
// nil-safe: when InitMetrics was never called (tests, metrics disabled)
// they are no-ops.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "gembaflow"

const agentSubsystem = "agent"

// AgentMetrics holds all Prometheus metrics for the analysis pipeline.
type AgentMetrics struct {
	// RunsTotal counts stage invocations by terminal outcome.
	// Labels: stage, status (succeeded, failed, precondition), cached (true, false)
	RunsTotal *prometheus.CounterVec

	// RunDurationSeconds measures wall time per non-cached invocation.
	// Labels: stage, status
	RunDurationSeconds *prometheus.HistogramVec

	// ProviderLatencySeconds measures the reasoning provider call alone.
	// Labels: provider, stage
	ProviderLatencySeconds *prometheus.HistogramVec

	// DroppedRefsTotal counts references stripped by the output validator.
	// Labels: stage, ref_type
	DroppedRefsTotal *prometheus.CounterVec

	// ArtifactsWrittenTotal counts artifacts committed by the writer.
	// Labels: stage
	ArtifactsWrittenTotal *prometheus.CounterVec

	// RevisionConflictsTotal counts optimistic-concurrency conflicts.
	// Labels: kind
	RevisionConflictsTotal *prometheus.CounterVec

	// RateLimitDeniedTotal counts denied stage invocations.
	// Labels: stage
	RateLimitDeniedTotal *prometheus.CounterVec
}

var (
	metrics  *AgentMetrics
	initOnce sync.Once
)

// InitMetrics registers all pipeline metrics with the default registry.
// Safe to call more than once; only the first call registers.
func InitMetrics() {
	initOnce.Do(func() {
		metrics = &AgentMetrics{
			RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "runs_total",
				Help:      "Stage invocations by terminal outcome and cache disposition.",
			}, []string{"stage", "status", "cached"}),

			RunDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "run_duration_seconds",
				Help:      "Wall time of non-cached stage invocations.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			}, []string{"stage", "status"}),

			ProviderLatencySeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "provider_latency_seconds",
				Help:      "Latency of the reasoning provider call.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			}, []string{"provider", "stage"}),

			DroppedRefsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "dropped_refs_total",
				Help:      "Hallucinated entity references stripped by the output validator.",
			}, []string{"stage", "ref_type"}),

			ArtifactsWrittenTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "artifacts_written_total",
				Help:      "Artifacts committed by the replace-and-persist writer.",
			}, []string{"stage"}),

			RevisionConflictsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "revision_conflicts_total",
				Help:      "Optimistic-concurrency conflicts on curator updates.",
			}, []string{"kind"}),

			RateLimitDeniedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "rate_limit_denied_total",
				Help:      "Stage invocations denied by the per-user rate limiter.",
			}, []string{"stage"}),
		}
	})
}

// RecordRun records one terminal stage invocation.
func RecordRun(stage, status string, cached bool, duration time.Duration) {
	if metrics == nil {
		return
	}
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	metrics.RunsTotal.WithLabelValues(stage, status, cachedLabel).Inc()
	if !cached {
		metrics.RunDurationSeconds.WithLabelValues(stage, status).Observe(duration.Seconds())
	}
}

// RecordProviderCall records the latency of one reasoning provider call.
func RecordProviderCall(provider, stage string, duration time.Duration) {
	if metrics == nil {
		return
	}
	metrics.ProviderLatencySeconds.WithLabelValues(provider, stage).Observe(duration.Seconds())
}

// RecordDroppedRefs records validator-stripped references.
func RecordDroppedRefs(stage, refType string, count int) {
	if metrics == nil || count == 0 {
		return
	}
	metrics.DroppedRefsTotal.WithLabelValues(stage, refType).Add(float64(count))
}

// RecordArtifactsWritten records a successful commit's artifact count.
func RecordArtifactsWritten(stage string, count int) {
	if metrics == nil {
		return
	}
	metrics.ArtifactsWrittenTotal.WithLabelValues(stage).Add(float64(count))
}

// RecordRevisionConflict records one optimistic-concurrency conflict.
func RecordRevisionConflict(kind string) {
	if metrics == nil {
		return
	}
	metrics.RevisionConflictsTotal.WithLabelValues(kind).Inc()
}

// RecordRateLimitDenied records one denied stage invocation.
func RecordRateLimitDenied(stage string) {
	if metrics == nil {
		return
	}
	metrics.RateLimitDeniedTotal.WithLabelValues(stage).Inc()
}
