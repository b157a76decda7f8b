// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the Prometheus collectors for the chat server.
// All collectors register through promauto at package load and are exposed on
// the /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// HTTP Metrics
// =============================================================================

var (
	// httpRequests counts handled requests.
	// Labels: endpoint (route template), method, status (HTTP status code)
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "springqna",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by endpoint, method, and status",
	}, []string{"endpoint", "method", "status"})

	// httpLatency measures request handling time. Streaming endpoints are
	// covered by the stream duration histogram instead; this one still
	// records them end to end.
	// Labels: endpoint
	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "springqna",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	// httpErrors counts error responses by service error code.
	// Labels: endpoint, code (validation, retrieval, generation, overloaded,
	// cache_wait_timeout, agent_disabled, internal)
	httpErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "springqna",
		Subsystem: "http",
		Name:      "errors_total",
		Help:      "Total error responses by endpoint and error code",
	}, []string{"endpoint", "code"})
)

// =============================================================================
// Streaming Metrics
// =============================================================================

var (
	// activeStreams tracks currently open SSE/WebSocket streams.
	// Labels: endpoint
	activeStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "springqna",
		Subsystem: "stream",
		Name:      "active",
		Help:      "Currently active streaming responses",
	}, []string{"endpoint"})

	// streamDuration measures how long a stream stayed open.
	// Labels: endpoint, status (completed, aborted)
	streamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "springqna",
		Subsystem: "stream",
		Name:      "duration_seconds",
		Help:      "Stream lifetime in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
	}, []string{"endpoint", "status"})

	// timeToFirstToken measures latency until the first chunk was emitted.
	// Labels: endpoint
	timeToFirstToken = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "springqna",
		Subsystem: "stream",
		Name:      "time_to_first_token_seconds",
		Help:      "Latency from request start to the first streamed chunk",
		Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	}, []string{"endpoint"})
)

// =============================================================================
// Cache and Admission Metrics
// =============================================================================

var (
	// cacheHits counts answer cache hits by lookup tier.
	// Labels: tier (raw, canonical, after_lock, after_wait, singleflight)
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "springqna",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Answer cache hits by tier",
	}, []string{"tier"})

	// cacheMisses counts requests that fell through every cache tier and
	// computed a fresh answer.
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "springqna",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Requests that computed a fresh answer",
	})

	// cacheLocks counts distributed lock outcomes.
	// Labels: outcome (acquired, miss, wait_timeout)
	cacheLocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "springqna",
		Subsystem: "cache",
		Name:      "lock_total",
		Help:      "Distributed lock outcomes",
	}, []string{"outcome"})

	// cacheCommits counts atomic commit-and-release outcomes.
	// Labels: outcome (success, owner_mismatch, error)
	cacheCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "springqna",
		Subsystem: "cache",
		Name:      "commit_total",
		Help:      "Atomic cache commit outcomes",
	}, []string{"outcome"})

	// singleflightJoins counts requests that joined an in-process flight
	// instead of computing or polling themselves.
	singleflightJoins = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "springqna",
		Subsystem: "cache",
		Name:      "singleflight_joins_total",
		Help:      "Requests coalesced onto an in-flight computation",
	})

	// admissionRejected counts requests turned away because every slot
	// stayed busy past the wait deadline.
	admissionRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "springqna",
		Subsystem: "admission",
		Name:      "rejected_total",
		Help:      "Requests rejected by the concurrency guard",
	})
)

// =============================================================================
// Recording Functions
// =============================================================================

// RecordHTTPRequest records one handled request.
//
// Inputs:
//
//	endpoint - The route template (e.g. /api/rag/chat).
//	method - The HTTP method.
//	status - The HTTP status code as a string.
//	durationSec - Handling duration in seconds.
func RecordHTTPRequest(endpoint, method, status string, durationSec float64) {
	httpRequests.WithLabelValues(endpoint, method, status).Inc()
	httpLatency.WithLabelValues(endpoint).Observe(durationSec)
}

// RecordHTTPError records an error response.
//
// Inputs:
//
//	endpoint - The route template.
//	code - The service error code (validation, overloaded, ...).
func RecordHTTPError(endpoint, code string) {
	httpErrors.WithLabelValues(endpoint, code).Inc()
}

// StreamStarted marks a stream as open.
func StreamStarted(endpoint string) {
	activeStreams.WithLabelValues(endpoint).Inc()
}

// StreamEnded marks a stream as closed and records its lifetime.
//
// Inputs:
//
//	endpoint - The route template.
//	status - "completed" or "aborted".
//	durationSec - Stream lifetime in seconds.
func StreamEnded(endpoint, status string, durationSec float64) {
	activeStreams.WithLabelValues(endpoint).Dec()
	streamDuration.WithLabelValues(endpoint, status).Observe(durationSec)
}

// RecordTimeToFirstToken records the first-chunk latency of a stream.
func RecordTimeToFirstToken(endpoint string, seconds float64) {
	timeToFirstToken.WithLabelValues(endpoint).Observe(seconds)
}

// RecordCacheHit records an answer cache hit.
//
// Inputs:
//
//	tier - "raw", "canonical", "after_lock", "after_wait", or "singleflight".
func RecordCacheHit(tier string) {
	cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a request that computed a fresh answer.
func RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordLockOutcome records a distributed lock outcome.
//
// Inputs:
//
//	outcome - "acquired", "miss", or "wait_timeout".
func RecordLockOutcome(outcome string) {
	cacheLocks.WithLabelValues(outcome).Inc()
}

// RecordCacheCommit records an atomic commit outcome.
//
// Inputs:
//
//	outcome - "success", "owner_mismatch", or "error".
func RecordCacheCommit(outcome string) {
	cacheCommits.WithLabelValues(outcome).Inc()
}

// RecordSingleflightJoin records a request that awaited an in-flight result.
func RecordSingleflightJoin() {
	singleflightJoins.Inc()
}

// RecordAdmissionRejected records a concurrency guard rejection.
func RecordAdmissionRejected() {
	admissionRejected.Inc()
}
