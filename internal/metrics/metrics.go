// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

// Package metrics provides Prometheus instrumentation for the webhook
// ingestion path, dispatch outcomes, backend call latency and circuit
// breaker state. All collectors are registered on the default registry and
// exposed via /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics

	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchbridge_webhooks_received_total",
			Help: "Total webhook payloads received, by media-server source",
		},
		[]string{"source"},
	)

	EventsIgnored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchbridge_events_ignored_total",
			Help: "Webhook events dropped without dispatch",
		},
		[]string{"source", "reason"}, // "not_watched", "malformed", "unconfigured_user"
	)

	EventsRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchbridge_events_rate_limited_total",
			Help: "Webhook events rejected by the ingestion admission gate",
		},
	)

	// HTTP server metrics

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchbridge_http_requests_total",
			Help: "HTTP requests served, by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchbridge_http_request_duration_seconds",
			Help:    "HTTP request handling latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchbridge_http_requests_in_flight",
			Help: "HTTP requests currently being handled",
		},
	)

	// Dispatch metrics

	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchbridge_dispatch_outcomes_total",
			Help: "Per-backend dispatch outcomes",
		},
		[]string{"service", "status"}, // status: success, failed_exhausted, failed_fatal, skipped
	)

	DispatchAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchbridge_dispatch_attempts",
			Help:    "Attempts consumed per backend dispatch",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		},
		[]string{"service"},
	)

	// Backend client metrics

	BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchbridge_backend_call_duration_seconds",
			Help:    "Duration of tracking-service API calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)

	// Circuit breaker metrics

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watchbridge_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"backend"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchbridge_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"backend", "from", "to"},
	)
)

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// TrackInFlight adjusts the in-flight request gauge.
func TrackInFlight(start bool) {
	if start {
		HTTPRequestsInFlight.Inc()
	} else {
		HTTPRequestsInFlight.Dec()
	}
}

// ObserveBackendCall records one tracking-service API call.
func ObserveBackendCall(service, operation string, start time.Time) {
	BackendCallDuration.WithLabelValues(service, operation).Observe(time.Since(start).Seconds())
}
