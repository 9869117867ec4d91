// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

// Package metrics provides Prometheus instrumentation for the adapter:
// upstream request throughput and latency, token refresh outcomes, and
// reference cache efficiency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamRequests counts requests to the homeserver admin API by
	// HTTP method and outcome ("success", "error", "rejected").
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synadmin_upstream_requests_total",
			Help: "Total requests to the homeserver admin API",
		},
		[]string{"method", "outcome"},
	)

	// UpstreamRequestDuration tracks homeserver request latency.
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "synadmin_upstream_request_duration_seconds",
			Help:    "Duration of homeserver admin API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// TokenRefreshes counts refresh-token exchanges by outcome.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synadmin_token_refreshes_total",
			Help: "Total access token refresh attempts",
		},
		[]string{"outcome"},
	)

	// RefCacheHits counts reference-list pages served from cache.
	RefCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synadmin_refcache_hits_total",
			Help: "Total reference cache hits",
		},
	)

	// RefCacheMisses counts reference-list pages fetched upstream.
	RefCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synadmin_refcache_misses_total",
			Help: "Total reference cache misses",
		},
	)

	// RefCacheInvalidations counts cache entries removed after mutations.
	RefCacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synadmin_refcache_invalidations_total",
			Help: "Total reference cache entries invalidated",
		},
	)

	// CircuitBreakerState reports the transport breaker state
	// (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "synadmin_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// SecondaryRequests counts secondary API calls by endpoint and outcome
	// ("success", "maintenance", "error").
	SecondaryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synadmin_secondary_requests_total",
			Help: "Total requests to the scheduling/billing/support API",
		},
		[]string{"endpoint", "outcome"},
	)
)
