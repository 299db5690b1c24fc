// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

/*
Package metrics provides Prometheus metrics collection and export for observability.

This package implements comprehensive application instrumentation using the Prometheus
client library, exposing metrics for monitoring decision throughput, cache efficiency,
backend health, and system state.

# Overview

The package provides metrics for:
  - Authorization decision outcomes, deciding layers, and latency
  - Per-layer evaluation verdicts and duration
  - Tiered decision cache hits, misses, promotions, and invalidations
  - Rate limiter admissions and fallback state
  - Circuit breaker state transitions
  - Audit pipeline buffering, spooling, and sink delivery
  - DuckDB query performance
  - HTTP request latency and throughput

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8710/metrics

# Available Metrics

Decision Metrics:
  - authz_decisions_total: Final decisions (counter)
    Labels: outcome (granted, denied), layer
  - authz_decision_duration_seconds: End-to-end Authorize latency (histogram)
    Labels: outcome, cache_hit
  - authz_decisions_degraded_total: Fail-closed denials from unevaluable layers (counter)
  - authz_layer_evaluations_total: Per-layer verdicts (counter)
    Labels: layer, verdict (granted, denied, abstained, indeterminate, skipped)
  - authz_layer_duration_seconds: Per-layer latency (histogram)
    Labels: layer

Cache Metrics:
  - cache_hits_total / cache_misses_total: Tier lookup results (counter)
    Labels: tier (l1, l2, l3)
  - cache_promotions_total: Back-fill to faster tiers (counter)
    Labels: from_tier
  - cache_invalidations_total: Tag-driven removals (counter)
    Labels: tier
  - cache_evictions_total: Evictions (counter)
    Labels: tier, reason (capacity, bytes, expired)
  - cache_entries / cache_size_bytes: Live occupancy (gauge)
    Labels: tier
  - cache_lookup_duration_seconds: Per-tier lookup latency (histogram)
    Labels: tier
  - cache_backend_errors_total: Backend failures (counter)
    Labels: tier, operation

Rate Limiter Metrics:
  - ratelimit_requests_total: Admission checks (counter)
    Labels: tier, result (allowed, rejected)
  - ratelimit_fallbacks_total: Redis-to-memory fallbacks (counter)
  - ratelimit_fallback_active: Fallback limiter engaged (gauge, 0 or 1)
  - ratelimit_tracked_keys: In-process limiter key count (gauge)

Circuit Breaker Metrics:
  - circuit_breaker_state: Current state (gauge)
    Labels: name
    Values: 0=closed, 1=half-open, 2=open
  - circuit_breaker_requests_total: Requests through breakers (counter)
    Labels: name, result (success, failure, rejected)
  - circuit_breaker_transitions_total: State changes (counter)
    Labels: name, from_state, to_state

Audit Metrics:
  - audit_events_total: Accepted events (counter)
    Labels: type
  - audit_events_dropped_total: Events lost to a full buffer (counter)
  - audit_buffer_depth: Queued events (gauge)
  - audit_spooled_events_total / audit_replayed_events_total: Spool traffic (counter)
  - audit_spool_pending: Spool backlog (gauge)
  - audit_sink_errors_total: Delivery failures (counter)
    Labels: sink (log, nats, store)

Database Metrics:
  - duckdb_query_duration_seconds: Query execution time (histogram)
    Labels: operation, table
  - duckdb_query_errors_total: Failed queries (counter)
    Labels: operation, table, error_type

HTTP Metrics:
  - api_requests_total: Total API requests (counter)
    Labels: method, endpoint, status_code
  - api_request_duration_seconds: Request latency (histogram)
    Labels: method, endpoint
  - api_active_requests: In-flight requests (gauge)
  - api_rate_limit_hits_total: Transport-level rejections (counter)
    Labels: endpoint

# Usage Example

Basic setup in main.go:

	import (
	    "github.com/claviger-project/claviger/internal/metrics"
	    "github.com/prometheus/client_golang/prometheus/promhttp"
	)

	func main() {
	    // Register metrics endpoint
	    http.Handle("/metrics", promhttp.Handler())

	    // Record metrics
	    metrics.RecordDecision("granted", "ownership", false, 480*time.Microsecond)
	    metrics.RecordCacheHit("l2", 3*time.Millisecond)
	    metrics.RecordDBQuery("SELECT", "decision_views", 5*time.Millisecond, nil)
	}

All metrics are registered automatically via promauto at package load. The
Record helpers are safe for concurrent use; collectors handle their own
synchronization.

# Design Notes

Label cardinality is bounded deliberately: decisions are labeled by layer
and outcome, never by subject or resource identifier. Error strings recorded
as label values are truncated to 50 characters.

# See Also

  - internal/api: HTTP middleware recording request metrics
  - internal/breaker: state change hooks feeding breaker metrics
  - internal/cache: tier instrumentation call sites
*/
package metrics
