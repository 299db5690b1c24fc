// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package metrics

import (
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides comprehensive instrumentation for:
// - Authorization decision outcomes and latency per layer
// - Tiered decision cache efficiency (L1/L2/L3)
// - Rate limiter admissions and backend fallback
// - Circuit breaker state transitions
// - Audit pipeline health (buffer, spool, sinks)
// - DuckDB query performance

var (
	// Decision Metrics
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total authorization decisions by final outcome and deciding layer",
		},
		[]string{"outcome", "layer"},
	)

	DecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authz_decision_duration_seconds",
			Help:    "End-to-end Authorize latency in seconds",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"outcome", "cache_hit"},
	)

	DecisionsDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authz_decisions_degraded_total",
			Help: "Decisions denied fail-closed because a layer could not evaluate",
		},
	)

	LayerEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_layer_evaluations_total",
			Help: "Layer evaluations by layer name and verdict",
		},
		[]string{"layer", "verdict"},
	)

	LayerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authz_layer_duration_seconds",
			Help:    "Single-layer evaluation latency in seconds",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05, .1, .5},
		},
		[]string{"layer"},
	)

	// Tiered Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache hits by tier (l1, l2, l3)",
		},
		[]string{"tier"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Cache misses by tier (l1, l2, l3)",
		},
		[]string{"tier"},
	)

	CachePromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_promotions_total",
			Help: "Entries promoted to faster tiers after a lower-tier hit",
		},
		[]string{"from_tier"},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Entries removed by tag invalidation, per tier",
		},
		[]string{"tier"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Entries evicted by tier and reason (capacity, bytes, expired)",
		},
		[]string{"tier", "reason"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of live entries per tier",
		},
		[]string{"tier"},
	)

	CacheSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_size_bytes",
			Help: "Approximate resident bytes per tier",
		},
		[]string{"tier"},
	)

	CacheLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_lookup_duration_seconds",
			Help:    "Per-tier lookup latency in seconds",
			Buckets: []float64{.00005, .0001, .0005, .001, .005, .01, .05, .1, .25, .5, 1},
		},
		[]string{"tier"},
	)

	CacheBackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_backend_errors_total",
			Help: "Backend failures by tier and operation (get, set, invalidate)",
		},
		[]string{"tier", "operation"},
	)

	// Rate Limiter Metrics
	RateLimitRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_requests_total",
			Help: "Admission checks by subject tier and result (allowed, rejected)",
		},
		[]string{"tier", "result"},
	)

	RateLimitFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_fallbacks_total",
			Help: "Times the limiter fell back from Redis to in-process buckets",
		},
	)

	RateLimitFallbackActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_fallback_active",
			Help: "Whether the in-process fallback limiter is active (0 or 1)",
		},
	)

	RateLimitTrackedKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_tracked_keys",
			Help: "Subject keys currently tracked by the in-process limiter",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests through circuit breakers by result (success, failure, rejected)",
		},
		[]string{"name", "result"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Audit Pipeline Metrics
	AuditEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Audit events accepted by the emitter, by event type",
		},
		[]string{"type"},
	)

	AuditEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full",
		},
	)

	AuditBufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_buffer_depth",
			Help: "Events currently queued in the audit buffer",
		},
	)

	AuditSpooledEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_spooled_events_total",
			Help: "Events written to the durable spool pending sink delivery",
		},
	)

	AuditReplayedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_replayed_events_total",
			Help: "Spooled events successfully re-delivered to sinks",
		},
	)

	AuditSpoolPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_spool_pending",
			Help: "Events currently held in the spool awaiting confirmation",
		},
	)

	AuditSinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_sink_errors_total",
			Help: "Delivery failures by sink (log, nats, store)",
		},
		[]string{"sink"},
	)

	// Suspension Metrics
	SuspensionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "suspensions_active",
			Help: "Subjects currently suspended by the abuse layer",
		},
	)

	SuspensionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suspensions_total",
			Help: "Suspensions imposed, by trigger reason",
		},
		[]string{"reason"},
	)

	// Decision View Metrics
	ViewRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "views_refresh_duration_seconds",
			Help:    "Duration of decision view refresh cycles in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
		},
	)

	ViewRefreshErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "views_refresh_errors_total",
			Help: "Failed decision view refresh cycles",
		},
	)

	ViewRowsRefreshed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "views_rows_refreshed_total",
			Help: "Rows written into decision views by the refresher",
		},
	)

	ViewStaleness = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "views_staleness_seconds",
			Help: "Age of the newest completed decision view refresh",
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Number of API requests currently being processed",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "HTTP requests rejected by the transport rate limiter",
		},
		[]string{"endpoint"},
	)

	// Event Bus Metrics
	BusMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_published_total",
			Help: "Messages published to the event bus, by topic",
		},
		[]string{"topic"},
	)

	BusMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_consumed_total",
			Help: "Messages consumed from the event bus, by topic",
		},
		[]string{"topic"},
	)

	BusPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publish_errors_total",
			Help: "Failed event bus publishes, by topic",
		},
		[]string{"topic"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordDecision records a completed authorization decision
func RecordDecision(outcome, layer string, cacheHit bool, duration time.Duration) {
	DecisionsTotal.WithLabelValues(outcome, layer).Inc()
	DecisionDuration.WithLabelValues(outcome, strconv.FormatBool(cacheHit)).Observe(duration.Seconds())
}

// RecordDegradedDecision records a fail-closed denial caused by an
// unevaluable layer
func RecordDegradedDecision() {
	DecisionsDegraded.Inc()
}

// RecordLayerEvaluation records a single layer's verdict and latency
func RecordLayerEvaluation(layer, verdict string, duration time.Duration) {
	LayerEvaluations.WithLabelValues(layer, verdict).Inc()
	LayerDuration.WithLabelValues(layer).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit on the given tier
func RecordCacheHit(tier string, duration time.Duration) {
	CacheHits.WithLabelValues(tier).Inc()
	CacheLookupDuration.WithLabelValues(tier).Observe(duration.Seconds())
}

// RecordCacheMiss records a cache miss on the given tier
func RecordCacheMiss(tier string, duration time.Duration) {
	CacheMisses.WithLabelValues(tier).Inc()
	CacheLookupDuration.WithLabelValues(tier).Observe(duration.Seconds())
}

// RecordCachePromotion records an entry copied to faster tiers after a
// hit on fromTier
func RecordCachePromotion(fromTier string) {
	CachePromotions.WithLabelValues(fromTier).Inc()
}

// RecordCacheInvalidation records entries removed from a tier by tag
func RecordCacheInvalidation(tier string, entries int) {
	CacheInvalidations.WithLabelValues(tier).Add(float64(entries))
}

// RecordCacheEviction records an eviction with its reason
func RecordCacheEviction(tier, reason string) {
	CacheEvictions.WithLabelValues(tier, reason).Inc()
}

// UpdateCacheSize updates the live entry and byte gauges for a tier
func UpdateCacheSize(tier string, entries int, bytes int64) {
	CacheEntries.WithLabelValues(tier).Set(float64(entries))
	CacheSizeBytes.WithLabelValues(tier).Set(float64(bytes))
}

// RecordCacheBackendError records a tier backend failure
func RecordCacheBackendError(tier, operation string) {
	CacheBackendErrors.WithLabelValues(tier, operation).Inc()
}

// RecordRateLimit records an admission check result for a subject tier
func RecordRateLimit(tier string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	RateLimitRequests.WithLabelValues(tier, result).Inc()
}

// RecordRateLimitFallback records the limiter switching to in-process
// buckets
func RecordRateLimitFallback() {
	RateLimitFallbacks.Inc()
	RateLimitFallbackActive.Set(1)
}

// ClearRateLimitFallback marks the Redis limiter as healthy again
func ClearRateLimitFallback() {
	RateLimitFallbackActive.Set(0)
}

// UpdateRateLimitTrackedKeys updates the in-process limiter key count
func UpdateRateLimitTrackedKeys(keys int) {
	RateLimitTrackedKeys.Set(float64(keys))
}

// SetCircuitBreakerState updates the state gauge for a named breaker
// (0=closed, 1=half-open, 2=open)
func SetCircuitBreakerState(name string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordCircuitBreakerRequest records a request outcome through a breaker
func RecordCircuitBreakerRequest(name, result string) {
	CircuitBreakerRequests.WithLabelValues(name, result).Inc()
}

// RecordCircuitBreakerTransition records a state change
func RecordCircuitBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordAuditEvent records an event accepted into the audit buffer
func RecordAuditEvent(eventType string) {
	AuditEvents.WithLabelValues(eventType).Inc()
}

// RecordAuditDropped records an event lost to a full buffer
func RecordAuditDropped() {
	AuditEventsDropped.Inc()
}

// UpdateAuditBufferDepth updates the buffered event count
func UpdateAuditBufferDepth(depth int) {
	AuditBufferDepth.Set(float64(depth))
}

// RecordAuditSpooled records an event written to the durable spool
func RecordAuditSpooled() {
	AuditSpooledEvents.Inc()
}

// RecordAuditReplayed records a spooled event re-delivered to sinks
func RecordAuditReplayed() {
	AuditReplayedEvents.Inc()
}

// UpdateAuditSpoolPending updates the spool backlog gauge
func UpdateAuditSpoolPending(pending int) {
	AuditSpoolPending.Set(float64(pending))
}

// RecordAuditSinkError records a sink delivery failure
func RecordAuditSinkError(sink string) {
	AuditSinkErrors.WithLabelValues(sink).Inc()
}

// RecordSuspension records a new suspension imposed on a subject
func RecordSuspension(reason string) {
	SuspensionsTotal.WithLabelValues(reason).Inc()
}

// UpdateActiveSuspensions updates the active suspension gauge
func UpdateActiveSuspensions(count int) {
	SuspensionsActive.Set(float64(count))
}

// RecordViewRefresh records a decision view refresh cycle
func RecordViewRefresh(duration time.Duration, rows int, err error) {
	ViewRefreshDuration.Observe(duration.Seconds())
	if err != nil {
		ViewRefreshErrors.Inc()
		return
	}
	ViewRowsRefreshed.Add(float64(rows))
	ViewStaleness.Set(0)
}

// UpdateViewStaleness updates the age of the newest completed refresh
func UpdateViewStaleness(age time.Duration) {
	ViewStaleness.Set(age.Seconds())
}

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordAPIRateLimitHit records an HTTP request rejected at the transport
func RecordAPIRateLimitHit(endpoint string) {
	APIRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordBusPublish records an event bus publish attempt
func RecordBusPublish(topic string, err error) {
	if err != nil {
		BusPublishErrors.WithLabelValues(topic).Inc()
		return
	}
	BusMessagesPublished.WithLabelValues(topic).Inc()
}

// RecordBusConsumed records a message consumed from the event bus
func RecordBusConsumed(topic string) {
	BusMessagesConsumed.WithLabelValues(topic).Inc()
}

// SetAppInfo records the running version and Go runtime
func SetAppInfo(version string) {
	AppInfo.WithLabelValues(version, runtime.Version()).Set(1)
}

// UpdateUptime sets the uptime gauge from the process start time
func UpdateUptime(start time.Time) {
	AppUptime.Set(time.Since(start).Seconds())
}
