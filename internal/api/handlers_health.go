// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package api

import (
	"net/http"
	"time"
)

// healthStatus is the liveness payload.
type healthStatus struct {
	Alive         bool    `json:"alive"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// readyStatus is the readiness payload. Breaker and cache tier states are
// included so an operator can see why a degraded instance keeps answering:
// the engine fails closed through tier fallbacks rather than going down.
type readyStatus struct {
	Ready             bool              `json:"ready"`
	DatabaseConnected bool              `json:"database_connected"`
	CacheTiers        *cacheTierStatus  `json:"cache_tiers,omitempty"`
	Breakers          map[string]string `json:"breakers,omitempty"`
	UptimeSeconds     float64           `json:"uptime_seconds"`
}

type cacheTierStatus struct {
	L1Entries int   `json:"l1_entries"`
	L1Bytes   int64 `json:"l1_bytes"`
	L1Hits    int64 `json:"l1_hits"`
	L2Hits    int64 `json:"l2_hits"`
	L3Hits    int64 `json:"l3_hits"`
}

// handleHealthz answers liveness: the process is up, dependencies aside.
func (rt *Router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(healthStatus{
		Alive:         true,
		UptimeSeconds: time.Since(rt.startTime).Seconds(),
	})
}

// handleReadyz answers readiness. The database is the only hard dependency
// when configured; cache tiers and breakers are reported but never gate
// readiness because the pipeline computes decisions without them.
func (rt *Router) handleReadyz(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	status := readyStatus{
		Ready:         true,
		UptimeSeconds: time.Since(rt.startTime).Seconds(),
	}

	if rt.deps.DB != nil {
		status.DatabaseConnected = rt.deps.DB.Ping(r.Context()) == nil
		status.Ready = status.DatabaseConnected
	}

	if rt.deps.Cache != nil {
		stats := rt.deps.Cache.Stats()
		status.CacheTiers = &cacheTierStatus{
			L1Entries: stats.L1Entries,
			L1Bytes:   stats.L1Bytes,
			L1Hits:    stats.L1.Hits,
			L2Hits:    stats.L2.Hits,
			L3Hits:    stats.L3.Hits,
		}
	}

	if len(rt.deps.Breakers) > 0 {
		status.Breakers = make(map[string]string, len(rt.deps.Breakers))
		for _, b := range rt.deps.Breakers {
			status.Breakers[b.Name()] = b.State()
		}
	}

	if !status.Ready {
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Not ready", status)
		return
	}

	rw.Success(status)
}
