// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

/*
refresher.go - Background Decision View Refresher

The ViewRefresher is the only writer of decision_views. Each cycle it scans
the grant sources, recomputes the granted decisions they imply, and replaces
the view rows in rate-limited batches:

  - ownerships expand to one row per valid operation (owner may do anything)
  - effective subject shares map to the shared operation
  - effective team shares expand across current team members
  - media grants map to read decisions on the signed-access pattern

Keys route through the same resource-class dispatch the engine uses, so a
view row is always found under the key the live lookup computes.

Rows expire at their pattern's TTL ceiling, measured from the refresh. A
pattern whose ceiling is shorter than the refresh interval lapses between
cycles and lookups fall through to live evaluation, which is the intended
degradation.

Denials are never materialized: absence of a grant row is not enumerable
from the grant sources, so a view miss must stay a miss.
*/

package store

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/claviger-project/claviger/internal/cache"
	"github.com/claviger-project/claviger/internal/config"
	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
	"github.com/claviger-project/claviger/internal/models"
)

const (
	// defaultRefreshInterval applies when the configuration leaves the
	// interval unset.
	defaultRefreshInterval = time.Minute

	// defaultRefreshRate bounds recomputed rows per second when unset.
	defaultRefreshRate = 200

	// refreshTimeout bounds one full recompute cycle.
	refreshTimeout = 2 * time.Minute

	// refreshBatchSize is the number of rows per upsert transaction.
	refreshBatchSize = 500
)

// ViewRefresher periodically recomputes the decision views from the grant
// sources. It satisfies the suture service contract.
type ViewRefresher struct {
	db            *DB
	interval      time.Duration
	limiter       *rate.Limiter
	policyVersion func() string

	mu          sync.Mutex
	lastSuccess time.Time
}

// NewViewRefresher builds a refresher over the grant store. policyVersion
// reports the active capability policy version so view rows compute the
// same keys the live pipeline does.
func NewViewRefresher(db *DB, cfg config.ViewsConfig, policyVersion func() string) *ViewRefresher {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	rowsPerSecond := cfg.RefreshRate
	if rowsPerSecond <= 0 {
		rowsPerSecond = defaultRefreshRate
	}
	burst := int(rowsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &ViewRefresher{
		db:            db,
		interval:      interval,
		limiter:       rate.NewLimiter(rate.Limit(rowsPerSecond), burst),
		policyVersion: policyVersion,
	}
}

// String names the service in supervisor logs.
func (r *ViewRefresher) String() string { return "view-refresher" }

// LastRefresh returns the completion time of the most recent successful
// cycle, zero before the first one.
func (r *ViewRefresher) LastRefresh() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSuccess
}

// Serve runs refresh cycles until the context ends. The first cycle starts
// immediately so a fresh process does not serve an empty tier for a full
// interval. Cycle errors are logged and the next tick retries; only
// cancellation stops the service.
func (r *ViewRefresher) Serve(ctx context.Context) error {
	r.runCycle(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one refresh and records its outcome.
func (r *ViewRefresher) runCycle(ctx context.Context) {
	start := time.Now()
	rows, err := r.refresh(ctx)
	metrics.RecordViewRefresh(time.Since(start), rows, err)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.mu.Lock()
		last := r.lastSuccess
		r.mu.Unlock()
		if !last.IsZero() {
			metrics.UpdateViewStaleness(time.Since(last))
		}
		logging.Error().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("Decision view refresh failed")
		return
	}

	r.mu.Lock()
	r.lastSuccess = time.Now()
	r.mu.Unlock()

	logging.Debug().
		Int("rows", rows).
		Dur("duration", time.Since(start)).
		Msg("Decision views refreshed")
}

// refresh recomputes all view rows and returns how many were written.
func (r *ViewRefresher) refresh(parent context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	now := time.Now()
	version := r.policyVersion()

	seen := make(map[string]struct{})
	var rows []cache.ViewRow

	// add materializes one granted decision, deduplicating by key so the
	// first grant source wins in pipeline order (ownership before sharing).
	add := func(key cache.Key, reason, layer string) error {
		id := key.String()
		if _, dup := seen[id]; dup {
			return nil
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		seen[id] = struct{}{}
		rows = append(rows, cache.ViewRow{
			KeyID:         id,
			Pattern:       string(key.Pattern()),
			Outcome:       models.OutcomeGranted,
			ReasonCode:    reason,
			DecidingLayer: layer,
			PolicyVersion: version,
			EvaluatedAt:   now,
			RefreshedAt:   now,
			ExpiresAt:     now.Add(cache.PolicyFor(key.Pattern()).Ceiling),
			Tags:          key.Tags(),
		})
		return nil
	}

	ownerships, err := r.db.ListOwnerships(ctx)
	if err != nil {
		return 0, err
	}
	for _, o := range ownerships {
		for _, op := range models.ValidOperations {
			key := cache.DecisionKey(o.SubjectID, o.ResourceType, o.ResourceID, op, version)
			if err := add(key, models.ReasonOwner, models.LayerOwnership); err != nil {
				return 0, err
			}
		}
	}

	shares, err := r.db.ListEffectiveShares(ctx, now)
	if err != nil {
		return 0, err
	}
	teamMembers := make(map[string][]string)
	for _, s := range shares {
		switch s.GranteeKind {
		case models.GranteeSubject:
			key := cache.DecisionKey(s.GranteeID, s.ResourceType, s.ResourceID, s.Operation, version)
			if err := add(key, models.ReasonShared, models.LayerSharing); err != nil {
				return 0, err
			}
		case models.GranteeTeam:
			members, ok := teamMembers[s.GranteeID]
			if !ok {
				members, err = r.db.TeamMembers(ctx, s.GranteeID)
				if err != nil {
					return 0, err
				}
				teamMembers[s.GranteeID] = members
			}
			for _, member := range members {
				key := cache.DecisionKey(member, s.ResourceType, s.ResourceID, s.Operation, version)
				if err := add(key, models.ReasonTeamShared, models.LayerSharing); err != nil {
					return 0, err
				}
			}
		}
	}

	grants, err := r.db.ListEffectiveMediaGrants(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, g := range grants {
		key := cache.DecisionKey(g.SubjectID, models.ResourceMedia, g.MediaID, models.OperationRead, version)
		if err := add(key, models.ReasonMediaGrant, models.LayerMedia); err != nil {
			return 0, err
		}
	}

	for start := 0; start < len(rows); start += refreshBatchSize {
		end := start + refreshBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := r.db.UpsertDecisions(ctx, rows[start:end]); err != nil {
			return 0, err
		}
	}

	if pruned, err := r.db.PruneExpiredDecisions(ctx, now); err != nil {
		logging.Warn().Err(err).Msg("Failed to prune expired decision views")
	} else if pruned > 0 {
		logging.Debug().Int64("pruned", pruned).Msg("Pruned expired decision views")
	}

	return len(rows), nil
}
