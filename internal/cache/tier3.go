// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package cache

import (
	"context"
	"time"

	"github.com/claviger-project/claviger/internal/breaker"
	"github.com/claviger-project/claviger/internal/metrics"
)

// ViewRow is one precomputed decision row from the materialized views.
type ViewRow struct {
	KeyID         string
	Pattern       string
	Outcome       string
	ReasonCode    string
	DecidingLayer string
	PolicyVersion string
	EvaluatedAt   time.Time
	RefreshedAt   time.Time
	ExpiresAt     time.Time
	Tags          []string
}

// ViewReader is the narrow read surface over the decision views. The store
// package implements it; nothing on the request path ever writes a view.
type ViewReader interface {
	ReadDecision(ctx context.Context, keyID string) (ViewRow, bool, error)
	DeleteDecisionsByTag(ctx context.Context, tag string) (int64, error)
}

// Tier3 serves lookups that missed both hotter tiers from read-optimized
// decision views. Rows are recomputed only by the background view refresher,
// so a hit here may be older than a live evaluation; callers accept that in
// exchange for never touching the grant sources on the request path.
type Tier3 struct {
	views ViewReader
	br    *breaker.Breaker
}

// NewTier3 wraps a view reader with the shared breaker, which also enforces
// the view-read latency budget.
func NewTier3(views ViewReader, br *breaker.Breaker) *Tier3 {
	return &Tier3{views: views, br: br}
}

// Get reads the view row for key. A row past its expiry reports a miss even
// if the refresher has not pruned it yet.
func (t *Tier3) Get(ctx context.Context, key Key) (Entry, bool, error) {
	row, err := breaker.Do(ctx, t.br, func(ctx context.Context) (*ViewRow, error) {
		r, ok, err := t.views.ReadDecision(ctx, key.String())
		if err != nil || !ok {
			return nil, err
		}
		return &r, nil
	})
	if err != nil {
		metrics.RecordCacheBackendError(TierL3, "get")
		if breaker.IsRejected(err) {
			return Entry{}, false, ErrBackendUnavailable
		}
		return Entry{}, false, err
	}
	if row == nil {
		return Entry{}, false, nil
	}

	now := time.Now()
	e := Entry{
		Key: key,
		Record: Record{
			Outcome:       row.Outcome,
			ReasonCode:    row.ReasonCode,
			DecidingLayer: row.DecidingLayer,
			PolicyVersion: row.PolicyVersion,
			EvaluatedAt:   row.EvaluatedAt,
		},
		TierOrigin: TierL3,
		InsertedAt: row.RefreshedAt,
		ExpiresAt:  row.ExpiresAt,
		Tags:       row.Tags,
	}
	if e.ExpiresAt.IsZero() {
		// Rows without an explicit expiry get the pattern default, measured
		// from this read rather than the refresh.
		e.ExpiresAt = now.Add(PolicyFor(key.Pattern()).Default)
	}
	if e.Expired(now) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// InvalidateTag deletes every view row carrying the tag. Administrative
// path; the refresher will repopulate on its next cycle.
func (t *Tier3) InvalidateTag(ctx context.Context, tag string) (int, error) {
	n, err := breaker.Do(ctx, t.br, func(ctx context.Context) (int64, error) {
		return t.views.DeleteDecisionsByTag(ctx, tag)
	})
	if err != nil {
		metrics.RecordCacheBackendError(TierL3, "invalidate")
		if breaker.IsRejected(err) {
			return 0, ErrBackendUnavailable
		}
		return 0, err
	}
	return int(n), nil
}
