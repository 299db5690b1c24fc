// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package cache

import "time"

// Tier labels, used as the metrics tier label and as Entry.TierOrigin.
const (
	TierL1 = "l1"
	TierL2 = "l2"
	TierL3 = "l3"
)

// Record is the compact cached decision payload. It carries exactly what a
// cache hit needs to reconstruct the decision without rerunning any layer.
type Record struct {
	Outcome       string    `json:"outcome"`
	ReasonCode    string    `json:"reason_code"`
	DecidingLayer string    `json:"deciding_layer"`
	PolicyVersion string    `json:"policy_version,omitempty"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// Entry is a record placed in the cache. Entries are immutable once written;
// invalidation removes them, it never rewrites them in place.
//
// TierOrigin names the tier that served the current lookup and is set per
// call, not persisted: an entry promoted out of Tier 3 reports "l3" on the
// call that found it there and "l1" on the next.
type Entry struct {
	Key        Key
	Record     Record
	TierOrigin string
	InsertedAt time.Time
	ExpiresAt  time.Time
	Tags       []string
}

// Expired reports whether the entry is past its hard TTL.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// RemainingTTL returns the unexpired lifetime left at now, zero when expired.
func (e Entry) RemainingTTL(now time.Time) time.Duration {
	d := e.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// entryOverhead approximates per-entry bookkeeping: the struct itself, the
// map slot and the recency-list node.
const entryOverhead = 160

// approxCost estimates an entry's resident size for the Tier 1 byte bound.
// An estimate is enough; the bound exists to stop runaway growth, not to
// account bytes exactly.
func approxCost(e Entry) int64 {
	cost := int64(len(e.Key.String()))
	cost += int64(len(e.Record.Outcome) +
		len(e.Record.ReasonCode) +
		len(e.Record.DecidingLayer) +
		len(e.Record.PolicyVersion))
	for _, tag := range e.Tags {
		cost += int64(len(tag))
	}
	return cost + entryOverhead
}
