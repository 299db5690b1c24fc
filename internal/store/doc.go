// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

/*
Package store provides DuckDB persistence for grant sources and the
materialized decision views behind the cold cache tier.

Two roles live here:

  - Grant read-replica: ownerships, shares, team memberships, hierarchy
    edges, and media grants, with provider-shaped read methods the
    authorization layers consume through interfaces defined in
    internal/authz. Writes serve the administrative API and tests; the
    request path only reads.

  - Decision views: the decision_views table implements cache.ViewReader
    for Tier 3 lookups. Rows are recomputed exclusively by the background
    ViewRefresher, which expands the grant tables into precomputed GRANTED
    records (ownership × operations, effective shares, team expansions,
    media grants), paced with a golang.org/x/time rate limiter so a large
    grant set cannot monopolize the database. The request path never
    writes a view.

Views hold GRANTED rows only. Denials are not enumerable from grant
tables, so a view miss falls through to the live pipeline, which is the
correct degradation.

# Usage

	db, err := store.New(&cfg.Database)
	if err != nil { ... }
	defer db.Close()

	refresher := store.NewViewRefresher(db, cfg.Cache.Views, policyVersion)
	supervisor.Add(refresher)

# Concurrency

All methods are safe for concurrent use. Upserts on grant tables are
serialized by a package mutex; DuckDB handles concurrent readers.

See Also:

  - internal/cache: ViewRow/ViewReader contract served here
  - internal/models: the record types persisted here
  - internal/audit: shares this connection for the audit event store
*/
package store
