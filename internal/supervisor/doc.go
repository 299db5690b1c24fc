// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

/*
Package supervisor runs the engine's background services under a suture/v4
supervision tree.

The tree has three child supervisors for failure isolation:

  - storage: DuckDB view refresher and audit retention sweeper. A crash
    here degrades Tier 3 freshness; decisions keep flowing.
  - coherence: audit emitter, invalidation consumer, suspension janitor,
    and the L1 expiry janitor. These keep caches coherent and the audit
    trail draining.
  - api: the HTTP server.

A panic or error return in any service restarts only that service; repeated
failures back off per the configured threshold and decay. Supervisor events
are logged through the zerolog-backed slog adapter via sutureslog.

Every supervised component implements suture.Service (Serve(ctx) error,
String() string); HTTPService adapts *http.Server's blocking
ListenAndServe to that contract with graceful shutdown.
*/
package supervisor
