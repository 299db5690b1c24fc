// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

// Package auth provides session-token verification and subject suspension
// for the authorization pipeline.
//
// The Verifier validates HS256 session tokens presented alongside
// authorization requests: signature, expiry (with configurable clock skew),
// optional issuer/audience, and the token subject against the requesting
// subject. It never issues tokens on the request path; Issue exists for
// tests and provisioning tooling.
//
// The SuspensionManager tracks temporary subject blocks applied by the
// abuse layer. Durations escalate exponentially per offense from the
// configured base up to a cap, and the escalation history survives record
// expiry for a grace window so repeat offenders do not reset. Records live
// in memory or, when a path is configured, in an embedded badger database.
// A janitor service prunes stale history on an interval.
package auth
