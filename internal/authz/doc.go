// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

// Package authz implements the layered authorization pipeline and the
// engine façade in front of it.
//
// A request flows through the engine as: rate-limit admission, tiered cache
// lookup, then on a miss the layer pipeline — validation, ownership, role
// capability (casbin), explicit sharing, contextual security, hierarchy,
// media grants, and the abuse guard, in that order. The pipeline fails
// closed: the first denial or indeterminate verdict ends the run, a held
// grant still has to survive every remaining guard, and a run where nothing
// grants is a denial.
//
// The engine owns the surrounding obligations: it populates the cache for
// grants and stable denials, feeds denied decisions to the probe detector,
// and emits exactly one audit event per call. Callers receive a Decision,
// never an error.
package authz
