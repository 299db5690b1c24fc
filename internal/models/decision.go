// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

/*
decision.go - Decision Vocabulary

This file defines the persisted string forms of decision outcomes, deciding
layers, and reason codes. The authz package produces them, the cache records
them, the store materializes them, and audit events carry them; keeping the
strings here means one vocabulary everywhere.

Reason codes are deliberately coarse: they classify the decision for callers
and operators without leaking which internal lookup produced it.
*/

package models

// Outcome constants are the persisted decision outcomes.
const (
	// OutcomeGranted allows the operation.
	OutcomeGranted = "granted"

	// OutcomeDenied refuses the operation.
	OutcomeDenied = "denied"

	// OutcomeIndeterminate means a layer could not decide; callers treat it
	// as denied.
	OutcomeIndeterminate = "indeterminate"
)

// Layer name constants identify the deciding layer in decisions, cache
// records, view rows, and audit events.
const (
	LayerValidation = "validation"
	LayerOwnership  = "ownership"
	LayerCapability = "capability"
	LayerSharing    = "sharing"
	LayerSecurity   = "security"
	LayerHierarchy  = "hierarchy"
	LayerMedia      = "media"
	LayerAbuse      = "abuse"

	// LayerRateLimit marks decisions rejected at admission, before any
	// pipeline layer ran.
	LayerRateLimit = "ratelimit"
)

// Reason code constants classify why a decision came out the way it did.
const (
	// Grant reasons.
	ReasonOwner          = "reason_owner"
	ReasonCapability     = "reason_capability"
	ReasonShared         = "reason_shared"
	ReasonTeamShared     = "reason_team_shared"
	ReasonTeamMember     = "reason_team_member"
	ReasonAncestorShared = "reason_ancestor_shared"
	ReasonMediaGrant     = "reason_media_grant"

	// Policy denial reasons (stable: cacheable).
	ReasonNoGrant      = "reason_no_grant"
	ReasonMediaExpired = "reason_media_grant_expired"
	ReasonMediaRevoked = "reason_media_grant_revoked"

	// Validation and security denial reasons.
	ReasonMalformedID       = "reason_malformed_identifier"
	ReasonSecurityViolation = "reason_security_violation"
	ReasonSessionInvalid    = "reason_session_invalid"
	ReasonSessionMismatch   = "reason_session_mismatch"
	ReasonOriginBlocked     = "reason_origin_blocked"
	ReasonUserAgentAnomaly  = "reason_user_agent_anomaly"

	// Hierarchy denial reasons.
	ReasonHierarchyCycle = "reason_hierarchy_cycle"
	ReasonHierarchyDepth = "reason_hierarchy_depth"

	// Admission and abuse denial reasons (volatile: never cached).
	ReasonRateLimited   = "reason_rate_limited"
	ReasonSuspended     = "reason_suspended"
	ReasonAbuseDetected = "reason_abuse_detected"

	// Degradation reasons.
	ReasonDeniedDegraded = "reason_denied_degraded"
	ReasonCanceled       = "reason_canceled"
)
