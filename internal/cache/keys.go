// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/claviger-project/claviger/internal/models"
)

// Pattern names one family of cache keys. The set is closed: every cacheable
// fact in the system belongs to exactly one pattern, and each pattern carries
// its own TTL policy.
type Pattern string

const (
	// PatternResourcePermission caches one (subject, resource, operation)
	// decision under a specific policy version.
	PatternResourcePermission Pattern = "resource_permission"

	// PatternSubjectCapabilities caches a subject's resolved capability set.
	PatternSubjectCapabilities Pattern = "subject_capabilities"

	// PatternTeamMembership caches whether a subject belongs to a team.
	PatternTeamMembership Pattern = "team_membership"

	// PatternMediaSignedAccess caches a signed-access verdict for binary
	// media. Security sensitive, so its ceiling is the shortest.
	PatternMediaSignedAccess Pattern = "media_signed_access"

	// PatternRateLimitStatus caches a subject's current limiter status.
	PatternRateLimitStatus Pattern = "rate_limit_status"
)

// Key identifies one cache entry. Keys are built only through the typed
// constructors below; the canonical form is sha256-compacted so raw subject
// and resource identifiers never appear in backend key spaces.
type Key struct {
	pattern  Pattern
	id       string
	subject  string
	resource string
}

// newKey hashes the canonical field sequence into a compact pattern-qualified
// identifier. Fields join on '|', which cannot occur in validated IDs.
func newKey(pattern Pattern, subject, resource string, fields ...string) Key {
	canonical := string(pattern) + "|" + strings.Join(fields, "|")
	sum := sha256.Sum256([]byte(canonical))
	return Key{
		pattern:  pattern,
		id:       fmt.Sprintf("%s:%x", pattern, sum[:16]),
		subject:  subject,
		resource: resource,
	}
}

// DecisionKey keys an authorization decision under the pattern its resource
// class belongs to: media decisions land on the short-lived signed-access
// pattern, team decisions on the membership pattern, everything else on the
// general resource-permission pattern. Lookup and populate sides must both
// route through here or they will miss each other.
func DecisionKey(subject, resourceType, resourceID, operation, policyVersion string) Key {
	switch resourceType {
	case models.ResourceMedia:
		return MediaSignedAccessKey(subject, resourceID, operation, policyVersion)
	case models.ResourceTeam:
		return TeamMembershipKey(subject, resourceID, operation, policyVersion)
	default:
		return ResourcePermissionKey(subject, resourceType, resourceID, operation, policyVersion)
	}
}

// ResourcePermissionKey keys one (subject, resource, operation) decision.
// The policy version rides in the key so a policy rollover naturally misses
// every stale entry instead of requiring a flush.
func ResourcePermissionKey(subject, resourceType, resourceID, operation, policyVersion string) Key {
	return newKey(PatternResourcePermission, subject, resourceID,
		subject, resourceType, resourceID, operation, policyVersion)
}

// SubjectCapabilitiesKey keys a subject's resolved capability set.
func SubjectCapabilitiesKey(subject, policyVersion string) Key {
	return newKey(PatternSubjectCapabilities, subject, "",
		subject, policyVersion)
}

// TeamMembershipKey keys a decision about a team resource. These hold the
// membership-cadence TTL: team rosters change rarely, so entries may live
// for tens of minutes.
func TeamMembershipKey(subject, teamID, operation, policyVersion string) Key {
	return newKey(PatternTeamMembership, subject, teamID,
		subject, teamID, operation, policyVersion)
}

// MediaSignedAccessKey keys a signed-access verdict for one media object.
func MediaSignedAccessKey(subject, mediaID, operation, policyVersion string) Key {
	return newKey(PatternMediaSignedAccess, subject, mediaID,
		subject, mediaID, operation, policyVersion)
}

// RateLimitStatusKey keys a subject's limiter status snapshot.
func RateLimitStatusKey(subject string) Key {
	return newKey(PatternRateLimitStatus, subject, "", subject)
}

// Pattern returns the key's pattern.
func (k Key) Pattern() Pattern { return k.pattern }

// String returns the canonical pattern-qualified form, e.g.
// "team_membership:af39…". Stable across processes and restarts.
func (k Key) String() string { return k.id }

// IsZero reports whether the key was built through a constructor.
func (k Key) IsZero() bool { return k.id == "" }

// Tags returns the invalidation tags this key participates in. Invalidating
// a tag removes every entry across all tiers whose key carries it.
func (k Key) Tags() []string {
	tags := make([]string, 0, 2)
	if k.subject != "" {
		tags = append(tags, SubjectTag(k.subject))
	}
	if k.resource != "" {
		tags = append(tags, ResourceTag(k.resource))
	}
	return tags
}

// SubjectTag builds the invalidation tag covering every cached fact about a
// subject. Used when the subject's grants, role or suspension state change.
func SubjectTag(subjectID string) string { return "subject:" + subjectID }

// ResourceTag builds the invalidation tag covering every cached fact about a
// resource. Used when sharing, ownership or hierarchy placement change.
func ResourceTag(resourceID string) string { return "resource:" + resourceID }

// TTLPolicy bounds entry lifetimes for one key pattern. Default applies when
// the deciding layer supplies no hint; Ceiling is a hard upper bound no hint
// may exceed.
type TTLPolicy struct {
	Default time.Duration
	Ceiling time.Duration
}

// Per-pattern lifetimes. Security-sensitive or rapidly-changing facts stay
// under a minute; slow-changing facts live for tens of minutes.
var ttlPolicies = map[Pattern]TTLPolicy{
	PatternResourcePermission:  {Default: 2 * time.Minute, Ceiling: 5 * time.Minute},
	PatternSubjectCapabilities: {Default: 15 * time.Minute, Ceiling: 30 * time.Minute},
	PatternTeamMembership:      {Default: 15 * time.Minute, Ceiling: 30 * time.Minute},
	PatternMediaSignedAccess:   {Default: 30 * time.Second, Ceiling: 45 * time.Second},
	PatternRateLimitStatus:     {Default: 10 * time.Second, Ceiling: 30 * time.Second},
}

// fallbackPolicy covers keys with an unrecognized pattern. Deliberately short.
var fallbackPolicy = TTLPolicy{Default: 30 * time.Second, Ceiling: time.Minute}

// maxCeiling is the longest ceiling across all patterns. Tag sets in the
// warm tier expire on this bound so they always outlive their members.
var maxCeiling = func() time.Duration {
	var max time.Duration
	for _, pol := range ttlPolicies {
		if pol.Ceiling > max {
			max = pol.Ceiling
		}
	}
	return max
}()

// PolicyFor returns the TTL policy governing a pattern.
func PolicyFor(p Pattern) TTLPolicy {
	if pol, ok := ttlPolicies[p]; ok {
		return pol
	}
	return fallbackPolicy
}

// ClampTTL resolves a layer-supplied TTL hint against the pattern's policy:
// a zero or negative hint selects the default, anything above the ceiling is
// clamped to it.
func ClampTTL(p Pattern, hint time.Duration) time.Duration {
	pol := PolicyFor(p)
	if hint <= 0 {
		return pol.Default
	}
	if hint > pol.Ceiling {
		return pol.Ceiling
	}
	return hint
}
