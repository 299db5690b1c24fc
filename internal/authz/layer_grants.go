// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package authz

import (
	"context"
	"time"

	"github.com/claviger-project/claviger/internal/models"
)

// ownershipLayer grants when the subject owns the resource. Ownership
// carries every operation implicitly.
type ownershipLayer struct {
	owners OwnershipProvider
}

// NewOwnershipLayer builds the ownership grant layer.
func NewOwnershipLayer(owners OwnershipProvider) Layer {
	return &ownershipLayer{owners: owners}
}

func (l *ownershipLayer) Name() string    { return models.LayerOwnership }
func (l *ownershipLayer) Kind() LayerKind { return KindGrant }

func (l *ownershipLayer) Evaluate(ctx context.Context, actx *AuthorizationContext) Verdict {
	owner, found, err := l.owners.Owner(ctx, actx.ResourceType, actx.ResourceID)
	if err != nil {
		return Indeterminate(err)
	}
	if found && owner == actx.SubjectID {
		return Granted(models.ReasonOwner)
	}
	return Abstain()
}

// capabilityLayer grants when the subject's role carries the operation for
// the resource class.
type capabilityLayer struct {
	enforcer *Enforcer
}

// NewCapabilityLayer builds the role-capability grant layer.
func NewCapabilityLayer(enforcer *Enforcer) Layer {
	return &capabilityLayer{enforcer: enforcer}
}

func (l *capabilityLayer) Name() string    { return models.LayerCapability }
func (l *capabilityLayer) Kind() LayerKind { return KindGrant }

func (l *capabilityLayer) Evaluate(_ context.Context, actx *AuthorizationContext) Verdict {
	allowed, err := l.enforcer.HasCapability(actx.SubjectID, actx.ResourceType, actx.Operation)
	if err != nil {
		return Indeterminate(err)
	}
	if allowed {
		return Granted(models.ReasonCapability)
	}
	return Abstain()
}

// sharingLayer grants on an explicit share of the operation to the subject
// directly or to one of its teams.
type sharingLayer struct {
	shares SharingProvider
	teams  TeamProvider
}

// NewSharingLayer builds the explicit-share grant layer.
func NewSharingLayer(shares SharingProvider, teams TeamProvider) Layer {
	return &sharingLayer{shares: shares, teams: teams}
}

func (l *sharingLayer) Name() string    { return models.LayerSharing }
func (l *sharingLayer) Kind() LayerKind { return KindGrant }

func (l *sharingLayer) Evaluate(ctx context.Context, actx *AuthorizationContext) Verdict {
	return findShareGrant(ctx, l.shares, l.teams, actx,
		actx.ResourceType, actx.ResourceID,
		models.ReasonShared, models.ReasonTeamShared)
}

// findShareGrant checks the effective shares on one resource for a grant of
// the requested operation to the subject or its teams. The hierarchy layer
// reuses it against ancestors with the ancestor reason codes.
func findShareGrant(ctx context.Context, shares SharingProvider, teams TeamProvider,
	actx *AuthorizationContext, resourceType, resourceID, directReason, teamReason string) Verdict {

	all, err := shares.SharesOn(ctx, resourceType, resourceID)
	if err != nil {
		return Indeterminate(err)
	}

	var teamShares []*models.Share
	for _, s := range all {
		if s.Operation != actx.Operation || !s.IsEffective() {
			continue
		}
		switch s.GranteeKind {
		case models.GranteeSubject:
			if s.GranteeID == actx.SubjectID {
				return GrantedFor(directReason, shareTTL(s))
			}
		case models.GranteeTeam:
			teamShares = append(teamShares, s)
		}
	}
	if len(teamShares) == 0 {
		return Abstain()
	}

	memberOf, err := teams.TeamsOf(ctx, actx.SubjectID)
	if err != nil {
		return Indeterminate(err)
	}
	membership := make(map[string]bool, len(memberOf))
	for _, team := range memberOf {
		membership[team] = true
	}
	for _, s := range teamShares {
		if membership[s.GranteeID] {
			return GrantedFor(teamReason, shareTTL(s))
		}
	}
	return Abstain()
}

// shareTTL caps the verdict's cache lifetime at the share's expiry so a
// lapsed share never outlives itself in the cache.
func shareTTL(s *models.Share) time.Duration {
	if s.ExpiresAt == nil {
		return 0
	}
	ttl := time.Until(*s.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
