// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package authz

import (
	"context"

	"github.com/claviger-project/claviger/internal/models"
)

// defaultMaxHierarchyDepth bounds the parent-chain walk when the config
// leaves it unset.
const defaultMaxHierarchyDepth = 5

// hierarchyLayer walks the resource's ancestor chain and consults explicit
// shares on each ancestor. There is no implicit transitive grant: an
// ancestor confers access only through a share recorded on it. The walk is
// depth-bounded and cycle-checked; a corrupt graph denies rather than loops.
type hierarchyLayer struct {
	parents  HierarchyProvider
	shares   SharingProvider
	teams    TeamProvider
	maxDepth int
}

// NewHierarchyLayer builds the ancestor-share grant layer.
func NewHierarchyLayer(parents HierarchyProvider, shares SharingProvider, teams TeamProvider, maxDepth int) Layer {
	if maxDepth <= 0 {
		maxDepth = defaultMaxHierarchyDepth
	}
	return &hierarchyLayer{parents: parents, shares: shares, teams: teams, maxDepth: maxDepth}
}

func (l *hierarchyLayer) Name() string    { return models.LayerHierarchy }
func (l *hierarchyLayer) Kind() LayerKind { return KindGrant }

func (l *hierarchyLayer) Evaluate(ctx context.Context, actx *AuthorizationContext) Verdict {
	visited := map[string]bool{
		nodeKey(actx.ResourceType, actx.ResourceID): true,
	}

	curType, curID := actx.ResourceType, actx.ResourceID
	for depth := 0; depth < l.maxDepth; depth++ {
		link, found, err := l.parents.Parent(ctx, curType, curID)
		if err != nil {
			return Indeterminate(err)
		}
		if !found {
			return Abstain()
		}

		key := nodeKey(link.ParentType, link.ParentID)
		if visited[key] {
			return Denied(models.ReasonHierarchyCycle)
		}
		visited[key] = true

		v := findShareGrant(ctx, l.shares, l.teams, actx,
			link.ParentType, link.ParentID,
			models.ReasonAncestorShared, models.ReasonAncestorShared)
		if v.Kind != VerdictAbstain {
			return v
		}

		curType, curID = link.ParentType, link.ParentID
	}

	// The bound was reached with the chain still going. A containment tree
	// deeper than the bound is indistinguishable from a malformed graph, so
	// fail closed.
	if _, found, err := l.parents.Parent(ctx, curType, curID); err != nil {
		return Indeterminate(err)
	} else if found {
		return Denied(models.ReasonHierarchyDepth)
	}
	return Abstain()
}

func nodeKey(resourceType, resourceID string) string {
	return resourceType + ":" + resourceID
}
