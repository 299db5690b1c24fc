// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package authz

import (
	"context"

	"github.com/claviger-project/claviger/internal/models"
)

// The pipeline reads grant data through narrow provider interfaces so tests
// run against in-memory fakes and production wires *store.DB, which
// satisfies all of them.

// OwnershipProvider answers who owns a resource.
type OwnershipProvider interface {
	Owner(ctx context.Context, resourceType, resourceID string) (string, bool, error)
}

// SharingProvider lists the explicit shares on a resource, effective or not;
// the sharing layer filters for effectiveness so revocation races resolve
// against request time.
type SharingProvider interface {
	SharesOn(ctx context.Context, resourceType, resourceID string) ([]*models.Share, error)
}

// TeamProvider answers which teams a subject belongs to.
type TeamProvider interface {
	TeamsOf(ctx context.Context, subjectID string) ([]string, error)
}

// HierarchyProvider answers a resource's parent edge.
type HierarchyProvider interface {
	Parent(ctx context.Context, resourceType, resourceID string) (models.HierarchyLink, bool, error)
}

// MediaGrantProvider answers the current signed-access grant for a subject
// on a media resource, if any.
type MediaGrantProvider interface {
	MediaGrantFor(ctx context.Context, subjectID, mediaID string) (*models.MediaGrant, bool, error)
}
