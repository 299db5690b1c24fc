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

// mediaAccessLayer handles media-specific signed-access grants. It is both
// grant and guard: a valid grant allows read access, while an expired or
// revoked grant denies outright so a stale link cannot fall through to a
// broader layer.
type mediaAccessLayer struct {
	grants MediaGrantProvider
}

// NewMediaAccessLayer builds the media grant layer.
func NewMediaAccessLayer(grants MediaGrantProvider) Layer {
	return &mediaAccessLayer{grants: grants}
}

func (l *mediaAccessLayer) Name() string { return models.LayerMedia }

// Kind is grant: the pipeline skips it once a grant is held, which is
// correct because the deny cases below only apply to subjects whose sole
// claim is the media grant itself.
func (l *mediaAccessLayer) Kind() LayerKind { return KindGrant }

func (l *mediaAccessLayer) Evaluate(ctx context.Context, actx *AuthorizationContext) Verdict {
	if actx.ResourceType != models.ResourceMedia || actx.Operation != models.OperationRead {
		return Abstain()
	}

	grant, found, err := l.grants.MediaGrantFor(ctx, actx.SubjectID, actx.ResourceID)
	if err != nil {
		return Indeterminate(err)
	}
	if !found {
		return Abstain()
	}
	if grant.IsRevoked() {
		return Denied(models.ReasonMediaRevoked)
	}
	if grant.IsExpired() {
		return Denied(models.ReasonMediaExpired)
	}
	return GrantedFor(models.ReasonMediaGrant, time.Until(grant.ExpiresAt))
}
