// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package authz

import (
	"context"

	"github.com/claviger-project/claviger/internal/models"
	"github.com/claviger-project/claviger/internal/validation"
)

// validationLayer rejects malformed contexts before any provider is
// touched. It is the first layer and the only one that never performs I/O.
type validationLayer struct {
	strict bool
}

// NewValidationLayer builds the guard that screens identifiers and context
// shape. strict additionally requires time-ordered identifiers.
func NewValidationLayer(strict bool) Layer {
	return &validationLayer{strict: strict}
}

func (l *validationLayer) Name() string    { return models.LayerValidation }
func (l *validationLayer) Kind() LayerKind { return KindGuard }

func (l *validationLayer) Evaluate(_ context.Context, actx *AuthorizationContext) Verdict {
	if verr := validation.ValidateStruct(actx); verr != nil {
		return Denied(models.ReasonMalformedID)
	}

	for _, raw := range []string{actx.SubjectID, actx.ResourceID} {
		if _, err := validation.ValidateID(raw, l.strict); err != nil {
			if validation.IsSecurityViolation(err) {
				return Denied(models.ReasonSecurityViolation)
			}
			return Denied(models.ReasonMalformedID)
		}
	}
	return Abstain()
}
