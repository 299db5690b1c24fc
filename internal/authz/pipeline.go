// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package authz

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
	"github.com/claviger-project/claviger/internal/models"
)

// String labels for layer verdicts, used in metrics and logs.
func (k VerdictKind) String() string {
	switch k {
	case VerdictGranted:
		return "granted"
	case VerdictDenied:
		return "denied"
	case VerdictIndeterminate:
		return "indeterminate"
	default:
		return "abstain"
	}
}

// layerCounters tracks one layer's invocation and skip counts.
type layerCounters struct {
	invocations atomic.Uint64
	skips       atomic.Uint64
}

// Pipeline runs the layer sequence with fail-closed semantics:
//
//   - the first DENIED verdict ends the run immediately;
//   - the first INDETERMINATE verdict ends the run as a degraded denial;
//   - a GRANTED verdict is held while the remaining guard layers run, and
//     later grant-seeking layers are skipped;
//   - if no layer grants, the run denies with reason_no_grant.
//
// Layer order is fixed at construction. The pipeline itself holds no
// per-call state.
type Pipeline struct {
	layers   []Layer
	counters map[string]*layerCounters
}

// NewPipeline builds a runner over the given layers, evaluated in order.
func NewPipeline(layers ...Layer) *Pipeline {
	counters := make(map[string]*layerCounters, len(layers))
	for _, l := range layers {
		counters[l.Name()] = &layerCounters{}
	}
	return &Pipeline{layers: layers, counters: counters}
}

// Invocations returns how many times the named layer has been evaluated.
func (p *Pipeline) Invocations(layer string) uint64 {
	if c, ok := p.counters[layer]; ok {
		return c.invocations.Load()
	}
	return 0
}

// Skips returns how many times the named layer was skipped under a held
// grant.
func (p *Pipeline) Skips(layer string) uint64 {
	if c, ok := p.counters[layer]; ok {
		return c.skips.Load()
	}
	return 0
}

// Run evaluates the context through every layer and returns the decision.
// Cancellation is checked between layers; a canceled run returns a denial
// with reason_canceled that the engine must not cache.
func (p *Pipeline) Run(ctx context.Context, actx *AuthorizationContext) Decision {
	var heldLayer string
	var held Verdict

	for _, layer := range p.layers {
		if ctx.Err() != nil {
			return Decision{
				Outcome:       models.OutcomeDenied,
				DecidingLayer: layer.Name(),
				ReasonCode:    models.ReasonCanceled,
				EvaluatedAt:   time.Now(),
			}
		}

		if heldLayer != "" && layer.Kind() == KindGrant {
			p.counters[layer.Name()].skips.Add(1)
			continue
		}

		p.counters[layer.Name()].invocations.Add(1)
		start := time.Now()
		v := layer.Evaluate(ctx, actx)
		metrics.RecordLayerEvaluation(layer.Name(), v.Kind.String(), time.Since(start))

		switch v.Kind {
		case VerdictDenied:
			return Decision{
				Outcome:       models.OutcomeDenied,
				DecidingLayer: layer.Name(),
				ReasonCode:    v.ReasonCode,
				TTLHint:       v.TTLHint,
				EvaluatedAt:   time.Now(),
			}

		case VerdictIndeterminate:
			ierr := &IndeterminateError{Layer: layer.Name(), Cause: v.Err}
			logging.Error().Err(ierr.Cause).
				Str("layer", layer.Name()).
				Str("subject_id", actx.SubjectID).
				Msg("Layer indeterminate, failing closed")
			metrics.RecordDegradedDecision()
			return Decision{
				Outcome:       models.OutcomeDenied,
				DecidingLayer: layer.Name(),
				ReasonCode:    models.ReasonDeniedDegraded,
				EvaluatedAt:   time.Now(),
				Degraded:      true,
			}

		case VerdictGranted:
			if heldLayer == "" {
				heldLayer = layer.Name()
				held = v
			}
		}
	}

	if heldLayer != "" {
		return Decision{
			Outcome:       models.OutcomeGranted,
			DecidingLayer: heldLayer,
			ReasonCode:    held.ReasonCode,
			TTLHint:       held.TTLHint,
			EvaluatedAt:   time.Now(),
		}
	}

	// Nothing granted and nothing denied: a clean miss, attributed to the
	// ownership layer as the canonical grant locator.
	return Decision{
		Outcome:       models.OutcomeDenied,
		DecidingLayer: models.LayerOwnership,
		ReasonCode:    models.ReasonNoGrant,
		EvaluatedAt:   time.Now(),
	}
}
