// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/claviger-project/claviger/internal/models"
)

// Decision is the result of one authorization call. It is a value type:
// callers never receive a raw error from the engine, only a Decision whose
// reason code classifies what happened.
type Decision struct {
	// Outcome is one of models.OutcomeGranted, OutcomeDenied,
	// OutcomeIndeterminate. Indeterminate outcomes are coerced to denied
	// before leaving the engine; the constant exists for cache records.
	Outcome string

	// DecidingLayer names the layer that produced the outcome.
	DecidingLayer string

	// ReasonCode classifies the decision without leaking lookup internals.
	ReasonCode string

	// TTLHint is the deciding layer's cacheability hint. Zero means the
	// pattern default applies.
	TTLHint time.Duration

	// EvaluatedAt is when the decision was produced.
	EvaluatedAt time.Time

	// TierOrigin names the cache tier that served the decision. Empty for
	// decisions computed by the pipeline.
	TierOrigin string

	// RetryAfter is set on rate-limit denials.
	RetryAfter time.Duration

	// Degraded marks a denial that stands in for an INDETERMINATE verdict:
	// the system could not decide and failed closed.
	Degraded bool
}

// Allowed reports whether the operation may proceed. Only GRANTED allows.
func (d Decision) Allowed() bool {
	return d.Outcome == models.OutcomeGranted
}

// CacheHit reports whether the decision was served from the cache.
func (d Decision) CacheHit() bool {
	return d.TierOrigin != ""
}

// VerdictKind is a single layer's judgment. The zero value abstains.
type VerdictKind int

const (
	// VerdictAbstain means the layer found nothing to say either way.
	VerdictAbstain VerdictKind = iota

	// VerdictGranted means the layer located an applicable grant.
	VerdictGranted

	// VerdictDenied means the layer refuses the operation outright.
	VerdictDenied

	// VerdictIndeterminate means the layer could not evaluate; the
	// pipeline fails closed.
	VerdictIndeterminate
)

// Verdict is what a layer returns from Evaluate.
type Verdict struct {
	Kind       VerdictKind
	ReasonCode string

	// TTLHint suggests how long the verdict may be cached. Zero defers to
	// the key pattern's default.
	TTLHint time.Duration

	// Err carries the cause of an indeterminate verdict.
	Err error
}

// Abstain is the zero verdict: nothing to say.
func Abstain() Verdict { return Verdict{} }

// Granted builds a granting verdict.
func Granted(reason string) Verdict {
	return Verdict{Kind: VerdictGranted, ReasonCode: reason}
}

// GrantedFor builds a granting verdict with an explicit TTL hint, used when
// the grant itself expires (time-bounded shares and media grants).
func GrantedFor(reason string, ttl time.Duration) Verdict {
	return Verdict{Kind: VerdictGranted, ReasonCode: reason, TTLHint: ttl}
}

// Denied builds a denying verdict.
func Denied(reason string) Verdict {
	return Verdict{Kind: VerdictDenied, ReasonCode: reason}
}

// Indeterminate builds a cannot-decide verdict carrying its cause.
func Indeterminate(err error) Verdict {
	return Verdict{Kind: VerdictIndeterminate, Err: err}
}

// LayerKind distinguishes grant-seeking layers, which look for a reason to
// allow, from guard layers, which only look for a reason to refuse. Once a
// grant is held, later grant-seeking layers are skipped while guards still
// run.
type LayerKind int

const (
	// KindGrant marks a layer that can locate grants.
	KindGrant LayerKind = iota

	// KindGuard marks a layer that can only deny.
	KindGuard
)

// Layer is one stage of the authorization pipeline. Layers are stateless
// per call and must honor ctx cancellation in any provider lookups.
type Layer interface {
	Name() string
	Kind() LayerKind
	Evaluate(ctx context.Context, actx *AuthorizationContext) Verdict
}

// IndeterminateError records which layer failed to evaluate and why. It
// never crosses the engine façade; the audit trail and logs carry it.
type IndeterminateError struct {
	Layer string
	Cause error
}

func (e *IndeterminateError) Error() string {
	return fmt.Sprintf("layer %s indeterminate: %v", e.Layer, e.Cause)
}

func (e *IndeterminateError) Unwrap() error {
	return e.Cause
}
