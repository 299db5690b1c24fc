// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/claviger-project/claviger/internal/audit"
	"github.com/claviger-project/claviger/internal/auth"
	"github.com/claviger-project/claviger/internal/cache"
	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
	"github.com/claviger-project/claviger/internal/models"
	"github.com/claviger-project/claviger/internal/ratelimit"
)

// Config carries the engine's own knobs; everything stateful arrives through
// Deps.
type Config struct {
	// PolicyVersion partitions cache keys: bumping it abandons every cached
	// decision made under the previous policy.
	PolicyVersion string
}

// denialRecorder feeds denied decisions to the probe-pattern detector.
type denialRecorder interface {
	NoteDenial(subjectID, resourceID string)
}

// Deps are the engine's injected collaborators. Pipeline, Cache, Limiter
// and Audit are required; Verifier and Denials are optional.
type Deps struct {
	Pipeline *Pipeline
	Cache    *cache.TieredCache
	Limiter  *ratelimit.Limiter
	Audit    *audit.Emitter

	// Verifier extracts the rate tier from session tokens. Nil means every
	// caller is admitted at the anonymous tier.
	Verifier *auth.Verifier

	// Denials is the abuse layer's probe detector hook.
	Denials denialRecorder
}

// Engine is the authorization façade: one call in, one Decision out, one
// audit event behind it. It is safe for concurrent use and holds no
// per-call state.
type Engine struct {
	cfg Config

	pipeline *Pipeline
	cache    *cache.TieredCache
	limiter  *ratelimit.Limiter
	audit    *audit.Emitter
	verifier *auth.Verifier
	denials  denialRecorder
}

// New constructs the engine. It is the only way to build one; there are no
// package-level instances.
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Pipeline == nil:
		return nil, errors.New("engine requires a pipeline")
	case deps.Cache == nil:
		return nil, errors.New("engine requires a tiered cache")
	case deps.Limiter == nil:
		return nil, errors.New("engine requires a rate limiter")
	case deps.Audit == nil:
		return nil, errors.New("engine requires an audit emitter")
	}
	return &Engine{
		cfg:      cfg,
		pipeline: deps.Pipeline,
		cache:    deps.Cache,
		limiter:  deps.Limiter,
		audit:    deps.Audit,
		verifier: deps.Verifier,
		denials:  deps.Denials,
	}, nil
}

// Start marks the engine live. Background services (audit emitter, view
// refresher, janitors) run under the supervision tree, not here.
func (e *Engine) Start(_ context.Context) error {
	logging.Info().Str("policy_version", e.cfg.PolicyVersion).Msg("Authorization engine started")
	return nil
}

// Stop is the lifecycle counterpart to Start.
func (e *Engine) Stop(_ context.Context) error {
	logging.Info().Msg("Authorization engine stopped")
	return nil
}

// Authorize decides whether the subject may perform the operation. It never
// returns an error: every failure mode is a Decision with a reason code, and
// exactly one audit event is emitted per call.
func (e *Engine) Authorize(ctx context.Context, actx *AuthorizationContext) Decision {
	start := time.Now()

	// Admission. Rejection here is the cheapest possible denial: no layer
	// runs, nothing is cached.
	tier := e.tierFor(actx)
	admission := e.limiter.Admit(ctx, actx.SubjectID, tier)
	if !admission.Allowed {
		logging.Debug().
			Err(admission.Err()).
			Str("subject", actx.SubjectID).
			Str("tier", string(tier)).
			Msg("Admission rejected")
		d := Decision{
			Outcome:       models.OutcomeDenied,
			DecidingLayer: models.LayerRateLimit,
			ReasonCode:    models.ReasonRateLimited,
			EvaluatedAt:   time.Now(),
			RetryAfter:    admission.RetryAfter,
		}
		e.emit(ctx, actx, d, audit.EventTypeRateLimited, start)
		metrics.RecordDecision(d.Outcome, d.DecidingLayer, false, time.Since(start))
		return d
	}

	// Cache lookup. A hit skips the pipeline entirely.
	key := cache.DecisionKey(actx.SubjectID, actx.ResourceType, actx.ResourceID, actx.Operation, e.cfg.PolicyVersion)
	if entry, ok := e.cache.Get(ctx, key); ok {
		d := decisionFromEntry(entry)
		e.noteDenial(actx, d)
		e.emit(ctx, actx, d, eventTypeFor(d), start)
		metrics.RecordDecision(d.Outcome, d.DecidingLayer, true, time.Since(start))
		return d
	}

	d := e.pipeline.Run(ctx, actx)

	// A canceled caller gets its denial, but nothing is cached and the
	// trail records the cancellation rather than a policy outcome.
	if ctx.Err() != nil || d.ReasonCode == models.ReasonCanceled {
		d.Outcome = models.OutcomeDenied
		d.ReasonCode = models.ReasonCanceled
		e.emit(ctx, actx, d, audit.EventTypeAuthzCanceled, start)
		metrics.RecordDecision(d.Outcome, d.DecidingLayer, false, time.Since(start))
		return d
	}

	if cacheable(d) {
		rec := cache.Record{
			Outcome:       d.Outcome,
			ReasonCode:    d.ReasonCode,
			DecidingLayer: d.DecidingLayer,
			PolicyVersion: e.cfg.PolicyVersion,
			EvaluatedAt:   d.EvaluatedAt,
		}
		e.cache.Set(ctx, key, rec, d.TTLHint, nil)
	}

	e.noteDenial(actx, d)
	e.emit(ctx, actx, d, eventTypeFor(d), start)
	metrics.RecordDecision(d.Outcome, d.DecidingLayer, false, time.Since(start))
	return d
}

// Invalidate drops every cached decision carrying the tag across all tiers
// and fans the invalidation out to peers. It is the only sanctioned cache
// coherence mechanism.
func (e *Engine) Invalidate(ctx context.Context, tag string) (cache.Invalidation, error) {
	inv, err := e.cache.Invalidate(ctx, tag)

	meta, merr := json.Marshal(map[string]interface{}{
		"tag":     tag,
		"entries": inv.Total(),
	})
	if merr != nil {
		meta = nil
	}
	e.audit.Emit(&audit.Event{
		Type:     audit.EventTypeCacheInvalidated,
		Severity: audit.SeverityInfo,
		Metadata: meta,
	})

	if err != nil {
		return inv, fmt.Errorf("invalidate tag %q: %w", tag, err)
	}
	return inv, nil
}

// tierFor resolves the caller's rate tier: the verified session token's tier
// claim, or anonymous when no token verifies.
func (e *Engine) tierFor(actx *AuthorizationContext) ratelimit.Tier {
	if actx.SessionToken == "" || e.verifier == nil {
		return ratelimit.TierAnonymous
	}
	claims, err := e.verifier.Verify(actx.SessionToken, actx.SubjectID)
	if err != nil {
		// The security layer will deny inside the pipeline; for admission
		// the caller is just anonymous.
		return ratelimit.TierAnonymous
	}
	return ratelimit.ParseTier(claims.Tier)
}

// cacheable reports whether a decision may be stored: grants and stable
// denials only. Volatile denials (rate limit, suspension, abuse, degraded)
// reflect transient state and must re-evaluate every call, and session,
// origin and user-agent denials hinge on request context the cache key does
// not carry, so caching them would answer a later, differently-shaped call.
func cacheable(d Decision) bool {
	if d.Outcome == models.OutcomeGranted {
		return true
	}
	if d.Outcome != models.OutcomeDenied || d.Degraded {
		return false
	}
	switch d.ReasonCode {
	case models.ReasonRateLimited,
		models.ReasonSuspended,
		models.ReasonAbuseDetected,
		models.ReasonDeniedDegraded,
		models.ReasonCanceled,
		models.ReasonSessionInvalid,
		models.ReasonSessionMismatch,
		models.ReasonOriginBlocked,
		models.ReasonUserAgentAnomaly:
		return false
	}
	return true
}

// noteDenial feeds stable denials to the probe-pattern detector.
func (e *Engine) noteDenial(actx *AuthorizationContext, d Decision) {
	if e.denials == nil || d.Outcome != models.OutcomeDenied {
		return
	}
	switch d.ReasonCode {
	case models.ReasonCanceled, models.ReasonRateLimited, models.ReasonSuspended:
		return
	}
	e.denials.NoteDenial(actx.SubjectID, actx.ResourceID)
}

// eventTypeFor maps a decision to its audit event type. Security-class
// denials get their dedicated event types so sinks can alert on them without
// parsing reason codes out of plain denial events.
func eventTypeFor(d Decision) audit.EventType {
	switch d.ReasonCode {
	case models.ReasonMalformedID, models.ReasonSecurityViolation, models.ReasonUserAgentAnomaly:
		return audit.EventTypeSecurityViolation
	case models.ReasonSessionInvalid, models.ReasonSessionMismatch:
		return audit.EventTypeSessionInvalid
	case models.ReasonOriginBlocked:
		return audit.EventTypeOriginBlocked
	}
	switch {
	case d.Degraded:
		return audit.EventTypeAuthzIndeterminate
	case d.Outcome == models.OutcomeGranted:
		return audit.EventTypeAuthzGranted
	default:
		return audit.EventTypeAuthzDenied
	}
}

// emit builds and queues the call's single audit event.
func (e *Engine) emit(ctx context.Context, actx *AuthorizationContext, d Decision, eventType audit.EventType, start time.Time) {
	e.audit.Emit(&audit.Event{
		Type:          eventType,
		Severity:      audit.SeverityForEvent(eventType, d.Outcome),
		SubjectID:     actx.SubjectID,
		ResourceType:  actx.ResourceType,
		ResourceID:    actx.ResourceID,
		Operation:     actx.Operation,
		Outcome:       d.Outcome,
		ReasonCode:    d.ReasonCode,
		DecidingLayer: d.DecidingLayer,
		CacheHit:      d.CacheHit(),
		TierOrigin:    d.TierOrigin,
		Degraded:      d.Degraded,
		ClientIP:      actx.ClientIP,
		UserAgent:     actx.UserAgent,
		CorrelationID: CorrelationIDFrom(ctx),
		RequestID:     RequestIDFrom(ctx),
		Duration:      time.Since(start),
	})
}

// decisionFromEntry reconstructs a decision from a cache hit.
func decisionFromEntry(entry cache.Entry) Decision {
	return Decision{
		Outcome:       entry.Record.Outcome,
		DecidingLayer: entry.Record.DecidingLayer,
		ReasonCode:    entry.Record.ReasonCode,
		EvaluatedAt:   entry.Record.EvaluatedAt,
		TierOrigin:    entry.TierOrigin,
	}
}
