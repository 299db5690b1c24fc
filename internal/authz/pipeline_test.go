// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/claviger-project/claviger/internal/models"
)

// stubLayer is a pipeline test double with a fixed verdict.
type stubLayer struct {
	name    string
	kind    LayerKind
	verdict Verdict
}

func (s *stubLayer) Name() string    { return s.name }
func (s *stubLayer) Kind() LayerKind { return s.kind }
func (s *stubLayer) Evaluate(context.Context, *AuthorizationContext) Verdict {
	return s.verdict
}

func grantStub(name, reason string) *stubLayer {
	return &stubLayer{name: name, kind: KindGrant, verdict: Granted(reason)}
}

func abstainStub(name string, kind LayerKind) *stubLayer {
	return &stubLayer{name: name, kind: kind, verdict: Abstain()}
}

func denyStub(name, reason string, kind LayerKind) *stubLayer {
	return &stubLayer{name: name, kind: kind, verdict: Denied(reason)}
}

func testACtx() *AuthorizationContext {
	return &AuthorizationContext{
		SubjectID:    "b2c3d4e5-f6a7-4b8c-9d0e-1f2a3b4c5d6e",
		ResourceType: models.ResourceGeneration,
		ResourceID:   "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d",
		Operation:    models.OperationRead,
	}
}

func TestPipelineDenyShortCircuits(t *testing.T) {
	deny := denyStub("guard", models.ReasonOriginBlocked, KindGuard)
	after := abstainStub("after", KindGrant)
	p := NewPipeline(abstainStub("first", KindGuard), deny, after)

	d := p.Run(context.Background(), testACtx())

	if d.Outcome != models.OutcomeDenied {
		t.Fatalf("outcome = %s, want denied", d.Outcome)
	}
	if d.DecidingLayer != "guard" || d.ReasonCode != models.ReasonOriginBlocked {
		t.Errorf("deciding = %s/%s", d.DecidingLayer, d.ReasonCode)
	}
	if p.Invocations("after") != 0 {
		t.Error("layer after a denial was invoked")
	}
	if p.Invocations("first") != 1 || p.Invocations("guard") != 1 {
		t.Error("earlier layers should each run once")
	}
}

func TestPipelineIndeterminateFailsClosed(t *testing.T) {
	broken := &stubLayer{name: "broken", kind: KindGrant, verdict: Indeterminate(errors.New("backend down"))}
	after := abstainStub("after", KindGuard)
	p := NewPipeline(broken, after)

	d := p.Run(context.Background(), testACtx())

	if d.Outcome != models.OutcomeDenied {
		t.Fatalf("outcome = %s, want denied", d.Outcome)
	}
	if !d.Degraded {
		t.Error("indeterminate denial should be marked degraded")
	}
	if d.ReasonCode != models.ReasonDeniedDegraded || d.DecidingLayer != "broken" {
		t.Errorf("deciding = %s/%s", d.DecidingLayer, d.ReasonCode)
	}
	if p.Invocations("after") != 0 {
		t.Error("layer after an indeterminate verdict was invoked")
	}
}

func TestPipelineGrantHeldWhileGuardsRun(t *testing.T) {
	grant := grantStub("grantor", models.ReasonOwner)
	laterGrant := grantStub("later-grantor", models.ReasonShared)
	guard := abstainStub("guard", KindGuard)
	p := NewPipeline(grant, laterGrant, guard)

	d := p.Run(context.Background(), testACtx())

	if !d.Allowed() {
		t.Fatalf("outcome = %s, want granted", d.Outcome)
	}
	if d.DecidingLayer != "grantor" || d.ReasonCode != models.ReasonOwner {
		t.Errorf("deciding = %s/%s, want grantor/reason_owner", d.DecidingLayer, d.ReasonCode)
	}
	if p.Skips("later-grantor") != 1 || p.Invocations("later-grantor") != 0 {
		t.Error("grant layer after a held grant should be skipped")
	}
	if p.Invocations("guard") != 1 {
		t.Error("guard after a held grant should still run")
	}
}

func TestPipelineGuardOverridesHeldGrant(t *testing.T) {
	grant := grantStub("grantor", models.ReasonOwner)
	guard := denyStub("guard", models.ReasonSuspended, KindGuard)
	p := NewPipeline(grant, guard)

	d := p.Run(context.Background(), testACtx())

	if d.Outcome != models.OutcomeDenied {
		t.Fatalf("outcome = %s, want denied despite held grant", d.Outcome)
	}
	if d.DecidingLayer != "guard" || d.ReasonCode != models.ReasonSuspended {
		t.Errorf("deciding = %s/%s", d.DecidingLayer, d.ReasonCode)
	}
}

func TestPipelineAllAbstainDeniesNoGrant(t *testing.T) {
	p := NewPipeline(
		abstainStub(models.LayerValidation, KindGuard),
		abstainStub(models.LayerOwnership, KindGrant),
		abstainStub(models.LayerSharing, KindGrant),
	)

	d := p.Run(context.Background(), testACtx())

	if d.Outcome != models.OutcomeDenied {
		t.Fatalf("outcome = %s, want denied", d.Outcome)
	}
	if d.ReasonCode != models.ReasonNoGrant {
		t.Errorf("reason = %s, want reason_no_grant", d.ReasonCode)
	}
	if d.DecidingLayer != models.LayerOwnership {
		t.Errorf("deciding layer = %s, want ownership", d.DecidingLayer)
	}
}

func TestPipelineCancellationBetweenLayers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline(grantStub("grantor", models.ReasonOwner))
	d := p.Run(ctx, testACtx())

	if d.Outcome != models.OutcomeDenied || d.ReasonCode != models.ReasonCanceled {
		t.Errorf("canceled run = %s/%s, want denied/reason_canceled", d.Outcome, d.ReasonCode)
	}
	if p.Invocations("grantor") != 0 {
		t.Error("no layer should run after cancellation")
	}
}

func TestPipelineFirstGrantWins(t *testing.T) {
	p := NewPipeline(
		grantStub("a", models.ReasonOwner),
		denyStub("b", models.ReasonOriginBlocked, KindGrant), // skipped: grant kind
	)

	d := p.Run(context.Background(), testACtx())
	if !d.Allowed() || d.DecidingLayer != "a" {
		t.Errorf("decision = %s/%s, want granted by a", d.Outcome, d.DecidingLayer)
	}
}
