// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package authz

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/claviger-project/claviger/internal/auth"
	"github.com/claviger-project/claviger/internal/config"
	"github.com/claviger-project/claviger/internal/models"
	"github.com/claviger-project/claviger/internal/ratelimit"
)

// fakeHistory stands in for the limiter's rejection history.
type fakeHistory struct {
	rejections map[string]int64
	threshold  int
}

func (f *fakeHistory) RecentRejections(key string) int64 { return f.rejections[key] }
func (f *fakeHistory) AbuseThreshold() int               { return f.threshold }

func testAbuseLayer(threshold int) (*AbuseLayer, *fakeHistory, *auth.SuspensionManager) {
	history := &fakeHistory{rejections: map[string]int64{}, threshold: threshold}
	suspensions := auth.NewSuspensionManager(config.SuspensionConfig{
		BaseDuration: time.Minute,
		MaxDuration:  time.Hour,
	}, auth.NewMemorySuspensionStore())
	denials := ratelimit.NewUniqueTracker(time.Minute, 6)
	return NewAbuseLayer(history, denials, suspensions), history, suspensions
}

func TestAbuseLayerCleanSubjectAbstains(t *testing.T) {
	layer, _, _ := testAbuseLayer(5)
	if v := layer.Evaluate(context.Background(), testACtx()); v.Kind != VerdictAbstain {
		t.Errorf("verdict = %s, want abstain", v.Kind)
	}
}

func TestAbuseLayerSuspendedSubjectDenied(t *testing.T) {
	layer, _, suspensions := testAbuseLayer(5)
	actx := testACtx()
	if _, err := suspensions.Suspend(context.Background(), actx.SubjectID, "rate_limit_abuse"); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	v := layer.Evaluate(context.Background(), actx)
	if v.Kind != VerdictDenied || v.ReasonCode != models.ReasonSuspended {
		t.Errorf("verdict = %s/%s, want denied/suspended", v.Kind, v.ReasonCode)
	}
}

func TestAbuseLayerRateRejectionsTriggerSuspension(t *testing.T) {
	layer, history, suspensions := testAbuseLayer(5)
	actx := testACtx()
	history.rejections[actx.SubjectID] = 5

	v := layer.Evaluate(context.Background(), actx)
	if v.Kind != VerdictDenied || v.ReasonCode != models.ReasonAbuseDetected {
		t.Fatalf("verdict = %s/%s, want denied/abuse_detected", v.Kind, v.ReasonCode)
	}
	if _, suspended := suspensions.IsSuspended(context.Background(), actx.SubjectID); !suspended {
		t.Error("rate abuse should record a suspension")
	}
}

func TestAbuseLayerProbePatternTriggersSuspension(t *testing.T) {
	layer, _, suspensions := testAbuseLayer(4)
	actx := testACtx()

	// Denials spread across distinct resources inside the window.
	for i := 0; i < 4; i++ {
		layer.NoteDenial(actx.SubjectID, fmt.Sprintf("resource-%d", i))
	}

	v := layer.Evaluate(context.Background(), actx)
	if v.Kind != VerdictDenied || v.ReasonCode != models.ReasonAbuseDetected {
		t.Fatalf("verdict = %s/%s, want denied/abuse_detected", v.Kind, v.ReasonCode)
	}
	if _, suspended := suspensions.IsSuspended(context.Background(), actx.SubjectID); !suspended {
		t.Error("probe pattern should record a suspension")
	}
}

func TestAbuseLayerRepeatedDenialsOnOneResourceHarmless(t *testing.T) {
	layer, _, _ := testAbuseLayer(4)
	actx := testACtx()

	// Many denials on the same resource are contention, not probing.
	for i := 0; i < 20; i++ {
		layer.NoteDenial(actx.SubjectID, actx.ResourceID)
	}

	if v := layer.Evaluate(context.Background(), actx); v.Kind != VerdictAbstain {
		t.Errorf("verdict = %s, want abstain", v.Kind)
	}
}
