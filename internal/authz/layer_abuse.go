// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package authz

import (
	"context"

	"github.com/claviger-project/claviger/internal/auth"
	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/models"
	"github.com/claviger-project/claviger/internal/ratelimit"
)

// Suspension reasons recorded by the abuse layer.
const (
	suspendReasonRateAbuse = "rate_limit_abuse"
	suspendReasonProbing   = "probe_pattern"
)

// rejectionHistory is the slice of the limiter the abuse layer consumes.
type rejectionHistory interface {
	RecentRejections(key string) int64
	AbuseThreshold() int
}

// AbuseLayer is the final guard. It denies suspended subjects, and it
// escalates two patterns into suspensions: sustained rate-limit rejections,
// and denials spread across many distinct resources inside the window (a
// probing signature). It can override a grant held earlier in the run.
type AbuseLayer struct {
	history     rejectionHistory
	denials     *ratelimit.UniqueTracker
	suspensions *auth.SuspensionManager
	threshold   int
}

// NewAbuseLayer builds the abuse guard. The limiter provides the
// recent-rejection history and the escalation threshold, which also bounds
// the distinct-resource denial count.
func NewAbuseLayer(history rejectionHistory, denials *ratelimit.UniqueTracker, suspensions *auth.SuspensionManager) *AbuseLayer {
	threshold := history.AbuseThreshold()
	if threshold < 1 {
		threshold = 1
	}
	return &AbuseLayer{
		history:     history,
		denials:     denials,
		suspensions: suspensions,
		threshold:   threshold,
	}
}

func (l *AbuseLayer) Name() string    { return models.LayerAbuse }
func (l *AbuseLayer) Kind() LayerKind { return KindGuard }

func (l *AbuseLayer) Evaluate(ctx context.Context, actx *AuthorizationContext) Verdict {
	if _, suspended := l.suspensions.IsSuspended(ctx, actx.SubjectID); suspended {
		return Denied(models.ReasonSuspended)
	}

	if l.history.RecentRejections(actx.SubjectID) >= int64(l.threshold) {
		l.suspend(ctx, actx.SubjectID, suspendReasonRateAbuse)
		return Denied(models.ReasonAbuseDetected)
	}

	if l.denials.CountUnique(actx.SubjectID) >= l.threshold {
		l.suspend(ctx, actx.SubjectID, suspendReasonProbing)
		return Denied(models.ReasonAbuseDetected)
	}
	return Abstain()
}

// NoteDenial feeds the distinct-resource detector. The engine calls it for
// every denied decision so the next request from a probing subject sees the
// accumulated spread.
func (l *AbuseLayer) NoteDenial(subjectID, resourceID string) {
	l.denials.Add(subjectID, resourceID)
}

func (l *AbuseLayer) suspend(ctx context.Context, subjectID, reason string) {
	if _, err := l.suspensions.Suspend(ctx, subjectID, reason); err != nil {
		// The denial stands either way; only the persistence failed.
		logging.Error().Err(err).Str("subject", subjectID).Msg("Failed to record suspension")
	}
}
