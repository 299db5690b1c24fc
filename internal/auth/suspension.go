// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/claviger-project/claviger/internal/audit"
	"github.com/claviger-project/claviger/internal/config"
	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
)

// ErrNotSuspended is returned by Lift when no suspension exists for the
// subject.
var ErrNotSuspended = errors.New("subject not suspended")

// historyGrace is how long an expired suspension record is kept so repeat
// offenders keep escalating instead of starting over at the base duration.
const historyGrace = 24 * time.Hour

// Suspension records a temporary block on a subject. The offense count
// drives exponential escalation of subsequent suspensions.
type Suspension struct {
	Subject     string    `json:"subject"`
	Reason      string    `json:"reason"`
	Offenses    int       `json:"offenses"`
	SuspendedAt time.Time `json:"suspended_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Active reports whether the suspension is still in effect.
func (s *Suspension) Active() bool {
	return time.Now().Before(s.ExpiresAt)
}

// SuspensionStore persists suspension records. Implementations return
// (nil, nil) from Get when no record exists.
type SuspensionStore interface {
	Get(ctx context.Context, subject string) (*Suspension, error)
	Save(ctx context.Context, s *Suspension) error
	Delete(ctx context.Context, subject string) error
	List(ctx context.Context) ([]*Suspension, error)

	// PruneExpired removes records that expired before the cutoff and
	// returns how many were removed.
	PruneExpired(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// EventRecorder receives audit events for suspension lifecycle changes.
// *audit.Emitter satisfies it.
type EventRecorder interface {
	Emit(e *audit.Event)
}

// SuspensionManager applies and tracks subject suspensions with exponential
// escalation: the first offense earns the base duration, each subsequent
// offense doubles it, capped at the configured maximum.
type SuspensionManager struct {
	cfg      config.SuspensionConfig
	store    SuspensionStore
	recorder EventRecorder
}

// NewSuspensionStore opens the store selected by configuration: badger when
// a path is set, process memory otherwise.
func NewSuspensionStore(cfg config.SuspensionConfig) (SuspensionStore, error) {
	if cfg.Path == "" {
		return NewMemorySuspensionStore(), nil
	}
	return OpenBadgerSuspensionStore(cfg.Path)
}

// NewSuspensionManager creates a manager over the given store. Zero config
// durations fall back to 1 minute base, 24 hour cap, 1 minute janitor
// interval.
func NewSuspensionManager(cfg config.SuspensionConfig, store SuspensionStore) *SuspensionManager {
	if cfg.BaseDuration <= 0 {
		cfg.BaseDuration = time.Minute
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 24 * time.Hour
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	return &SuspensionManager{cfg: cfg, store: store}
}

// SetRecorder attaches the audit emitter. Suspensions applied or lifted
// before it is set are logged but not audited; call this during wiring,
// before traffic.
func (m *SuspensionManager) SetRecorder(r EventRecorder) {
	m.recorder = r
}

func (m *SuspensionManager) record(t audit.EventType, subject string, meta map[string]interface{}) {
	if m.recorder == nil {
		return
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		raw = nil
	}
	m.recorder.Emit(&audit.Event{
		Type:      t,
		Severity:  audit.SeverityForEvent(t, ""),
		SubjectID: subject,
		Metadata:  raw,
	})
}

// Suspend records an offense for the subject and returns the resulting
// suspension. An existing record, active or recently expired, escalates the
// duration.
func (m *SuspensionManager) Suspend(ctx context.Context, subject, reason string) (*Suspension, error) {
	existing, err := m.store.Get(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("load suspension for %q: %w", subject, err)
	}

	offenses := 1
	if existing != nil {
		offenses = existing.Offenses + 1
	}

	now := time.Now()
	s := &Suspension{
		Subject:     subject,
		Reason:      reason,
		Offenses:    offenses,
		SuspendedAt: now,
		ExpiresAt:   now.Add(m.durationFor(offenses)),
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save suspension for %q: %w", subject, err)
	}

	metrics.RecordSuspension(reason)
	m.record(audit.EventTypeSuspensionApplied, subject, map[string]interface{}{
		"reason":     reason,
		"offenses":   offenses,
		"expires_at": s.ExpiresAt,
	})
	logging.Warn().
		Str("subject", subject).
		Str("reason", reason).
		Int("offenses", offenses).
		Time("expires_at", s.ExpiresAt).
		Msg("Subject suspended")
	return s, nil
}

// IsSuspended reports whether the subject is currently suspended. Store
// errors fail closed: the subject is reported suspended until the store
// recovers.
func (m *SuspensionManager) IsSuspended(ctx context.Context, subject string) (*Suspension, bool) {
	s, err := m.store.Get(ctx, subject)
	if err != nil {
		logging.Error().Err(err).Str("subject", subject).Msg("Suspension lookup failed, failing closed")
		return &Suspension{
			Subject:     subject,
			Reason:      "store_unavailable",
			SuspendedAt: time.Now(),
			ExpiresAt:   time.Now().Add(m.cfg.BaseDuration),
		}, true
	}
	if s == nil || !s.Active() {
		return nil, false
	}
	return s, true
}

// Lift removes a subject's suspension record, clearing its offense history.
func (m *SuspensionManager) Lift(ctx context.Context, subject string) error {
	s, err := m.store.Get(ctx, subject)
	if err != nil {
		return fmt.Errorf("load suspension for %q: %w", subject, err)
	}
	if s == nil {
		return ErrNotSuspended
	}
	if err := m.store.Delete(ctx, subject); err != nil {
		return fmt.Errorf("delete suspension for %q: %w", subject, err)
	}
	m.record(audit.EventTypeSuspensionLifted, subject, map[string]interface{}{
		"offenses": s.Offenses,
	})
	logging.Info().Str("subject", subject).Msg("Suspension lifted")
	return nil
}

// List returns all suspension records, including recently expired ones kept
// for escalation history.
func (m *SuspensionManager) List(ctx context.Context) ([]*Suspension, error) {
	return m.store.List(ctx)
}

// durationFor doubles the base duration per prior offense, capped at the
// configured maximum.
func (m *SuspensionManager) durationFor(offenses int) time.Duration {
	d := m.cfg.BaseDuration
	for i := 1; i < offenses; i++ {
		d *= 2
		if d >= m.cfg.MaxDuration {
			return m.cfg.MaxDuration
		}
	}
	if d > m.cfg.MaxDuration {
		return m.cfg.MaxDuration
	}
	return d
}

// Janitor returns a suture service that periodically prunes suspension
// records expired longer than the history grace window and refreshes the
// active-suspension gauge.
func (m *SuspensionManager) Janitor() *SuspensionJanitor {
	return &SuspensionJanitor{manager: m, interval: m.cfg.JanitorInterval}
}

// SuspensionJanitor sweeps expired suspension records on an interval.
type SuspensionJanitor struct {
	manager  *SuspensionManager
	interval time.Duration
}

// Serve implements suture.Service.
func (j *SuspensionJanitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *SuspensionJanitor) sweep(ctx context.Context) {
	pruned, err := j.manager.store.PruneExpired(ctx, time.Now().Add(-historyGrace))
	if err != nil {
		logging.Error().Err(err).Msg("Suspension sweep failed")
		return
	}
	if pruned > 0 {
		logging.Debug().Int("pruned", pruned).Msg("Expired suspensions pruned")
	}

	all, err := j.manager.store.List(ctx)
	if err != nil {
		return
	}
	active := 0
	for _, s := range all {
		if s.Active() {
			active++
		}
	}
	metrics.UpdateActiveSuspensions(active)
}

// String implements fmt.Stringer for supervision logs.
func (j *SuspensionJanitor) String() string {
	return "suspension-janitor"
}
