// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package audit

import (
	"context"
	"time"

	"github.com/claviger-project/claviger/internal/logging"
)

// Sweeper prunes stored events past the retention window. It is a suture
// service, run alongside the emitter when the store sink is enabled.
type Sweeper struct {
	store         Store
	retentionDays int
	interval      time.Duration
}

// NewSweeper creates a retention sweeper for the given store.
func NewSweeper(store Store, retentionDays int, interval time.Duration) *Sweeper {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{
		store:         store,
		retentionDays: retentionDays,
		interval:      interval,
	}
}

// Serve runs periodic retention sweeps until ctx is canceled. It implements
// suture.Service.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// String names the service in supervisor logs.
func (s *Sweeper) String() string {
	return "audit-retention-sweeper"
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	count, err := s.store.Delete(ctx, cutoff)
	if err != nil {
		logging.Error().Err(err).Msg("Audit retention sweep failed")
		return
	}
	if count > 0 {
		logging.Info().Int64("count", count).Msg("Pruned audit events past retention")
	}
}
