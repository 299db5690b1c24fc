// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package auth

import (
	"context"
	"sync"
	"time"
)

// MemorySuspensionStore keeps suspension records in process memory. Used
// when no suspension path is configured; records are lost on restart.
type MemorySuspensionStore struct {
	mu      sync.RWMutex
	records map[string]*Suspension
}

// NewMemorySuspensionStore creates an empty in-memory suspension store.
func NewMemorySuspensionStore() *MemorySuspensionStore {
	return &MemorySuspensionStore{records: make(map[string]*Suspension)}
}

// Get returns the record for a subject, or (nil, nil) when absent.
func (s *MemorySuspensionStore) Get(_ context.Context, subject string) (*Suspension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[subject]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Save stores or replaces the record for the subject.
func (s *MemorySuspensionStore) Save(_ context.Context, rec *Suspension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.Subject] = &cp
	return nil
}

// Delete removes the record for the subject, if any.
func (s *MemorySuspensionStore) Delete(_ context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, subject)
	return nil
}

// List returns copies of all records.
func (s *MemorySuspensionStore) List(_ context.Context) ([]*Suspension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Suspension, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

// PruneExpired removes records that expired before the cutoff.
func (s *MemorySuspensionStore) PruneExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for subject, rec := range s.records {
		if rec.ExpiresAt.Before(cutoff) {
			delete(s.records, subject)
			pruned++
		}
	}
	return pruned, nil
}

// Close is a no-op for the memory store.
func (s *MemorySuspensionStore) Close() error {
	return nil
}
