// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
)

// suspensionPrefix namespaces suspension records in the badger keyspace.
const suspensionPrefix = "suspension:"

// BadgerSuspensionStore persists suspension records in an embedded badger
// database so escalation history survives restarts.
type BadgerSuspensionStore struct {
	db *badger.DB

	mu     sync.Mutex
	closed bool
}

// OpenBadgerSuspensionStore opens (or creates) the badger database at path.
func OpenBadgerSuspensionStore(path string) (*BadgerSuspensionStore, error) {
	if path == "" {
		return nil, errors.New("suspension store path required")
	}

	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open suspension store at %s: %w", path, err)
	}
	return &BadgerSuspensionStore{db: db}, nil
}

// Get returns the record for a subject, or (nil, nil) when absent.
func (s *BadgerSuspensionStore) Get(_ context.Context, subject string) (*Suspension, error) {
	var rec *Suspension
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(suspensionPrefix + subject))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded Suspension
			if err := json.Unmarshal(val, &decoded); err != nil {
				return fmt.Errorf("decode suspension record: %w", err)
			}
			rec = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read suspension for %q: %w", subject, err)
	}
	return rec, nil
}

// Save stores or replaces the record for the subject.
func (s *BadgerSuspensionStore) Save(_ context.Context, rec *Suspension) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode suspension record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(suspensionPrefix+rec.Subject), payload)
	})
	if err != nil {
		return fmt.Errorf("write suspension for %q: %w", rec.Subject, err)
	}
	return nil
}

// Delete removes the record for the subject, if any.
func (s *BadgerSuspensionStore) Delete(_ context.Context, subject string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(suspensionPrefix + subject))
	})
	if err != nil {
		return fmt.Errorf("delete suspension for %q: %w", subject, err)
	}
	return nil
}

// List returns all stored records. Entries that fail to decode are skipped.
func (s *BadgerSuspensionStore) List(ctx context.Context) ([]*Suspension, error) {
	var out []*Suspension
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(suspensionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var rec Suspension
				if err := json.Unmarshal(val, &rec); err != nil {
					return nil
				}
				out = append(out, &rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list suspensions: %w", err)
	}
	return out, nil
}

// PruneExpired removes records that expired before the cutoff.
func (s *BadgerSuspensionStore) PruneExpired(ctx context.Context, cutoff time.Time) (int, error) {
	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, rec := range all {
		if !rec.ExpiresAt.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, rec.Subject); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// Close shuts the underlying database. Safe to call more than once.
func (s *BadgerSuspensionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
