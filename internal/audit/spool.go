// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/claviger-project/claviger/internal/logging"
)

// Spool errors.
var (
	ErrSpoolClosed   = errors.New("audit spool is closed")
	ErrEntryNotFound = errors.New("spool entry not found")
)

const pendingPrefix = "pending:"

// SpoolEntry is one durably spooled event awaiting redelivery.
type SpoolEntry struct {
	// ID is the spool entry identifier, distinct from the event ID.
	ID string `json:"id"`

	// Event is the spooled audit event.
	Event *Event `json:"event"`

	// CreatedAt is when the entry was spooled.
	CreatedAt time.Time `json:"created_at"`
}

// Spool is a badger-backed durable buffer for audit events that could not be
// delivered to a sink. Writes are fsynced before Write returns; entries
// survive process crashes and are redelivered until confirmed. The contract
// is write, then confirm once every sink has accepted the event.
type Spool struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

// OpenSpool opens (or creates) the spool database at path.
func OpenSpool(path string) (*Spool, error) {
	if path == "" {
		return nil, errors.New("spool path is required")
	}

	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open spool database: %w", err)
	}

	logging.Info().Str("path", path).Msg("Audit spool opened")
	return &Spool{db: db}, nil
}

// Write durably persists an event and returns the spool entry ID.
func (s *Spool) Write(ctx context.Context, event *Event) (string, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return "", ErrSpoolClosed
	}
	s.mu.RUnlock()

	if event == nil {
		return "", errors.New("event cannot be nil")
	}

	entry := &SpoolEntry{
		ID:        uuid.New().String(),
		Event:     event,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal spool entry: %w", err)
	}

	key := []byte(pendingPrefix + entry.ID)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return "", fmt.Errorf("write spool entry: %w", err)
	}

	return entry.ID, nil
}

// Confirm removes a delivered entry from the spool.
func (s *Spool) Confirm(ctx context.Context, entryID string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrSpoolClosed
	}
	s.mu.RUnlock()

	if entryID == "" {
		return errors.New("entry ID cannot be empty")
	}

	key := []byte(pendingPrefix + entryID)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		} else if err != nil {
			return fmt.Errorf("get spool entry: %w", err)
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	return nil
}

// Pending returns all unconfirmed entries, oldest first. A View transaction
// gives a consistent snapshot; entries written concurrently are picked up on
// the next drain.
func (s *Spool) Pending(ctx context.Context) ([]*SpoolEntry, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrSpoolClosed
	}
	s.mu.RUnlock()

	var entries []*SpoolEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(pendingPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var entry SpoolEntry
			verr := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if verr != nil {
				logging.Warn().Err(verr).Str("key", string(it.Item().Key())).Msg("Spool entry unreadable, skipping")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate spool entries: %w", err)
	}

	// Oldest first so redelivery roughly preserves emission order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// Close shuts the spool down. Pending entries remain on disk for the next
// start.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
