// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestSpool(t *testing.T) *Spool {
	t.Helper()
	spool, err := OpenSpool(t.TempDir())
	if err != nil {
		t.Fatalf("open spool: %v", err)
	}
	t.Cleanup(func() { spool.Close() })
	return spool
}

func TestSpoolWriteConfirmCycle(t *testing.T) {
	spool := openTestSpool(t)
	ctx := context.Background()

	id, err := spool.Write(ctx, &Event{ID: "evt-1", Type: EventTypeAuthzDenied, SubjectID: "u-1"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if id == "" {
		t.Fatal("empty entry ID")
	}

	entries, err := spool.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("pending entries = %d, want 1", len(entries))
	}
	if entries[0].Event.ID != "evt-1" {
		t.Errorf("spooled event ID = %q, want evt-1", entries[0].Event.ID)
	}

	if err := spool.Confirm(ctx, id); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	entries, err = spool.Pending(ctx)
	if err != nil {
		t.Fatalf("pending after confirm: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("pending entries after confirm = %d, want 0", len(entries))
	}
}

func TestSpoolPendingOrderedOldestFirst(t *testing.T) {
	spool := openTestSpool(t)
	ctx := context.Background()

	for i, evtID := range []string{"evt-a", "evt-b", "evt-c"} {
		if _, err := spool.Write(ctx, &Event{ID: evtID, Type: EventTypeAuthzDenied}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := spool.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("pending entries = %d, want 3", len(entries))
	}
	for i, want := range []string{"evt-a", "evt-b", "evt-c"} {
		if entries[i].Event.ID != want {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].Event.ID, want)
		}
	}
}

func TestSpoolConfirmUnknownEntry(t *testing.T) {
	spool := openTestSpool(t)

	err := spool.Confirm(context.Background(), "missing")
	if !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("confirm unknown = %v, want ErrEntryNotFound", err)
	}
}

func TestSpoolSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	spool, err := OpenSpool(dir)
	if err != nil {
		t.Fatalf("open spool: %v", err)
	}
	if _, err := spool.Write(ctx, &Event{ID: "evt-durable", Type: EventTypeAuthzDenied}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := spool.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSpool(dir)
	if err != nil {
		t.Fatalf("reopen spool: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	entries, err := reopened.Pending(ctx)
	if err != nil {
		t.Fatalf("pending after reopen: %v", err)
	}
	if len(entries) != 1 || entries[0].Event.ID != "evt-durable" {
		t.Fatalf("entry did not survive reopen: %+v", entries)
	}
}

func TestSpoolClosedOperationsFail(t *testing.T) {
	spool, err := OpenSpool(t.TempDir())
	if err != nil {
		t.Fatalf("open spool: %v", err)
	}
	if err := spool.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ctx := context.Background()
	if _, err := spool.Write(ctx, &Event{ID: "evt"}); !errors.Is(err, ErrSpoolClosed) {
		t.Errorf("Write after close = %v, want ErrSpoolClosed", err)
	}
	if _, err := spool.Pending(ctx); !errors.Is(err, ErrSpoolClosed) {
		t.Errorf("Pending after close = %v, want ErrSpoolClosed", err)
	}
	if err := spool.Confirm(ctx, "x"); !errors.Is(err, ErrSpoolClosed) {
		t.Errorf("Confirm after close = %v, want ErrSpoolClosed", err)
	}
	if err := spool.Close(); err != nil {
		t.Errorf("second close = %v, want nil", err)
	}
}

func TestOpenSpoolRequiresPath(t *testing.T) {
	if _, err := OpenSpool(""); err == nil {
		t.Fatal("empty path accepted")
	}
}
