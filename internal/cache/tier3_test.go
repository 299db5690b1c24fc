// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/claviger-project/claviger/internal/breaker"
)

// fakeViews is an in-memory ViewReader double.
type fakeViews struct {
	rows    map[string]ViewRow
	readErr error
	delErr  error
	deleted []string
}

func newFakeViews() *fakeViews {
	return &fakeViews{rows: make(map[string]ViewRow)}
}

func (f *fakeViews) ReadDecision(_ context.Context, keyID string) (ViewRow, bool, error) {
	if f.readErr != nil {
		return ViewRow{}, false, f.readErr
	}
	row, ok := f.rows[keyID]
	return row, ok, nil
}

func (f *fakeViews) DeleteDecisionsByTag(_ context.Context, tag string) (int64, error) {
	if f.delErr != nil {
		return 0, f.delErr
	}
	f.deleted = append(f.deleted, tag)
	var n int64
	for id, row := range f.rows {
		for _, have := range row.Tags {
			if have == tag {
				delete(f.rows, id)
				n++
				break
			}
		}
	}
	return n, nil
}

func tier3TestBreaker(name string) *breaker.Breaker {
	return breaker.New(breaker.Options{
		Name:             name,
		Timeout:          500 * time.Millisecond,
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	})
}

func TestTier3_HitMapsRowToEntry(t *testing.T) {
	views := newFakeViews()
	t3 := NewTier3(views, tier3TestBreaker("views-hit"))

	key := TeamMembershipKey(testSubject, testTeam, "read", "v1")
	evaluated := time.Now().Add(-time.Minute)
	refreshed := time.Now().Add(-30 * time.Second)
	views.rows[key.String()] = ViewRow{
		KeyID:         key.String(),
		Pattern:       string(PatternTeamMembership),
		Outcome:       "granted",
		ReasonCode:    "reason_team_member",
		DecidingLayer: "sharing",
		PolicyVersion: "v1",
		EvaluatedAt:   evaluated,
		RefreshedAt:   refreshed,
		ExpiresAt:     time.Now().Add(5 * time.Minute),
		Tags:          key.Tags(),
	}

	got, ok, err := t3.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !ok {
		t.Fatal("Expected view hit")
	}
	if got.TierOrigin != TierL3 {
		t.Errorf("TierOrigin = %q, want %q", got.TierOrigin, TierL3)
	}
	if got.Record.Outcome != "granted" || got.Record.ReasonCode != "reason_team_member" {
		t.Errorf("Record mapping mismatch: %+v", got.Record)
	}
	if !got.Record.EvaluatedAt.Equal(evaluated) {
		t.Error("EvaluatedAt not carried over from the row")
	}
	if !got.InsertedAt.Equal(refreshed) {
		t.Error("InsertedAt should be the row's refresh time")
	}
	if len(got.Tags) != 2 {
		t.Errorf("Tags = %v, want the key's two tags", got.Tags)
	}
}

func TestTier3_MissOnAbsentRow(t *testing.T) {
	t3 := NewTier3(newFakeViews(), tier3TestBreaker("views-miss"))

	_, ok, err := t3.Get(context.Background(), permKey(1))
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if ok {
		t.Error("Expected miss on absent row")
	}
}

func TestTier3_ExpiredRowIsMiss(t *testing.T) {
	views := newFakeViews()
	t3 := NewTier3(views, tier3TestBreaker("views-expired"))

	key := permKey(1)
	views.rows[key.String()] = ViewRow{
		KeyID:     key.String(),
		Outcome:   "granted",
		ExpiresAt: time.Now().Add(-time.Second),
		Tags:      key.Tags(),
	}

	if _, ok, _ := t3.Get(context.Background(), key); ok {
		t.Error("Expected expired row to report a miss")
	}
}

func TestTier3_ZeroExpiryGetsPatternDefault(t *testing.T) {
	views := newFakeViews()
	t3 := NewTier3(views, tier3TestBreaker("views-default"))

	key := permKey(1)
	views.rows[key.String()] = ViewRow{
		KeyID:       key.String(),
		Outcome:     "granted",
		RefreshedAt: time.Now().Add(-time.Hour),
		Tags:        key.Tags(),
	}

	got, ok, err := t3.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("Get = ok:%v err:%v, want hit", ok, err)
	}

	want := PolicyFor(PatternResourcePermission).Default
	remaining := time.Until(got.ExpiresAt)
	if remaining <= 0 || remaining > want {
		t.Errorf("Defaulted expiry leaves %v, want within (0, %v]", remaining, want)
	}
}

func TestTier3_ReadErrorOpensBreaker(t *testing.T) {
	views := newFakeViews()
	views.readErr = errors.New("query timeout")
	t3 := NewTier3(views, tier3TestBreaker("views-err"))
	ctx := context.Background()

	key := permKey(1)
	for i := 0; i < 2; i++ {
		if _, _, err := t3.Get(ctx, key); err == nil {
			t.Fatalf("Get %d returned nil error, want failure", i)
		}
	}

	// Threshold reached: the next call must be rejected without touching
	// the backend.
	_, _, err := t3.Get(ctx, key)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Get after breaker opened returned %v, want ErrBackendUnavailable", err)
	}
}

func TestTier3_InvalidateTag(t *testing.T) {
	views := newFakeViews()
	t3 := NewTier3(views, tier3TestBreaker("views-inv"))

	first := permKey(1)
	second := SubjectCapabilitiesKey(testSubject, "v1")
	views.rows[first.String()] = ViewRow{KeyID: first.String(), Outcome: "granted", ExpiresAt: time.Now().Add(time.Minute), Tags: first.Tags()}
	views.rows[second.String()] = ViewRow{KeyID: second.String(), Outcome: "granted", ExpiresAt: time.Now().Add(time.Minute), Tags: second.Tags()}

	n, err := t3.InvalidateTag(context.Background(), SubjectTag(testSubject))
	if err != nil {
		t.Fatalf("InvalidateTag returned error: %v", err)
	}
	if n != 2 {
		t.Errorf("InvalidateTag removed %d rows, want 2", n)
	}
	if len(views.rows) != 0 {
		t.Errorf("%d rows survived invalidation", len(views.rows))
	}
}

func TestTier3_InvalidateTagError(t *testing.T) {
	views := newFakeViews()
	views.delErr = errors.New("disk error")
	t3 := NewTier3(views, tier3TestBreaker("views-inv-err"))

	if _, err := t3.InvalidateTag(context.Background(), SubjectTag(testSubject)); err == nil {
		t.Error("Expected error from failing view delete")
	}
}
