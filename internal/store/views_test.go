// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package store

import (
	"context"
	"testing"
	"time"

	"github.com/claviger-project/claviger/internal/cache"
	"github.com/claviger-project/claviger/internal/models"
)

// viewRowFor builds a granted view row for a key, expiring an hour out.
func viewRowFor(key cache.Key, reason, layer, policyVersion string) cache.ViewRow {
	now := time.Now()
	return cache.ViewRow{
		KeyID:         key.String(),
		Pattern:       string(key.Pattern()),
		Outcome:       models.OutcomeGranted,
		ReasonCode:    reason,
		DecidingLayer: layer,
		PolicyVersion: policyVersion,
		EvaluatedAt:   now,
		RefreshedAt:   now,
		ExpiresAt:     now.Add(time.Hour),
		Tags:          key.Tags(),
	}
}

// checkTimeClose checks two timestamps agree within a millisecond. DuckDB
// stores microsecond precision and returns UTC, so exact equality is wrong.
func checkTimeClose(t *testing.T, fieldName string, got, want time.Time) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Millisecond {
		t.Errorf("%s: got %v, want %v (diff %v)", fieldName, got, want, diff)
	}
}

func TestUpsertAndReadDecision(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	key := cache.ResourcePermissionKey("alice", models.ResourceProject, "p1", models.OperationRead, "v1")
	want := viewRowFor(key, models.ReasonOwner, models.LayerOwnership, "v1")
	checkNoError(t, db.UpsertDecisions(ctx, []cache.ViewRow{want}))

	got, found, err := db.ReadDecision(ctx, key.String())
	checkNoError(t, err)
	if !found {
		t.Fatal("expected a view row")
	}

	checkStringEqual(t, "key id", got.KeyID, want.KeyID)
	checkStringEqual(t, "pattern", got.Pattern, string(cache.PatternResourcePermission))
	checkStringEqual(t, "outcome", got.Outcome, models.OutcomeGranted)
	checkStringEqual(t, "reason", got.ReasonCode, models.ReasonOwner)
	checkStringEqual(t, "layer", got.DecidingLayer, models.LayerOwnership)
	checkStringEqual(t, "policy version", got.PolicyVersion, "v1")
	checkTimeClose(t, "evaluated at", got.EvaluatedAt, want.EvaluatedAt)
	checkTimeClose(t, "refreshed at", got.RefreshedAt, want.RefreshedAt)
	checkTimeClose(t, "expires at", got.ExpiresAt, want.ExpiresAt)

	if len(got.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", got.Tags)
	}
	checkStringEqual(t, "subject tag", got.Tags[0], cache.SubjectTag("alice"))
	checkStringEqual(t, "resource tag", got.Tags[1], cache.ResourceTag("p1"))
}

func TestReadDecision_Miss(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, found, err := db.ReadDecision(context.Background(), "resource_permission:deadbeef")
	checkNoError(t, err)
	if found {
		t.Error("expected a miss for an unknown key")
	}
}

func TestReadDecision_NoResourceTag(t *testing.T) {
	// Capability keys carry only a subject tag; the resource column is NULL
	// and must not surface as an empty tag.
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	key := cache.SubjectCapabilitiesKey("alice", "v1")
	row := viewRowFor(key, models.ReasonCapability, models.LayerCapability, "v1")
	checkNoError(t, db.UpsertDecisions(ctx, []cache.ViewRow{row}))

	got, found, err := db.ReadDecision(ctx, key.String())
	checkNoError(t, err)
	if !found {
		t.Fatal("expected a view row")
	}
	if len(got.Tags) != 1 {
		t.Fatalf("expected only the subject tag, got %v", got.Tags)
	}
	checkStringEqual(t, "subject tag", got.Tags[0], cache.SubjectTag("alice"))
}

func TestUpsertDecisions_ReplacesExisting(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	key := cache.TeamMembershipKey("bob", "team1", "read", "v1")
	first := viewRowFor(key, models.ReasonTeamMember, models.LayerSharing, "v1")
	checkNoError(t, db.UpsertDecisions(ctx, []cache.ViewRow{first}))

	second := first
	second.PolicyVersion = "v2"
	second.RefreshedAt = time.Now().Add(time.Second)
	checkNoError(t, db.UpsertDecisions(ctx, []cache.ViewRow{second}))

	got, found, err := db.ReadDecision(ctx, key.String())
	checkNoError(t, err)
	if !found {
		t.Fatal("expected a view row")
	}
	checkStringEqual(t, "policy version", got.PolicyVersion, "v2")

	n, err := db.CountDecisions(ctx)
	checkNoError(t, err)
	if n != 1 {
		t.Errorf("expected a single row after replace, got %d", n)
	}
}

func TestUpsertDecisions_Empty(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	checkNoError(t, db.UpsertDecisions(context.Background(), nil))
}

func TestDeleteDecisionsByTag(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	aliceP1 := cache.ResourcePermissionKey("alice", models.ResourceProject, "p1", models.OperationRead, "v1")
	aliceP2 := cache.ResourcePermissionKey("alice", models.ResourceProject, "p2", models.OperationRead, "v1")
	bobP1 := cache.ResourcePermissionKey("bob", models.ResourceProject, "p1", models.OperationRead, "v1")

	seed := func() {
		rows := []cache.ViewRow{
			viewRowFor(aliceP1, models.ReasonOwner, models.LayerOwnership, "v1"),
			viewRowFor(aliceP2, models.ReasonShared, models.LayerSharing, "v1"),
			viewRowFor(bobP1, models.ReasonShared, models.LayerSharing, "v2"),
		}
		checkNoError(t, db.UpsertDecisions(ctx, rows))
	}

	t.Run("by subject tag", func(t *testing.T) {
		seed()
		n, err := db.DeleteDecisionsByTag(ctx, cache.SubjectTag("alice"))
		checkNoError(t, err)
		if n != 2 {
			t.Fatalf("expected 2 rows removed, got %d", n)
		}
		if _, found, _ := db.ReadDecision(ctx, bobP1.String()); !found {
			t.Error("bob's row should survive a subject invalidation for alice")
		}
	})

	t.Run("by resource tag", func(t *testing.T) {
		seed()
		n, err := db.DeleteDecisionsByTag(ctx, cache.ResourceTag("p1"))
		checkNoError(t, err)
		if n != 2 {
			t.Fatalf("expected 2 rows removed, got %d", n)
		}
		if _, found, _ := db.ReadDecision(ctx, aliceP2.String()); !found {
			t.Error("p2 row should survive a resource invalidation for p1")
		}
	})

	t.Run("by policy tag", func(t *testing.T) {
		seed()
		n, err := db.DeleteDecisionsByTag(ctx, "policy:v2")
		checkNoError(t, err)
		if n != 1 {
			t.Fatalf("expected 1 row removed, got %d", n)
		}
		if _, found, _ := db.ReadDecision(ctx, aliceP1.String()); !found {
			t.Error("v1 rows should survive a v2 policy invalidation")
		}
	})

	t.Run("unknown tag removes nothing", func(t *testing.T) {
		seed()
		n, err := db.DeleteDecisionsByTag(ctx, cache.SubjectTag("nobody"))
		checkNoError(t, err)
		if n != 0 {
			t.Errorf("expected 0 rows removed, got %d", n)
		}
	})
}

func TestPruneExpiredDecisions(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	fresh := viewRowFor(
		cache.MediaSignedAccessKey("alice", "m1", "read", "v1"),
		models.ReasonMediaGrant, models.LayerMedia, "v1",
	)
	stale := viewRowFor(
		cache.MediaSignedAccessKey("bob", "m2", "read", "v1"),
		models.ReasonMediaGrant, models.LayerMedia, "v1",
	)
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	checkNoError(t, db.UpsertDecisions(ctx, []cache.ViewRow{fresh, stale}))

	n, err := db.PruneExpiredDecisions(ctx, time.Now())
	checkNoError(t, err)
	if n != 1 {
		t.Fatalf("expected 1 row pruned, got %d", n)
	}

	count, err := db.CountDecisions(ctx)
	checkNoError(t, err)
	if count != 1 {
		t.Errorf("expected 1 row remaining, got %d", count)
	}
}

func TestSplitTags(t *testing.T) {
	tests := []struct {
		name         string
		tags         []string
		wantSubject  string
		wantResource string
	}{
		{
			name:        "subject only",
			tags:        []string{"subject:alice"},
			wantSubject: "subject:alice",
		},
		{
			name:         "subject and resource",
			tags:         []string{"subject:alice", "resource:p1"},
			wantSubject:  "subject:alice",
			wantResource: "resource:p1",
		},
		{
			name:         "unknown tags dropped",
			tags:         []string{"policy:v1", "subject:alice", "resource:p1", ""},
			wantSubject:  "subject:alice",
			wantResource: "resource:p1",
		},
		{
			name: "empty",
			tags: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, resource := splitTags(tt.tags)
			checkStringEqual(t, "subject tag", subject, tt.wantSubject)
			checkStringEqual(t, "resource tag", resource, tt.wantResource)
		})
	}
}
