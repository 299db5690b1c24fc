// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

/*
grants.go - Grant Source Operations

This file provides database operations for the grant sources the
authorization layers evaluate: ownership, shares, team membership,
hierarchy edges, and media grants.

Key Operations:
  - PutOwnership / Owner: record and resolve resource ownership
  - CreateShare / RevokeShare / SharesOn: explicit operation grants
  - AddTeamMember / RemoveTeamMember / TeamsOf / TeamMembers: membership
  - SetParent / RemoveParent / Parent: hierarchy edges
  - CreateMediaGrant / RevokeMediaGrant / MediaGrantFor: signed media access
  - List*: full scans consumed by the view refresher

Thread Safety:
Writes are serialized by a package mutex so read-modify-write sequences
(revocations, upserts) stay atomic under concurrent administrative calls.

Revocation never deletes: shares and media grants keep their rows with a
revoked_at stamp so past decisions stay explainable.
*/

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claviger-project/claviger/internal/models"
)

// grantsMutex protects concurrent grant writes.
var grantsMutex sync.Mutex

// ErrShareNotFound is returned when a share ID does not exist.
var ErrShareNotFound = errors.New("share not found")

// ErrMediaGrantNotFound is returned when a media grant ID does not exist.
var ErrMediaGrantNotFound = errors.New("media grant not found")

// ErrInvalidGrant is returned when a grant record fails vocabulary checks.
var ErrInvalidGrant = errors.New("invalid grant")

// ---------------------------------------------------------------------------
// Ownership
// ---------------------------------------------------------------------------

// PutOwnership records or replaces the owner of a resource.
func (db *DB) PutOwnership(ctx context.Context, o *models.Ownership) error {
	if !models.IsValidResourceType(o.ResourceType) {
		return fmt.Errorf("%w: resource type %q", ErrInvalidGrant, o.ResourceType)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	grantsMutex.Lock()
	defer grantsMutex.Unlock()

	query := `
		INSERT INTO ownerships (resource_type, resource_id, subject_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (resource_type, resource_id) DO UPDATE SET
			subject_id = EXCLUDED.subject_id,
			created_at = EXCLUDED.created_at
	`
	if _, err := db.conn.ExecContext(ctx, query,
		o.ResourceType, o.ResourceID, o.SubjectID, o.CreatedAt); err != nil {
		return fmt.Errorf("failed to put ownership: %w", err)
	}
	return nil
}

// Owner resolves the owning subject of a resource. The second return is
// false when no ownership record exists.
func (db *DB) Owner(ctx context.Context, resourceType, resourceID string) (string, bool, error) {
	query := `SELECT subject_id FROM ownerships WHERE resource_type = ? AND resource_id = ?`

	var subjectID string
	err := db.conn.QueryRowContext(ctx, query, resourceType, resourceID).Scan(&subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query ownership: %w", err)
	}
	return subjectID, true, nil
}

// ListOwnerships returns every ownership record. Refresher scan.
func (db *DB) ListOwnerships(ctx context.Context) ([]*models.Ownership, error) {
	query := `SELECT resource_type, resource_id, subject_id, created_at FROM ownerships`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list ownerships: %w", err)
	}
	defer rows.Close()

	var out []*models.Ownership
	for rows.Next() {
		o := &models.Ownership{}
		if err := rows.Scan(&o.ResourceType, &o.ResourceID, &o.SubjectID, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ownership: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Shares
// ---------------------------------------------------------------------------

// CreateShare records an explicit grant of one operation to a subject or
// team. ID and CreatedAt are assigned when zero.
func (db *DB) CreateShare(ctx context.Context, s *models.Share) error {
	if err := validateShare(s); err != nil {
		return err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	grantsMutex.Lock()
	defer grantsMutex.Unlock()

	query := `
		INSERT INTO shares (id, resource_type, resource_id, grantee_kind, grantee_id,
			operation, created_by, created_at, expires_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	expiresAt, revokedAt := nullableTimes(s.ExpiresAt, s.RevokedAt)
	if _, err := db.conn.ExecContext(ctx, query,
		s.ID, s.ResourceType, s.ResourceID, s.GranteeKind, s.GranteeID,
		s.Operation, s.CreatedBy, s.CreatedAt, expiresAt, revokedAt); err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}
	return nil
}

// validateShare checks a share against the grant vocabulary.
func validateShare(s *models.Share) error {
	if !models.IsValidResourceType(s.ResourceType) {
		return fmt.Errorf("%w: resource type %q", ErrInvalidGrant, s.ResourceType)
	}
	if !models.IsValidOperation(s.Operation) {
		return fmt.Errorf("%w: operation %q", ErrInvalidGrant, s.Operation)
	}
	if s.GranteeKind != models.GranteeSubject && s.GranteeKind != models.GranteeTeam {
		return fmt.Errorf("%w: grantee kind %q", ErrInvalidGrant, s.GranteeKind)
	}
	return nil
}

// RevokeShare stamps a share revoked. Returns ErrShareNotFound when the ID
// does not exist; revoking twice keeps the first stamp.
func (db *DB) RevokeShare(ctx context.Context, id uuid.UUID) error {
	grantsMutex.Lock()
	defer grantsMutex.Unlock()

	query := `UPDATE shares SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`
	res, err := db.conn.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to revoke share: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read revoke result: %w", err)
	}
	if n == 0 {
		// Distinguish an unknown ID from an already-revoked share.
		var exists bool
		check := `SELECT EXISTS (SELECT 1 FROM shares WHERE id = ?)`
		if err := db.conn.QueryRowContext(ctx, check, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check share existence: %w", err)
		}
		if !exists {
			return ErrShareNotFound
		}
	}
	return nil
}

// SharesOn returns every share row on a resource, effective or not; callers
// filter with IsEffective so a revoked row can still explain a denial.
func (db *DB) SharesOn(ctx context.Context, resourceType, resourceID string) ([]*models.Share, error) {
	query := `
		SELECT id, resource_type, resource_id, grantee_kind, grantee_id,
		       operation, created_by, created_at, expires_at, revoked_at
		FROM shares
		WHERE resource_type = ? AND resource_id = ?
		ORDER BY created_at DESC
	`
	rows, err := db.conn.QueryContext(ctx, query, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer rows.Close()

	return collectShares(rows)
}

// ListEffectiveShares returns all shares that grant something as of now.
// Refresher scan.
func (db *DB) ListEffectiveShares(ctx context.Context, now time.Time) ([]*models.Share, error) {
	query := `
		SELECT id, resource_type, resource_id, grantee_kind, grantee_id,
		       operation, created_by, created_at, expires_at, revoked_at
		FROM shares
		WHERE revoked_at IS NULL AND (expires_at IS NULL OR expires_at > ?)
	`
	rows, err := db.conn.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list effective shares: %w", err)
	}
	defer rows.Close()

	return collectShares(rows)
}

// collectShares drains a share result set.
func collectShares(rows *sql.Rows) ([]*models.Share, error) {
	var out []*models.Share
	for rows.Next() {
		s, err := scanShareRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// scanShareRow scans a database row into a Share, handling nullable fields.
func scanShareRow(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Share, error) {
	s := &models.Share{}
	var createdBy sql.NullString
	var expiresAt, revokedAt sql.NullTime

	err := scanner.Scan(
		&s.ID, &s.ResourceType, &s.ResourceID, &s.GranteeKind, &s.GranteeID,
		&s.Operation, &createdBy, &s.CreatedAt, &expiresAt, &revokedAt,
	)
	if err != nil {
		return nil, err
	}

	if createdBy.Valid {
		s.CreatedBy = createdBy.String
	}
	if expiresAt.Valid {
		s.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		s.RevokedAt = &revokedAt.Time
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Team membership
// ---------------------------------------------------------------------------

// AddTeamMember records a subject's membership in a team. Idempotent.
func (db *DB) AddTeamMember(ctx context.Context, m *models.TeamMembership) error {
	if m.AddedAt.IsZero() {
		m.AddedAt = time.Now()
	}

	grantsMutex.Lock()
	defer grantsMutex.Unlock()

	query := `
		INSERT INTO team_members (team_id, subject_id, added_by, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (team_id, subject_id) DO UPDATE SET
			added_by = EXCLUDED.added_by,
			added_at = EXCLUDED.added_at
	`
	if _, err := db.conn.ExecContext(ctx, query,
		m.TeamID, m.SubjectID, m.AddedBy, m.AddedAt); err != nil {
		return fmt.Errorf("failed to add team member: %w", err)
	}
	return nil
}

// RemoveTeamMember deletes a membership. Removing an absent member is a
// no-op.
func (db *DB) RemoveTeamMember(ctx context.Context, teamID, subjectID string) error {
	grantsMutex.Lock()
	defer grantsMutex.Unlock()

	query := `DELETE FROM team_members WHERE team_id = ? AND subject_id = ?`
	if _, err := db.conn.ExecContext(ctx, query, teamID, subjectID); err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}
	return nil
}

// TeamsOf returns the IDs of every team the subject belongs to.
func (db *DB) TeamsOf(ctx context.Context, subjectID string) ([]string, error) {
	query := `SELECT team_id FROM team_members WHERE subject_id = ? ORDER BY team_id`
	return db.collectIDs(ctx, query, subjectID)
}

// TeamMembers returns the subject IDs of every member of a team.
func (db *DB) TeamMembers(ctx context.Context, teamID string) ([]string, error) {
	query := `SELECT subject_id FROM team_members WHERE team_id = ? ORDER BY subject_id`
	return db.collectIDs(ctx, query, teamID)
}

// collectIDs drains a single-column string result set.
func (db *DB) collectIDs(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Hierarchy
// ---------------------------------------------------------------------------

// SetParent records or replaces a resource's parent edge.
func (db *DB) SetParent(ctx context.Context, link *models.HierarchyLink) error {
	if !models.IsValidResourceType(link.ResourceType) || !models.IsValidResourceType(link.ParentType) {
		return fmt.Errorf("%w: hierarchy edge %s/%s", ErrInvalidGrant, link.ResourceType, link.ParentType)
	}

	grantsMutex.Lock()
	defer grantsMutex.Unlock()

	query := `
		INSERT INTO resource_hierarchy (resource_type, resource_id, parent_type, parent_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (resource_type, resource_id) DO UPDATE SET
			parent_type = EXCLUDED.parent_type,
			parent_id = EXCLUDED.parent_id
	`
	if _, err := db.conn.ExecContext(ctx, query,
		link.ResourceType, link.ResourceID, link.ParentType, link.ParentID); err != nil {
		return fmt.Errorf("failed to set parent: %w", err)
	}
	return nil
}

// RemoveParent deletes a resource's parent edge. No-op when absent.
func (db *DB) RemoveParent(ctx context.Context, resourceType, resourceID string) error {
	grantsMutex.Lock()
	defer grantsMutex.Unlock()

	query := `DELETE FROM resource_hierarchy WHERE resource_type = ? AND resource_id = ?`
	if _, err := db.conn.ExecContext(ctx, query, resourceType, resourceID); err != nil {
		return fmt.Errorf("failed to remove parent: %w", err)
	}
	return nil
}

// Parent resolves a resource's parent edge. The second return is false when
// the resource has no parent.
func (db *DB) Parent(ctx context.Context, resourceType, resourceID string) (models.HierarchyLink, bool, error) {
	query := `
		SELECT resource_type, resource_id, parent_type, parent_id
		FROM resource_hierarchy
		WHERE resource_type = ? AND resource_id = ?
	`

	var link models.HierarchyLink
	err := db.conn.QueryRowContext(ctx, query, resourceType, resourceID).Scan(
		&link.ResourceType, &link.ResourceID, &link.ParentType, &link.ParentID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.HierarchyLink{}, false, nil
		}
		return models.HierarchyLink{}, false, fmt.Errorf("failed to query parent: %w", err)
	}
	return link, true, nil
}

// ---------------------------------------------------------------------------
// Media grants
// ---------------------------------------------------------------------------

// CreateMediaGrant records a signed-access grant. ID and IssuedAt are
// assigned when zero; ExpiresAt is mandatory.
func (db *DB) CreateMediaGrant(ctx context.Context, g *models.MediaGrant) error {
	if g.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: media grant without expiry", ErrInvalidGrant)
	}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.IssuedAt.IsZero() {
		g.IssuedAt = time.Now()
	}

	grantsMutex.Lock()
	defer grantsMutex.Unlock()

	query := `
		INSERT INTO media_grants (id, media_id, subject_id, issued_at, expires_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, revokedAt := nullableTimes(nil, g.RevokedAt)
	if _, err := db.conn.ExecContext(ctx, query,
		g.ID, g.MediaID, g.SubjectID, g.IssuedAt, g.ExpiresAt, revokedAt); err != nil {
		return fmt.Errorf("failed to create media grant: %w", err)
	}
	return nil
}

// RevokeMediaGrant stamps a media grant revoked before its natural expiry.
func (db *DB) RevokeMediaGrant(ctx context.Context, id uuid.UUID) error {
	grantsMutex.Lock()
	defer grantsMutex.Unlock()

	query := `UPDATE media_grants SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`
	res, err := db.conn.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to revoke media grant: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read revoke result: %w", err)
	}
	if n == 0 {
		var exists bool
		check := `SELECT EXISTS (SELECT 1 FROM media_grants WHERE id = ?)`
		if err := db.conn.QueryRowContext(ctx, check, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check media grant existence: %w", err)
		}
		if !exists {
			return ErrMediaGrantNotFound
		}
	}
	return nil
}

// MediaGrantFor returns the newest grant for (subject, media) regardless of
// state, so the media layer can distinguish an expired or revoked grant
// (deny) from no grant at all (abstain).
func (db *DB) MediaGrantFor(ctx context.Context, subjectID, mediaID string) (*models.MediaGrant, bool, error) {
	query := `
		SELECT id, media_id, subject_id, issued_at, expires_at, revoked_at
		FROM media_grants
		WHERE subject_id = ? AND media_id = ?
		ORDER BY issued_at DESC
		LIMIT 1
	`

	row := db.conn.QueryRowContext(ctx, query, subjectID, mediaID)
	g, err := scanMediaGrantRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to query media grant: %w", err)
	}
	return g, true, nil
}

// ListEffectiveMediaGrants returns all grants still valid as of now.
// Refresher scan.
func (db *DB) ListEffectiveMediaGrants(ctx context.Context, now time.Time) ([]*models.MediaGrant, error) {
	query := `
		SELECT id, media_id, subject_id, issued_at, expires_at, revoked_at
		FROM media_grants
		WHERE revoked_at IS NULL AND expires_at > ?
	`
	rows, err := db.conn.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list media grants: %w", err)
	}
	defer rows.Close()

	var out []*models.MediaGrant
	for rows.Next() {
		g, err := scanMediaGrantRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// scanMediaGrantRow scans a database row into a MediaGrant, handling the
// nullable revocation stamp.
func scanMediaGrantRow(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.MediaGrant, error) {
	g := &models.MediaGrant{}
	var revokedAt sql.NullTime

	err := scanner.Scan(&g.ID, &g.MediaID, &g.SubjectID, &g.IssuedAt, &g.ExpiresAt, &revokedAt)
	if err != nil {
		return nil, err
	}

	if revokedAt.Valid {
		g.RevokedAt = &revokedAt.Time
	}
	return g, nil
}

// nullableTimes converts pointer timestamps to database nullable values.
func nullableTimes(a, b *time.Time) (interface{}, interface{}) {
	var av, bv interface{}
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	return av, bv
}
