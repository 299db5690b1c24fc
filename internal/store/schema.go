// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

/*
schema.go - Schema Management

Tables:
  - ownerships: resource → owning subject (one owner per resource)
  - shares: explicit operation grants to subjects or teams, soft-revoked
  - team_members: subject ∈ team membership
  - resource_hierarchy: child → parent containment edges (one parent each)
  - media_grants: time-bounded signed access to media, soft-revoked
  - decision_views: materialized GRANTED decisions keyed by cache key ID

All columns are defined in the initial CREATE TABLE statements; there is no
migration machinery yet. Indexes cover the request-path lookups (shares by
resource, views by key and tag) and the refresher scans.
*/

package store

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// tableCreationQueries returns the table creation SQL statements.
func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ownerships (
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (resource_type, resource_id)
		)`,

		`CREATE TABLE IF NOT EXISTS shares (
			id UUID PRIMARY KEY,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			grantee_kind TEXT NOT NULL,
			grantee_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			created_by TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at TIMESTAMP,
			revoked_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS team_members (
			team_id TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			added_by TEXT,
			added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (team_id, subject_id)
		)`,

		`CREATE TABLE IF NOT EXISTS resource_hierarchy (
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			parent_type TEXT NOT NULL,
			parent_id TEXT NOT NULL,
			PRIMARY KEY (resource_type, resource_id)
		)`,

		`CREATE TABLE IF NOT EXISTS media_grants (
			id UUID PRIMARY KEY,
			media_id TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			issued_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			revoked_at TIMESTAMP
		)`,

		// key_id matches the cache key's compacted form; subject_tag and
		// resource_tag mirror the entry tags so tag invalidation is a
		// column match, not a JSON scan.
		`CREATE TABLE IF NOT EXISTS decision_views (
			key_id TEXT PRIMARY KEY,
			pattern TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reason_code TEXT NOT NULL,
			deciding_layer TEXT NOT NULL,
			policy_version TEXT,
			subject_tag TEXT NOT NULL,
			resource_tag TEXT,
			evaluated_at TIMESTAMP NOT NULL,
			refreshed_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
	}
}

// createIndexes creates indexes for request-path lookups and refresher scans.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_shares_resource ON shares (resource_type, resource_id)`,
		`CREATE INDEX IF NOT EXISTS idx_shares_grantee ON shares (grantee_kind, grantee_id)`,
		`CREATE INDEX IF NOT EXISTS idx_team_members_subject ON team_members (subject_id)`,
		`CREATE INDEX IF NOT EXISTS idx_media_grants_subject ON media_grants (subject_id, media_id)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_views_subject ON decision_views (subject_tag)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_views_resource ON decision_views (resource_tag)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_views_expires ON decision_views (expires_at)`,
	}

	for _, query := range indexes {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", query, err)
		}
	}

	return nil
}
