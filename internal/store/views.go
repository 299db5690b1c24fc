// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

/*
views.go - Decision View Operations

This file implements the cache.ViewReader interface over the decision_views
table, plus the write side used exclusively by the background refresher.

Key Operations:
  - ReadDecision: request-path point read behind the tier-3 breaker
  - DeleteDecisionsByTag: administrative invalidation by subject, resource
    or policy tag
  - UpsertDecisions: transactional batch replace, refresher only
  - PruneExpiredDecisions / CountDecisions: housekeeping

Views hold granted decisions only. A missing row is not a denial; callers
fall through to live evaluation.
*/

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/claviger-project/claviger/internal/cache"
	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
)

// Compile-time check that DB satisfies the cache tier-3 read surface.
var _ cache.ViewReader = (*DB)(nil)

// viewsMutex serializes view writes (refresher batches, invalidation,
// pruning). Reads are not serialized.
var viewsMutex sync.Mutex

// policyTagPrefix marks invalidation tags that target a policy version
// rather than a subject or resource.
const policyTagPrefix = "policy:"

// ReadDecision returns the view row for a key ID. The second return is
// false on a miss. Expiry is the caller's concern; the tier checks it
// against its own clock.
func (db *DB) ReadDecision(ctx context.Context, keyID string) (cache.ViewRow, bool, error) {
	query := `
		SELECT key_id, pattern, outcome, reason_code, deciding_layer,
		       policy_version, subject_tag, resource_tag,
		       evaluated_at, refreshed_at, expires_at
		FROM decision_views
		WHERE key_id = ?
	`

	start := time.Now()
	var row cache.ViewRow
	var policyVersion, resourceTag sql.NullString
	var subjectTag string

	err := db.conn.QueryRowContext(ctx, query, keyID).Scan(
		&row.KeyID, &row.Pattern, &row.Outcome, &row.ReasonCode, &row.DecidingLayer,
		&policyVersion, &subjectTag, &resourceTag,
		&row.EvaluatedAt, &row.RefreshedAt, &row.ExpiresAt,
	)
	metrics.RecordDBQuery("select", "decision_views", time.Since(start), ignoreNoRows(err))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cache.ViewRow{}, false, nil
		}
		return cache.ViewRow{}, false, fmt.Errorf("failed to read decision view: %w", err)
	}

	if policyVersion.Valid {
		row.PolicyVersion = policyVersion.String
	}
	row.Tags = append(row.Tags, subjectTag)
	if resourceTag.Valid && resourceTag.String != "" {
		row.Tags = append(row.Tags, resourceTag.String)
	}
	return row, true, nil
}

// DeleteDecisionsByTag removes every view row carrying the tag. A
// policy-prefixed tag matches the stored policy version; anything else
// matches the subject or resource tag columns. Returns rows removed.
func (db *DB) DeleteDecisionsByTag(ctx context.Context, tag string) (int64, error) {
	viewsMutex.Lock()
	defer viewsMutex.Unlock()

	var query string
	var arg interface{}
	if version, ok := strings.CutPrefix(tag, policyTagPrefix); ok {
		query = `DELETE FROM decision_views WHERE policy_version = ?`
		arg = version
	} else {
		query = `DELETE FROM decision_views WHERE subject_tag = ? OR resource_tag = ?`
	}

	start := time.Now()
	var res sql.Result
	var err error
	if arg != nil {
		res, err = db.conn.ExecContext(ctx, query, arg)
	} else {
		res, err = db.conn.ExecContext(ctx, query, tag, tag)
	}
	metrics.RecordDBQuery("delete", "decision_views", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete decision views: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n, nil
}

// UpsertDecisions replaces view rows in one transaction. Refresher only;
// nothing on the request path calls this.
func (db *DB) UpsertDecisions(ctx context.Context, rows []cache.ViewRow) (err error) {
	if len(rows) == 0 {
		return nil
	}

	viewsMutex.Lock()
	defer viewsMutex.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Error().
					Err(rbErr).
					AnErr("original_error", err).
					Msg("View upsert rollback failed")
			}
		}
	}()

	query := `
		INSERT INTO decision_views (
			key_id, pattern, outcome, reason_code, deciding_layer,
			policy_version, subject_tag, resource_tag,
			evaluated_at, refreshed_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key_id) DO UPDATE SET
			pattern = EXCLUDED.pattern,
			outcome = EXCLUDED.outcome,
			reason_code = EXCLUDED.reason_code,
			deciding_layer = EXCLUDED.deciding_layer,
			policy_version = EXCLUDED.policy_version,
			subject_tag = EXCLUDED.subject_tag,
			resource_tag = EXCLUDED.resource_tag,
			evaluated_at = EXCLUDED.evaluated_at,
			refreshed_at = EXCLUDED.refreshed_at,
			expires_at = EXCLUDED.expires_at
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("Failed to close prepared statement")
		}
	}()

	start := time.Now()
	for i := range rows {
		row := &rows[i]
		subjectTag, resourceTag := splitTags(row.Tags)
		var policyVersion interface{}
		if row.PolicyVersion != "" {
			policyVersion = row.PolicyVersion
		}
		var resTag interface{}
		if resourceTag != "" {
			resTag = resourceTag
		}

		if _, execErr := stmt.ExecContext(ctx,
			row.KeyID, row.Pattern, row.Outcome, row.ReasonCode, row.DecidingLayer,
			policyVersion, subjectTag, resTag,
			row.EvaluatedAt, row.RefreshedAt, row.ExpiresAt,
		); execErr != nil {
			err = fmt.Errorf("failed to upsert decision view %s: %w", row.KeyID, execErr)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit view upsert: %w", err)
	}
	metrics.RecordDBQuery("insert", "decision_views", time.Since(start), nil)
	return nil
}

// splitTags picks the subject and resource tags out of an entry tag list.
// Unrecognized tags are dropped; policy scoping rides in the dedicated
// column, not the tag columns.
func splitTags(tags []string) (subjectTag, resourceTag string) {
	for _, tag := range tags {
		switch {
		case strings.HasPrefix(tag, "subject:"):
			subjectTag = tag
		case strings.HasPrefix(tag, "resource:"):
			resourceTag = tag
		}
	}
	return subjectTag, resourceTag
}

// PruneExpiredDecisions removes rows whose expiry has passed. Returns rows
// removed.
func (db *DB) PruneExpiredDecisions(ctx context.Context, now time.Time) (int64, error) {
	viewsMutex.Lock()
	defer viewsMutex.Unlock()

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, `DELETE FROM decision_views WHERE expires_at <= ?`, now)
	metrics.RecordDBQuery("delete", "decision_views", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to prune decision views: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read prune result: %w", err)
	}
	return n, nil
}

// CountDecisions returns the number of view rows.
func (db *DB) CountDecisions(ctx context.Context) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM decision_views`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count decision views: %w", err)
	}
	return n, nil
}

// ignoreNoRows keeps point-read misses out of the query error metric.
func ignoreNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}
