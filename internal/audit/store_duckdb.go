// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
)

// DuckDBStore implements Store using DuckDB. It shares the database with the
// decision view tier and backs the audit query API.
type DuckDBStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDuckDBStore creates a DuckDB-backed audit store. Call CreateTable during
// initialization before the first Save.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTable creates the audit_events table and its indexes if absent.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,

			subject_id TEXT NOT NULL,
			resource_type TEXT,
			resource_id TEXT,
			operation TEXT,

			outcome TEXT,
			reason_code TEXT,
			deciding_layer TEXT,
			cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
			tier_origin TEXT,
			degraded BOOLEAN NOT NULL DEFAULT FALSE,

			client_ip TEXT,
			user_agent TEXT,
			correlation_id TEXT,
			request_id TEXT,

			duration_ns BIGINT NOT NULL DEFAULT 0,
			metadata JSON,

			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(type);
		CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_events(subject_id);
		CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_events(resource_type, resource_id);
		CREATE INDEX IF NOT EXISTS idx_audit_outcome ON audit_events(outcome);
		CREATE INDEX IF NOT EXISTS idx_audit_correlation ON audit_events(correlation_id);
		CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_events(request_id);
	`

	for _, stmt := range strings.Split(query, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute audit schema statement: %w", err)
		}
	}

	logging.Info().Msg("Audit events table created/verified")
	return nil
}

// Save persists an audit event.
func (s *DuckDBStore) Save(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event == nil {
		return errors.New("event cannot be nil")
	}

	start := time.Now()
	query := `
		INSERT INTO audit_events (
			id, timestamp, type, severity,
			subject_id, resource_type, resource_id, operation,
			outcome, reason_code, deciding_layer, cache_hit, tier_origin, degraded,
			client_ip, user_agent, correlation_id, request_id,
			duration_ns, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		string(event.Type),
		string(event.Severity),
		event.SubjectID,
		event.ResourceType,
		event.ResourceID,
		event.Operation,
		event.Outcome,
		event.ReasonCode,
		event.DecidingLayer,
		event.CacheHit,
		event.TierOrigin,
		event.Degraded,
		event.ClientIP,
		event.UserAgent,
		event.CorrelationID,
		event.RequestID,
		int64(event.Duration),
		metadataParam(event.Metadata),
		time.Now().UTC(),
	)
	metrics.RecordDBQuery("insert", "audit_events", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("save audit event: %w", err)
	}
	return nil
}

// metadataParam converts raw metadata to a nullable string for the JSON
// column.
func metadataParam(metadata json.RawMessage) *string {
	if len(metadata) == 0 {
		return nil
	}
	s := string(metadata)
	return &s
}

// Get retrieves an event by ID.
func (s *DuckDBStore) Get(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectColumns + " FROM audit_events WHERE id = ?"
	row := s.db.QueryRowContext(ctx, query, id)

	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event not found: %s", id)
		}
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	return event, nil
}

// Query retrieves events matching the filter.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := buildQuery(filter, false)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("select", "audit_events", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to scan audit event row")
			continue
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// Count returns the number of events matching the filter.
func (s *DuckDBStore) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := buildQuery(filter, true)

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return count, nil
}

// Delete removes events older than the given time.
func (s *DuckDBStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp < ?", olderThan)
	metrics.RecordDBQuery("delete", "audit_events", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("delete old audit events: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleted row count: %w", err)
	}
	if count > 0 {
		logging.Info().Int64("deleted", count).Time("older_than", olderThan).Msg("Deleted old audit events")
	}
	return count, nil
}

// selectColumns lists every column scanEvent expects, metadata cast to
// VARCHAR for scanning.
const selectColumns = `
	SELECT
		id, timestamp, type, severity,
		subject_id, resource_type, resource_id, operation,
		outcome, reason_code, deciding_layer, cache_hit, tier_origin, degraded,
		client_ip, user_agent, correlation_id, request_id,
		duration_ns, CAST(metadata AS VARCHAR) as metadata`

// buildQuery constructs the SQL query for a filter.
func buildQuery(filter QueryFilter, countOnly bool) (string, []interface{}) {
	conditions, args := buildFilterConditions(filter)

	query := selectColumns + " FROM audit_events"
	if countOnly {
		query = "SELECT COUNT(*) FROM audit_events"
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if !countOnly {
		query = appendOrderAndLimit(query, filter)
	}
	return query, args
}

// buildFilterConditions builds WHERE clause conditions from a QueryFilter.
func buildFilterConditions(filter QueryFilter) ([]string, []interface{}) {
	var conditions []string
	var args []interface{}

	if cond := buildSliceCondition("type", filter.Types, &args); cond != "" {
		conditions = append(conditions, cond)
	}
	if cond := buildSliceCondition("severity", filter.Severities, &args); cond != "" {
		conditions = append(conditions, cond)
	}
	if cond := buildSliceCondition("outcome", filter.Outcomes, &args); cond != "" {
		conditions = append(conditions, cond)
	}

	conditions, args = appendStringCondition(conditions, args, "subject_id", filter.SubjectID)
	conditions, args = appendStringCondition(conditions, args, "resource_type", filter.ResourceType)
	conditions, args = appendStringCondition(conditions, args, "resource_id", filter.ResourceID)
	conditions, args = appendStringCondition(conditions, args, "operation", filter.Operation)
	conditions, args = appendStringCondition(conditions, args, "deciding_layer", filter.DecidingLayer)
	conditions, args = appendStringCondition(conditions, args, "client_ip", filter.ClientIP)
	conditions, args = appendStringCondition(conditions, args, "correlation_id", filter.CorrelationID)
	conditions, args = appendStringCondition(conditions, args, "request_id", filter.RequestID)

	if filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *filter.EndTime)
	}

	return conditions, args
}

// buildSliceCondition creates a SQL IN condition for a slice of string values.
func buildSliceCondition[T ~string](column string, values []T, args *[]interface{}) string {
	if len(values) == 0 {
		return ""
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		*args = append(*args, string(v))
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
}

// appendStringCondition adds a string equality condition if value is non-empty.
func appendStringCondition(conditions []string, args []interface{}, column, value string) ([]string, []interface{}) {
	if value != "" {
		conditions = append(conditions, column+" = ?")
		args = append(args, value)
	}
	return conditions, args
}

// appendOrderAndLimit adds ORDER BY, LIMIT, and OFFSET clauses.
func appendOrderAndLimit(query string, filter QueryFilter) string {
	orderBy := "timestamp"
	validFields := map[string]bool{
		"timestamp": true, "type": true, "severity": true,
		"outcome": true, "subject_id": true, "created_at": true,
	}
	if filter.OrderBy != "" && validFields[filter.OrderBy] {
		orderBy = filter.OrderBy
	}

	direction := "ASC"
	if filter.OrderDesc {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", orderBy, direction)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}
	return query
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEvent scans one result row into an Event.
func scanEvent(row rowScanner) (*Event, error) {
	var (
		event      Event
		eventType  string
		severity   string
		duration   int64
		resType    sql.NullString
		resID      sql.NullString
		operation  sql.NullString
		outcome    sql.NullString
		reasonCode sql.NullString
		layer      sql.NullString
		tierOrigin sql.NullString
		clientIP   sql.NullString
		userAgent  sql.NullString
		corrID     sql.NullString
		reqID      sql.NullString
		metadata   sql.NullString
	)

	err := row.Scan(
		&event.ID,
		&event.Timestamp,
		&eventType,
		&severity,
		&event.SubjectID,
		&resType,
		&resID,
		&operation,
		&outcome,
		&reasonCode,
		&layer,
		&event.CacheHit,
		&tierOrigin,
		&event.Degraded,
		&clientIP,
		&userAgent,
		&corrID,
		&reqID,
		&duration,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	event.Type = EventType(eventType)
	event.Severity = Severity(severity)
	event.ResourceType = resType.String
	event.ResourceID = resID.String
	event.Operation = operation.String
	event.Outcome = outcome.String
	event.ReasonCode = reasonCode.String
	event.DecidingLayer = layer.String
	event.TierOrigin = tierOrigin.String
	event.ClientIP = clientIP.String
	event.UserAgent = userAgent.String
	event.CorrelationID = corrID.String
	event.RequestID = reqID.String
	event.Duration = time.Duration(duration)
	if metadata.Valid && metadata.String != "" {
		event.Metadata = json.RawMessage(metadata.String)
	}
	return &event, nil
}
