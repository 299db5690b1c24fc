// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit events.
type EventType string

const (
	// Authorization decision events. Exactly one of these is emitted per
	// authorization call.
	EventTypeAuthzGranted       EventType = "authz.granted"
	EventTypeAuthzDenied        EventType = "authz.denied"
	EventTypeAuthzIndeterminate EventType = "authz.indeterminate"
	EventTypeAuthzCanceled      EventType = "authz.canceled"

	// Rate limiting and abuse events.
	EventTypeRateLimited       EventType = "ratelimit.rejected"
	EventTypeSuspensionApplied EventType = "abuse.suspension_applied"
	EventTypeSuspensionLifted  EventType = "abuse.suspension_lifted"

	// Security events produced by the validation and security layers.
	EventTypeSecurityViolation EventType = "security.violation"
	EventTypeSessionInvalid    EventType = "security.session_invalid"
	EventTypeOriginBlocked     EventType = "security.origin_blocked"

	// Cache coherence events.
	EventTypeCacheInvalidated EventType = "cache.invalidated"

	// Administrative events.
	EventTypeAdminAction EventType = "admin.action"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event represents a single audit record of an authorization decision or a
// security-relevant side effect. Events are append-only: once emitted they are
// owned by the sinks and never mutated or referenced again by the engine.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// Severity of the event.
	Severity Severity `json:"severity"`

	// SubjectID identifies the requesting subject. It is SHA-256 hashed
	// before emission when privacy mode is on.
	SubjectID string `json:"subject_id"`

	// ResourceType and ResourceID identify the target resource.
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Operation that was requested (read, write, delete, share).
	Operation string `json:"operation,omitempty"`

	// Outcome of the decision (granted, denied, indeterminate).
	Outcome string `json:"outcome,omitempty"`

	// ReasonCode machine-readably explains the outcome.
	ReasonCode string `json:"reason_code,omitempty"`

	// DecidingLayer names the pipeline layer that produced the outcome.
	DecidingLayer string `json:"deciding_layer,omitempty"`

	// CacheHit is true when the decision was served from the cache.
	CacheHit bool `json:"cache_hit"`

	// TierOrigin names the cache tier that served a hit (l1, l2, l3).
	TierOrigin string `json:"tier_origin,omitempty"`

	// Degraded is true when an INDETERMINATE result was coerced to a denial.
	Degraded bool `json:"degraded"`

	// ClientIP and UserAgent describe the request source.
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// CorrelationID links related events; RequestID ties the event to the
	// originating HTTP request.
	CorrelationID string `json:"correlation_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`

	// Duration is how long the decision took end to end.
	Duration time.Duration `json:"duration_ns"`

	// Metadata carries event-specific details.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// HashSubject returns the hex SHA-256 digest of a subject identifier, used
// when privacy mode requires subject IDs to be unlinkable to raw identifiers.
func HashSubject(subjectID string) string {
	sum := sha256.Sum256([]byte(subjectID))
	return hex.EncodeToString(sum[:])
}

// SeverityForEvent maps an event type to the severity sinks record it at.
// Security-class events are always elevated regardless of how the decision
// itself would classify; decision events defer to the outcome.
func SeverityForEvent(t EventType, outcome string) Severity {
	switch t {
	case EventTypeSecurityViolation, EventTypeSessionInvalid, EventTypeOriginBlocked:
		return SeverityError
	case EventTypeSuspensionApplied, EventTypeRateLimited:
		return SeverityWarning
	case EventTypeSuspensionLifted, EventTypeCacheInvalidated, EventTypeAdminAction:
		return SeverityInfo
	default:
		return SeverityForOutcome(outcome)
	}
}

// SeverityForOutcome maps a decision outcome string to the severity audit
// sinks record it at. Grants are routine; denials are warnings; anything
// indeterminate indicates degraded dependencies.
func SeverityForOutcome(outcome string) Severity {
	switch outcome {
	case "granted":
		return SeverityInfo
	case "denied":
		return SeverityWarning
	case "indeterminate":
		return SeverityError
	default:
		return SeverityInfo
	}
}

// Store defines the interface for audit event persistence. The DuckDB store
// backs the query API; the memory store backs tests and broker-less setups.
type Store interface {
	// Save persists an audit event.
	Save(ctx context.Context, event *Event) error

	// Get retrieves an event by ID.
	Get(ctx context.Context, id string) (*Event, error)

	// Query retrieves events matching the filter.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter QueryFilter) (int64, error)

	// Delete removes events older than the given time and reports how many
	// were removed.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter defines filtering options for audit queries.
type QueryFilter struct {
	// Types filters by event types.
	Types []EventType `json:"types,omitempty"`

	// Severities filters by severity levels.
	Severities []Severity `json:"severities,omitempty"`

	// Outcomes filters by decision outcome.
	Outcomes []string `json:"outcomes,omitempty"`

	// SubjectID filters by subject (hashed form when privacy mode is on).
	SubjectID string `json:"subject_id,omitempty"`

	// ResourceType and ResourceID filter by target resource.
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Operation filters by requested operation.
	Operation string `json:"operation,omitempty"`

	// DecidingLayer filters by the layer that produced the outcome.
	DecidingLayer string `json:"deciding_layer,omitempty"`

	// ClientIP filters by source IP.
	ClientIP string `json:"client_ip,omitempty"`

	// StartTime is the beginning of the time range.
	StartTime *time.Time `json:"start_time,omitempty"`

	// EndTime is the end of the time range.
	EndTime *time.Time `json:"end_time,omitempty"`

	// CorrelationID filters by correlation ID.
	CorrelationID string `json:"correlation_id,omitempty"`

	// RequestID filters by request ID.
	RequestID string `json:"request_id,omitempty"`

	// Limit is the maximum number of results.
	Limit int `json:"limit,omitempty"`

	// Offset for pagination.
	Offset int `json:"offset,omitempty"`

	// OrderBy specifies the sort field.
	OrderBy string `json:"order_by,omitempty"`

	// OrderDesc sorts in descending order.
	OrderDesc bool `json:"order_desc,omitempty"`
}

// DefaultQueryFilter returns a sensible default filter.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{
		Limit:     100,
		OrderBy:   "timestamp",
		OrderDesc: true,
	}
}
