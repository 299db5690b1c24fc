// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/claviger-project/claviger/internal/audit"
	"github.com/claviger-project/claviger/internal/logging"
)

// handleDecisions queries recorded audit events. Filters map one-to-one to
// query parameters; times are RFC 3339. Results are newest first.
func (rt *Router) handleDecisions(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if rt.deps.AuditStore == nil {
		rw.ServiceUnavailable("Audit store is not configured")
		return
	}

	filter, err := decisionsFilter(r, rt.cfg.API.DefaultPageSize, rt.cfg.API.MaxPageSize)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	events, err := rt.deps.AuditStore.Query(r.Context(), filter)
	if err != nil {
		logging.Error().Err(err).Msg("Audit query failed")
		rw.InternalError("Audit query failed")
		return
	}

	rw.SuccessWithMeta(events, &APIMeta{Count: len(events)})
}

// decisionsFilter builds an audit query filter from URL query parameters.
func decisionsFilter(r *http.Request, defaultLimit, maxLimit int) (audit.QueryFilter, error) {
	q := r.URL.Query()

	filter := audit.DefaultQueryFilter()
	if defaultLimit > 0 {
		filter.Limit = defaultLimit
	}
	if maxLimit <= 0 {
		maxLimit = 1000
	}

	filter.SubjectID = q.Get("subject_id")
	filter.ResourceType = q.Get("resource_type")
	filter.ResourceID = q.Get("resource_id")
	filter.Operation = q.Get("operation")
	filter.DecidingLayer = q.Get("deciding_layer")
	filter.ClientIP = q.Get("client_ip")
	filter.CorrelationID = q.Get("correlation_id")
	filter.RequestID = q.Get("request_id")

	if v := q.Get("outcome"); v != "" {
		filter.Outcomes = []string{v}
	}
	if v := q.Get("type"); v != "" {
		filter.Types = []audit.EventType{audit.EventType(v)}
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, parseError("since", v)
		}
		filter.StartTime = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, parseError("until", v)
		}
		filter.EndTime = &t
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, parseError("limit", v)
		}
		filter.Limit = n
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, parseError("offset", v)
		}
		filter.Offset = n
	}

	return filter, nil
}

type queryParamError struct {
	param string
	value string
}

func (e *queryParamError) Error() string {
	return "invalid value for " + e.param + ": " + e.value
}

func parseError(param, value string) error {
	return &queryParamError{param: param, value: value}
}
