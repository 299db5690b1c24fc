// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/claviger-project/claviger/internal/audit"
	"github.com/claviger-project/claviger/internal/auth"
	"github.com/claviger-project/claviger/internal/cache"
	"github.com/claviger-project/claviger/internal/logging"
)

// auditAdmin records an admin.action event for a mutation taken through the
// admin routes. A nil recorder drops the event; the mutation itself already
// produced its own trail (cache.invalidated, suspension_lifted).
func (rt *Router) auditAdmin(r *http.Request, action string, meta map[string]interface{}) {
	if rt.deps.Audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["action"] = action
	raw, err := json.Marshal(meta)
	if err != nil {
		raw = nil
	}
	rt.deps.Audit.Emit(&audit.Event{
		Type:      audit.EventTypeAdminAction,
		Severity:  audit.SeverityForEvent(audit.EventTypeAdminAction, ""),
		ClientIP:  clientIP(r),
		RequestID: logging.RequestIDFromContext(r.Context()),
		Metadata:  raw,
	})
}

// invalidateRequest names the cached decisions to drop. Exactly one of the
// fields must be set; tag takes a raw invalidation tag for callers that
// build their own (policy rollovers use this).
type invalidateRequest struct {
	Tag        string `json:"tag,omitempty"`
	SubjectID  string `json:"subject_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
}

// invalidateResponse reports how many entries each tier dropped.
type invalidateResponse struct {
	Tag   string `json:"tag"`
	L1    int    `json:"l1"`
	L2    int    `json:"l2"`
	L3    int    `json:"l3"`
	Total int    `json:"total"`
}

// handleInvalidate drops cached decisions matching a tag across all tiers
// and fans the invalidation out to peers. This is the only sanctioned
// coherence mechanism; grant changes must route through it.
func (rt *Router) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req invalidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthorizeBody)).Decode(&req); err != nil {
		rw.BadRequest("Request body must be a JSON invalidate request")
		return
	}

	tag, err := invalidationTag(req)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	inv, err := rt.deps.Engine.Invalidate(r.Context(), tag)
	if err != nil {
		logging.Error().Err(err).Str("tag", tag).Msg("Invalidation failed")
		rw.InternalError("Invalidation failed")
		return
	}

	rt.auditAdmin(r, "cache.invalidate", map[string]interface{}{
		"tag":     tag,
		"entries": inv.Total(),
	})
	rw.Success(invalidateResponse{
		Tag:   inv.Tag,
		L1:    inv.L1,
		L2:    inv.L2,
		L3:    inv.L3,
		Total: inv.Total(),
	})
}

// invalidationTag resolves the request to a single tag.
func invalidationTag(req invalidateRequest) (string, error) {
	set := 0
	tag := req.Tag
	if req.Tag != "" {
		set++
	}
	if req.SubjectID != "" {
		set++
		tag = cache.SubjectTag(req.SubjectID)
	}
	if req.ResourceID != "" {
		set++
		tag = cache.ResourceTag(req.ResourceID)
	}
	if set != 1 {
		return "", errors.New("exactly one of tag, subject_id, resource_id must be set")
	}
	return tag, nil
}

// suspensionView is the wire form of a suspension record.
type suspensionView struct {
	Subject     string `json:"subject"`
	Reason      string `json:"reason"`
	Offenses    int    `json:"offenses"`
	SuspendedAt string `json:"suspended_at"`
	ExpiresAt   string `json:"expires_at"`
	Active      bool   `json:"active"`
}

// handleListSuspensions lists all suspension records, active and lapsed.
// Lapsed records are included because they carry the offense history that
// drives escalation.
func (rt *Router) handleListSuspensions(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if rt.deps.Suspensions == nil {
		rw.ServiceUnavailable("Suspension manager is not configured")
		return
	}

	records, err := rt.deps.Suspensions.List(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Suspension list failed")
		rw.InternalError("Suspension list failed")
		return
	}

	views := make([]suspensionView, 0, len(records))
	for _, s := range records {
		views = append(views, suspensionView{
			Subject:     s.Subject,
			Reason:      s.Reason,
			Offenses:    s.Offenses,
			SuspendedAt: s.SuspendedAt.UTC().Format(time.RFC3339),
			ExpiresAt:   s.ExpiresAt.UTC().Format(time.RFC3339),
			Active:      s.Active(),
		})
	}

	rw.SuccessWithMeta(views, &APIMeta{Count: len(views)})
}

// handleLiftSuspension clears a subject's suspension and its offense
// history. The next offense starts escalation from the base duration.
func (rt *Router) handleLiftSuspension(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if rt.deps.Suspensions == nil {
		rw.ServiceUnavailable("Suspension manager is not configured")
		return
	}

	subject := chi.URLParam(r, "subject")
	if subject == "" {
		rw.BadRequest("Subject is required")
		return
	}

	if err := rt.deps.Suspensions.Lift(r.Context(), subject); err != nil {
		if errors.Is(err, auth.ErrNotSuspended) {
			rw.NotFound("Subject is not suspended")
			return
		}
		logging.Error().Err(err).Msg("Suspension lift failed")
		rw.InternalError("Suspension lift failed")
		return
	}

	rt.auditAdmin(r, "suspension.lift", map[string]interface{}{
		"subject": subject,
	})
	rw.NoContent()
}
