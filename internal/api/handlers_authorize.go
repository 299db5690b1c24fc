// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/claviger-project/claviger/internal/authz"
	"github.com/claviger-project/claviger/internal/logging"
)

// maxAuthorizeBody bounds the decision request body. Identifiers and a
// session token fit comfortably; anything larger is not a decision request.
const maxAuthorizeBody = 16 << 10

// authorizeRequest is the decision request body. Client IP and user agent
// come from the transport, not the body: a caller must not be able to
// impersonate another origin.
type authorizeRequest struct {
	SubjectID    string `json:"subject_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Operation    string `json:"operation"`
	SessionToken string `json:"session_token,omitempty"`
}

// decisionResponse is the wire form of an engine decision.
type decisionResponse struct {
	Allowed       bool      `json:"allowed"`
	Outcome       string    `json:"outcome"`
	ReasonCode    string    `json:"reason_code"`
	DecidingLayer string    `json:"deciding_layer"`
	Degraded      bool      `json:"degraded"`
	CacheHit      bool      `json:"cache_hit"`
	TierOrigin    string    `json:"tier_origin,omitempty"`
	RetryAfterMs  int64     `json:"retry_after_ms,omitempty"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// handleAuthorize evaluates one authorization request. The response is
// always 200 with a decision envelope: a denial is an answer, not a
// transport failure. Malformed identifiers are likewise answered by the
// validation layer rather than a 400, so callers see one decision shape.
func (rt *Router) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req authorizeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthorizeBody))
	if err := dec.Decode(&req); err != nil {
		rw.BadRequest("Request body must be a JSON authorize request")
		return
	}

	actx := &authz.AuthorizationContext{
		SubjectID:    req.SubjectID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Operation:    req.Operation,
		SessionToken: sessionToken(r, req),
		ClientIP:     clientIP(r),
		UserAgent:    r.UserAgent(),
		RequestTime:  time.Now(),
	}

	ctx := authz.WithRequestID(r.Context(), logging.RequestIDFromContext(r.Context()))
	ctx = authz.WithCorrelationID(ctx, logging.CorrelationIDFromContext(r.Context()))

	if timeout := rt.cfg.Pipeline.DecisionTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	d := rt.deps.Engine.Authorize(ctx, actx)

	if d.RetryAfter > 0 {
		rw.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds()+1)))
	}

	rw.Success(decisionResponse{
		Allowed:       d.Allowed(),
		Outcome:       d.Outcome,
		ReasonCode:    d.ReasonCode,
		DecidingLayer: d.DecidingLayer,
		Degraded:      d.Degraded,
		CacheHit:      d.CacheHit(),
		TierOrigin:    d.TierOrigin,
		RetryAfterMs:  d.RetryAfter.Milliseconds(),
		EvaluatedAt:   d.EvaluatedAt,
	})
}

// sessionToken prefers the body field; a bearer Authorization header is
// accepted as a fallback so command-line callers need not embed tokens in
// JSON. Admin routes use their own token and never reach here.
func sessionToken(r *http.Request, req authorizeRequest) string {
	if req.SessionToken != "" {
		return req.SessionToken
	}
	if token, ok := bearerToken(r); ok {
		return token
	}
	return ""
}

// clientIP extracts the bare IP from RemoteAddr, which RealIP middleware
// has already rewritten from X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if net.ParseIP(host) == nil {
		return ""
	}
	return host
}
