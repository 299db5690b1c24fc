// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/claviger-project/claviger/internal/audit"
	"github.com/claviger-project/claviger/internal/auth"
	"github.com/claviger-project/claviger/internal/authz"
	"github.com/claviger-project/claviger/internal/cache"
	"github.com/claviger-project/claviger/internal/config"
	"github.com/claviger-project/claviger/internal/models"
	"github.com/claviger-project/claviger/internal/ratelimit"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeOwners struct {
	owners map[string]string
}

func (f *fakeOwners) Owner(_ context.Context, resourceType, resourceID string) (string, bool, error) {
	owner, ok := f.owners[resourceType+":"+resourceID]
	return owner, ok, nil
}

type fakeShares struct{}

func (f *fakeShares) SharesOn(context.Context, string, string) ([]*models.Share, error) {
	return nil, nil
}

type fakeTeams struct{}

func (f *fakeTeams) TeamsOf(context.Context, string) ([]string, error) { return nil, nil }

type fakeParents struct{}

func (f *fakeParents) Parent(context.Context, string, string) (models.HierarchyLink, bool, error) {
	return models.HierarchyLink{}, false, nil
}

type fakeMediaGrants struct{}

func (f *fakeMediaGrants) MediaGrantFor(context.Context, string, string) (*models.MediaGrant, bool, error) {
	return nil, false, nil
}

// ============================================================================
// Harness
// ============================================================================

const adminToken = "test-admin-token"

type apiHarness struct {
	router      *Router
	handler     http.Handler
	owners      *fakeOwners
	auditStore  *audit.MemoryStore
	suspensions *auth.SuspensionManager
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	owners := &fakeOwners{owners: map[string]string{}}

	enforcer, err := authz.NewEnforcer(nil)
	if err != nil {
		t.Fatalf("NewEnforcer failed: %v", err)
	}
	security, err := authz.NewSecurityLayer(nil, nil)
	if err != nil {
		t.Fatalf("NewSecurityLayer failed: %v", err)
	}

	rl := &config.RateLimitConfig{
		Window: time.Minute, Anonymous: 1000, Free: 1000, Pro: 1000,
		Enterprise: 1000, Internal: 1000, AbuseThreshold: 100, MaxKeys: 1024,
	}
	limiter := ratelimit.New(rl, nil)
	suspensions := auth.NewSuspensionManager(config.SuspensionConfig{
		BaseDuration: time.Minute,
		MaxDuration:  time.Hour,
	}, auth.NewMemorySuspensionStore())
	abuse := authz.NewAbuseLayer(limiter, ratelimit.NewUniqueTracker(rl.Window, 6), suspensions)

	pipeline := authz.NewPipeline(
		authz.NewValidationLayer(false),
		authz.NewOwnershipLayer(owners),
		authz.NewCapabilityLayer(enforcer),
		authz.NewSharingLayer(&fakeShares{}, &fakeTeams{}),
		security,
		authz.NewHierarchyLayer(&fakeParents{}, &fakeShares{}, &fakeTeams{}, 5),
		authz.NewMediaAccessLayer(&fakeMediaGrants{}),
		abuse,
	)

	tiered := cache.NewTiered(cache.NewL1(cache.L1Options{}), nil, nil, nil)

	auditStore := audit.NewMemoryStore(1024)
	emitter := audit.NewEmitter(config.AuditConfig{
		BufferSize:   256,
		DrainTimeout: time.Second,
	}, nil, audit.NewStoreSink(auditStore))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = emitter.Serve(ctx) }()
	t.Cleanup(cancel)
	suspensions.SetRecorder(emitter)

	engine, err := authz.New(authz.Config{PolicyVersion: "v1"}, authz.Deps{
		Pipeline: pipeline,
		Cache:    tiered,
		Limiter:  limiter,
		Audit:    emitter,
		Denials:  abuse,
	})
	if err != nil {
		t.Fatalf("New engine failed: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt hash failed: %v", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			CORSOrigins: []string{"https://app.example.com"},
		},
		Admin: config.AdminConfig{TokenHash: string(hash)},
		Pipeline: config.PipelineConfig{
			DecisionTimeout: 2 * time.Second,
		},
		API: config.APIConfig{DefaultPageSize: 100, MaxPageSize: 1000},
	}

	router, err := NewRouter(cfg, Deps{
		Engine:      engine,
		AuditStore:  auditStore,
		Audit:       emitter,
		Suspensions: suspensions,
		Cache:       tiered,
	})
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}

	return &apiHarness{
		router:      router,
		handler:     router.Handler(),
		owners:      owners,
		auditStore:  auditStore,
		suspensions: suspensions,
	}
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.10:58217"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func asAdmin(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+adminToken)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return resp
}

func decodeDecision(t *testing.T, rec *httptest.ResponseRecorder) decisionResponse {
	t.Helper()
	resp := decodeResponse(t, rec)
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("re-marshal data: %v", err)
	}
	var d decisionResponse
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	return d
}

func newAuthorizeBody() authorizeRequest {
	return authorizeRequest{
		SubjectID:    uuid.NewString(),
		ResourceType: models.ResourceGeneration,
		ResourceID:   uuid.NewString(),
		Operation:    models.OperationRead,
	}
}

// ============================================================================
// Authorize endpoint
// ============================================================================

func TestAuthorizeGrantsOwner(t *testing.T) {
	h := newAPIHarness(t)
	body := newAuthorizeBody()
	h.owners.owners[body.ResourceType+":"+body.ResourceID] = body.SubjectID

	rec := h.do(t, http.MethodPost, "/api/v1/authorize", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	d := decodeDecision(t, rec)
	if !d.Allowed || d.Outcome != models.OutcomeGranted {
		t.Errorf("decision = %+v, want granted", d)
	}
	if d.DecidingLayer != models.LayerOwnership || d.ReasonCode != models.ReasonOwner {
		t.Errorf("deciding = %s/%s", d.DecidingLayer, d.ReasonCode)
	}
}

func TestAuthorizeDeniesWithoutGrant(t *testing.T) {
	h := newAPIHarness(t)
	body := newAuthorizeBody()

	rec := h.do(t, http.MethodPost, "/api/v1/authorize", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; a denial is an answer, not an HTTP error", rec.Code)
	}
	d := decodeDecision(t, rec)
	if d.Allowed || d.ReasonCode != models.ReasonNoGrant {
		t.Errorf("decision = %+v, want no_grant denial", d)
	}
}

func TestAuthorizeMalformedIDAnsweredByValidationLayer(t *testing.T) {
	h := newAPIHarness(t)
	body := newAuthorizeBody()
	body.ResourceID = "not-a-valid-identifier"

	rec := h.do(t, http.MethodPost, "/api/v1/authorize", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with a validation denial", rec.Code)
	}
	d := decodeDecision(t, rec)
	if d.Allowed || d.DecidingLayer != models.LayerValidation {
		t.Errorf("decision = %+v, want validation denial", d)
	}
}

func TestAuthorizeRejectsNonJSONBody(t *testing.T) {
	h := newAPIHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/authorize", bytes.NewBufferString("not json"))
	req.RemoteAddr = "203.0.113.10:58217"
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Success || resp.Error == nil || resp.Error.Code != ErrCodeBadRequest {
		t.Errorf("response = %+v, want BAD_REQUEST error", resp)
	}
}

func TestAuthorizeSecondCallServedFromCache(t *testing.T) {
	h := newAPIHarness(t)
	body := newAuthorizeBody()
	h.owners.owners[body.ResourceType+":"+body.ResourceID] = body.SubjectID

	first := decodeDecision(t, h.do(t, http.MethodPost, "/api/v1/authorize", body))
	second := decodeDecision(t, h.do(t, http.MethodPost, "/api/v1/authorize", body))

	if first.CacheHit {
		t.Error("first call should not be a cache hit")
	}
	if !second.CacheHit || second.TierOrigin != cache.TierL1 {
		t.Errorf("second call = %+v, want l1 cache hit", second)
	}
}

func TestAuthorizeResponseCarriesRequestID(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/authorize", newAuthorizeBody())

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
	resp := decodeResponse(t, rec)
	if resp.Meta == nil || resp.Meta.RequestID == "" {
		t.Error("meta.request_id missing")
	}
}

// ============================================================================
// Admin endpoints
// ============================================================================

func TestInvalidateRequiresAdminToken(t *testing.T) {
	h := newAPIHarness(t)
	body := invalidateRequest{SubjectID: uuid.NewString()}

	tests := []struct {
		name string
		opt  func(*http.Request)
		want int
	}{
		{"no token", func(*http.Request) {}, http.StatusUnauthorized},
		{"wrong token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer wrong") }, http.StatusForbidden},
		{"valid token", asAdmin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/v1/invalidate", body, tt.opt)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body: %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestAdminSurfaceHiddenWithoutTokenHash(t *testing.T) {
	h := newAPIHarness(t)
	h.router.cfg.Admin.TokenHash = ""
	handler := h.router.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/suspensions", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when admin surface is disabled", rec.Code)
	}
}

func TestInvalidateRestoresCoherence(t *testing.T) {
	h := newAPIHarness(t)
	body := newAuthorizeBody()
	h.owners.owners[body.ResourceType+":"+body.ResourceID] = body.SubjectID

	if d := decodeDecision(t, h.do(t, http.MethodPost, "/api/v1/authorize", body)); !d.Allowed {
		t.Fatalf("setup grant failed: %+v", d)
	}

	// Ownership changes; the cached grant is now stale.
	delete(h.owners.owners, body.ResourceType+":"+body.ResourceID)

	rec := h.do(t, http.MethodPost, "/api/v1/invalidate", invalidateRequest{SubjectID: body.SubjectID}, asAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("invalidate status = %d, body = %s", rec.Code, rec.Body.String())
	}

	d := decodeDecision(t, h.do(t, http.MethodPost, "/api/v1/authorize", body))
	if d.Allowed || d.CacheHit {
		t.Errorf("post-invalidation decision = %+v, want fresh denial", d)
	}
}

func TestInvalidateRejectsAmbiguousRequest(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name string
		body invalidateRequest
	}{
		{"nothing set", invalidateRequest{}},
		{"two set", invalidateRequest{Tag: "subject:x", SubjectID: "y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/v1/invalidate", tt.body, asAdmin)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSuspensionLifecycleOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	subject := uuid.NewString()

	if _, err := h.suspensions.Suspend(context.Background(), subject, "rate_limit_abuse"); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	rec := h.do(t, http.MethodGet, "/api/v1/suspensions", nil, asAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Meta == nil || resp.Meta.Count != 1 {
		t.Fatalf("list meta = %+v, want count 1", resp.Meta)
	}

	rec = h.do(t, http.MethodDelete, "/api/v1/suspensions/"+subject, nil, asAdmin)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("lift status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Lifting again reports the subject as not suspended.
	rec = h.do(t, http.MethodDelete, "/api/v1/suspensions/"+subject, nil, asAdmin)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second lift status = %d, want 404", rec.Code)
	}
}

func TestAdminActionsAudited(t *testing.T) {
	h := newAPIHarness(t)
	subject := uuid.NewString()

	if _, err := h.suspensions.Suspend(context.Background(), subject, "rate_limit_abuse"); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	rec := h.do(t, http.MethodPost, "/api/v1/invalidate", invalidateRequest{SubjectID: subject}, asAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("invalidate status = %d", rec.Code)
	}
	rec = h.do(t, http.MethodDelete, "/api/v1/suspensions/"+subject, nil, asAdmin)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("lift status = %d", rec.Code)
	}

	// Suspension applied + lifted, one cache.invalidated, two admin actions.
	query := func(types ...audit.EventType) []audit.Event {
		events, err := h.auditStore.Query(context.Background(), audit.QueryFilter{Types: types})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		return events
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(query(audit.EventTypeAdminAction)) < 2 {
		time.Sleep(5 * time.Millisecond)
	}

	admin := query(audit.EventTypeAdminAction)
	if len(admin) != 2 {
		t.Fatalf("admin.action events = %d, want 2", len(admin))
	}
	for _, ev := range admin {
		if ev.Severity != audit.SeverityInfo {
			t.Errorf("admin.action severity = %s, want info", ev.Severity)
		}
		if len(ev.Metadata) == 0 {
			t.Error("admin.action event missing metadata")
		}
	}
	if got := query(audit.EventTypeSuspensionApplied); len(got) != 1 {
		t.Errorf("suspension_applied events = %d, want 1", len(got))
	}
	if got := query(audit.EventTypeSuspensionLifted); len(got) != 1 {
		t.Errorf("suspension_lifted events = %d, want 1", len(got))
	}
}

// ============================================================================
// Decisions endpoint
// ============================================================================

func TestDecisionsQueryBySubject(t *testing.T) {
	h := newAPIHarness(t)
	body := newAuthorizeBody()
	h.owners.owners[body.ResourceType+":"+body.ResourceID] = body.SubjectID

	h.do(t, http.MethodPost, "/api/v1/authorize", body)
	h.do(t, http.MethodPost, "/api/v1/authorize", newAuthorizeBody())

	// The emitter is asynchronous; poll until both events land.
	deadline := time.Now().Add(2 * time.Second)
	for h.auditStore.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.auditStore.Len() < 2 {
		t.Fatalf("audit store has %d events, want 2", h.auditStore.Len())
	}

	rec := h.do(t, http.MethodGet, "/api/v1/decisions?subject_id="+body.SubjectID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Meta == nil || resp.Meta.Count != 1 {
		t.Errorf("meta = %+v, want exactly the one matching event", resp.Meta)
	}
}

func TestDecisionsRejectsBadTimeFilter(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/decisions?since=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDecisionsLimitCappedAtMaxPageSize(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/decisions?limit=999999", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, an oversized limit is clamped, not rejected", rec.Code)
	}
}

// ============================================================================
// Probes
// ============================================================================

func TestHealthzAlwaysAlive(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Error("healthz should report success")
	}
}

func TestReadyzReportsCacheTiers(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (no database configured, so always ready)", rec.Code)
	}
	resp := decodeResponse(t, rec)
	raw, _ := json.Marshal(resp.Data)
	var status readyStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		t.Fatalf("decode readyz: %v", err)
	}
	if !status.Ready || status.CacheTiers == nil {
		t.Errorf("readyz = %+v, want ready with tier stats", status)
	}
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Success || resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("response = %+v, want NOT_FOUND envelope", resp)
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}
