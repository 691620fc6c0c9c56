package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rollcall/internal/app"
	"rollcall/internal/session"
	"rollcall/pkg/domain"
)

type fakeEngine struct {
	reconfigured map[string]app.SetupRequest
	stopped      []string
	loggedOut    []string
	status       app.Status
	err          error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{reconfigured: make(map[string]app.SetupRequest)}
}

func (f *fakeEngine) Reconfigure(_ context.Context, tenantID string, req app.SetupRequest) error {
	if f.err != nil {
		return f.err
	}
	f.reconfigured[tenantID] = req
	return nil
}

func (f *fakeEngine) Stop(_ context.Context, tenantID string) error {
	if f.err != nil {
		return f.err
	}
	f.stopped = append(f.stopped, tenantID)
	return nil
}

func (f *fakeEngine) Logout(_ context.Context, tenantID string) error {
	if f.err != nil {
		return f.err
	}
	f.loggedOut = append(f.loggedOut, tenantID)
	return nil
}

func (f *fakeEngine) Status(_ context.Context, _ string) (app.Status, error) {
	return f.status, f.err
}

type fakeVerifier struct {
	tenants map[string]string
}

func (f *fakeVerifier) VerifyTenant(token string) (string, error) {
	tenant, ok := f.tenants[token]
	if !ok {
		return "", errors.New("token rejected")
	}
	return tenant, nil
}

type fakeLimiter struct {
	allow bool
	keys  []string
}

func (f *fakeLimiter) Allow(key string) bool {
	f.keys = append(f.keys, key)
	return f.allow
}

func newTestServer(engine Engine, limiter Limiter) http.Handler {
	verifier := &fakeVerifier{tenants: map[string]string{"good-token": "tenant-a"}}
	return New(engine, verifier, limiter, false).Handler()
}

const setupBody = `{
	"groupId": "group-1@g.us",
	"batchLabel": "BCK221 A",
	"startTime": "09:00",
	"reportTime": "19:40",
	"roster": [{"name": "Alice", "memberId": "911234500001@c.us"}]
}`

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	h := newTestServer(newFakeEngine(), nil)
	rec := doRequest(t, h, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", rec.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	engine := newFakeEngine()
	h := newTestServer(engine, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/setup"},
		{http.MethodPost, "/api/stop"},
		{http.MethodPost, "/api/logout"},
		{http.MethodGet, "/api/status"},
	} {
		rec := doRequest(t, h, tc.method, tc.path, "", setupBody)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s without token = %d, want 401", tc.method, tc.path, rec.Code)
		}
		rec = doRequest(t, h, tc.method, tc.path, "bad-token", setupBody)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s with bad token = %d, want 401", tc.method, tc.path, rec.Code)
		}
	}
	if len(engine.reconfigured)+len(engine.stopped)+len(engine.loggedOut) != 0 {
		t.Fatalf("unauthenticated request reached the engine")
	}
}

func TestSetupScopedToTokenTenant(t *testing.T) {
	engine := newFakeEngine()
	h := newTestServer(engine, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/setup", "good-token", setupBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("setup = %d, body %s", rec.Code, rec.Body.String())
	}
	req, ok := engine.reconfigured["tenant-a"]
	if !ok {
		t.Fatalf("engine not called for the token's tenant: %+v", engine.reconfigured)
	}
	if req.BatchLabel != "BCK221 A" || len(req.Roster) != 1 {
		t.Fatalf("request body lost in transit: %+v", req)
	}
}

func TestSetupRejectsMalformedBody(t *testing.T) {
	engine := newFakeEngine()
	h := newTestServer(engine, nil)

	for _, body := range []string{"{not json", `{"groupId": "g", "unknownField": 1}`} {
		rec := doRequest(t, h, http.MethodPost, "/api/setup", "good-token", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q = %d, want 400", body, rec.Code)
		}
	}
	if len(engine.reconfigured) != 0 {
		t.Fatalf("malformed body reached the engine")
	}
}

func TestSetupMapsValidationErrorsTo400(t *testing.T) {
	engine := newFakeEngine()
	engine.err = fmt.Errorf("%w: start after report", app.ErrInvalidRequest)
	h := newTestServer(engine, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/setup", "good-token", setupBody)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("validation error = %d, want 400", rec.Code)
	}

	engine.err = errors.New("db down")
	rec = doRequest(t, h, http.MethodPost, "/api/setup", "good-token", setupBody)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("internal error = %d, want 500", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(newFakeEngine(), nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/setup"},
		{http.MethodGet, "/api/stop"},
		{http.MethodPost, "/api/status"},
		{http.MethodDelete, "/healthz"},
	} {
		rec := doRequest(t, h, tc.method, tc.path, "good-token", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s = %d, want 405", tc.method, tc.path, rec.Code)
		}
	}
}

func TestMutationsAreRateLimited(t *testing.T) {
	engine := newFakeEngine()
	limiter := &fakeLimiter{allow: false}
	h := newTestServer(engine, limiter)

	rec := doRequest(t, h, http.MethodPost, "/api/setup", "good-token", setupBody)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("limited setup = %d, want 429", rec.Code)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "tenant-a" {
		t.Fatalf("limiter keyed on %v, want the tenant id", limiter.keys)
	}
	if len(engine.reconfigured) != 0 {
		t.Fatalf("limited request reached the engine")
	}

	// Status reads are never limited.
	rec = doRequest(t, h, http.MethodGet, "/api/status", "good-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status under limiter = %d, want 200", rec.Code)
	}
}

func TestUnauthenticatedMutationsLimitedByIP(t *testing.T) {
	engine := newFakeEngine()
	limiter := &fakeLimiter{allow: false}
	h := newTestServer(engine, limiter)

	rec := doRequest(t, h, http.MethodPost, "/api/setup", "bad-token", setupBody)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("limited bad-token setup = %d, want 429", rec.Code)
	}
	if len(limiter.keys) != 1 || !strings.HasPrefix(limiter.keys[0], "ip:") {
		t.Fatalf("limiter keyed on %v, want a client IP key", limiter.keys)
	}
}

func TestStatusRoundtrip(t *testing.T) {
	engine := newFakeEngine()
	engine.status = app.Status{
		Session:        session.Snapshot{Status: domain.StatusReady},
		ReportArmed:    true,
		Date:           "07/03/2025",
		SubmittedToday: 3,
	}
	h := newTestServer(engine, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/status", "good-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got app.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got.Session.Status != domain.StatusReady || !got.ReportArmed || got.SubmittedToday != 3 {
		t.Fatalf("status lost in transit: %+v", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestStopAndLogout(t *testing.T) {
	engine := newFakeEngine()
	h := newTestServer(engine, nil)

	if rec := doRequest(t, h, http.MethodPost, "/api/stop", "good-token", ""); rec.Code != http.StatusOK {
		t.Fatalf("stop = %d", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodPost, "/api/logout", "good-token", ""); rec.Code != http.StatusOK {
		t.Fatalf("logout = %d", rec.Code)
	}
	if len(engine.stopped) != 1 || engine.stopped[0] != "tenant-a" {
		t.Fatalf("stop not routed: %v", engine.stopped)
	}
	if len(engine.loggedOut) != 1 || engine.loggedOut[0] != "tenant-a" {
		t.Fatalf("logout not routed: %v", engine.loggedOut)
	}
}
