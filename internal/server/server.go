// Package server exposes the tenant configuration API: setup, stop, logout,
// and status, plus a liveness probe. Every /api route authenticates the
// caller's bearer token and scopes the operation to the token's tenant.
package server

import (
	"context"
	"errors"
	"net/http"

	"rollcall/internal/app"
	"rollcall/internal/util"
)

// Engine is the slice of the application the HTTP layer drives.
type Engine interface {
	Reconfigure(ctx context.Context, tenantID string, req app.SetupRequest) error
	Stop(ctx context.Context, tenantID string) error
	Logout(ctx context.Context, tenantID string) error
	Status(ctx context.Context, tenantID string) (app.Status, error)
}

// TokenVerifier maps a bearer token to its tenant id.
type TokenVerifier interface {
	VerifyTenant(token string) (string, error)
}

// Limiter caps mutating calls per tenant. Nil disables limiting.
type Limiter interface {
	Allow(key string) bool
}

// Server is the HTTP configuration surface.
type Server struct {
	engine     Engine
	verifier   TokenVerifier
	limiter    Limiter
	trustProxy bool
}

// New wires the server. limiter may be nil. trustProxy controls whether
// forwarded-for headers are believed when resolving the caller's IP.
func New(engine Engine, verifier TokenVerifier, limiter Limiter, trustProxy bool) *Server {
	return &Server{engine: engine, verifier: verifier, limiter: limiter, trustProxy: trustProxy}
}

// Handler builds the routed handler with the standard middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/setup", s.handleSetup)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/logout", s.handleLogout)
	mux.HandleFunc("/api/status", s.handleStatus)

	var h http.Handler = mux
	h = util.WithCORS(h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(h)
	h = util.WithRequestID(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		fail(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authenticate resolves the caller's tenant or writes the 401 itself.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		fail(w, r, http.StatusUnauthorized, "missing bearer token")
		return "", false
	}
	tenantID, err := s.verifier.VerifyTenant(token)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("token rejected",
			"ip", util.ClientIP(r, s.trustProxy), "err", err)
		fail(w, r, http.StatusUnauthorized, "invalid token")
		return "", false
	}
	return tenantID, true
}

// throttle applies the mutation quota; true means proceed.
func (s *Server) throttle(w http.ResponseWriter, r *http.Request, key string) bool {
	if s.limiter == nil || s.limiter.Allow(key) {
		return true
	}
	fail(w, r, http.StatusTooManyRequests, "too many configuration requests")
	return false
}

// guard authenticates a mutating call and applies the quota. The quota runs
// first, keyed by tenant when the token verifies and by client IP otherwise,
// so failed token attempts consume quota too.
func (s *Server) guard(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	var tenantID string
	var verifyErr error
	if token != "" {
		tenantID, verifyErr = s.verifier.VerifyTenant(token)
	}
	key := tenantID
	if key == "" {
		key = "ip:" + util.ClientIP(r, s.trustProxy)
	}
	if !s.throttle(w, r, key) {
		return "", false
	}
	if token == "" {
		fail(w, r, http.StatusUnauthorized, "missing bearer token")
		return "", false
	}
	if verifyErr != nil {
		util.LoggerFromContext(r.Context()).Warn("token rejected",
			"ip", util.ClientIP(r, s.trustProxy), "err", verifyErr)
		fail(w, r, http.StatusUnauthorized, "invalid token")
		return "", false
	}
	return tenantID, true
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tenantID, ok := s.guard(w, r)
	if !ok {
		return
	}
	var req app.SetupRequest
	if err := decodeBody(r, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := s.engine.Reconfigure(r.Context(), tenantID, req); err != nil {
		if errors.Is(err, app.ErrInvalidRequest) || errors.Is(err, app.ErrEmptyRoster) {
			fail(w, r, http.StatusBadRequest, err.Error())
			return
		}
		util.LoggerFromContext(r.Context()).Error("setup failed", "tenant", tenantID, "err", err)
		fail(w, r, http.StatusInternalServerError, "setup failed")
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "configured"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tenantID, ok := s.guard(w, r)
	if !ok {
		return
	}
	if err := s.engine.Stop(r.Context(), tenantID); err != nil {
		util.LoggerFromContext(r.Context()).Error("stop failed", "tenant", tenantID, "err", err)
		fail(w, r, http.StatusInternalServerError, "stop failed")
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tenantID, ok := s.guard(w, r)
	if !ok {
		return
	}
	if err := s.engine.Logout(r.Context(), tenantID); err != nil {
		util.LoggerFromContext(r.Context()).Error("logout failed", "tenant", tenantID, "err", err)
		fail(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		fail(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tenantID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	status, err := s.engine.Status(r.Context(), tenantID)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("status failed", "tenant", tenantID, "err", err)
		fail(w, r, http.StatusInternalServerError, "status failed")
		return
	}
	respond(w, http.StatusOK, status)
}
