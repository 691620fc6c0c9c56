package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestIDPropagatesIncomingHeader(t *testing.T) {
	const incoming = "req-incoming-123"
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := RequestIDFromRequest(r); got != incoming {
			t.Fatalf("unexpected request id in context: got %q want %q", got, incoming)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", incoming)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != incoming {
		t.Fatalf("unexpected response request id: got %q want %q", got, incoming)
	}
}

func TestWithRequestIDGeneratesWhenMissing(t *testing.T) {
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequestIDFromRequest(r) == "" {
			t.Fatal("expected generated request id in context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected generated request id header")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:41234"
	if got := ClientIP(req, false); got != "10.0.0.5" {
		t.Fatalf("direct peer ip = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.5")
	if got := ClientIP(req, false); got != "10.0.0.5" {
		t.Fatalf("forwarded header honored without trustProxy: %q", got)
	}
	if got := ClientIP(req, true); got != "203.0.113.9" {
		t.Fatalf("forwarded ip = %q", got)
	}
}
