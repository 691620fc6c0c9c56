package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"rollcall/internal/util"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	respond(w, status, errorBody{Error: msg, RequestID: util.RequestIDFromRequest(r)})
}

// decodeBody parses a JSON request body into dst, with a hard size cap and
// unknown fields rejected.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// bearerToken extracts the Authorization bearer credential, empty when the
// header is missing or malformed.
func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
