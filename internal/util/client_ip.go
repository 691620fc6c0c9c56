package util

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller's IP for rate-limit keying. When trustProxy
// is set the first X-Forwarded-For hop wins; otherwise only the direct peer
// address is used.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
			first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
			if ip := net.ParseIP(first); ip != nil {
				return ip.String()
			}
		}
		if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
			if ip := net.ParseIP(real); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
