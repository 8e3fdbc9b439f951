package httpserver

import (
	"net/http"
	"strings"

	"github.com/meshsignal/room-relay/internal/origin"
)

// originMiddleware gates browser access to the websocket endpoint. Requests
// without an Origin header (native apps, curl) pass through; requests with
// one must satisfy the configured allowlist or match the request host.
func (s *Server) originMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			originHeader := strings.TrimSpace(r.Header.Get("Origin"))
			if originHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			normalized, _, ok := origin.Normalize(originHeader)
			if !ok || !s.origins.Allow(originHeader, r.Host) {
				s.log.Warn("origin rejected", "origin", originHeader, "host", r.Host)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", normalized)
			w.Header().Add("Vary", "Origin")

			next.ServeHTTP(w, r)
		})
	}
}
