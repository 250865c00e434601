// ABOUTME: Origin allow-list middleware for the protocol endpoint
// ABOUTME: Answers preflights and exposes the session header to browsers

package gateway

import (
	"encoding/json"
	"net/http"
)

const (
	allowedMethods = "GET, POST, DELETE, OPTIONS"
	allowedHeaders = "Content-Type, Authorization, Mcp-Session-Id, Mcp-Protocol-Version, Last-Event-ID"
	exposedHeaders = "Mcp-Session-Id"
)

// corsMiddleware enforces the configured origin policy. Requests without an
// Origin header (server-to-server clients) pass straight through. Browser
// origins must match the allow-list unless wildcard mode is on.
func (g *Gateway) corsMiddleware(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(g.config.CORS.AllowedOrigins))
	for _, o := range g.config.CORS.AllowedOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !g.config.CORS.AllowWildcard && !allowed[origin] {
			g.logger.Warn("rejected disallowed origin", "origin", origin)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "forbidden",
				"message": "origin not allowed",
			})
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
		w.Header().Set("Access-Control-Expose-Headers", exposedHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
