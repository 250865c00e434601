// ABOUTME: Read-only health and service metadata endpoints
// ABOUTME: Reports live session, limiter, and event-log state as JSON

package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth reports liveness plus a snapshot of session and limiter state.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := g.limiter.Stats()
	resp := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(g.startTime).Seconds()),
		"sessions": map[string]any{
			"active":   g.sessions.Count(),
			"idle_ttl": g.config.Sessions.IdleTTL.String(),
		},
		"limiter": map[string]any{
			"tracked_sessions": stats.TrackedSessions,
			"tracked_addrs":    stats.TrackedAddrs,
		},
		"limits": map[string]any{
			"session_window":       g.config.Limits.SessionWindow.String(),
			"session_max_requests": g.config.Limits.SessionMaxReqs,
			"session_cooldown":     g.config.Limits.SessionCooldown.String(),
			"session_init_burst":   g.config.Limits.SessionInitBurst,
			"addr_window":          g.config.Limits.AddrWindow.String(),
			"addr_max_requests":    g.config.Limits.AddrMaxReqs,
			"addr_max_sessions":    g.config.Limits.AddrMaxSessions,
			"reap_interval":        g.config.Limits.ReapInterval.String(),
		},
	}

	if g.store != nil {
		counts, err := g.store.EventCounts(r.Context())
		if err != nil {
			g.logger.Warn("reading event counts", "error", err)
		} else {
			resp["events"] = counts
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleRoot serves service metadata and the tool catalog at the bare path.
func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serverName,
		"version": serverVersion,
		"endpoints": map[string]string{
			"mcp":    "/mcp",
			"health": "/health",
		},
		"tools": g.engine.Tools(),
	})
}
