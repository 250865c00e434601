// Package config handles configuration loading for hearth-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, then overlaid with HEARTH_* environment overrides. A missing
// file is fine: every knob has a default.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  token: "${HEARTH_AUTH_TOKEN}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	limits:
//	  session_window: "15m"
//	  session_cooldown: "50ms"
//	sessions:
//	  idle_ttl: "15m"
//
// # Configuration Sections
//
// Server:
//
//	server:
//	  http_addr: "localhost:8080"
//	  trust_proxy: false
//
// Admission limits (both tiers):
//
//	limits:
//	  session_window: "15m"
//	  session_max_requests: 500
//	  session_cooldown: "50ms"
//	  session_init_burst: 50
//	  addr_window: "1h"
//	  addr_max_requests: 1000
//	  addr_max_sessions: 100
//	  reap_interval: "5m"
//
// Session lifecycle, CORS, auth, optional event log, Tailscale, logging:
//
//	sessions:
//	  idle_ttl: "15m"
//	cors:
//	  allowed_origins: ["https://app.example.com"]
//	  allow_wildcard: false
//	auth:
//	  token: ""          # static bearer token, or
//	  jwt_secret: ""     # HS256 JWT secret (mutually exclusive)
//	database:
//	  path: ""           # empty disables the event log
//	tailscale:
//	  enabled: false
//	  hostname: "hearth-gateway"
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//
// # Env Overrides
//
// HEARTH_HTTP_ADDR, HEARTH_AUTH_TOKEN, HEARTH_JWT_SECRET, HEARTH_DB_PATH,
// HEARTH_ALLOWED_ORIGINS (comma-separated), HEARTH_SESSION_WINDOW,
// HEARTH_SESSION_MAX_REQUESTS, HEARTH_SESSION_COOLDOWN,
// HEARTH_SESSION_INIT_BURST, HEARTH_ADDR_WINDOW, HEARTH_ADDR_MAX_REQUESTS,
// HEARTH_ADDR_MAX_SESSIONS, HEARTH_SESSION_IDLE_TTL, HEARTH_REAP_INTERVAL.
package config
