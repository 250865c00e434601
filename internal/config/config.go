// ABOUTME: Configuration loading and parsing for hearth-gateway
// ABOUTME: Supports YAML files with environment variable expansion and env overrides

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the admission and session limits. Every one of them can be
// overridden in YAML or via HEARTH_* env vars.
const (
	DefaultSessionWindow    = 15 * time.Minute
	DefaultSessionMaxReqs   = 500
	DefaultSessionCooldown  = 50 * time.Millisecond
	DefaultSessionInitBurst = 50
	DefaultAddrWindow       = time.Hour
	DefaultAddrMaxReqs      = 1000
	DefaultAddrMaxSessions  = 100
	DefaultSessionIdleTTL   = 15 * time.Minute
	DefaultReapInterval     = 5 * time.Minute
	DefaultHTTPAddr         = "localhost:8080"
)

// Config represents the complete hearth-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Limits    LimitsConfig    `yaml:"limits"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	CORS      CORSConfig      `yaml:"cors"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// TrustProxy controls whether X-Forwarded-For is honored when deriving
	// the caller's source address for rate limiting. Leave off unless the
	// gateway sits behind a proxy you control.
	TrustProxy bool `yaml:"trust_proxy"`
}

// LimitsConfig holds the admission-control policy for both tiers.
type LimitsConfig struct {
	SessionWindow    time.Duration `yaml:"-"`
	SessionMaxReqs   int           `yaml:"session_max_requests"`
	SessionCooldown  time.Duration `yaml:"-"`
	SessionInitBurst int           `yaml:"session_init_burst"`

	AddrWindow  time.Duration `yaml:"-"`
	AddrMaxReqs int           `yaml:"addr_max_requests"`

	// AddrMaxSessions bounds distinct session ids observed per source
	// address. Many legitimate clients behind one NAT can hit this, so
	// size it for your deployment.
	AddrMaxSessions int `yaml:"addr_max_sessions"`

	ReapInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SessionWindowRaw   string `yaml:"session_window"`
	SessionCooldownRaw string `yaml:"session_cooldown"`
	AddrWindowRaw      string `yaml:"addr_window"`
	ReapIntervalRaw    string `yaml:"reap_interval"`
}

// SessionsConfig holds session lifecycle configuration.
type SessionsConfig struct {
	IdleTTL time.Duration `yaml:"-"`

	IdleTTLRaw string `yaml:"idle_ttl"`
}

// CORSConfig holds the browser-origin policy for the protocol endpoint.
type CORSConfig struct {
	// AllowedOrigins is an explicit allow-list. Requests with no Origin
	// header (server-to-server) always pass.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowWildcard opts in to answering every origin. Off by default.
	AllowWildcard bool `yaml:"allow_wildcard"`
}

// AuthConfig holds authentication configuration. When neither field is set
// the gateway is open.
type AuthConfig struct {
	// Token enables static bearer-token auth on all routes.
	Token string `yaml:"token"`

	// JWTSecret enables HS256 JWT bearer auth instead of a static token.
	JWTSecret string `yaml:"jwt_secret"`
}

// DatabaseConfig holds the optional event-log database configuration.
// An empty path disables the event log entirely.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TailscaleConfig holds Tailscale tsnet configuration for serving the
// gateway inside a tailnet instead of on a plain TCP listener.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded,
// duration strings are parsed, HEARTH_* overrides are applied, and missing
// values fall back to defaults. A missing file is not an error: the gateway
// runs on defaults plus env overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Limits.SessionWindowRaw, &cfg.Limits.SessionWindow, "limits.session_window"},
		{cfg.Limits.SessionCooldownRaw, &cfg.Limits.SessionCooldown, "limits.session_cooldown"},
		{cfg.Limits.AddrWindowRaw, &cfg.Limits.AddrWindow, "limits.addr_window"},
		{cfg.Limits.ReapIntervalRaw, &cfg.Limits.ReapInterval, "limits.reap_interval"},
		{cfg.Sessions.IdleTTLRaw, &cfg.Sessions.IdleTTL, "sessions.idle_ttl"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// applyEnvOverrides applies HEARTH_* environment variables on top of the
// file-provided values, so the gateway can be configured entirely from the
// environment.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("HEARTH_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("HEARTH_AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("HEARTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("HEARTH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("HEARTH_ALLOWED_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = SplitOrigins(v)
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"HEARTH_SESSION_MAX_REQUESTS", &cfg.Limits.SessionMaxReqs},
		{"HEARTH_SESSION_INIT_BURST", &cfg.Limits.SessionInitBurst},
		{"HEARTH_ADDR_MAX_REQUESTS", &cfg.Limits.AddrMaxReqs},
		{"HEARTH_ADDR_MAX_SESSIONS", &cfg.Limits.AddrMaxSessions},
	}
	for _, o := range ints {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", o.env, v, err)
		}
		*o.dst = n
	}

	durs := []struct {
		env string
		dst *time.Duration
	}{
		{"HEARTH_SESSION_WINDOW", &cfg.Limits.SessionWindow},
		{"HEARTH_SESSION_COOLDOWN", &cfg.Limits.SessionCooldown},
		{"HEARTH_ADDR_WINDOW", &cfg.Limits.AddrWindow},
		{"HEARTH_REAP_INTERVAL", &cfg.Limits.ReapInterval},
		{"HEARTH_SESSION_IDLE_TTL", &cfg.Sessions.IdleTTL},
	}
	for _, o := range durs {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", o.env, v, err)
		}
		*o.dst = d
	}

	return nil
}

// SplitOrigins splits a comma-separated origin list, trimming whitespace and
// dropping empty entries.
func SplitOrigins(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if o := strings.TrimSpace(part); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// applyDefaults fills in zero values with the documented defaults.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Limits.SessionWindow == 0 {
		c.Limits.SessionWindow = DefaultSessionWindow
	}
	if c.Limits.SessionMaxReqs == 0 {
		c.Limits.SessionMaxReqs = DefaultSessionMaxReqs
	}
	if c.Limits.SessionCooldown == 0 {
		c.Limits.SessionCooldown = DefaultSessionCooldown
	}
	if c.Limits.SessionInitBurst == 0 {
		c.Limits.SessionInitBurst = DefaultSessionInitBurst
	}
	if c.Limits.AddrWindow == 0 {
		c.Limits.AddrWindow = DefaultAddrWindow
	}
	if c.Limits.AddrMaxReqs == 0 {
		c.Limits.AddrMaxReqs = DefaultAddrMaxReqs
	}
	if c.Limits.AddrMaxSessions == 0 {
		c.Limits.AddrMaxSessions = DefaultAddrMaxSessions
	}
	if c.Limits.ReapInterval == 0 {
		c.Limits.ReapInterval = DefaultReapInterval
	}
	if c.Sessions.IdleTTL == 0 {
		c.Sessions.IdleTTL = DefaultSessionIdleTTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Auth.Token != "" && c.Auth.JWTSecret != "" {
		return fmt.Errorf("auth.token and auth.jwt_secret are mutually exclusive")
	}

	if c.Limits.SessionInitBurst > c.Limits.SessionMaxReqs {
		return fmt.Errorf("limits.session_init_burst (%d) exceeds limits.session_max_requests (%d)",
			c.Limits.SessionInitBurst, c.Limits.SessionMaxReqs)
	}

	return nil
}
