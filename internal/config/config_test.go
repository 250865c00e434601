// ABOUTME: Tests for configuration loading, env expansion, and validation
// ABOUTME: Uses temp files and t.Setenv to avoid touching real config

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, DefaultSessionWindow, cfg.Limits.SessionWindow)
	assert.Equal(t, DefaultSessionMaxReqs, cfg.Limits.SessionMaxReqs)
	assert.Equal(t, DefaultSessionCooldown, cfg.Limits.SessionCooldown)
	assert.Equal(t, DefaultSessionInitBurst, cfg.Limits.SessionInitBurst)
	assert.Equal(t, DefaultAddrWindow, cfg.Limits.AddrWindow)
	assert.Equal(t, DefaultAddrMaxReqs, cfg.Limits.AddrMaxReqs)
	assert.Equal(t, DefaultAddrMaxSessions, cfg.Limits.AddrMaxSessions)
	assert.Equal(t, DefaultSessionIdleTTL, cfg.Sessions.IdleTTL)
	assert.Equal(t, DefaultReapInterval, cfg.Limits.ReapInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:9090"
limits:
  session_window: "5m"
  session_cooldown: "100ms"
  addr_window: "30m"
  reap_interval: "1m"
sessions:
  idle_ttl: "2m"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, 5*time.Minute, cfg.Limits.SessionWindow)
	assert.Equal(t, 100*time.Millisecond, cfg.Limits.SessionCooldown)
	assert.Equal(t, 30*time.Minute, cfg.Limits.AddrWindow)
	assert.Equal(t, time.Minute, cfg.Limits.ReapInterval)
	assert.Equal(t, 2*time.Minute, cfg.Sessions.IdleTTL)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
limits:
  session_window: "fifteen minutes"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("TEST_HEARTH_SECRET", "s3cret")
	path := writeConfig(t, `
auth:
  jwt_secret: "${TEST_HEARTH_SECRET}"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEARTH_HTTP_ADDR", "0.0.0.0:7777")
	t.Setenv("HEARTH_SESSION_MAX_REQUESTS", "42")
	t.Setenv("HEARTH_SESSION_INIT_BURST", "7")
	t.Setenv("HEARTH_SESSION_IDLE_TTL", "90s")
	t.Setenv("HEARTH_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:7777", cfg.Server.HTTPAddr)
	assert.Equal(t, 42, cfg.Limits.SessionMaxReqs)
	assert.Equal(t, 7, cfg.Limits.SessionInitBurst)
	assert.Equal(t, 90*time.Second, cfg.Sessions.IdleTTL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestEnvOverrideRejectsBadInt(t *testing.T) {
	t.Setenv("HEARTH_ADDR_MAX_REQUESTS", "many")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateMutuallyExclusiveAuth(t *testing.T) {
	path := writeConfig(t, `
auth:
  token: "abc"
  jwt_secret: "def"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestValidateInitBurstCeiling(t *testing.T) {
	path := writeConfig(t, `
limits:
  session_max_requests: 10
  session_init_burst: 20
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session_init_burst")
}

func TestValidateTailscaleHostname(t *testing.T) {
	path := writeConfig(t, `
tailscale:
  enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hostname")
}

func TestSplitOrigins(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitOrigins(" a ,, b "))
	assert.Nil(t, SplitOrigins(""))
}
