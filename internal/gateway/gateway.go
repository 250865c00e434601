// ABOUTME: Gateway orchestrator that owns the HTTP server and its lifecycle
// ABOUTME: Wires the limiter, session registry, engine, and optional event log

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/emberhq/hearth-gateway/internal/auth"
	"github.com/emberhq/hearth-gateway/internal/config"
	"github.com/emberhq/hearth-gateway/internal/engine"
	"github.com/emberhq/hearth-gateway/internal/ratelimit"
	"github.com/emberhq/hearth-gateway/internal/session"
	"github.com/emberhq/hearth-gateway/internal/store"
)

const (
	serverName    = "hearth-gateway"
	serverVersion = "0.1.0"
)

// Gateway serves the protocol endpoint plus the health and metadata routes.
// It multiplexes every session over one route and admits each request
// through the dual-tier rate limiter before the engine sees it.
type Gateway struct {
	config      *config.Config
	engine      engine.Engine
	limiter     *ratelimit.Limiter
	sessions    *session.Registry
	store       store.EventStore
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
	startTime   time.Time
}

// initStore creates the optional event log. An empty database path and an
// unset HEARTH_DB_PATH leave the gateway without one: the returned
// interface is nil and every recording call is skipped.
func initStore(cfg *config.Config, logger *slog.Logger) (store.EventStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("HEARTH_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(dbPath, logger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("initializing event log: %w", err)
	}
	return s, nil
}

// buildVerifier returns the configured token verifier, or nil when the
// gateway runs open.
func buildVerifier(cfg *config.Config) (auth.TokenVerifier, error) {
	switch {
	case cfg.Auth.JWTSecret != "":
		return auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	case cfg.Auth.Token != "":
		return auth.NewStaticVerifier(cfg.Auth.Token)
	default:
		return nil, nil
	}
}

// New creates a Gateway from validated configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	eventLog, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := engine.NewRegistry(logger.With("component", "tools"))
	for _, t := range engine.BuiltinTools() {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("registering builtin tool: %w", err)
		}
	}

	eng, err := engine.NewServer(engine.Config{
		Registry: registry,
		Logger:   logger.With("component", "engine"),
		Name:     serverName,
		Version:  serverVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		SessionWindow:    cfg.Limits.SessionWindow,
		SessionMaxReqs:   cfg.Limits.SessionMaxReqs,
		SessionCooldown:  cfg.Limits.SessionCooldown,
		SessionInitBurst: cfg.Limits.SessionInitBurst,
		AddrWindow:       cfg.Limits.AddrWindow,
		AddrMaxReqs:      cfg.Limits.AddrMaxReqs,
		AddrMaxSessions:  cfg.Limits.AddrMaxSessions,
		ReapInterval:     cfg.Limits.ReapInterval,
	}, logger.With("component", "ratelimit"))

	sessions := session.NewRegistry(eng, cfg.Sessions.IdleTTL, logger.With("component", "sessions"))

	g := &Gateway{
		config:    cfg,
		engine:    eng,
		limiter:   limiter,
		sessions:  sessions,
		store:     eventLog,
		logger:    logger.With("component", "gateway"),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	verifier, err := buildVerifier(cfg)
	if err != nil {
		limiter.Close()
		return nil, err
	}

	// Auth applies uniformly to every route when configured. The CORS
	// layer stays outermost on the protocol endpoint so browser preflights
	// (which carry no Authorization header) are answered before the check.
	protect := func(h http.Handler) http.Handler { return h }
	if verifier != nil {
		protect = auth.Middleware(verifier, logger.With("component", "auth"))
		logger.Info("bearer auth enabled on all routes")
	} else {
		logger.Warn("auth disabled - no token or jwt_secret configured")
	}

	mux.Handle("/mcp", g.corsMiddleware(protect(http.HandlerFunc(g.handleMCP))))
	mux.Handle("/health", protect(http.HandlerFunc(g.handleHealth)))
	mux.Handle("/", protect(http.HandlerFunc(g.handleRoot)))

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Handler exposes the root handler for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates a standard TCP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using a default
// under the user's home if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "hearth-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet node and returns its listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	}

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with a label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.sessions.Close()
	g.limiter.Close()

	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
