// ABOUTME: Dual-tier sliding-window admission control for the protocol endpoint.
// ABOUTME: Tracks per-session and per-address windows with burst allowance and cooldown.

package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Rejection reasons surfaced to clients in the protocol error envelope.
const (
	ReasonTooFast         = "Too many requests. Please slow down."
	ReasonSessionLimit    = "Session request limit exceeded."
	ReasonTooManySessions = "Too many sessions from this address."
	ReasonAddrLimit       = "Request limit exceeded for this address."
)

// Config holds the policy for both tiers. Zero values are not defaulted
// here; callers construct it from the validated gateway configuration.
type Config struct {
	SessionWindow    time.Duration
	SessionMaxReqs   int
	SessionCooldown  time.Duration
	SessionInitBurst int

	AddrWindow      time.Duration
	AddrMaxReqs     int
	AddrMaxSessions int

	ReapInterval time.Duration
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Reason  string
}

// window is one sliding-window counter bucket. Address-tier windows also
// track the distinct session keys observed from that address.
type window struct {
	count       int
	windowStart time.Time
	lastRequest time.Time
	sessions    map[string]struct{} // address tier only
}

// Limiter enforces the dual-tier admission policy. All state is in-memory;
// windows are created lazily on first use and deleted by the background
// reaper once idle past their tier's window length.
type Limiter struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*window
	addrs    map[string]*window
	logger   *slog.Logger
	done     chan struct{}
	closed   bool
}

// New creates a Limiter and starts its background reaper.
func New(cfg Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		cfg:      cfg,
		sessions: make(map[string]*window),
		addrs:    make(map[string]*window),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go l.reapLoop()
	return l
}

// Config returns the active policy.
func (l *Limiter) Config() Config {
	return l.cfg
}

// PlaceholderKey synthesizes a session key for a request that carried no
// session id. Each pre-handshake request gets its own bucket so concurrent
// anonymous callers from one address never collide.
func PlaceholderKey(addr string) string {
	return fmt.Sprintf("init:%s:%d:%s", addr, time.Now().UnixNano(), uuid.NewString()[:8])
}

// Check decides whether one request proceeds. sessionKey is the real session
// id when the request carried one, otherwise a PlaceholderKey. Both tiers
// must accept; the first failing tier's reason wins and the second tier is
// left untouched.
func (l *Limiter) Check(sessionKey, addr string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	if d := l.checkSession(sessionKey, now); !d.Allowed {
		return d
	}
	return l.checkAddr(sessionKey, addr, now)
}

// checkSession evaluates the session tier. Must be called with mu held.
func (l *Limiter) checkSession(key string, now time.Time) Decision {
	w, ok := l.sessions[key]
	if !ok {
		w = &window{windowStart: now}
		l.sessions[key] = w
	}

	if now.Sub(w.windowStart) > l.cfg.SessionWindow {
		w.count = 0
		w.windowStart = now
	}

	// Handshakes legitimately need several rapid round-trips, so the
	// cooldown only applies once the window is past its init burst.
	inInitBurst := w.count < l.cfg.SessionInitBurst

	if !inInitBurst && now.Sub(w.lastRequest) < l.cfg.SessionCooldown {
		w.lastRequest = now
		l.logger.Debug("admission rejected", "tier", "session", "key", key, "reason", "cooldown")
		return Decision{Reason: ReasonTooFast}
	}

	if w.count >= l.cfg.SessionMaxReqs {
		w.lastRequest = now
		l.logger.Debug("admission rejected", "tier", "session", "key", key, "reason", "limit")
		return Decision{Reason: ReasonSessionLimit}
	}

	w.count++
	w.lastRequest = now
	return Decision{Allowed: true}
}

// checkAddr evaluates the address tier. Must be called with mu held.
func (l *Limiter) checkAddr(sessionKey, addr string, now time.Time) Decision {
	w, ok := l.addrs[addr]
	if !ok {
		w = &window{windowStart: now, sessions: make(map[string]struct{})}
		l.addrs[addr] = w
	}

	if now.Sub(w.windowStart) > l.cfg.AddrWindow {
		w.count = 0
		w.windowStart = now
		w.sessions = make(map[string]struct{})
	}

	w.sessions[sessionKey] = struct{}{}
	if len(w.sessions) > l.cfg.AddrMaxSessions {
		w.lastRequest = now
		l.logger.Warn("admission rejected", "tier", "addr", "addr", addr, "reason", "session fanout", "sessions", len(w.sessions))
		return Decision{Reason: ReasonTooManySessions}
	}

	if w.count >= l.cfg.AddrMaxReqs {
		w.lastRequest = now
		l.logger.Debug("admission rejected", "tier", "addr", "addr", addr, "reason", "limit")
		return Decision{Reason: ReasonAddrLimit}
	}

	w.count++
	w.lastRequest = now
	return Decision{Allowed: true}
}

// Stats reports how many windows each tier currently tracks.
type Stats struct {
	TrackedSessions int `json:"tracked_sessions"`
	TrackedAddrs    int `json:"tracked_addrs"`
}

// Stats returns the current tracking counts.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		TrackedSessions: len(l.sessions),
		TrackedAddrs:    len(l.addrs),
	}
}

// reapLoop periodically deletes idle windows so memory stays bounded even
// for addresses that never completed a handshake.
func (l *Limiter) reapLoop() {
	ticker := time.NewTicker(l.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.reap()
		case <-l.done:
			return
		}
	}
}

// reap removes every window idle longer than its tier's window length.
func (l *Limiter) reap() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	var reapedSessions, reapedAddrs int

	for key, w := range l.sessions {
		if now.Sub(w.lastRequest) > l.cfg.SessionWindow {
			delete(l.sessions, key)
			reapedSessions++
		}
	}
	for addr, w := range l.addrs {
		if now.Sub(w.lastRequest) > l.cfg.AddrWindow {
			delete(l.addrs, addr)
			reapedAddrs++
		}
	}

	if reapedSessions > 0 || reapedAddrs > 0 {
		l.logger.Debug("reaped rate windows",
			"sessions", reapedSessions,
			"addrs", reapedAddrs,
			"tracked_sessions", len(l.sessions),
			"tracked_addrs", len(l.addrs),
		)
	}
}

// Close stops the background reaper. Safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
