// ABOUTME: In-memory registry mapping session ids to engine sessions.
// ABOUTME: Owns idle-timeout eviction and two-phase handshake registration.

package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/emberhq/hearth-gateway/internal/engine"
)

// ErrUnknownSession indicates the presented session id is not registered.
// Callers surface it as a reinitialize instruction, never as a fresh session.
var ErrUnknownSession = errors.New("unknown session")

// ErrRegistryClosed indicates the registry is shutting down.
var ErrRegistryClosed = errors.New("session registry closed")

// entry is one registered session. The timer is replaced, not reset, on
// every refresh; gen counts refreshes so a timer that already fired can
// detect it lost a race with a refresh and back off.
type entry struct {
	sess       engine.Session
	lastActive time.Time
	timer      *time.Timer
	gen        uint64
}

// Registry exclusively owns the id → session map. Each session holds one
// transport into the engine; sessions are never shared across entries.
type Registry struct {
	mu       sync.Mutex
	eng      engine.Engine
	sessions map[string]*entry
	idleTTL  time.Duration
	logger   *slog.Logger
	closed   bool
}

// NewRegistry creates a Registry with the given idle TTL.
func NewRegistry(eng engine.Engine, idleTTL time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		eng:      eng,
		sessions: make(map[string]*entry),
		idleTTL:  idleTTL,
		logger:   logger,
	}
}

// Resolve looks up a registered session, refreshes its activity timestamp,
// and reschedules its idle timer. Returns ErrUnknownSession when the id is
// not registered — an evicted or never-seen id is rejected, not recreated.
func (r *Registry) Resolve(id string) (engine.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	// Idle eviction can race an in-flight request; the entry is re-checked
	// here under the lock so a vanished session reads as unknown rather
	// than a stale dereference.
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}

	r.refreshLocked(id, e)
	return e.sess, nil
}

// Begin starts a two-phase session creation: the engine gets a fresh
// transport wired to hooks, and registration is deferred until the engine
// reports the handshake complete with the authoritative session id. Each
// call gets its own hooks, so concurrent handshakes cannot cross-wire.
func (r *Registry) Begin() (engine.Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	r.mu.Unlock()

	var sess engine.Session
	hooks := engine.Hooks{
		OnInitialized: func(id string) {
			r.register(id, sess)
		},
		OnClose: func(id string) {
			r.Evict(id)
		},
	}

	s, err := r.eng.Connect(hooks)
	if err != nil {
		return nil, err
	}
	sess = s
	return s, nil
}

// register finalizes a handshake. Called from the engine's initialized hook.
func (r *Registry) register(id string, sess engine.Session) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		_ = sess.Close()
		return
	}

	// A colliding id would mean the engine's generator repeated itself;
	// the old entry loses.
	var old *entry
	if o, exists := r.sessions[id]; exists {
		o.timer.Stop()
		old = o
	}

	e := &entry{sess: sess}
	r.sessions[id] = e
	r.refreshLocked(id, e)
	count := len(r.sessions)
	r.mu.Unlock()

	if old != nil {
		_ = old.sess.Close()
	}

	r.logger.Info("session registered", "session_id", id, "active_sessions", count)
}

// refreshLocked updates activity and replaces the idle timer. Must be
// called with mu held. The generation is captured by value before the
// timer is armed, so the callback never reads shared state outside the
// lock even when the TTL fires immediately.
func (r *Registry) refreshLocked(id string, e *entry) {
	e.lastActive = time.Now()
	if e.timer != nil {
		e.timer.Stop()
	}

	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(r.idleTTL, func() {
		r.expire(id, gen)
	})
}

// expire handles an idle timer firing. A timer that lost a race with a
// refresh or an explicit eviction finds itself stale and does nothing.
func (r *Registry) expire(id string, gen uint64) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok || e.gen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	idle := time.Since(e.lastActive)
	count := len(r.sessions)
	r.mu.Unlock()

	_ = e.sess.Close()
	r.logger.Info("session expired", "session_id", id, "idle", idle, "active_sessions", count)
}

// Evict removes a session: timer cancelled, entry deleted, transport closed.
// Evicting an unknown id is a no-op.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		e.timer.Stop()
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		_ = e.sess.Close()
		r.logger.Info("session evicted", "session_id", id, "active_sessions", count)
	}
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close evicts every session and refuses further work. Safe to call once;
// subsequent Resolve/Begin calls return ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true

	evicted := make([]engine.Session, 0, len(r.sessions))
	for id, e := range r.sessions {
		e.timer.Stop()
		evicted = append(evicted, e.sess)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range evicted {
		_ = s.Close()
	}

	if len(evicted) > 0 {
		r.logger.Info("session registry closed", "evicted", len(evicted))
	}
}
