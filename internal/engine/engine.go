// ABOUTME: Protocol engine contract consumed by the gateway.
// ABOUTME: Defines the session transport bridge and lifecycle hook callbacks.

package engine

import "net/http"

// Hooks receive lifecycle notifications for one session. The gateway uses
// them to finalize registration once the handshake completes and to evict
// the session when the engine signals close. Each Connect call gets its own
// Hooks value, so concurrent handshakes cannot cross-wire.
type Hooks struct {
	// OnInitialized fires when the handshake completes. The engine supplies
	// the authoritative session id.
	OnInitialized func(sessionID string)

	// OnClose fires when the client explicitly terminates the session.
	OnClose func(sessionID string)
}

// Session is one client's long-lived conversation with the engine. The HTTP
// connection is transient per request; the session persists across calls.
// A session is owned by exactly one registry entry and never shared.
type Session interface {
	// ID returns the session id, or "" before the handshake completes.
	ID() string

	// HandleRequest bridges one HTTP exchange into the session's protocol
	// state machine. The engine writes the response directly, which allows
	// streaming replies. body is the already-read request body.
	HandleRequest(w http.ResponseWriter, r *http.Request, body []byte) error

	// Close releases the session without emitting a response.
	Close() error
}

// Engine executes protocol requests on behalf of connected sessions. The
// gateway treats it as opaque: it multiplexes transport, the engine owns
// tool-call semantics.
type Engine interface {
	// Connect creates a new, not-yet-initialized session bound to hooks.
	Connect(hooks Hooks) (Session, error)

	// Tools returns the engine's tool catalog for service metadata.
	Tools() []ToolInfo
}
