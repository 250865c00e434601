// ABOUTME: Protocol endpoint handler multiplexing every session over one route
// ABOUTME: Runs admission control, then routes by Mcp-Session-Id header

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/emberhq/hearth-gateway/internal/engine"
	"github.com/emberhq/hearth-gateway/internal/ratelimit"
	"github.com/emberhq/hearth-gateway/internal/session"
	"github.com/emberhq/hearth-gateway/internal/store"
)

// maxBodyBytes caps a single protocol message.
const maxBodyBytes = 1 << 20

// Gateway-level error codes, in the JSON-RPC implementation-defined range.
const (
	codeServerError    = -32000
	codeUnknownSession = -32001
)

const sessionHeader = "Mcp-Session-Id"

// handleMCP serves the protocol endpoint. Every request passes admission
// first, then routes on the session header: absent means a handshake attempt
// on a fresh transport, present means an existing session or a rejection.
func (g *Gateway) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodDelete:
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	addr := g.sourceAddr(r)
	sessionID := r.Header.Get(sessionHeader)

	// Requests without a session yet get a one-shot synthetic key so that
	// concurrent handshakes from one address never share a bucket.
	key := sessionID
	if key == "" {
		key = ratelimit.PlaceholderKey(addr)
	}
	if dec := g.limiter.Check(key, addr); !dec.Allowed {
		g.logger.Warn("request rejected by limiter", "addr", addr, "session_id", sessionID, "reason", dec.Reason)
		g.recordEvent(r.Context(), store.EventAdmissionRejected, sessionID, addr, dec.Reason)
		writeProtocolError(w, http.StatusTooManyRequests, codeServerError, dec.Reason)
		return
	}

	var body []byte
	if r.Method == http.MethodPost {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeProtocolError(w, http.StatusRequestEntityTooLarge, engine.CodeInvalidRequest, "request body too large")
				return
			}
			g.logger.Error("reading request body", "error", err)
			writeProtocolError(w, http.StatusInternalServerError, codeServerError, "Internal error.")
			return
		}
	}

	if sessionID == "" {
		if r.Method == http.MethodDelete {
			writeProtocolError(w, http.StatusBadRequest, engine.CodeInvalidRequest, "Mcp-Session-Id header required")
			return
		}
		g.handleHandshake(w, r, body, addr)
		return
	}

	sess, err := g.sessions.Resolve(sessionID)
	if err != nil {
		if errors.Is(err, session.ErrUnknownSession) || errors.Is(err, session.ErrRegistryClosed) {
			writeProtocolError(w, http.StatusNotFound, codeUnknownSession, "Session not found. It may have expired.")
			return
		}
		g.logger.Error("resolving session", "session_id", sessionID, "error", err)
		writeProtocolError(w, http.StatusInternalServerError, codeServerError, "Internal error.")
		return
	}

	if err := sess.HandleRequest(w, r, body); err != nil {
		g.logger.Error("session request failed", "session_id", sessionID, "error", err)
		return
	}
	if r.Method == http.MethodDelete {
		g.recordEvent(r.Context(), store.EventSessionClosed, sessionID, addr, "client delete")
	}
}

// handleHandshake connects a fresh transport and lets the engine process the
// message. The session only becomes addressable if the engine completes its
// handshake and reports an id through the lifecycle hook.
func (g *Gateway) handleHandshake(w http.ResponseWriter, r *http.Request, body []byte, addr string) {
	sess, err := g.sessions.Begin()
	if err != nil {
		g.logger.Error("beginning session", "error", err)
		writeProtocolError(w, http.StatusInternalServerError, codeServerError, "Internal error.")
		return
	}

	if err := sess.HandleRequest(w, r, body); err != nil {
		g.logger.Error("handshake request failed", "error", err)
		return
	}

	if id := sess.ID(); id != "" {
		g.logger.Info("session created", "session_id", id, "addr", addr)
		g.recordEvent(r.Context(), store.EventSessionCreated, id, addr, "")
	} else {
		// The engine never completed a handshake, so nothing was registered.
		_ = sess.Close()
	}
}

// sourceAddr derives the caller's address for the limiter's address tier.
// X-Forwarded-For is honored only when the deployment declares a trusted
// proxy; otherwise the peer address wins.
func (g *Gateway) sourceAddr(r *http.Request) string {
	if g.config.Server.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if i := strings.Index(xff, ","); i >= 0 {
				xff = xff[:i]
			}
			return strings.TrimSpace(xff)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// recordEvent writes to the optional event log; a nil store is a no-op.
func (g *Gateway) recordEvent(ctx context.Context, typ store.EventType, sessionID, addr, detail string) {
	if g.store == nil {
		return
	}
	ev := &store.Event{Type: typ, SessionID: sessionID, RemoteAddr: addr, Detail: detail}
	if err := g.store.RecordEvent(ctx, ev); err != nil {
		g.logger.Warn("recording event", "type", typ, "error", err)
	}
}

// writeProtocolError writes a JSON-RPC error envelope with a null id. Used
// for failures the gateway detects before any message reaches a session.
func writeProtocolError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := engine.Response{
		JSONRPC: "2.0",
		ID:      json.RawMessage("null"),
		Error:   &engine.RPCError{Code: code, Message: message},
	}
	_ = json.NewEncoder(w).Encode(resp)
}
