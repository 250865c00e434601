// ABOUTME: Default JSON-RPC 2.0 protocol engine with tool listing and execution.
// ABOUTME: Implements the Streamable HTTP message handling behind the gateway.

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Supported protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version advertised in initialize responses
const latestProtocolVersion = "2025-11-25"

// JSON-RPC 2.0 types

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents content in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Config holds configuration for the default engine.
type Config struct {
	Registry *Registry
	Logger   *slog.Logger
	Name     string // serverInfo name
	Version  string // serverInfo version
}

// Server is the default Engine: a JSON-RPC tool server speaking the
// Streamable HTTP message shapes.
type Server struct {
	registry *Registry
	logger   *slog.Logger
	name     string
	version  string
}

// NewServer creates the default engine with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "hearth-gateway"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	return &Server{
		registry: cfg.Registry,
		logger:   logger,
		name:     name,
		version:  version,
	}, nil
}

// Connect creates a new uninitialized session bound to hooks.
func (s *Server) Connect(hooks Hooks) (Session, error) {
	return &serverSession{srv: s, hooks: hooks}, nil
}

// Tools returns the engine's tool catalog.
func (s *Server) Tools() []ToolInfo {
	return s.registry.List()
}

// serverSession is one client's protocol state machine. The id is minted
// when the initialize handshake completes.
type serverSession struct {
	srv   *Server
	hooks Hooks

	mu          sync.Mutex
	id          string
	initialized bool
	closed      bool
}

func (ss *serverSession) ID() string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.id
}

// Close marks the session closed without writing a response or firing hooks.
// Used when the registry tears the session down itself (idle expiry, shutdown).
func (ss *serverSession) Close() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.closed = true
	return nil
}

// HandleRequest processes one HTTP exchange against this session.
func (ss *serverSession) HandleRequest(w http.ResponseWriter, r *http.Request, body []byte) error {
	switch r.Method {
	case http.MethodPost:
		ss.handlePost(w, r, body)
	case http.MethodDelete:
		ss.handleDelete(w)
	case http.MethodGet:
		// Server-initiated streams are not supported.
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
	return nil
}

// handleDelete terminates the session on the client's explicit request.
func (ss *serverSession) handleDelete(w http.ResponseWriter) {
	ss.mu.Lock()
	id := ss.id
	alreadyClosed := ss.closed
	ss.closed = true
	ss.mu.Unlock()

	if !alreadyClosed && ss.hooks.OnClose != nil && id != "" {
		ss.hooks.OnClose(id)
	}
	ss.srv.logger.Info("session terminated", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes one JSON-RPC message.
func (ss *serverSession) handlePost(w http.ResponseWriter, r *http.Request, body []byte) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		ss.sendError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		ss.sendError(w, req.ID, CodeInvalidRequest, "invalid JSON-RPC version")
		return
	}

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	// The version header is optional and is never sent on initialize.
	if !isInitialize {
		if v := r.Header.Get("Mcp-Protocol-Version"); v != "" && !supportedProtocolVersions[v] {
			http.Error(w, "Bad Request: unsupported Mcp-Protocol-Version", http.StatusBadRequest)
			return
		}
	}

	// Notifications are accepted with no body.
	if isNotification {
		if strings.HasPrefix(req.Method, "notifications/") {
			ss.srv.logger.Debug("accepted notification", "method", req.Method)
		} else {
			ss.srv.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		ss.handleInitialize(w, req)
	case "ping":
		ss.sendResult(w, req.ID, map[string]any{})
	case "tools/list":
		ss.handleToolsList(w, req)
	case "tools/call":
		ss.handleToolsCall(w, r, req)
	default:
		ss.sendError(w, req.ID, CodeMethodNotFound, "method not found")
	}
}

// handleInitialize completes the handshake: mints the session id, reports it
// to the gateway via the initialized hook, and returns server capabilities.
func (ss *serverSession) handleInitialize(w http.ResponseWriter, req Request) {
	ss.mu.Lock()
	if ss.initialized {
		id := ss.id
		ss.mu.Unlock()
		ss.srv.logger.Warn("duplicate initialize on session", "session_id", id)
		ss.sendError(w, req.ID, CodeInvalidRequest, "session already initialized")
		return
	}
	ss.id = uuid.New().String()
	ss.initialized = true
	id := ss.id
	ss.mu.Unlock()

	if ss.hooks.OnInitialized != nil {
		ss.hooks.OnInitialized(id)
	}

	ss.srv.logger.Info("session initialized", "session_id", id)

	// The client echoes this header on every subsequent request.
	w.Header().Set("Mcp-Session-Id", id)

	result := map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    ss.srv.name,
			"version": ss.srv.version,
		},
	}
	ss.sendResult(w, req.ID, result)
}

// requireInitialized rejects protocol calls made before the handshake.
func (ss *serverSession) requireInitialized(w http.ResponseWriter, req Request) bool {
	ss.mu.Lock()
	ok := ss.initialized && !ss.closed
	ss.mu.Unlock()
	if !ok {
		ss.sendError(w, req.ID, CodeInvalidRequest, "server not initialized")
	}
	return ok
}

func (ss *serverSession) handleToolsList(w http.ResponseWriter, req Request) {
	if !ss.requireInitialized(w, req) {
		return
	}

	tools := ss.srv.registry.List()
	ss.srv.logger.Debug("tools/list", "count", len(tools), "session_id", ss.ID())
	ss.sendResult(w, req.ID, ListToolsResult{Tools: tools})
}

func (ss *serverSession) handleToolsCall(w http.ResponseWriter, r *http.Request, req Request) {
	if !ss.requireInitialized(w, req) {
		return
	}

	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			ss.sendError(w, req.ID, CodeInvalidParams, "invalid params")
			return
		}
	}
	if params.Name == "" {
		ss.sendError(w, req.ID, CodeInvalidParams, "tool name is required")
		return
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	requestID := uuid.New().String()
	ss.srv.logger.Debug("tools/call", "tool_name", params.Name, "request_id", requestID, "session_id", ss.ID())

	output, err := ss.srv.registry.Call(r.Context(), params.Name, args)
	if err != nil {
		ss.handleToolError(w, req.ID, params.Name, requestID, err)
		return
	}

	ss.sendResult(w, req.ID, CallToolResult{
		Content: []Content{{Type: "text", Text: output}},
	})
}

// handleToolError maps tool execution failures to protocol errors.
func (ss *serverSession) handleToolError(w http.ResponseWriter, id json.RawMessage, toolName, requestID string, err error) {
	ss.srv.logger.Warn("tool execution failed",
		"tool_name", toolName,
		"request_id", requestID,
		"error", err,
	)

	code := CodeInternalError
	message := "tool execution failed"

	switch {
	case errors.Is(err, ErrToolNotFound):
		code = CodeInvalidParams
		message = "tool not found"
	case errors.Is(err, context.DeadlineExceeded):
		message = "tool execution timed out"
	case errors.Is(err, context.Canceled):
		message = "request cancelled"
	}

	ss.sendError(w, id, code, message)
}

func (ss *serverSession) sendResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		ss.srv.logger.Warn("failed to encode response", "error", err)
	}
}

func (ss *serverSession) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	resp := Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		ss.srv.logger.Warn("failed to encode error response", "error", err)
	}
}
