// ABOUTME: Tests for the default engine's protocol handling
// ABOUTME: Exercises the handshake, tool calls, and error mapping

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, hooks Hooks) Session {
	t.Helper()
	reg := NewRegistry(slog.New(slog.DiscardHandler))
	for _, tool := range BuiltinTools() {
		require.NoError(t, reg.Register(tool))
	}
	srv, err := NewServer(Config{
		Registry: reg,
		Logger:   slog.New(slog.DiscardHandler),
		Name:     "test-gateway",
		Version:  "0.0.0",
	})
	require.NoError(t, err)
	sess, err := srv.Connect(hooks)
	require.NoError(t, err)
	return sess
}

func post(t *testing.T, sess Session, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	require.NoError(t, sess.HandleRequest(rec, req, []byte(body)))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

const initBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}`

func initialize(t *testing.T, sess Session) string {
	t.Helper()
	rec := post(t, sess, initBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, id)
	return id
}

func TestInitializeHandshake(t *testing.T) {
	var hookID string
	sess := newTestSession(t, Hooks{OnInitialized: func(id string) { hookID = id }})

	rec := post(t, sess, initBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	headerID := rec.Header().Get("Mcp-Session-Id")
	assert.NotEmpty(t, headerID)
	assert.Equal(t, headerID, hookID)
	assert.Equal(t, headerID, sess.ID())

	resp := decode(t, rec)
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]any)
	assert.Equal(t, latestProtocolVersion, result["protocolVersion"])
	serverInfo := result["serverInfo"].(map[string]any)
	assert.Equal(t, "test-gateway", serverInfo["name"])
}

func TestDuplicateInitialize(t *testing.T) {
	sess := newTestSession(t, Hooks{})
	initialize(t, sess)

	rec := post(t, sess, initBody, nil)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestRequestBeforeInitialize(t *testing.T) {
	sess := newTestSession(t, Hooks{})

	rec := post(t, sess, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, nil)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestPing(t *testing.T) {
	sess := newTestSession(t, Hooks{})
	initialize(t, sess)

	rec := post(t, sess, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, nil)
	resp := decode(t, rec)
	assert.Nil(t, resp.Error)
}

func TestToolsList(t *testing.T) {
	sess := newTestSession(t, Hooks{})
	initialize(t, sess)

	rec := post(t, sess, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)
	resp := decode(t, rec)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]any)
	tools := result["tools"].([]any)
	require.Len(t, tools, 2)

	names := make([]string, 0, len(tools))
	for _, tl := range tools {
		names = append(names, tl.(map[string]any)["name"].(string))
	}
	assert.Contains(t, names, "echo")
	assert.Contains(t, names, "server_time")
}

func TestToolsCallEcho(t *testing.T) {
	sess := newTestSession(t, Hooks{})
	initialize(t, sess)

	rec := post(t, sess, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hello"}}}`, nil)
	resp := decode(t, rec)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]any)
	content := result["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "hello", content[0].(map[string]any)["text"])
}

func TestToolsCallUnknownTool(t *testing.T) {
	sess := newTestSession(t, Hooks{})
	initialize(t, sess)

	rec := post(t, sess, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"nope"}}`, nil)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestToolsCallMissingName(t *testing.T) {
	sess := newTestSession(t, Hooks{})
	initialize(t, sess)

	rec := post(t, sess, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{}}`, nil)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestToolFailureMapsToInternalError(t *testing.T) {
	sess := newTestSession(t, Hooks{})
	initialize(t, sess)

	// echo requires a message argument
	rec := post(t, sess, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo"}}`, nil)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternalError, resp.Error.Code)
}

func TestNotificationAccepted(t *testing.T) {
	sess := newTestSession(t, Hooks{})
	initialize(t, sess)

	rec := post(t, sess, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestParseError(t *testing.T) {
	sess := newTestSession(t, Hooks{})

	rec := post(t, sess, `{not json`, nil)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}

func TestWrongJSONRPCVersion(t *testing.T) {
	sess := newTestSession(t, Hooks{})

	rec := post(t, sess, `{"jsonrpc":"1.0","id":1,"method":"ping"}`, nil)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestUnsupportedProtocolVersionHeader(t *testing.T) {
	sess := newTestSession(t, Hooks{})
	initialize(t, sess)

	rec := post(t, sess, `{"jsonrpc":"2.0","id":2,"method":"ping"}`,
		map[string]string{"Mcp-Protocol-Version": "1999-01-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotFound(t *testing.T) {
	sess := newTestSession(t, Hooks{})
	initialize(t, sess)

	rec := post(t, sess, `{"jsonrpc":"2.0","id":2,"method":"resources/list"}`, nil)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestDeleteFiresOnClose(t *testing.T) {
	var closedID string
	sess := newTestSession(t, Hooks{OnClose: func(id string) { closedID = id }})
	id := initialize(t, sess)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	require.NoError(t, sess.HandleRequest(rec, req, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, id, closedID)
}

func TestGetNotSupported(t *testing.T) {
	sess := newTestSession(t, Hooks{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	require.NoError(t, sess.HandleRequest(rec, req, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRegistryCollision(t *testing.T) {
	reg := NewRegistry(slog.New(slog.DiscardHandler))
	tool := Tool{
		ToolInfo: ToolInfo{Name: "dup"},
		Handler:  func(context.Context, json.RawMessage) (string, error) { return "", nil },
	}
	require.NoError(t, reg.Register(tool))
	err := reg.Register(tool)
	assert.True(t, errors.Is(err, ErrToolCollision))
}

func TestRegistryCallUnknown(t *testing.T) {
	reg := NewRegistry(slog.New(slog.DiscardHandler))
	_, err := reg.Call(context.Background(), "nope", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, ErrToolNotFound))
}
