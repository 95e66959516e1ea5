package mcp

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcpbox/internal/child"
)

func testServer() *Server {
	return NewServer(child.New(slog.New(slog.NewTextHandler(io.Discard, nil))), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestServeHTTP_ParseError(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 400, w.Code)
	require.Contains(t, w.Body.String(), `"code":-32700`)
}

func TestServeHTTP_Notification_Returns202(t *testing.T) {
	s := testServer()
	body := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 202, w.Code)
	require.Empty(t, w.Body.String())
}

func TestServeHTTP_Initialize(t *testing.T) {
	s := testServer()
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"protocolVersion":"2025-11-25"`)
}

func TestServeHTTP_Ping(t *testing.T) {
	s := testServer()
	body := `{"jsonrpc":"2.0","id":2,"method":"ping"}`
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"result":{}`)
}

func TestServeHTTP_UnknownMethod(t *testing.T) {
	s := testServer()
	body := `{"jsonrpc":"2.0","id":3,"method":"bogus/method"}`
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `-32601`)
	assert.Contains(t, w.Body.String(), "bogus/method")
}

func TestServeHTTP_UnknownTool(t *testing.T) {
	s := testServer()
	body := `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"ghost__doNothing"}}`
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `-32603`)
	assert.Contains(t, w.Body.String(), "Unknown tool: ghost__doNothing")
}

func TestServeHTTP_InvalidRequest_MissingMethod(t *testing.T) {
	s := testServer()
	body := `{"jsonrpc":"2.0","id":5}`
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `-32600`)
}
