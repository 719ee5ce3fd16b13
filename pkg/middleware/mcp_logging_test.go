package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func serveMCP(t *testing.T, response, request string) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)

	var seenBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seenBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp/test-project", bytes.NewBufferString(request))
	MCPRequestLogger(zap.New(core))(handler).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, request, seenBody, "body must be restored for the server")
	return logs
}

func TestMCPRequestLogger(t *testing.T) {
	const call = `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_elements","arguments":{"type":"heading"}}}`

	t.Run("logs successful tool call", func(t *testing.T) {
		logs := serveMCP(t, `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"{}"}]}}`, call)

		require.Equal(t, 2, logs.Len())
		requestLog := logs.All()[0]
		assert.Equal(t, "MCP request", requestLog.Message)
		assert.Equal(t, "tools/call", requestLog.ContextMap()["method"])
		assert.Equal(t, "list_elements", requestLog.ContextMap()["tool"])

		assert.Equal(t, "MCP response success", logs.All()[1].Message)
	})

	t.Run("logs JSON-RPC error", func(t *testing.T) {
		logs := serveMCP(t, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`, call)

		require.Equal(t, 2, logs.Len())
		responseLog := logs.All()[1]
		assert.Equal(t, "MCP response error", responseLog.Message)
		assert.Equal(t, int64(-32601), responseLog.ContextMap()["error_code"])
	})

	t.Run("logs tool result error", func(t *testing.T) {
		logs := serveMCP(t, `{"jsonrpc":"2.0","id":1,"result":{"isError":true,"content":[]}}`, call)

		require.Equal(t, 2, logs.Len())
		assert.Equal(t, "MCP tool error", logs.All()[1].Message)
	})

	t.Run("tolerates invalid JSON", func(t *testing.T) {
		logs := serveMCP(t, `not json`, `not json either`)
		assert.GreaterOrEqual(t, logs.Len(), 1)
	})

	t.Run("nil logger passes through", func(t *testing.T) {
		called := false
		h := MCPRequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp/x", nil))
		assert.True(t, called)
	})
}

func TestSanitizeArguments(t *testing.T) {
	assert.Nil(t, sanitizeArguments(nil))

	got := sanitizeArguments(map[string]any{
		"api_key":    "sk-123",
		"vcsToken":   "ghp_abc",
		"newValue":   strings.Repeat("x", 500),
		"fullRescan": true,
	})

	assert.Equal(t, "[REDACTED]", got["api_key"])
	assert.Equal(t, "[REDACTED]", got["vcsToken"])
	assert.Equal(t, true, got["fullRescan"])
	assert.Len(t, got["newValue"], 83)
	assert.True(t, strings.HasSuffix(got["newValue"].(string), "..."))
}
