package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/mcp"
	mcpauth "github.com/inplace-dev/inplace-engine/pkg/mcp/auth"
	"github.com/inplace-dev/inplace-engine/pkg/middleware"
)

// maxMCPRequestBytes caps a single JSON-RPC request.
const maxMCPRequestBytes = 1 << 20

// MCPHandler serves the stateless streamable MCP transport at /mcp/{pid}.
type MCPHandler struct {
	transport http.Handler
	logger    *zap.Logger
}

// NewMCPHandler creates a new MCP handler from an MCP server.
func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		transport: mcpServer.NewStreamableHTTPServer(),
		logger:    logger.Named("mcp-handler"),
	}
}

// RegisterRoutes mounts the endpoint for POST only; the mux answers other
// methods with 405. The token's project must match {pid}.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux, mcpAuthMiddleware *mcpauth.Middleware) {
	var handler http.Handler = h.transport
	handler = middleware.MCPRequestLogger(h.logger)(handler)
	handler = limitBody(maxMCPRequestBytes, handler)
	handler = mcpAuthMiddleware.RequireAuth("pid")(handler)
	mux.Handle("POST /mcp/{pid}", handler)
}

func limitBody(n int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, n)
		next.ServeHTTP(w, r)
	})
}
