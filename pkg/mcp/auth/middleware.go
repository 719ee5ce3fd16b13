// Package mcpauth authenticates MCP clients. Failures are reported with
// RFC 6750 Bearer challenges so OAuth-aware clients can refresh their token.
package mcpauth

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/auth"
)

// Realm is advertised in every Bearer challenge.
const Realm = "inplace-engine"

// challenge is an RFC 6750 section 3 error.
type challenge struct {
	status      int
	code        string
	description string
}

var (
	challengeInvalidToken = challenge{http.StatusUnauthorized, "invalid_token", "The access token is invalid or expired"}
	challengeNoScope      = challenge{http.StatusUnauthorized, "invalid_token", "The access token is missing required project scope"}
	challengeNoProject    = challenge{http.StatusBadRequest, "invalid_request", "Missing project ID in URL"}
	challengeWrongProject = challenge{http.StatusForbidden, "insufficient_scope", "The access token does not have access to this project"}
)

// Middleware guards the MCP endpoint.
type Middleware struct {
	authService auth.AuthService
	logger      *zap.Logger
}

// NewMiddleware creates a new MCP auth middleware.
func NewMiddleware(authService auth.AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger.Named("mcp-auth"),
	}
}

// RequireAuth admits a request only when its token is valid and scoped to the
// project named by the pathParamName path value.
func (m *Middleware) RequireAuth(pathParamName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, token, failure := m.authenticate(r, pathParamName)
			if failure != nil {
				writeChallenge(w, *failure)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims, token)))
		})
	}
}

func (m *Middleware) authenticate(r *http.Request, pathParamName string) (*auth.Claims, string, *challenge) {
	claims, token, err := m.authService.ValidateRequest(r)
	if err != nil {
		m.logger.Debug("Rejected MCP request: bad token", zap.String("path", r.URL.Path), zap.Error(err))
		return nil, "", &challengeInvalidToken
	}

	projectID := r.PathValue(pathParamName)
	if projectID == "" {
		m.logger.Warn("Rejected MCP request: no project in path", zap.String("path", r.URL.Path))
		return nil, "", &challengeNoProject
	}

	switch err := m.authService.ValidateProjectIDMatch(claims, projectID); {
	case err == nil:
		return claims, token, nil
	case errors.Is(err, auth.ErrMissingProjectID):
		m.logger.Debug("Rejected MCP request: token has no project", zap.String("path", r.URL.Path))
		return nil, "", &challengeNoScope
	default:
		m.logger.Warn("Rejected MCP request: project mismatch",
			zap.String("url_project_id", projectID),
			zap.String("token_project_id", claims.ProjectID))
		return nil, "", &challengeWrongProject
	}
}

func writeChallenge(w http.ResponseWriter, c challenge) {
	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf(`Bearer realm=%q, error=%q, error_description=%q`, Realm, c.code, c.description))
	w.WriteHeader(c.status)
}
