package database

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/auth"
)

// ProjectPathParam is the path value that names the project on tenant routes.
const ProjectPathParam = "pid"

var errNoProjectContext = errors.New("no project in path or claims")

// WithTenantContext binds a tenant-scoped connection to the request for the
// project being addressed. It runs after the auth middleware, which has
// already checked the token against the path. Routes without {pid} fall back
// to the token's project claim. The connection is released when the handler
// returns.
func WithTenantContext(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	logger = logger.Named("tenant")
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			projectID, err := requestProjectID(r)
			if err != nil {
				logger.Warn("Cannot resolve tenant for request",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				writeTenantError(w, http.StatusBadRequest, "invalid_project_id", "Invalid or missing project ID")
				return
			}

			scope, err := db.WithTenant(r.Context(), projectID)
			if err != nil {
				logger.Error("Failed to acquire tenant connection",
					zap.String("project_id", projectID.String()),
					zap.Error(err))
				writeTenantError(w, http.StatusServiceUnavailable, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			next(w, r.WithContext(SetTenantScope(r.Context(), scope)))
		}
	}
}

func requestProjectID(r *http.Request) (uuid.UUID, error) {
	raw := r.PathValue(ProjectPathParam)
	if raw == "" {
		if claims, ok := auth.GetClaims(r.Context()); ok {
			raw = claims.ProjectID
		}
	}
	if raw == "" {
		return uuid.Nil, errNoProjectContext
	}
	return uuid.Parse(raw)
}

func writeTenantError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
