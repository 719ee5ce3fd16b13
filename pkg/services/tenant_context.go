package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/inplace-dev/inplace-engine/pkg/database"
)

// TenantContextFunc acquires a tenant-scoped database connection.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
type TenantContextFunc func(ctx context.Context, projectID uuid.UUID) (context.Context, func(), error)

// NewTenantContextFunc creates a TenantContextFunc backed by the scope provider.
func NewTenantContextFunc(provider *database.TenantScopeProvider) TenantContextFunc {
	return provider.WithTenantScope
}
