package tenantdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tabular/tabular-backend/pkg/database"
)

// OwnershipStore persists which user owns which tenant. A tenant has
// exactly one owner; ownership gates every data-API call.
type OwnershipStore struct {
	db *database.DB
}

// NewOwnershipStore creates an ownership store on the admin database
func NewOwnershipStore(db *database.DB) *OwnershipStore {
	return &OwnershipStore{db: db}
}

// Exists reports whether the user owns the tenant
func (s *OwnershipStore) Exists(ctx context.Context, tenantID, userID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (
			SELECT 1 FROM tenant_ownerships WHERE tenant_id = $1 AND user_id = $2
		)`,
		tenantID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to check tenant ownership: %w", err)
	}
	return exists, nil
}

// Save records the user as owner of the tenant, replacing any previous owner
func (s *OwnershipStore) Save(ctx context.Context, tenantID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_ownerships (tenant_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (tenant_id) DO UPDATE SET user_id = EXCLUDED.user_id`,
		tenantID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to save tenant ownership: %w", err)
	}
	return nil
}

// ListTenantsByUser returns every tenant owned by the user
func (s *OwnershipStore) ListTenantsByUser(ctx context.Context, userID string) ([]string, error) {
	var tenants []string
	err := s.db.SelectContext(ctx, &tenants,
		`SELECT tenant_id FROM tenant_ownerships WHERE user_id = $1 ORDER BY tenant_id`,
		userID,
	)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to list tenants by user: %w", err)
	}
	return tenants, nil
}
