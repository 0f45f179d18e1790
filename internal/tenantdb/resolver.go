package tenantdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tabular/tabular-backend/pkg/config"
	"github.com/tabular/tabular-backend/pkg/database"
	"github.com/tabular/tabular-backend/pkg/errors"
)

// DatabaseStatusActive is the only catalog status that permits access
const DatabaseStatusActive = "active"

type provisionedDatabase struct {
	DatabaseName string `db:"database_name"`
	Status       string `db:"status"`
}

// ConnectionResolver maps a tenant ID to its database URL via the
// provisioning catalog in the admin database.
type ConnectionResolver struct {
	db  *database.DB
	cfg *config.Config
}

// NewConnectionResolver creates a resolver over the admin catalog
func NewConnectionResolver(db *database.DB, cfg *config.Config) *ConnectionResolver {
	return &ConnectionResolver{db: db, cfg: cfg}
}

// Resolve returns the connection URL for the tenant's database.
// A tenant missing from the catalog is a not-found; a tenant whose
// database is not active is denied.
func (r *ConnectionResolver) Resolve(ctx context.Context, tenantID string) (string, error) {
	var row provisionedDatabase
	err := r.db.GetContext(ctx, &row,
		`SELECT database_name, status FROM provisioned_databases WHERE tenant_id = $1`,
		tenantID,
	)
	if err == sql.ErrNoRows {
		return "", errors.TenantDatabaseNotFound()
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve tenant database: %w", err)
	}

	if row.Status != DatabaseStatusActive {
		return "", errors.AccessDenied(fmt.Sprintf("tenant database is not active (status: %s)", row.Status))
	}

	return r.cfg.DatabaseURLFor(row.DatabaseName), nil
}

// Provision registers a tenant database in the catalog, used by
// provisioning flows and test setup.
func (r *ConnectionResolver) Provision(ctx context.Context, tenantID, databaseName, status string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO provisioned_databases (tenant_id, database_name, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id) DO UPDATE
		 SET database_name = EXCLUDED.database_name,
		     status = EXCLUDED.status,
		     updated_at = now()`,
		tenantID, databaseName, status,
	)
	if err != nil {
		return fmt.Errorf("failed to provision tenant database: %w", err)
	}
	return nil
}
