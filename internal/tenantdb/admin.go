// Package tenantdb manages the admin catalog side of multi-tenancy:
// the provisioning catalog, tenant ownership, and the per-tenant
// connection pools derived from them.
package tenantdb

import (
	"context"
	"fmt"

	"github.com/tabular/tabular-backend/pkg/database"
	"github.com/tabular/tabular-backend/pkg/logger"
)

var adminSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS provisioned_databases (
		tenant_id UUID PRIMARY KEY,
		database_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS tenant_ownerships (
		tenant_id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS access_role_assignments (
		tenant_id UUID NOT NULL,
		principal_id UUID NOT NULL,
		role_name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_id, principal_id, role_name)
	)`,
	`CREATE TABLE IF NOT EXISTS access_policy_rules (
		tenant_id UUID NOT NULL,
		role_name TEXT NOT NULL,
		resource_name TEXT NOT NULL,
		action_name TEXT NOT NULL,
		effect TEXT NOT NULL,
		allowed_columns TEXT[],
		denied_columns TEXT[],
		owner_scope BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_id, role_name, resource_name, action_name)
	)`,
	`CREATE TABLE IF NOT EXISTS access_authorization_decision_audit (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		principal_id UUID NOT NULL,
		request_id TEXT,
		resource_name TEXT NOT NULL,
		action_name TEXT NOT NULL,
		decision TEXT NOT NULL,
		reason TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS data_api_audit_logs (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		principal_id UUID NOT NULL,
		schema_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		action_name TEXT NOT NULL,
		row_identifier TEXT,
		success BOOLEAN NOT NULL,
		status_code INT NOT NULL,
		error_message TEXT,
		request_id TEXT,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureAdminSchema creates the admin catalog tables if they are absent.
// Runs once at startup against the admin database; all statements are
// idempotent so concurrent replicas can race safely.
func EnsureAdminSchema(ctx context.Context, db *database.DB, log *logger.Logger) error {
	for _, stmt := range adminSchemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure admin schema: %w", err)
		}
	}
	log.Info().Msg("admin schema ensured")
	return nil
}
