package accesscontrol

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/tabular/tabular-backend/pkg/database"
)

// PolicyStore persists role assignments and policy rules in the admin
// database.
type PolicyStore struct {
	db *database.DB
}

// NewPolicyStore creates a policy store
func NewPolicyStore(db *database.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

// AssignRole grants the role to the principal; re-assigning is a no-op
func (s *PolicyStore) AssignRole(ctx context.Context, tenantID, principalID, roleName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_role_assignments (tenant_id, principal_id, role_name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, principal_id, role_name) DO NOTHING`,
		tenantID, principalID, roleName,
	)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// FindRolesByPrincipal returns the roles held by the principal in the tenant
func (s *PolicyStore) FindRolesByPrincipal(ctx context.Context, tenantID, principalID string) ([]string, error) {
	var roles []string
	err := s.db.SelectContext(ctx, &roles,
		`SELECT role_name FROM access_role_assignments
		 WHERE tenant_id = $1 AND principal_id = $2
		 ORDER BY role_name`,
		tenantID, principalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find roles: %w", err)
	}
	return roles, nil
}

// UpsertRule inserts the rule or replaces the effect, column lists,
// and owner scope of the rule with the same identity.
func (s *PolicyStore) UpsertRule(ctx context.Context, rule PolicyRule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_policy_rules (
			tenant_id, role_name, resource_name, action_name,
			effect, allowed_columns, denied_columns, owner_scope
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tenant_id, role_name, resource_name, action_name)
		 DO UPDATE SET
			effect = EXCLUDED.effect,
			allowed_columns = EXCLUDED.allowed_columns,
			denied_columns = EXCLUDED.denied_columns,
			owner_scope = EXCLUDED.owner_scope,
			updated_at = now()`,
		rule.TenantID, rule.RoleName, rule.ResourceName, rule.ActionName,
		string(rule.Effect), columnsParam(rule.AllowedColumns), columnsParam(rule.DeniedColumns),
		rule.OwnerScope,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert policy rule: %w", err)
	}
	return nil
}

// FindRulesForRoles fetches, in one round trip, every rule for the
// given roles that names the requested resource and action either
// literally or via the wildcard. The stored resource and action names
// are selected back so wildcard rules keep their lower specificity
// during evaluation.
func (s *PolicyStore) FindRulesForRoles(ctx context.Context, tenantID, resourceName, actionName string, roleNames []string) ([]PolicyRule, error) {
	if len(roleNames) == 0 {
		return nil, nil
	}

	var rules []PolicyRule
	err := s.db.SelectContext(ctx, &rules,
		`SELECT tenant_id, role_name, resource_name, action_name,
		        effect, allowed_columns, denied_columns, owner_scope
		 FROM access_policy_rules
		 WHERE tenant_id = $1
		   AND resource_name = ANY($2)
		   AND action_name = ANY($3)
		   AND role_name = ANY($4)`,
		tenantID,
		pq.Array([]string{resourceName, Wildcard}),
		pq.Array([]string{actionName, Wildcard}),
		pq.Array(roleNames),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find policy rules: %w", err)
	}
	return rules, nil
}

// columnsParam maps an absent column list to SQL NULL so "no column
// scoping" is distinguishable from an empty set.
func columnsParam(columns pq.StringArray) interface{} {
	if columns == nil {
		return nil
	}
	return columns
}
