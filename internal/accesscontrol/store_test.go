package accesscontrol

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabular/tabular-backend/pkg/database"
	"github.com/tabular/tabular-backend/pkg/logger"
)

func newMockStore(t *testing.T) (*PolicyStore, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := database.NewWithDB(sqlx.NewDb(mockDB, "sqlmock"), logger.New("test", "test"))
	return NewPolicyStore(db), mock
}

func TestAssignRoleIsIdempotent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO access_role_assignments .* ON CONFLICT .* DO NOTHING`).
		WithArgs(testTenant, testPrincipal, "admin").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.AssignRole(context.Background(), testTenant, testPrincipal, "admin")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRuleReplacesOnConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO access_policy_rules .* ON CONFLICT \(tenant_id, role_name, resource_name, action_name\)`).
		WithArgs(testTenant, "admin", "productos", "read",
			"allow", pq.StringArray{"nombre"}, nil, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertRule(context.Background(), PolicyRule{
		TenantID:       testTenant,
		RoleName:       "admin",
		ResourceName:   "productos",
		ActionName:     "read",
		Effect:         EffectAllow,
		AllowedColumns: pq.StringArray{"nombre"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindRulesForRolesIncludesWildcards(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"tenant_id", "role_name", "resource_name", "action_name",
		"effect", "allowed_columns", "denied_columns", "owner_scope",
	}).
		AddRow(testTenant, "admin", "productos", "read", "allow", nil, nil, false).
		AddRow(testTenant, "admin", "*", "*", "deny", nil, nil, false)

	mock.ExpectQuery(`SELECT tenant_id, role_name, resource_name, action_name`).
		WithArgs(testTenant,
			pq.Array([]string{"productos", "*"}),
			pq.Array([]string{"read", "*"}),
			pq.Array([]string{"admin"})).
		WillReturnRows(rows)

	rules, err := store.FindRulesForRoles(context.Background(), testTenant, "productos", "read", []string{"admin"})
	require.NoError(t, err)
	require.Len(t, rules, 2)

	// Stored names come back as stored, so wildcard rules keep their
	// lower specificity in the engine.
	assert.Equal(t, "productos", rules[0].ResourceName)
	assert.Equal(t, "*", rules[1].ResourceName)
	assert.Equal(t, "*", rules[1].ActionName)
}

func TestFindRulesForRolesEmptyRoleList(t *testing.T) {
	store, _ := newMockStore(t)

	rules, err := store.FindRulesForRoles(context.Background(), testTenant, "productos", "read", nil)
	require.NoError(t, err)
	assert.Nil(t, rules)
}

func TestBootstrapDataAPIAccess(t *testing.T) {
	writer := &recordingWriter{}
	facade := NewFacade(nil, writer)

	err := facade.BootstrapDataAPIAccess(context.Background(), BootstrapRequest{
		TenantID:        testTenant,
		PrincipalID:     testPrincipal,
		ResourceName:    "productos",
		ReadableColumns: []string{"nombre", "precio", "nombre", " "},
		WritableColumns: []string{"precio", "nombre"},
	})
	require.NoError(t, err)

	assert.Equal(t, [][3]string{{testTenant, testPrincipal, RoleDataAPIAuthenticated}}, writer.assignments)
	require.Len(t, writer.rules, 4)

	byAction := map[string]PolicyRule{}
	for _, rule := range writer.rules {
		byAction[rule.ActionName] = rule
		assert.Equal(t, RoleDataAPIAuthenticated, rule.RoleName)
		assert.Equal(t, "productos", rule.ResourceName)
		assert.Equal(t, EffectAllow, rule.Effect)
		assert.False(t, rule.OwnerScope)
	}

	assert.Equal(t, pq.StringArray{"nombre", "precio"}, byAction["read"].AllowedColumns)
	assert.Equal(t, pq.StringArray{"nombre", "precio"}, byAction["create"].AllowedColumns)
	assert.Equal(t, pq.StringArray{"nombre", "precio"}, byAction["update"].AllowedColumns)
	assert.Nil(t, byAction["delete"].AllowedColumns)
}

func TestBootstrapEmptyColumnListsBecomeUnscoped(t *testing.T) {
	writer := &recordingWriter{}
	facade := NewFacade(nil, writer)

	err := facade.BootstrapDataAPIAccess(context.Background(), BootstrapRequest{
		TenantID:     testTenant,
		PrincipalID:  testPrincipal,
		ResourceName: "productos",
	})
	require.NoError(t, err)

	for _, rule := range writer.rules {
		assert.Nil(t, rule.AllowedColumns)
	}
}

type recordingWriter struct {
	assignments [][3]string
	rules       []PolicyRule
}

func (r *recordingWriter) AssignRole(ctx context.Context, tenantID, principalID, roleName string) error {
	r.assignments = append(r.assignments, [3]string{tenantID, principalID, roleName})
	return nil
}

func (r *recordingWriter) UpsertRule(ctx context.Context, rule PolicyRule) error {
	r.rules = append(r.rules, rule)
	return nil
}
