package dataapi

import (
	"strings"

	"github.com/tabular/tabular-backend/pkg/errors"
)

// PolicyTemplate is a named preset combining table exposure flags, an
// authorization mode, and the ACL rules to seed for the implicit
// data_api_authenticated role.
type PolicyTemplate struct {
	Name              string              `json:"name"`
	Description       string              `json:"description"`
	AuthorizationMode string              `json:"authorization_mode"`
	Flags             TableMetadataUpdate `json:"flags"`

	// rule actions seeded on apply; column scoping is derived from the
	// table's readable/writable column metadata at apply time
	readRule   bool
	createRule bool
	updateRule bool
	deleteRule bool
}

var policyTemplates = []PolicyTemplate{
	{
		Name:              "acl_crud",
		Description:       "Full CRUD with per-column ACL rules for authenticated principals",
		AuthorizationMode: ModeACL,
		Flags: TableMetadataUpdate{
			Exposed: true, ReadEnabled: true, CreateEnabled: true,
			UpdateEnabled: true, DeleteEnabled: true, IntrospectEnabled: true,
			AuthorizationMode: ModeACL,
		},
		readRule: true, createRule: true, updateRule: true, deleteRule: true,
	},
	{
		Name:              "acl_read_only",
		Description:       "Read and introspection only, ACL-checked",
		AuthorizationMode: ModeACL,
		Flags: TableMetadataUpdate{
			Exposed: true, ReadEnabled: true, CreateEnabled: false,
			UpdateEnabled: false, DeleteEnabled: false, IntrospectEnabled: true,
			AuthorizationMode: ModeACL,
		},
		readRule: true,
	},
	{
		Name:              "authenticated_crud",
		Description:       "Full CRUD for any authenticated tenant owner, no ACL rules",
		AuthorizationMode: ModeAuthenticated,
		Flags: TableMetadataUpdate{
			Exposed: true, ReadEnabled: true, CreateEnabled: true,
			UpdateEnabled: true, DeleteEnabled: true, IntrospectEnabled: true,
			AuthorizationMode: ModeAuthenticated,
		},
	},
}

// ListPolicyTemplates returns every known template
func ListPolicyTemplates() []PolicyTemplate {
	return policyTemplates
}

// LookupPolicyTemplate resolves a template by name
func LookupPolicyTemplate(name string) (*PolicyTemplate, error) {
	trimmed := strings.TrimSpace(name)
	for i := range policyTemplates {
		if policyTemplates[i].Name == trimmed {
			return &policyTemplates[i], nil
		}
	}
	return nil, errors.InvalidPolicyTemplateName()
}
