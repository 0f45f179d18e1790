package accesscontrol

import (
	"context"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// PolicyWriter is the store surface the bootstrap path needs
type PolicyWriter interface {
	AssignRole(ctx context.Context, tenantID, principalID, roleName string) error
	UpsertRule(ctx context.Context, rule PolicyRule) error
}

// PermissionRequest is the data-API side's view of a permission check
type PermissionRequest struct {
	TenantID         string
	PrincipalID      string
	RequestID        string
	ResourceName     string
	ActionName       string
	RequestedColumns []string
	SubjectOwnerID   string
	RowOwnerID       string
}

// BootstrapRequest seeds default ACL access for a principal on a table
type BootstrapRequest struct {
	TenantID        string
	PrincipalID     string
	ResourceName    string
	ReadableColumns []string
	WritableColumns []string
}

// TemplateRule is one rule seeded by a policy template
type TemplateRule struct {
	ActionName     string
	AllowedColumns []string
}

// TemplateApplyRequest seeds a template's rules for a table
type TemplateApplyRequest struct {
	TenantID     string
	PrincipalID  string
	ResourceName string
	Rules        []TemplateRule
}

// Facade is the anti-corruption boundary between the data API and the
// access-control context. The data API talks only to this type.
type Facade struct {
	service *Service
	store   PolicyWriter
}

// NewFacade creates the facade over the evaluation service and store
func NewFacade(service *Service, store PolicyWriter) *Facade {
	return &Facade{service: service, store: store}
}

// CheckPermission evaluates the request and returns the decision
func (f *Facade) CheckPermission(ctx context.Context, req PermissionRequest) (Decision, error) {
	return f.service.EvaluatePermission(ctx, EvaluationRequest{
		TenantID:         req.TenantID,
		PrincipalID:      req.PrincipalID,
		RequestID:        req.RequestID,
		ResourceName:     req.ResourceName,
		ActionName:       req.ActionName,
		RequestedColumns: req.RequestedColumns,
		SubjectOwnerID:   req.SubjectOwnerID,
		RowOwnerID:       req.RowOwnerID,
	})
}

// BootstrapDataAPIAccess grants the principal the implicit
// data_api_authenticated role and upserts the four default CRUD rules
// for the table: read scoped to readable columns, create and update
// scoped to writable columns, delete unscoped. All steps are
// idempotent; concurrent first requests for the same principal upsert
// the same rows.
func (f *Facade) BootstrapDataAPIAccess(ctx context.Context, req BootstrapRequest) error {
	if err := f.store.AssignRole(ctx, req.TenantID, req.PrincipalID, RoleDataAPIAuthenticated); err != nil {
		return err
	}

	readable := normalizeColumns(req.ReadableColumns)
	writable := normalizeColumns(req.WritableColumns)

	defaults := []PolicyRule{
		{ActionName: "read", AllowedColumns: readable},
		{ActionName: "create", AllowedColumns: writable},
		{ActionName: "update", AllowedColumns: writable},
		{ActionName: "delete", AllowedColumns: nil},
	}

	for _, rule := range defaults {
		rule.TenantID = req.TenantID
		rule.RoleName = RoleDataAPIAuthenticated
		rule.ResourceName = req.ResourceName
		rule.Effect = EffectAllow
		if err := f.store.UpsertRule(ctx, rule); err != nil {
			return err
		}
	}

	return nil
}

// ApplyPolicyTemplate assigns the implicit role to the applying
// principal and upserts the template's rules for the table. An empty
// rule list is a no-op: flags-only templates touch no policy state.
func (f *Facade) ApplyPolicyTemplate(ctx context.Context, req TemplateApplyRequest) error {
	if len(req.Rules) == 0 {
		return nil
	}

	if err := f.store.AssignRole(ctx, req.TenantID, req.PrincipalID, RoleDataAPIAuthenticated); err != nil {
		return err
	}

	for _, tmpl := range req.Rules {
		rule := PolicyRule{
			TenantID:       req.TenantID,
			RoleName:       RoleDataAPIAuthenticated,
			ResourceName:   req.ResourceName,
			ActionName:     tmpl.ActionName,
			Effect:         EffectAllow,
			AllowedColumns: normalizeColumns(tmpl.AllowedColumns),
		}
		if err := f.store.UpsertRule(ctx, rule); err != nil {
			return err
		}
	}

	return nil
}

// normalizeColumns dedupes and sorts, dropping blanks; an empty result
// becomes nil so the rule carries no column scoping at all.
func normalizeColumns(columns []string) pq.StringArray {
	seen := make(map[string]struct{}, len(columns))
	var out []string
	for _, col := range columns {
		if strings.TrimSpace(col) == "" {
			continue
		}
		if _, ok := seen[col]; ok {
			continue
		}
		seen[col] = struct{}{}
		out = append(out, col)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
