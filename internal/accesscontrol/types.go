// Package accesscontrol implements role-based ACL evaluation for the
// data API: role assignments, policy rules with specificity-ranked
// conflict resolution, a TTL decision cache, and decision auditing.
package accesscontrol

import (
	"github.com/lib/pq"
)

// Effect is the outcome a policy rule prescribes
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Wildcard matches any resource or action in a policy rule
const Wildcard = "*"

// RoleDataAPIAuthenticated is the implicit role granted to every
// authenticated principal when a table runs in acl mode.
const RoleDataAPIAuthenticated = "data_api_authenticated"

// Decision reason strings, surfaced verbatim in audit records
const (
	ReasonNoRolesAssigned       = "no roles assigned"
	ReasonNoMatchingRule        = "no matching policy rule"
	ReasonNoRuleMatchedContext  = "no rule matched context/columns"
	ReasonExplicitDeny          = "explicit deny rule"
	ReasonAllowMatched          = "allow rule matched"
	ReasonDenyWonByPrecedence   = "deny rule won by precedence"
	ReasonAllowWonBySpecificity = "allow rule won by specificity"
)

// PolicyRule grants or denies a role an action on a resource. Column
// lists, when present, scope the rule to requests touching only those
// columns; owner scope restricts it to requests where the subject owns
// the row.
type PolicyRule struct {
	TenantID       string         `db:"tenant_id"`
	RoleName       string         `db:"role_name"`
	ResourceName   string         `db:"resource_name"`
	ActionName     string         `db:"action_name"`
	Effect         Effect         `db:"effect"`
	AllowedColumns pq.StringArray `db:"allowed_columns"`
	DeniedColumns  pq.StringArray `db:"denied_columns"`
	OwnerScope     bool           `db:"owner_scope"`
}

// EvaluationRequest is the context a decision is made against
type EvaluationRequest struct {
	TenantID         string
	PrincipalID      string
	RequestID        string
	ResourceName     string
	ActionName       string
	RequestedColumns []string
	SubjectOwnerID   string
	RowOwnerID       string
}

// Decision is the engine's verdict
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}
