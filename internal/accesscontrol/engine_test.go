package accesscontrol

import (
	"math/rand"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

const (
	testTenant    = "00000000-0000-4000-8000-000000000001"
	testPrincipal = "00000000-0000-4000-8000-0000000000aa"
)

func readRequest(columns ...string) EvaluationRequest {
	return EvaluationRequest{
		TenantID:         testTenant,
		PrincipalID:      testPrincipal,
		ResourceName:     "productos",
		ActionName:       "read",
		RequestedColumns: columns,
	}
}

func TestEvaluate_NoRules(t *testing.T) {
	decision := Evaluate(readRequest(), nil)

	assert.False(t, decision.Allowed)
	assert.Equal(t, "no matching policy rule", decision.Reason)
}

func TestEvaluate_MatchingAllow(t *testing.T) {
	rules := []PolicyRule{
		{TenantID: testTenant, RoleName: "admin", ResourceName: "productos", ActionName: "read", Effect: EffectAllow},
	}

	decision := Evaluate(readRequest(), rules)

	assert.True(t, decision.Allowed)
	assert.Equal(t, "allow rule matched", decision.Reason)
}

func TestEvaluate_SpecificAllowBeatsWildcardDeny(t *testing.T) {
	rules := []PolicyRule{
		{TenantID: testTenant, RoleName: "admin", ResourceName: "*", ActionName: "*", Effect: EffectDeny},
		{TenantID: testTenant, RoleName: "admin", ResourceName: "productos", ActionName: "read", Effect: EffectAllow},
	}

	decision := Evaluate(readRequest(), rules)

	assert.True(t, decision.Allowed)
	assert.Equal(t, "allow rule won by specificity", decision.Reason)
}

func TestEvaluate_SameSpecificityDenyWins(t *testing.T) {
	rules := []PolicyRule{
		{TenantID: testTenant, RoleName: "admin", ResourceName: "productos", ActionName: "read", Effect: EffectAllow},
		{TenantID: testTenant, RoleName: "auditor", ResourceName: "productos", ActionName: "read", Effect: EffectDeny},
	}

	decision := Evaluate(readRequest(), rules)

	assert.False(t, decision.Allowed)
	assert.Equal(t, "deny rule won by precedence", decision.Reason)
}

func TestEvaluate_DeniedColumnRejectsRequest(t *testing.T) {
	rules := []PolicyRule{
		{
			TenantID:      testTenant,
			RoleName:      "editor",
			ResourceName:  "productos",
			ActionName:    "read",
			Effect:        EffectAllow,
			DeniedColumns: pq.StringArray{"precio"},
		},
	}

	decision := Evaluate(readRequest("precio"), rules)

	assert.False(t, decision.Allowed)
	assert.Equal(t, "no rule matched context/columns", decision.Reason)
}

func TestEvaluate_AllowedColumnsRestrictRequest(t *testing.T) {
	rules := []PolicyRule{
		{
			TenantID:       testTenant,
			RoleName:       "editor",
			ResourceName:   "productos",
			ActionName:     "read",
			Effect:         EffectAllow,
			AllowedColumns: pq.StringArray{"nombre", "precio"},
		},
	}

	allowed := Evaluate(readRequest("nombre"), rules)
	assert.True(t, allowed.Allowed)

	denied := Evaluate(readRequest("nombre", "costo"), rules)
	assert.False(t, denied.Allowed)
	assert.Equal(t, "no rule matched context/columns", denied.Reason)
}

func TestEvaluate_EmptyRequestedColumnsMatchTrivially(t *testing.T) {
	rules := []PolicyRule{
		{
			TenantID:       testTenant,
			RoleName:       "editor",
			ResourceName:   "productos",
			ActionName:     "delete",
			Effect:         EffectAllow,
			AllowedColumns: pq.StringArray{"nombre"},
		},
	}

	req := readRequest()
	req.ActionName = "delete"

	decision := Evaluate(req, rules)
	assert.True(t, decision.Allowed)
}

func TestEvaluate_ExplicitDeny(t *testing.T) {
	rules := []PolicyRule{
		{TenantID: testTenant, RoleName: "admin", ResourceName: "productos", ActionName: "read", Effect: EffectDeny},
	}

	decision := Evaluate(readRequest(), rules)

	assert.False(t, decision.Allowed)
	assert.Equal(t, "explicit deny rule", decision.Reason)
}

func TestEvaluate_OwnerScope(t *testing.T) {
	rules := []PolicyRule{
		{TenantID: testTenant, RoleName: "owner", ResourceName: "productos", ActionName: "read", Effect: EffectAllow, OwnerScope: true},
	}

	matched := readRequest()
	matched.SubjectOwnerID = "user-1"
	matched.RowOwnerID = "user-1"
	assert.True(t, Evaluate(matched, rules).Allowed)

	mismatched := readRequest()
	mismatched.SubjectOwnerID = "user-1"
	mismatched.RowOwnerID = "user-2"
	decision := Evaluate(mismatched, rules)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "no rule matched context/columns", decision.Reason)

	missing := readRequest()
	missing.SubjectOwnerID = "user-1"
	assert.False(t, Evaluate(missing, rules).Allowed)
}

func TestEvaluate_ColumnScopedRuleOutranksUnscoped(t *testing.T) {
	rules := []PolicyRule{
		{TenantID: testTenant, RoleName: "admin", ResourceName: "productos", ActionName: "read", Effect: EffectDeny},
		{
			TenantID:       testTenant,
			RoleName:       "editor",
			ResourceName:   "productos",
			ActionName:     "read",
			Effect:         EffectAllow,
			AllowedColumns: pq.StringArray{"nombre"},
		},
	}

	decision := Evaluate(readRequest("nombre"), rules)

	assert.True(t, decision.Allowed)
	assert.Equal(t, "allow rule won by specificity", decision.Reason)
}

func TestEvaluate_OrderInvariance(t *testing.T) {
	rules := []PolicyRule{
		{TenantID: testTenant, RoleName: "admin", ResourceName: "*", ActionName: "*", Effect: EffectDeny},
		{TenantID: testTenant, RoleName: "admin", ResourceName: "productos", ActionName: "read", Effect: EffectAllow},
		{TenantID: testTenant, RoleName: "editor", ResourceName: "productos", ActionName: "*", Effect: EffectDeny},
		{TenantID: testTenant, RoleName: "editor", ResourceName: "*", ActionName: "read", Effect: EffectAllow, AllowedColumns: pq.StringArray{"nombre"}},
	}

	req := readRequest("nombre")
	expected := Evaluate(req, rules)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := append([]PolicyRule(nil), rules...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		assert.Equal(t, expected, Evaluate(req, shuffled))
	}
}
