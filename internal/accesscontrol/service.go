package accesscontrol

import (
	"context"

	"github.com/tabular/tabular-backend/pkg/logger"
)

// PolicyReader is the store surface the evaluation path needs
type PolicyReader interface {
	FindRolesByPrincipal(ctx context.Context, tenantID, principalID string) ([]string, error)
	FindRulesForRoles(ctx context.Context, tenantID, resourceName, actionName string, roleNames []string) ([]PolicyRule, error)
}

// DecisionAuditor records evaluated decisions
type DecisionAuditor interface {
	SaveDecision(ctx context.Context, req EvaluationRequest, decision Decision) error
}

// Service evaluates permissions: decision cache in front, role and
// rule lookups behind, every decision audited.
//
// The cache key does not include the table's authorization mode, so
// flipping a table from authenticated to acl can serve stale allows
// for up to one TTL window.
type Service struct {
	store  PolicyReader
	cache  *DecisionCache
	audit  DecisionAuditor
	logger *logger.Logger
}

// NewService creates the evaluation service
func NewService(store PolicyReader, cache *DecisionCache, audit DecisionAuditor, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		audit:  audit,
		logger: log.WithComponent("access_control"),
	}
}

// EvaluatePermission decides whether the principal may perform the
// action, consulting the decision cache first. Cache hits are audited
// with the reason prefixed by "cached: "; the caller sees the original
// reason either way.
func (s *Service) EvaluatePermission(ctx context.Context, req EvaluationRequest) (Decision, error) {
	if cached, ok := s.cache.Get(req); ok {
		s.auditDecision(ctx, req, Decision{
			Allowed: cached.Allowed,
			Reason:  "cached: " + cached.Reason,
		})
		return cached, nil
	}

	roles, err := s.store.FindRolesByPrincipal(ctx, req.TenantID, req.PrincipalID)
	if err != nil {
		return Decision{}, err
	}

	if len(roles) == 0 {
		return s.finish(ctx, req, Decision{Allowed: false, Reason: ReasonNoRolesAssigned}), nil
	}

	rules, err := s.store.FindRulesForRoles(ctx, req.TenantID, req.ResourceName, req.ActionName, roles)
	if err != nil {
		return Decision{}, err
	}

	if len(rules) == 0 {
		return s.finish(ctx, req, Decision{Allowed: false, Reason: ReasonNoMatchingRule}), nil
	}

	return s.finish(ctx, req, Evaluate(req, rules)), nil
}

func (s *Service) finish(ctx context.Context, req EvaluationRequest, decision Decision) Decision {
	s.auditDecision(ctx, req, decision)
	s.cache.Put(req, decision)
	return decision
}

// auditDecision must never alter the client outcome
func (s *Service) auditDecision(ctx context.Context, req EvaluationRequest, decision Decision) {
	if err := s.audit.SaveDecision(ctx, req, decision); err != nil {
		s.logger.Warn().Err(err).
			Str("tenant_id", req.TenantID).
			Str("resource", req.ResourceName).
			Msg("failed to audit authorization decision")
	}
}
