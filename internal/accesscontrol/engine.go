package accesscontrol

// ruleSpecificity ranks how precisely a rule targets a request.
// Compared lexicographically: resource, then action, then column
// scoping, then owner scoping. Literal matches outrank wildcards.
type ruleSpecificity struct {
	resource int
	action   int
	column   int
	owner    int
}

func (s ruleSpecificity) atLeast(other ruleSpecificity) bool {
	if s.resource != other.resource {
		return s.resource > other.resource
	}
	if s.action != other.action {
		return s.action > other.action
	}
	if s.column != other.column {
		return s.column > other.column
	}
	return s.owner >= other.owner
}

func maxSpecificity(current *ruleSpecificity, candidate ruleSpecificity) *ruleSpecificity {
	if current == nil || candidate.atLeast(*current) {
		return &candidate
	}
	return current
}

// Evaluate is a pure function from a request and its candidate rules
// to a decision. Rule order never affects the outcome.
func Evaluate(req EvaluationRequest, rules []PolicyRule) Decision {
	if len(rules) == 0 {
		return Decision{Allowed: false, Reason: ReasonNoMatchingRule}
	}

	var bestAllow, bestDeny *ruleSpecificity
	applicable := false

	for i := range rules {
		rule := &rules[i]
		if !ruleMatchesColumns(req.RequestedColumns, rule) {
			continue
		}
		if !ruleMatchesOwnerScope(rule.OwnerScope, req.SubjectOwnerID, req.RowOwnerID) {
			continue
		}

		applicable = true
		spec := specificityOf(rule, req)
		switch rule.Effect {
		case EffectAllow:
			bestAllow = maxSpecificity(bestAllow, spec)
		case EffectDeny:
			bestDeny = maxSpecificity(bestDeny, spec)
		}
	}

	if !applicable {
		return Decision{Allowed: false, Reason: ReasonNoRuleMatchedContext}
	}

	switch {
	case bestAllow == nil:
		return Decision{Allowed: false, Reason: ReasonExplicitDeny}
	case bestDeny == nil:
		return Decision{Allowed: true, Reason: ReasonAllowMatched}
	case bestDeny.atLeast(*bestAllow):
		return Decision{Allowed: false, Reason: ReasonDenyWonByPrecedence}
	default:
		return Decision{Allowed: true, Reason: ReasonAllowWonBySpecificity}
	}
}

// ruleMatchesColumns requires every requested column to sit inside the
// allowed list (when present) and outside the denied list (when
// present). An empty request trivially matches.
func ruleMatchesColumns(requested []string, rule *PolicyRule) bool {
	if len(requested) == 0 {
		return true
	}

	if rule.AllowedColumns != nil {
		for _, col := range requested {
			if !contains(rule.AllowedColumns, col) {
				return false
			}
		}
	}

	if rule.DeniedColumns != nil {
		for _, col := range requested {
			if contains(rule.DeniedColumns, col) {
				return false
			}
		}
	}

	return true
}

// ruleMatchesOwnerScope applies only to owner-scoped rules: both owner
// identifiers must be present and equal.
func ruleMatchesOwnerScope(ownerScope bool, subjectOwnerID, rowOwnerID string) bool {
	if !ownerScope {
		return true
	}
	return subjectOwnerID != "" && rowOwnerID != "" && subjectOwnerID == rowOwnerID
}

func specificityOf(rule *PolicyRule, req EvaluationRequest) ruleSpecificity {
	spec := ruleSpecificity{resource: 1, action: 1}
	if rule.ResourceName == req.ResourceName {
		spec.resource = 2
	}
	if rule.ActionName == req.ActionName {
		spec.action = 2
	}
	if rule.AllowedColumns != nil || rule.DeniedColumns != nil {
		spec.column = 1
	}
	if rule.OwnerScope {
		spec.owner = 1
	}
	return spec
}

func contains(set []string, value string) bool {
	for _, v := range set {
		if v == value {
			return true
		}
	}
	return false
}
