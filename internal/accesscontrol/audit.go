package accesscontrol

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tabular/tabular-backend/pkg/database"
)

// DecisionAuditStore appends authorization decisions to the admin
// database. Writes are fire-and-forget from the caller's perspective.
type DecisionAuditStore struct {
	db *database.DB
}

// NewDecisionAuditStore creates a decision audit store
func NewDecisionAuditStore(db *database.DB) *DecisionAuditStore {
	return &DecisionAuditStore{db: db}
}

// SaveDecision appends one audit row for the decision
func (s *DecisionAuditStore) SaveDecision(ctx context.Context, req EvaluationRequest, decision Decision) error {
	verdict := string(EffectDeny)
	if decision.Allowed {
		verdict = string(EffectAllow)
	}

	var requestID interface{}
	if req.RequestID != "" {
		requestID = req.RequestID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_authorization_decision_audit (
			id, tenant_id, principal_id, request_id, resource_name,
			action_name, decision, reason, occurred_at
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New().String(),
		req.TenantID,
		req.PrincipalID,
		requestID,
		req.ResourceName,
		req.ActionName,
		verdict,
		decision.Reason,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save decision audit: %w", err)
	}
	return nil
}
