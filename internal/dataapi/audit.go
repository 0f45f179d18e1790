package dataapi

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tabular/tabular-backend/pkg/database"
)

// AuditEvent is one data-operation outcome
type AuditEvent struct {
	TenantID      string    `json:"tenant_id"`
	PrincipalID   string    `json:"principal_id"`
	RequestID     string    `json:"request_id,omitempty"`
	SchemaName    string    `json:"schema_name"`
	TableName     string    `json:"table_name"`
	Action        Action    `json:"action"`
	RowIdentifier string    `json:"row_identifier,omitempty"`
	Success       bool      `json:"success"`
	StatusCode    int       `json:"status_code"`
	Details       string    `json:"details,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AuditLogStore appends data-operation outcomes to the admin database
type AuditLogStore struct {
	db *database.DB
}

// NewAuditLogStore creates an audit log store
func NewAuditLogStore(db *database.DB) *AuditLogStore {
	return &AuditLogStore{db: db}
}

// SaveEvent appends one audit row for the data-operation outcome
func (s *AuditLogStore) SaveEvent(ctx context.Context, event AuditEvent) error {
	var details interface{}
	if event.Details != "" {
		details = event.Details
	}
	var rowIdentifier interface{}
	if event.RowIdentifier != "" {
		rowIdentifier = event.RowIdentifier
	}
	var requestID interface{}
	if event.RequestID != "" {
		requestID = event.RequestID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO data_api_audit_logs (
			id, tenant_id, principal_id, schema_name, table_name,
			action_name, row_identifier, success, status_code,
			error_message, request_id, occurred_at
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		uuid.New().String(),
		event.TenantID,
		event.PrincipalID,
		event.SchemaName,
		event.TableName,
		string(event.Action),
		rowIdentifier,
		event.Success,
		event.StatusCode,
		details,
		requestID,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save audit event: %w", err)
	}
	return nil
}
