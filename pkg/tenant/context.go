package tenant

import (
	"context"
	"errors"
)

// contextKey is a private type for context keys to prevent collisions
type contextKey string

const (
	tenantIDKey       contextKey = "tenant_id"
	schemaNameKey     contextKey = "schema_name"
	principalIDKey    contextKey = "principal_id"
	requestIDKey      contextKey = "request_id"
	subjectOwnerIDKey contextKey = "subject_owner_id"
	rowOwnerIDKey     contextKey = "row_owner_id"
)

var (
	// ErrNoTenantInContext is returned when tenant context is missing
	ErrNoTenantInContext = errors.New("no tenant in context")

	// ErrNoPrincipalInContext is returned when the authenticated principal is missing
	ErrNoPrincipalInContext = errors.New("no principal in context")
)

// RequestContext carries the authenticated identity of a data API request.
// It is populated by the auth middleware once token verification and tenant
// ownership checks have passed.
type RequestContext struct {
	TenantID       string
	SchemaName     string
	PrincipalID    string
	RequestID      string
	SubjectOwnerID string
	RowOwnerID     string
}

// WithRequestContext adds the full request identity to the context
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, rc.TenantID)
	ctx = context.WithValue(ctx, schemaNameKey, rc.SchemaName)
	ctx = context.WithValue(ctx, principalIDKey, rc.PrincipalID)
	ctx = context.WithValue(ctx, requestIDKey, rc.RequestID)
	ctx = context.WithValue(ctx, subjectOwnerIDKey, rc.SubjectOwnerID)
	ctx = context.WithValue(ctx, rowOwnerIDKey, rc.RowOwnerID)
	return ctx
}

// FromContext extracts the request identity from the context
func FromContext(ctx context.Context) (RequestContext, error) {
	tenantID, ok := ctx.Value(tenantIDKey).(string)
	if !ok || tenantID == "" {
		return RequestContext{}, ErrNoTenantInContext
	}
	principalID, ok := ctx.Value(principalIDKey).(string)
	if !ok || principalID == "" {
		return RequestContext{}, ErrNoPrincipalInContext
	}

	rc := RequestContext{
		TenantID:    tenantID,
		PrincipalID: principalID,
		SchemaName:  "public",
	}
	if schema, ok := ctx.Value(schemaNameKey).(string); ok && schema != "" {
		rc.SchemaName = schema
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		rc.RequestID = id
	}
	if id, ok := ctx.Value(subjectOwnerIDKey).(string); ok {
		rc.SubjectOwnerID = id
	}
	if id, ok := ctx.Value(rowOwnerIDKey).(string); ok {
		rc.RowOwnerID = id
	}
	return rc, nil
}

// TenantID extracts only the tenant ID from the context
func TenantID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(tenantIDKey).(string)
	if !ok || id == "" {
		return "", ErrNoTenantInContext
	}
	return id, nil
}

// PrincipalID extracts only the principal ID from the context
func PrincipalID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(principalIDKey).(string)
	if !ok || id == "" {
		return "", ErrNoPrincipalInContext
	}
	return id, nil
}
