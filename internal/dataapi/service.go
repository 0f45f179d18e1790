package dataapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tabular/tabular-backend/internal/accesscontrol"
	"github.com/tabular/tabular-backend/pkg/errors"
	"github.com/tabular/tabular-backend/pkg/logger"
	"github.com/tabular/tabular-backend/pkg/tenant"
)

// MetadataAccess is the coordinator's view of the metadata store
type MetadataAccess interface {
	Synchronize(ctx context.Context, tenantID, schemaName string) error
	GetTableAccess(ctx context.Context, tenantID, schemaName, tableName string) (*TableAccessMetadata, error)
	ListWritableColumns(ctx context.Context, tenantID, schemaName, tableName string) ([]string, error)
	ListReadableColumns(ctx context.Context, tenantID, schemaName, tableName string) ([]string, error)
	ListCatalog(ctx context.Context, tenantID, schemaName string) ([]CatalogEntry, error)
	UpsertTableAccess(ctx context.Context, tenantID, schemaName, tableName string, update TableMetadataUpdate) (*TableAccessMetadata, error)
	UpsertColumnAccess(ctx context.Context, tenantID, schemaName, tableName, columnName string, update ColumnMetadataUpdate) error
}

// RowExecutor is the coordinator's view of the data executor
type RowExecutor interface {
	ListRows(ctx context.Context, tenantID string, c ListCriteria) (json.RawMessage, error)
	GetRowByPrimaryKey(ctx context.Context, tenantID, schemaName, tableName, pkColumn, pkValue string) (json.RawMessage, bool, error)
	CreateRow(ctx context.Context, tenantID, schemaName, tableName string, allowedColumns []string, payload json.RawMessage) (json.RawMessage, error)
	PatchRow(ctx context.Context, tenantID, schemaName, tableName, pkColumn, pkValue string, allowedColumns []string, payload json.RawMessage) (json.RawMessage, bool, error)
	DeleteRow(ctx context.Context, tenantID, schemaName, tableName, pkColumn, pkValue string) (bool, error)
	IntrospectTable(ctx context.Context, tenantID, schemaName, tableName string) (*TableSchema, error)
}

// AccessController is the facade surface of the access-control context
type AccessController interface {
	CheckPermission(ctx context.Context, req accesscontrol.PermissionRequest) (accesscontrol.Decision, error)
	BootstrapDataAPIAccess(ctx context.Context, req accesscontrol.BootstrapRequest) error
	ApplyPolicyTemplate(ctx context.Context, req accesscontrol.TemplateApplyRequest) error
}

// AuditWriter persists data-operation outcomes
type AuditWriter interface {
	SaveEvent(ctx context.Context, event AuditEvent) error
}

// ListQuery carries the validated list parameters from the HTTP layer
type ListQuery struct {
	Fields    []string
	Filters   []Filter
	OrderBy   string
	OrderDesc bool
	Limit     int64
	Offset    int64
}

// Service coordinates every data-API operation: metadata sync, table
// and action gating, column editability, ACL enforcement, execution,
// and audit.
type Service struct {
	metadata MetadataAccess
	executor RowExecutor
	acl      AccessController
	audit    AuditWriter
	fanout   *EventFanout
	logger   *logger.Logger
}

// NewService wires the coordinator
func NewService(metadata MetadataAccess, executor RowExecutor, acl AccessController, audit AuditWriter, fanout *EventFanout, log *logger.Logger) *Service {
	return &Service{
		metadata: metadata,
		executor: executor,
		acl:      acl,
		audit:    audit,
		fanout:   fanout,
		logger:   log.WithComponent("data_api"),
	}
}

func validateTableName(name string) error {
	if len(name) < 3 || len(name) > 63 || !identifierPattern.MatchString(name) {
		return errors.InvalidTableName()
	}
	return nil
}

func validateColumnName(name string) error {
	if !identifierPattern.MatchString(name) {
		return errors.InvalidColumnName()
	}
	return nil
}

func validateSchemaName(name string) error {
	if !identifierPattern.MatchString(name) {
		return errors.InvalidSchemaName()
	}
	return nil
}

func ensureActionAllowed(exposed, actionEnabled bool) error {
	if !exposed || !actionEnabled {
		return errors.TableNotAllowed()
	}
	return nil
}

func ensurePayloadSize(payload json.RawMessage) error {
	if len(payload) > MaxPayloadBytes {
		return errors.PayloadTooLarge()
	}
	return nil
}

// payloadColumns returns the payload's top-level keys; a payload that
// is not a JSON object is invalid.
func payloadColumns(payload json.RawMessage) ([]string, map[string]json.RawMessage, error) {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(payload, &object); err != nil || object == nil {
		return nil, nil, errors.InvalidPayload()
	}

	columns := make([]string, 0, len(object))
	for key := range object {
		columns = append(columns, key)
	}
	return columns, object, nil
}

// filterPayload re-serializes the payload keeping only allowed columns
func filterPayload(object map[string]json.RawMessage, allowedColumns []string) (json.RawMessage, error) {
	filtered := make(map[string]json.RawMessage, len(allowedColumns))
	for _, column := range allowedColumns {
		if value, ok := object[column]; ok {
			filtered[column] = value
		}
	}
	out, err := json.Marshal(filtered)
	if err != nil {
		return nil, errors.Infrastructure(err)
	}
	return out, nil
}

// enforceACL runs the bootstrap-then-check sequence for tables in acl
// mode. Tables in authenticated mode skip ACL entirely: ownership and
// action gating already gate them.
func (s *Service) enforceACL(ctx context.Context, mode string, bootstrap accesscontrol.BootstrapRequest, check accesscontrol.PermissionRequest) error {
	if mode != ModeACL {
		return nil
	}

	if err := s.acl.BootstrapDataAPIAccess(ctx, bootstrap); err != nil {
		return err
	}

	decision, err := s.acl.CheckPermission(ctx, check)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return errors.AccessDenied(decision.Reason)
	}
	return nil
}

// prepareTable runs the shared front half of every data operation:
// metadata sync, table access lookup, and action gating.
func (s *Service) prepareTable(ctx context.Context, rc tenant.RequestContext, tableName string, action Action) (*TableAccessMetadata, error) {
	if err := validateSchemaName(rc.SchemaName); err != nil {
		return nil, err
	}
	if err := validateTableName(tableName); err != nil {
		return nil, err
	}

	if err := s.metadata.Synchronize(ctx, rc.TenantID, rc.SchemaName); err != nil {
		return nil, err
	}

	access, err := s.metadata.GetTableAccess(ctx, rc.TenantID, rc.SchemaName, tableName)
	if err != nil {
		return nil, err
	}

	var enabled bool
	switch action {
	case ActionRead:
		enabled = access.ReadEnabled
	case ActionCreate:
		enabled = access.CreateEnabled
	case ActionUpdate:
		enabled = access.UpdateEnabled
	case ActionDelete:
		enabled = access.DeleteEnabled
	case ActionIntrospect:
		enabled = access.IntrospectEnabled
	}
	if err := ensureActionAllowed(access.Exposed, enabled); err != nil {
		return nil, err
	}

	return access, nil
}

// bootstrapRequest builds the default-access seed for the table
func (s *Service) bootstrapRequest(ctx context.Context, rc tenant.RequestContext, tableName string, schema *TableSchema) (accesscontrol.BootstrapRequest, error) {
	var readable []string
	if schema != nil {
		readable = schema.ColumnNames()
	}

	writable, err := s.metadata.ListWritableColumns(ctx, rc.TenantID, rc.SchemaName, tableName)
	if err != nil {
		return accesscontrol.BootstrapRequest{}, err
	}

	return accesscontrol.BootstrapRequest{
		TenantID:        rc.TenantID,
		PrincipalID:     rc.PrincipalID,
		ResourceName:    tableName,
		ReadableColumns: readable,
		WritableColumns: writable,
	}, nil
}

func (s *Service) permissionRequest(rc tenant.RequestContext, tableName string, action Action, requestedColumns []string) accesscontrol.PermissionRequest {
	return accesscontrol.PermissionRequest{
		TenantID:         rc.TenantID,
		PrincipalID:      rc.PrincipalID,
		RequestID:        rc.RequestID,
		ResourceName:     tableName,
		ActionName:       string(action),
		RequestedColumns: requestedColumns,
		SubjectOwnerID:   rc.SubjectOwnerID,
		RowOwnerID:       rc.RowOwnerID,
	}
}

// auditOutcome writes the data-operation audit row and fans it out.
// Neither failure path alters the request outcome.
func (s *Service) auditOutcome(ctx context.Context, rc tenant.RequestContext, tableName string, action Action, rowID string, success bool, statusCode int, details string) {
	event := AuditEvent{
		TenantID:      rc.TenantID,
		PrincipalID:   rc.PrincipalID,
		RequestID:     rc.RequestID,
		SchemaName:    rc.SchemaName,
		TableName:     tableName,
		Action:        action,
		RowIdentifier: rowID,
		Success:       success,
		StatusCode:    statusCode,
		Details:       details,
		OccurredAt:    time.Now().UTC(),
	}

	if err := s.audit.SaveEvent(ctx, event); err != nil {
		s.logger.Warn().Err(err).
			Str("tenant_id", rc.TenantID).
			Str("table", tableName).
			Msg("failed to save data api audit event")
	}
	s.fanout.Publish(ctx, event)
}

// List returns rows as a JSON array, applying field projection,
// filters, and ordering intersected with the real table schema.
func (s *Service) List(ctx context.Context, rc tenant.RequestContext, tableName string, q ListQuery) (json.RawMessage, error) {
	access, err := s.prepareTable(ctx, rc, tableName, ActionRead)
	if err != nil {
		return nil, err
	}

	schema, err := s.executor.IntrospectTable(ctx, rc.TenantID, rc.SchemaName, tableName)
	if err != nil {
		return nil, err
	}

	fields := q.Fields
	if len(fields) == 0 {
		fields = schema.ColumnNames()
	} else {
		kept := fields[:0]
		for _, field := range fields {
			if schema.HasColumn(field) {
				kept = append(kept, field)
			}
		}
		fields = kept
	}

	filters := make([]Filter, 0, len(q.Filters))
	for _, filter := range q.Filters {
		if schema.HasColumn(filter.Column) {
			filters = append(filters, filter)
		}
	}

	orderBy := q.OrderBy
	if orderBy != "" && !schema.HasColumn(orderBy) {
		orderBy = ""
	}

	bootstrap, err := s.bootstrapRequest(ctx, rc, tableName, schema)
	if err != nil {
		return nil, err
	}
	if err := s.enforceACL(ctx, access.AuthorizationMode, bootstrap,
		s.permissionRequest(rc, tableName, ActionRead, fields)); err != nil {
		return nil, err
	}

	rows, err := s.executor.ListRows(ctx, rc.TenantID, ListCriteria{
		SchemaName: rc.SchemaName,
		TableName:  tableName,
		Fields:     fields,
		Filters:    filters,
		OrderBy:    orderBy,
		OrderDesc:  q.OrderDesc,
		Limit:      q.Limit,
		Offset:     q.Offset,
	})
	if err != nil {
		s.auditOutcome(ctx, rc, tableName, ActionRead, "", false, 500, err.Error())
		return nil, err
	}

	s.auditOutcome(ctx, rc, tableName, ActionRead, "", true, 200, "")
	return rows, nil
}

// Get fetches one row by primary key
func (s *Service) Get(ctx context.Context, rc tenant.RequestContext, tableName, rowID string) (json.RawMessage, error) {
	access, err := s.prepareTable(ctx, rc, tableName, ActionRead)
	if err != nil {
		return nil, err
	}

	schema, err := s.executor.IntrospectTable(ctx, rc.TenantID, rc.SchemaName, tableName)
	if err != nil {
		return nil, err
	}

	pkColumn, ok := schema.PrimaryKeyColumn()
	if !ok {
		return nil, errors.PrimaryKeyNotFound()
	}

	bootstrap, err := s.bootstrapRequest(ctx, rc, tableName, schema)
	if err != nil {
		return nil, err
	}
	if err := s.enforceACL(ctx, access.AuthorizationMode, bootstrap,
		s.permissionRequest(rc, tableName, ActionRead, nil)); err != nil {
		return nil, err
	}

	row, found, err := s.executor.GetRowByPrimaryKey(ctx, rc.TenantID, rc.SchemaName, tableName, pkColumn, rowID)
	if err != nil {
		s.auditOutcome(ctx, rc, tableName, ActionRead, rowID, false, 500, err.Error())
		return nil, err
	}
	if !found {
		s.auditOutcome(ctx, rc, tableName, ActionRead, rowID, false, 404, "record not found")
		return nil, errors.RecordNotFound()
	}

	s.auditOutcome(ctx, rc, tableName, ActionRead, rowID, true, 200, "")
	return row, nil
}

// Create inserts a new row from the payload's editable columns
func (s *Service) Create(ctx context.Context, rc tenant.RequestContext, tableName string, payload json.RawMessage) (json.RawMessage, error) {
	if err := ensurePayloadSize(payload); err != nil {
		return nil, err
	}
	requested, object, err := payloadColumns(payload)
	if err != nil {
		return nil, err
	}

	access, err := s.prepareTable(ctx, rc, tableName, ActionCreate)
	if err != nil {
		return nil, err
	}

	if err := s.ensureEditable(ctx, rc, tableName, requested); err != nil {
		return nil, err
	}

	schema, err := s.executor.IntrospectTable(ctx, rc.TenantID, rc.SchemaName, tableName)
	if err != nil {
		return nil, err
	}

	allowed := intersectColumns(requested, schema, "")

	bootstrap, err := s.bootstrapRequest(ctx, rc, tableName, schema)
	if err != nil {
		return nil, err
	}
	if err := s.enforceACL(ctx, access.AuthorizationMode, bootstrap,
		s.permissionRequest(rc, tableName, ActionCreate, allowed)); err != nil {
		return nil, err
	}

	filtered, err := filterPayload(object, allowed)
	if err != nil {
		return nil, err
	}

	row, err := s.executor.CreateRow(ctx, rc.TenantID, rc.SchemaName, tableName, allowed, filtered)
	if err != nil {
		s.auditOutcome(ctx, rc, tableName, ActionCreate, "", false, 500, err.Error())
		return nil, err
	}

	s.auditOutcome(ctx, rc, tableName, ActionCreate, "", true, 201, "")
	return row, nil
}

// Patch partially updates the row with the given primary key
func (s *Service) Patch(ctx context.Context, rc tenant.RequestContext, tableName, rowID string, payload json.RawMessage) (json.RawMessage, error) {
	if err := ensurePayloadSize(payload); err != nil {
		return nil, err
	}
	requested, object, err := payloadColumns(payload)
	if err != nil {
		return nil, err
	}

	access, err := s.prepareTable(ctx, rc, tableName, ActionUpdate)
	if err != nil {
		return nil, err
	}

	if err := s.ensureEditable(ctx, rc, tableName, requested); err != nil {
		return nil, err
	}

	schema, err := s.executor.IntrospectTable(ctx, rc.TenantID, rc.SchemaName, tableName)
	if err != nil {
		return nil, err
	}

	pkColumn, ok := schema.PrimaryKeyColumn()
	if !ok {
		return nil, errors.PrimaryKeyNotFound()
	}

	// The primary key is never patchable, even when writable metadata
	// says otherwise.
	allowed := intersectColumns(requested, schema, pkColumn)

	bootstrap, err := s.bootstrapRequest(ctx, rc, tableName, schema)
	if err != nil {
		return nil, err
	}
	if err := s.enforceACL(ctx, access.AuthorizationMode, bootstrap,
		s.permissionRequest(rc, tableName, ActionUpdate, allowed)); err != nil {
		return nil, err
	}

	filtered, err := filterPayload(object, allowed)
	if err != nil {
		return nil, err
	}

	row, found, err := s.executor.PatchRow(ctx, rc.TenantID, rc.SchemaName, tableName, pkColumn, rowID, allowed, filtered)
	if err != nil {
		s.auditOutcome(ctx, rc, tableName, ActionUpdate, rowID, false, 500, err.Error())
		return nil, err
	}
	if !found {
		s.auditOutcome(ctx, rc, tableName, ActionUpdate, rowID, false, 404, "record not found")
		return nil, errors.RecordNotFound()
	}

	s.auditOutcome(ctx, rc, tableName, ActionUpdate, rowID, true, 200, "")
	return row, nil
}

// Delete removes the row with the given primary key
func (s *Service) Delete(ctx context.Context, rc tenant.RequestContext, tableName, rowID string) error {
	access, err := s.prepareTable(ctx, rc, tableName, ActionDelete)
	if err != nil {
		return err
	}

	schema, err := s.executor.IntrospectTable(ctx, rc.TenantID, rc.SchemaName, tableName)
	if err != nil {
		return err
	}

	pkColumn, ok := schema.PrimaryKeyColumn()
	if !ok {
		return errors.PrimaryKeyNotFound()
	}

	bootstrap, err := s.bootstrapRequest(ctx, rc, tableName, schema)
	if err != nil {
		return err
	}
	if err := s.enforceACL(ctx, access.AuthorizationMode, bootstrap,
		s.permissionRequest(rc, tableName, ActionDelete, []string{pkColumn})); err != nil {
		return err
	}

	deleted, err := s.executor.DeleteRow(ctx, rc.TenantID, rc.SchemaName, tableName, pkColumn, rowID)
	if err != nil {
		s.auditOutcome(ctx, rc, tableName, ActionDelete, rowID, false, 500, err.Error())
		return err
	}
	if !deleted {
		s.auditOutcome(ctx, rc, tableName, ActionDelete, rowID, false, 404, "record not found")
		return errors.RecordNotFound()
	}

	s.auditOutcome(ctx, rc, tableName, ActionDelete, rowID, true, 204, "")
	return nil
}

// IntrospectSchema returns the table's column descriptions
func (s *Service) IntrospectSchema(ctx context.Context, rc tenant.RequestContext, tableName string) (*TableSchema, error) {
	access, err := s.prepareTable(ctx, rc, tableName, ActionIntrospect)
	if err != nil {
		return nil, err
	}

	if err := s.enforceACL(ctx, access.AuthorizationMode,
		accesscontrol.BootstrapRequest{
			TenantID:     rc.TenantID,
			PrincipalID:  rc.PrincipalID,
			ResourceName: tableName,
		},
		s.permissionRequest(rc, tableName, ActionRead, nil)); err != nil {
		return nil, err
	}

	schema, err := s.executor.IntrospectTable(ctx, rc.TenantID, rc.SchemaName, tableName)
	if err != nil {
		s.auditOutcome(ctx, rc, tableName, ActionIntrospect, "", false, 500, err.Error())
		return nil, err
	}

	s.auditOutcome(ctx, rc, tableName, ActionIntrospect, "", true, 200, "")
	return schema, nil
}

// Catalog lists the table-access catalog for the tenant's schema
func (s *Service) Catalog(ctx context.Context, rc tenant.RequestContext) ([]CatalogEntry, error) {
	if err := validateSchemaName(rc.SchemaName); err != nil {
		return nil, err
	}
	if err := s.metadata.Synchronize(ctx, rc.TenantID, rc.SchemaName); err != nil {
		return nil, err
	}
	return s.metadata.ListCatalog(ctx, rc.TenantID, rc.SchemaName)
}

// UpsertTableMetadata replaces a table's access flags
func (s *Service) UpsertTableMetadata(ctx context.Context, rc tenant.RequestContext, tableName string, update TableMetadataUpdate) (*TableAccessMetadata, error) {
	if err := validateSchemaName(rc.SchemaName); err != nil {
		return nil, err
	}
	if err := validateTableName(tableName); err != nil {
		return nil, err
	}
	if err := s.metadata.Synchronize(ctx, rc.TenantID, rc.SchemaName); err != nil {
		return nil, err
	}
	return s.metadata.UpsertTableAccess(ctx, rc.TenantID, rc.SchemaName, tableName, update)
}

// UpsertColumnMetadata replaces a column's readable/writable flags
func (s *Service) UpsertColumnMetadata(ctx context.Context, rc tenant.RequestContext, tableName, columnName string, update ColumnMetadataUpdate) error {
	if err := validateSchemaName(rc.SchemaName); err != nil {
		return err
	}
	if err := validateTableName(tableName); err != nil {
		return err
	}
	if err := validateColumnName(columnName); err != nil {
		return err
	}
	if err := s.metadata.Synchronize(ctx, rc.TenantID, rc.SchemaName); err != nil {
		return err
	}
	return s.metadata.UpsertColumnAccess(ctx, rc.TenantID, rc.SchemaName, tableName, columnName, update)
}

// ApplyPolicyTemplate applies a named template to the table: metadata
// flags and mode are replaced, and the template's ACL rules are seeded
// for the applying principal.
func (s *Service) ApplyPolicyTemplate(ctx context.Context, rc tenant.RequestContext, tableName, templateName string) error {
	template, err := LookupPolicyTemplate(templateName)
	if err != nil {
		return err
	}

	if err := validateSchemaName(rc.SchemaName); err != nil {
		return err
	}
	if err := validateTableName(tableName); err != nil {
		return err
	}
	if err := s.metadata.Synchronize(ctx, rc.TenantID, rc.SchemaName); err != nil {
		return err
	}

	// The table must really exist before a template can target it.
	if _, err := s.executor.IntrospectTable(ctx, rc.TenantID, rc.SchemaName, tableName); err != nil {
		return err
	}

	readable, err := s.metadata.ListReadableColumns(ctx, rc.TenantID, rc.SchemaName, tableName)
	if err != nil {
		return err
	}
	writable, err := s.metadata.ListWritableColumns(ctx, rc.TenantID, rc.SchemaName, tableName)
	if err != nil {
		return err
	}

	if _, err := s.metadata.UpsertTableAccess(ctx, rc.TenantID, rc.SchemaName, tableName, template.Flags); err != nil {
		return err
	}

	var rules []accesscontrol.TemplateRule
	if template.readRule {
		rules = append(rules, accesscontrol.TemplateRule{ActionName: "read", AllowedColumns: readable})
	}
	if template.createRule {
		rules = append(rules, accesscontrol.TemplateRule{ActionName: "create", AllowedColumns: writable})
	}
	if template.updateRule {
		rules = append(rules, accesscontrol.TemplateRule{ActionName: "update", AllowedColumns: writable})
	}
	if template.deleteRule {
		rules = append(rules, accesscontrol.TemplateRule{ActionName: "delete"})
	}

	return s.acl.ApplyPolicyTemplate(ctx, accesscontrol.TemplateApplyRequest{
		TenantID:     rc.TenantID,
		PrincipalID:  rc.PrincipalID,
		ResourceName: tableName,
		Rules:        rules,
	})
}

// ensureEditable rejects any payload key outside the writable set
func (s *Service) ensureEditable(ctx context.Context, rc tenant.RequestContext, tableName string, requested []string) error {
	writable, err := s.metadata.ListWritableColumns(ctx, rc.TenantID, rc.SchemaName, tableName)
	if err != nil {
		return err
	}

	writableSet := make(map[string]struct{}, len(writable))
	for _, column := range writable {
		writableSet[column] = struct{}{}
	}

	for _, column := range requested {
		if _, ok := writableSet[column]; !ok {
			return errors.NonEditableColumn(column)
		}
	}
	return nil
}

// intersectColumns keeps the requested columns that exist on the
// table, excluding the primary key when given.
func intersectColumns(requested []string, schema *TableSchema, excludePK string) []string {
	allowed := make([]string, 0, len(requested))
	for _, column := range requested {
		if column == excludePK {
			continue
		}
		if schema.HasColumn(column) {
			allowed = append(allowed, column)
		}
	}
	return allowed
}
