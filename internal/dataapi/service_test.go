package dataapi

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabular/tabular-backend/internal/accesscontrol"
	"github.com/tabular/tabular-backend/pkg/errors"
	"github.com/tabular/tabular-backend/pkg/logger"
	"github.com/tabular/tabular-backend/pkg/tenant"
)

const (
	svcTenant    = "00000000-0000-4000-8000-000000000001"
	svcPrincipal = "00000000-0000-4000-8000-0000000000aa"
)

type fakeMetadata struct {
	access    *TableAccessMetadata
	accessErr error
	readable  []string
	writable  []string
	catalog   []CatalogEntry

	syncCalls    int
	upsertedFlag *TableMetadataUpdate
}

func (f *fakeMetadata) Synchronize(ctx context.Context, tenantID, schemaName string) error {
	f.syncCalls++
	return nil
}

func (f *fakeMetadata) GetTableAccess(ctx context.Context, tenantID, schemaName, tableName string) (*TableAccessMetadata, error) {
	if f.accessErr != nil {
		return nil, f.accessErr
	}
	return f.access, nil
}

func (f *fakeMetadata) ListWritableColumns(ctx context.Context, tenantID, schemaName, tableName string) ([]string, error) {
	return f.writable, nil
}

func (f *fakeMetadata) ListReadableColumns(ctx context.Context, tenantID, schemaName, tableName string) ([]string, error) {
	return f.readable, nil
}

func (f *fakeMetadata) ListCatalog(ctx context.Context, tenantID, schemaName string) ([]CatalogEntry, error) {
	return f.catalog, nil
}

func (f *fakeMetadata) UpsertTableAccess(ctx context.Context, tenantID, schemaName, tableName string, update TableMetadataUpdate) (*TableAccessMetadata, error) {
	f.upsertedFlag = &update
	return &TableAccessMetadata{
		Exposed:           update.Exposed,
		ReadEnabled:       update.ReadEnabled,
		CreateEnabled:     update.CreateEnabled,
		UpdateEnabled:     update.UpdateEnabled,
		DeleteEnabled:     update.DeleteEnabled,
		IntrospectEnabled: update.IntrospectEnabled,
		AuthorizationMode: update.AuthorizationMode,
	}, nil
}

func (f *fakeMetadata) UpsertColumnAccess(ctx context.Context, tenantID, schemaName, tableName, columnName string, update ColumnMetadataUpdate) error {
	return nil
}

type fakeExecutor struct {
	schema    *TableSchema
	schemaErr error
	listRows  json.RawMessage
	listErr   error
	row       json.RawMessage
	found     bool
	execErr   error
	deleted   bool

	listCriteria  *ListCriteria
	createColumns []string
	patchColumns  []string
	createPayload json.RawMessage
	executed      int
}

func (f *fakeExecutor) ListRows(ctx context.Context, tenantID string, c ListCriteria) (json.RawMessage, error) {
	f.executed++
	f.listCriteria = &c
	return f.listRows, f.listErr
}

func (f *fakeExecutor) GetRowByPrimaryKey(ctx context.Context, tenantID, schemaName, tableName, pkColumn, pkValue string) (json.RawMessage, bool, error) {
	f.executed++
	return f.row, f.found, f.execErr
}

func (f *fakeExecutor) CreateRow(ctx context.Context, tenantID, schemaName, tableName string, allowedColumns []string, payload json.RawMessage) (json.RawMessage, error) {
	f.executed++
	f.createColumns = allowedColumns
	f.createPayload = payload
	return f.row, f.execErr
}

func (f *fakeExecutor) PatchRow(ctx context.Context, tenantID, schemaName, tableName, pkColumn, pkValue string, allowedColumns []string, payload json.RawMessage) (json.RawMessage, bool, error) {
	f.executed++
	f.patchColumns = allowedColumns
	return f.row, f.found, f.execErr
}

func (f *fakeExecutor) DeleteRow(ctx context.Context, tenantID, schemaName, tableName, pkColumn, pkValue string) (bool, error) {
	f.executed++
	return f.deleted, f.execErr
}

func (f *fakeExecutor) IntrospectTable(ctx context.Context, tenantID, schemaName, tableName string) (*TableSchema, error) {
	if f.schemaErr != nil {
		return nil, f.schemaErr
	}
	return f.schema, nil
}

type fakeACL struct {
	decision accesscontrol.Decision

	bootstraps []accesscontrol.BootstrapRequest
	checks     []accesscontrol.PermissionRequest
	templates  []accesscontrol.TemplateApplyRequest
}

func (f *fakeACL) CheckPermission(ctx context.Context, req accesscontrol.PermissionRequest) (accesscontrol.Decision, error) {
	f.checks = append(f.checks, req)
	return f.decision, nil
}

func (f *fakeACL) BootstrapDataAPIAccess(ctx context.Context, req accesscontrol.BootstrapRequest) error {
	f.bootstraps = append(f.bootstraps, req)
	return nil
}

func (f *fakeACL) ApplyPolicyTemplate(ctx context.Context, req accesscontrol.TemplateApplyRequest) error {
	f.templates = append(f.templates, req)
	return nil
}

type recordingAudit struct {
	events []AuditEvent
}

func (r *recordingAudit) SaveEvent(ctx context.Context, event AuditEvent) error {
	r.events = append(r.events, event)
	return nil
}

func productSchema() *TableSchema {
	return &TableSchema{
		SchemaName: "public",
		TableName:  "productos",
		Columns: []TableColumn{
			{Name: "id", DataType: "uuid", PrimaryKey: true},
			{Name: "nombre", DataType: "text", Nullable: true},
			{Name: "precio", DataType: "numeric", Nullable: true},
		},
	}
}

func allEnabled(mode string) *TableAccessMetadata {
	return &TableAccessMetadata{
		Exposed: true, ReadEnabled: true, CreateEnabled: true,
		UpdateEnabled: true, DeleteEnabled: true, IntrospectEnabled: true,
		AuthorizationMode: mode,
	}
}

func requestContext() tenant.RequestContext {
	return tenant.RequestContext{
		TenantID:    svcTenant,
		SchemaName:  "public",
		PrincipalID: svcPrincipal,
		RequestID:   "req-1",
	}
}

func newTestService(meta *fakeMetadata, exec *fakeExecutor, acl *fakeACL, audit *recordingAudit) *Service {
	return NewService(meta, exec, acl, audit, nil, logger.New("test", "test"))
}

func TestList_ProjectsOnlyKnownColumns(t *testing.T) {
	meta := &fakeMetadata{access: allEnabled(ModeAuthenticated), writable: []string{"nombre", "precio"}}
	exec := &fakeExecutor{schema: productSchema(), listRows: json.RawMessage(`[{"id":"1"}]`)}
	acl := &fakeACL{}
	audit := &recordingAudit{}
	svc := newTestService(meta, exec, acl, audit)

	rows, err := svc.List(context.Background(), requestContext(), "productos", ListQuery{
		Fields:  []string{"nombre", "no_such_column"},
		Filters: []Filter{{Column: "precio", Value: "10"}, {Column: "ghost", Value: "x"}},
		OrderBy: "ghost",
		Limit:   100,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"1"}]`, string(rows))

	require.NotNil(t, exec.listCriteria)
	assert.Equal(t, []string{"nombre"}, exec.listCriteria.Fields)
	require.Len(t, exec.listCriteria.Filters, 1)
	assert.Equal(t, "precio", exec.listCriteria.Filters[0].Column)
	assert.Empty(t, exec.listCriteria.OrderBy)

	// authenticated mode never touches the ACL pipeline
	assert.Empty(t, acl.bootstraps)
	assert.Empty(t, acl.checks)

	require.Len(t, audit.events, 1)
	assert.True(t, audit.events[0].Success)
	assert.Equal(t, 200, audit.events[0].StatusCode)
	assert.Equal(t, ActionRead, audit.events[0].Action)
}

func TestList_ACLModeBootstrapsThenChecks(t *testing.T) {
	meta := &fakeMetadata{access: allEnabled(ModeACL), writable: []string{"nombre", "precio"}}
	exec := &fakeExecutor{schema: productSchema(), listRows: json.RawMessage(`[]`)}
	acl := &fakeACL{decision: accesscontrol.Decision{Allowed: true, Reason: accesscontrol.ReasonAllowMatched}}
	audit := &recordingAudit{}
	svc := newTestService(meta, exec, acl, audit)

	_, err := svc.List(context.Background(), requestContext(), "productos", ListQuery{Limit: 100})
	require.NoError(t, err)

	require.Len(t, acl.bootstraps, 1)
	assert.Equal(t, []string{"id", "nombre", "precio"}, acl.bootstraps[0].ReadableColumns)
	assert.Equal(t, []string{"nombre", "precio"}, acl.bootstraps[0].WritableColumns)

	require.Len(t, acl.checks, 1)
	assert.Equal(t, "productos", acl.checks[0].ResourceName)
	assert.Equal(t, "read", acl.checks[0].ActionName)
	// without explicit fields the check covers every real column
	assert.Equal(t, []string{"id", "nombre", "precio"}, acl.checks[0].RequestedColumns)
}

func TestList_ACLDenyShortCircuits(t *testing.T) {
	meta := &fakeMetadata{access: allEnabled(ModeACL)}
	exec := &fakeExecutor{schema: productSchema()}
	acl := &fakeACL{decision: accesscontrol.Decision{Allowed: false, Reason: accesscontrol.ReasonExplicitDeny}}
	audit := &recordingAudit{}
	svc := newTestService(meta, exec, acl, audit)

	_, err := svc.List(context.Background(), requestContext(), "productos", ListQuery{Limit: 100})
	require.Error(t, err)
	assert.Equal(t, 403, errors.StatusOf(err))
	assert.Contains(t, err.Error(), "explicit deny rule")
	assert.Zero(t, exec.executed)
}

func TestList_DisabledActionRejected(t *testing.T) {
	access := allEnabled(ModeAuthenticated)
	access.ReadEnabled = false
	meta := &fakeMetadata{access: access}
	exec := &fakeExecutor{schema: productSchema()}
	svc := newTestService(meta, exec, &fakeACL{}, &recordingAudit{})

	_, err := svc.List(context.Background(), requestContext(), "productos", ListQuery{Limit: 100})
	require.Error(t, err)
	assert.Equal(t, 403, errors.StatusOf(err))
	assert.Zero(t, exec.executed)
}

func TestList_InvalidTableName(t *testing.T) {
	svc := newTestService(&fakeMetadata{}, &fakeExecutor{}, &fakeACL{}, &recordingAudit{})

	_, err := svc.List(context.Background(), requestContext(), "Productos; DROP TABLE", ListQuery{Limit: 100})
	require.Error(t, err)
	assert.Equal(t, 400, errors.StatusOf(err))
}

func TestGet_NotFoundAudited(t *testing.T) {
	meta := &fakeMetadata{access: allEnabled(ModeAuthenticated)}
	exec := &fakeExecutor{schema: productSchema(), found: false}
	audit := &recordingAudit{}
	svc := newTestService(meta, exec, &fakeACL{}, audit)

	_, err := svc.Get(context.Background(), requestContext(), "productos", "row-1")
	require.Error(t, err)
	assert.Equal(t, 404, errors.StatusOf(err))

	require.Len(t, audit.events, 1)
	assert.False(t, audit.events[0].Success)
	assert.Equal(t, 404, audit.events[0].StatusCode)
	assert.Equal(t, "row-1", audit.events[0].RowIdentifier)
}

func TestCreate_RejectsNonEditableColumn(t *testing.T) {
	meta := &fakeMetadata{access: allEnabled(ModeAuthenticated), writable: []string{"nombre"}}
	exec := &fakeExecutor{schema: productSchema()}
	svc := newTestService(meta, exec, &fakeACL{}, &recordingAudit{})

	_, err := svc.Create(context.Background(), requestContext(), "productos",
		json.RawMessage(`{"nombre":"x","precio":12}`))
	require.Error(t, err)
	assert.Equal(t, 400, errors.StatusOf(err))
	assert.Contains(t, err.Error(), "precio")
	assert.Zero(t, exec.executed)
}

func TestCreate_FiltersPayloadToSchemaColumns(t *testing.T) {
	meta := &fakeMetadata{access: allEnabled(ModeAuthenticated), writable: []string{"nombre", "precio", "legacy"}}
	exec := &fakeExecutor{schema: productSchema(), row: json.RawMessage(`{"id":"1","nombre":"x"}`)}
	audit := &recordingAudit{}
	svc := newTestService(meta, exec, &fakeACL{}, audit)

	row, err := svc.Create(context.Background(), requestContext(), "productos",
		json.RawMessage(`{"nombre":"x","legacy":true}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","nombre":"x"}`, string(row))

	// "legacy" is writable per metadata but absent from the real table
	assert.Equal(t, []string{"nombre"}, exec.createColumns)
	assert.JSONEq(t, `{"nombre":"x"}`, string(exec.createPayload))

	require.Len(t, audit.events, 1)
	assert.Equal(t, 201, audit.events[0].StatusCode)
}

func TestCreate_RejectsNonObjectPayload(t *testing.T) {
	svc := newTestService(&fakeMetadata{}, &fakeExecutor{}, &fakeACL{}, &recordingAudit{})

	_, err := svc.Create(context.Background(), requestContext(), "productos", json.RawMessage(`[1,2,3]`))
	require.Error(t, err)
	assert.Equal(t, 400, errors.StatusOf(err))
}

func TestCreate_RejectsOversizedPayload(t *testing.T) {
	svc := newTestService(&fakeMetadata{}, &fakeExecutor{}, &fakeACL{}, &recordingAudit{})

	big := `{"nombre":"` + strings.Repeat("a", MaxPayloadBytes) + `"}`
	_, err := svc.Create(context.Background(), requestContext(), "productos", json.RawMessage(big))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPayloadTooLarge))
}

func TestPatch_ExcludesPrimaryKey(t *testing.T) {
	meta := &fakeMetadata{access: allEnabled(ModeAuthenticated), writable: []string{"id", "nombre"}}
	exec := &fakeExecutor{schema: productSchema(), row: json.RawMessage(`{"id":"1"}`), found: true}
	svc := newTestService(meta, exec, &fakeACL{}, &recordingAudit{})

	_, err := svc.Patch(context.Background(), requestContext(), "productos", "1",
		json.RawMessage(`{"id":"2","nombre":"y"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"nombre"}, exec.patchColumns)
}

func TestDelete_AuditsOutcome(t *testing.T) {
	meta := &fakeMetadata{access: allEnabled(ModeAuthenticated)}
	exec := &fakeExecutor{schema: productSchema(), deleted: true}
	audit := &recordingAudit{}
	svc := newTestService(meta, exec, &fakeACL{}, audit)

	err := svc.Delete(context.Background(), requestContext(), "productos", "1")
	require.NoError(t, err)

	require.Len(t, audit.events, 1)
	assert.True(t, audit.events[0].Success)
	assert.Equal(t, 204, audit.events[0].StatusCode)
	assert.Equal(t, ActionDelete, audit.events[0].Action)
}

func TestDelete_ExecutorFailureAudited(t *testing.T) {
	meta := &fakeMetadata{access: allEnabled(ModeAuthenticated)}
	exec := &fakeExecutor{schema: productSchema(), execErr: errors.Infrastructure(context.DeadlineExceeded)}
	audit := &recordingAudit{}
	svc := newTestService(meta, exec, &fakeACL{}, audit)

	err := svc.Delete(context.Background(), requestContext(), "productos", "1")
	require.Error(t, err)

	require.Len(t, audit.events, 1)
	assert.False(t, audit.events[0].Success)
	assert.Equal(t, 500, audit.events[0].StatusCode)
	assert.NotEmpty(t, audit.events[0].Details)
}

func TestDelete_NoPrimaryKey(t *testing.T) {
	meta := &fakeMetadata{access: allEnabled(ModeAuthenticated)}
	schema := productSchema()
	schema.Columns[0].PrimaryKey = false
	exec := &fakeExecutor{schema: schema}
	svc := newTestService(meta, exec, &fakeACL{}, &recordingAudit{})

	err := svc.Delete(context.Background(), requestContext(), "productos", "1")
	require.Error(t, err)
	assert.Equal(t, 404, errors.StatusOf(err))
	assert.Zero(t, exec.executed)
}

func TestIntrospectSchema(t *testing.T) {
	meta := &fakeMetadata{access: allEnabled(ModeAuthenticated)}
	exec := &fakeExecutor{schema: productSchema()}
	audit := &recordingAudit{}
	svc := newTestService(meta, exec, &fakeACL{}, audit)

	schema, err := svc.IntrospectSchema(context.Background(), requestContext(), "productos")
	require.NoError(t, err)
	assert.Len(t, schema.Columns, 3)

	require.Len(t, audit.events, 1)
	assert.Equal(t, ActionIntrospect, audit.events[0].Action)
}

func TestApplyPolicyTemplate_ReadOnlySeedsSingleRule(t *testing.T) {
	meta := &fakeMetadata{
		access:   allEnabled(ModeAuthenticated),
		readable: []string{"id", "nombre", "precio"},
		writable: []string{"nombre", "precio"},
	}
	exec := &fakeExecutor{schema: productSchema()}
	acl := &fakeACL{}
	svc := newTestService(meta, exec, acl, &recordingAudit{})

	err := svc.ApplyPolicyTemplate(context.Background(), requestContext(), "productos", "acl_read_only")
	require.NoError(t, err)

	require.NotNil(t, meta.upsertedFlag)
	assert.Equal(t, ModeACL, meta.upsertedFlag.AuthorizationMode)
	assert.False(t, meta.upsertedFlag.CreateEnabled)

	require.Len(t, acl.templates, 1)
	require.Len(t, acl.templates[0].Rules, 1)
	assert.Equal(t, "read", acl.templates[0].Rules[0].ActionName)
	assert.Equal(t, []string{"id", "nombre", "precio"}, acl.templates[0].Rules[0].AllowedColumns)
}

func TestApplyPolicyTemplate_AuthenticatedCrudSeedsNoRules(t *testing.T) {
	meta := &fakeMetadata{access: allEnabled(ModeACL)}
	exec := &fakeExecutor{schema: productSchema()}
	acl := &fakeACL{}
	svc := newTestService(meta, exec, acl, &recordingAudit{})

	err := svc.ApplyPolicyTemplate(context.Background(), requestContext(), "productos", "authenticated_crud")
	require.NoError(t, err)

	require.NotNil(t, meta.upsertedFlag)
	assert.Equal(t, ModeAuthenticated, meta.upsertedFlag.AuthorizationMode)

	require.Len(t, acl.templates, 1)
	assert.Empty(t, acl.templates[0].Rules)
}

func TestApplyPolicyTemplate_UnknownName(t *testing.T) {
	svc := newTestService(&fakeMetadata{}, &fakeExecutor{}, &fakeACL{}, &recordingAudit{})

	err := svc.ApplyPolicyTemplate(context.Background(), requestContext(), "productos", "no_such_template")
	require.Error(t, err)
	assert.Equal(t, 400, errors.StatusOf(err))
}

func TestApplyPolicyTemplate_MissingTable(t *testing.T) {
	meta := &fakeMetadata{access: allEnabled(ModeAuthenticated)}
	exec := &fakeExecutor{schemaErr: errors.TableNotFound()}
	svc := newTestService(meta, exec, &fakeACL{}, &recordingAudit{})

	err := svc.ApplyPolicyTemplate(context.Background(), requestContext(), "productos", "acl_crud")
	require.Error(t, err)
	assert.Equal(t, 404, errors.StatusOf(err))
}

func TestCatalog_SynchronizesFirst(t *testing.T) {
	meta := &fakeMetadata{catalog: []CatalogEntry{{TableName: "productos", Exposed: true}}}
	svc := newTestService(meta, &fakeExecutor{}, &fakeACL{}, &recordingAudit{})

	entries, err := svc.Catalog(context.Background(), requestContext())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, meta.syncCalls)
}
