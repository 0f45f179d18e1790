package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tabular/tabular-backend/internal/dataapi"
	"github.com/tabular/tabular-backend/pkg/errors"
	"github.com/tabular/tabular-backend/pkg/httputil"
	"github.com/tabular/tabular-backend/pkg/logger"
	"github.com/tabular/tabular-backend/pkg/tenant"
)

// List pagination bounds
const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// DataService is the coordinator surface the HTTP layer depends on
type DataService interface {
	List(ctx context.Context, rc tenant.RequestContext, tableName string, q dataapi.ListQuery) (json.RawMessage, error)
	Get(ctx context.Context, rc tenant.RequestContext, tableName, rowID string) (json.RawMessage, error)
	Create(ctx context.Context, rc tenant.RequestContext, tableName string, payload json.RawMessage) (json.RawMessage, error)
	Patch(ctx context.Context, rc tenant.RequestContext, tableName, rowID string, payload json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, rc tenant.RequestContext, tableName, rowID string) error
	IntrospectSchema(ctx context.Context, rc tenant.RequestContext, tableName string) (*dataapi.TableSchema, error)
	Catalog(ctx context.Context, rc tenant.RequestContext) ([]dataapi.CatalogEntry, error)
	UpsertTableMetadata(ctx context.Context, rc tenant.RequestContext, tableName string, update dataapi.TableMetadataUpdate) (*dataapi.TableAccessMetadata, error)
	UpsertColumnMetadata(ctx context.Context, rc tenant.RequestContext, tableName, columnName string, update dataapi.ColumnMetadataUpdate) error
	ApplyPolicyTemplate(ctx context.Context, rc tenant.RequestContext, tableName, templateName string) error
}

// Handler exposes the dynamic data API over HTTP
type Handler struct {
	service  DataService
	validate *validator.Validate
	logger   *logger.Logger
}

// New creates the data API handler
func New(service DataService, log *logger.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		logger:   log.WithComponent("data_api_handler"),
	}
}

// Register mounts the data API routes. The router is expected to carry
// the Auth middleware already.
func (h *Handler) Register(r chi.Router) {
	r.Get("/_metadata", h.Catalog)
	r.Get("/_metadata/policy-templates", h.ListPolicyTemplates)
	r.Put("/_metadata/{table}", h.UpsertTableMetadata)
	r.Post("/_metadata/{table}/policy-templates", h.ApplyPolicyTemplate)
	r.Put("/_metadata/{table}/columns/{column}", h.UpsertColumnMetadata)

	r.Get("/{table}", h.List)
	r.Post("/{table}", h.Create)
	r.Get("/{table}/_schema", h.IntrospectSchema)
	r.Get("/{table}/{rowId}", h.Get)
	r.Patch("/{table}/{rowId}", h.Patch)
	r.Delete("/{table}/{rowId}", h.Delete)
}

// List lists rows with optional projection, filters, and ordering
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	rc, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.MissingAuthentication())
		return
	}

	query, err := parseListQuery(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	rows, err := h.service.List(r.Context(), rc, chi.URLParam(r, "table"), query)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	writeRawJSON(w, http.StatusOK, rows)
}

// Get returns one row by primary key
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rc, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.MissingAuthentication())
		return
	}

	row, err := h.service.Get(r.Context(), rc, chi.URLParam(r, "table"), chi.URLParam(r, "rowId"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	writeRawJSON(w, http.StatusOK, row)
}

// Create inserts a row from the JSON payload
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	rc, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.MissingAuthentication())
		return
	}

	payload, err := readPayload(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	row, err := h.service.Create(r.Context(), rc, chi.URLParam(r, "table"), payload)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	writeRawJSON(w, http.StatusCreated, row)
}

// Patch partially updates one row by primary key
func (h *Handler) Patch(w http.ResponseWriter, r *http.Request) {
	rc, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.MissingAuthentication())
		return
	}

	payload, err := readPayload(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	row, err := h.service.Patch(r.Context(), rc, chi.URLParam(r, "table"), chi.URLParam(r, "rowId"), payload)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	writeRawJSON(w, http.StatusOK, row)
}

// Delete removes one row by primary key
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	rc, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.MissingAuthentication())
		return
	}

	if err := h.service.Delete(r.Context(), rc, chi.URLParam(r, "table"), chi.URLParam(r, "rowId")); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// IntrospectSchema describes the table's columns
func (h *Handler) IntrospectSchema(w http.ResponseWriter, r *http.Request) {
	rc, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.MissingAuthentication())
		return
	}

	schema, err := h.service.IntrospectSchema(r.Context(), rc, chi.URLParam(r, "table"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, schema)
}

// Catalog lists every table's access metadata
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	rc, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.MissingAuthentication())
		return
	}

	entries, err := h.service.Catalog(r.Context(), rc)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}

// ListPolicyTemplates lists the known policy templates
func (h *Handler) ListPolicyTemplates(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, dataapi.ListPolicyTemplates())
}

// UpsertTableMetadata replaces a table's access flags
func (h *Handler) UpsertTableMetadata(w http.ResponseWriter, r *http.Request) {
	rc, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.MissingAuthentication())
		return
	}

	var update dataapi.TableMetadataUpdate
	if err := httputil.DecodeJSON(r, &update); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := h.validate.Struct(&update); err != nil {
		httputil.Error(w, errors.New("VALIDATION_ERROR", "authorization_mode must be authenticated or acl", http.StatusBadRequest))
		return
	}

	meta, err := h.service.UpsertTableMetadata(r.Context(), rc, chi.URLParam(r, "table"), update)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, meta)
}

// UpsertColumnMetadata replaces a column's readable/writable flags
func (h *Handler) UpsertColumnMetadata(w http.ResponseWriter, r *http.Request) {
	rc, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.MissingAuthentication())
		return
	}

	var update dataapi.ColumnMetadataUpdate
	if err := httputil.DecodeJSON(r, &update); err != nil {
		httputil.Error(w, err)
		return
	}

	err = h.service.UpsertColumnMetadata(r.Context(), rc,
		chi.URLParam(r, "table"), chi.URLParam(r, "column"), update)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

type applyTemplateRequest struct {
	TemplateName string `json:"template_name" validate:"required"`
}

// ApplyPolicyTemplate applies a named policy template to a table
func (h *Handler) ApplyPolicyTemplate(w http.ResponseWriter, r *http.Request) {
	rc, err := tenant.FromContext(r.Context())
	if err != nil {
		httputil.Error(w, errors.MissingAuthentication())
		return
	}

	var body applyTemplateRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := h.validate.Struct(&body); err != nil {
		httputil.Error(w, errors.InvalidPolicyTemplateName())
		return
	}

	if err := h.service.ApplyPolicyTemplate(r.Context(), rc, chi.URLParam(r, "table"), body.TemplateName); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// parseListQuery validates fields, filter_<column> predicates,
// ordering, and pagination bounds.
func parseListQuery(r *http.Request) (dataapi.ListQuery, error) {
	values := r.URL.Query()
	query := dataapi.ListQuery{Limit: DefaultLimit}

	if raw := values.Get("fields"); raw != "" {
		for _, field := range strings.Split(raw, ",") {
			if field = strings.TrimSpace(field); field != "" {
				query.Fields = append(query.Fields, field)
			}
		}
	}

	for key, vals := range values {
		if !strings.HasPrefix(key, "filter_") || len(vals) == 0 {
			continue
		}
		column := strings.TrimPrefix(key, "filter_")
		if column == "" {
			return dataapi.ListQuery{}, errors.InvalidQueryParameters()
		}
		query.Filters = append(query.Filters, dataapi.Filter{Column: column, Value: vals[0]})
	}

	query.OrderBy = values.Get("order_by")
	switch values.Get("order_dir") {
	case "", "asc":
	case "desc":
		query.OrderDesc = true
	default:
		return dataapi.ListQuery{}, errors.InvalidQueryParameters()
	}

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || limit < 1 || limit > MaxLimit {
			return dataapi.ListQuery{}, errors.InvalidQueryParameters()
		}
		query.Limit = limit
	}
	if raw := values.Get("offset"); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || offset < 0 {
			return dataapi.ListQuery{}, errors.InvalidQueryParameters()
		}
		query.Offset = offset
	}

	return query, nil
}

// readPayload reads the raw JSON body, bounded just past the payload
// cap so the coordinator can report the size violation itself.
func readPayload(r *http.Request) (json.RawMessage, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, dataapi.MaxPayloadBytes+1))
	if err != nil {
		return nil, errors.New("BAD_REQUEST", "failed to read request body", http.StatusBadRequest)
	}
	return payload, nil
}

// writeRawJSON sends pre-serialized JSON straight through
func writeRawJSON(w http.ResponseWriter, statusCode int, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(payload)
}
