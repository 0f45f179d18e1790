// Package dataapi exposes tenant tables as a dynamic CRUD HTTP API,
// gated by per-table access metadata and the access-control pipeline.
package dataapi

// Action is one of the closed set of data-API operations
type Action string

const (
	ActionRead       Action = "read"
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionIntrospect Action = "introspect"
)

// Authorization modes for a table
const (
	ModeAuthenticated = "authenticated"
	ModeACL           = "acl"
)

// TableAccessMetadata holds the per-table exposure flags and
// authorization mode.
type TableAccessMetadata struct {
	Exposed           bool   `db:"exposed" json:"exposed"`
	ReadEnabled       bool   `db:"read_enabled" json:"read_enabled"`
	CreateEnabled     bool   `db:"create_enabled" json:"create_enabled"`
	UpdateEnabled     bool   `db:"update_enabled" json:"update_enabled"`
	DeleteEnabled     bool   `db:"delete_enabled" json:"delete_enabled"`
	IntrospectEnabled bool   `db:"introspect_enabled" json:"introspect_enabled"`
	AuthorizationMode string `db:"authorization_mode" json:"authorization_mode"`
}

// TableMetadataUpdate carries the full replacement flag set for a table
type TableMetadataUpdate struct {
	Exposed           bool   `json:"exposed"`
	ReadEnabled       bool   `json:"read_enabled"`
	CreateEnabled     bool   `json:"create_enabled"`
	UpdateEnabled     bool   `json:"update_enabled"`
	DeleteEnabled     bool   `json:"delete_enabled"`
	IntrospectEnabled bool   `json:"introspect_enabled"`
	AuthorizationMode string `json:"authorization_mode" validate:"required,oneof=authenticated acl"`
}

// ColumnMetadataUpdate carries the replacement flags for a column
type ColumnMetadataUpdate struct {
	Readable bool `json:"readable"`
	Writable bool `json:"writable"`
}

// CatalogEntry is one table's row in the access catalog listing
type CatalogEntry struct {
	TableName         string   `json:"table_name"`
	Exposed           bool     `json:"exposed"`
	ReadEnabled       bool     `json:"read_enabled"`
	CreateEnabled     bool     `json:"create_enabled"`
	UpdateEnabled     bool     `json:"update_enabled"`
	DeleteEnabled     bool     `json:"delete_enabled"`
	IntrospectEnabled bool     `json:"introspect_enabled"`
	AuthorizationMode string   `json:"authorization_mode"`
	WritableColumns   []string `json:"writable_columns"`
}

// TableColumn describes one column of an introspected table
type TableColumn struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// TableSchema is the introspection result for one table
type TableSchema struct {
	SchemaName string        `json:"schema"`
	TableName  string        `json:"table"`
	Columns    []TableColumn `json:"columns"`
}

// HasColumn reports whether the table has the named column
func (s *TableSchema) HasColumn(name string) bool {
	for _, col := range s.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

// PrimaryKeyColumn returns the first primary-key column, if any
func (s *TableSchema) PrimaryKeyColumn() (string, bool) {
	for _, col := range s.Columns {
		if col.PrimaryKey {
			return col.Name, true
		}
	}
	return "", false
}

// ColumnNames returns every column name in declaration order
func (s *TableSchema) ColumnNames() []string {
	names := make([]string, 0, len(s.Columns))
	for _, col := range s.Columns {
		names = append(names, col.Name)
	}
	return names
}

// Filter is one equality predicate of a list query
type Filter struct {
	Column string
	Value  string
}

// ListCriteria is the executor's input for list queries. Fields,
// filter columns, and order_by have already been intersected with the
// real table schema by the coordinator.
type ListCriteria struct {
	SchemaName string
	TableName  string
	Fields     []string
	Filters    []Filter
	OrderBy    string
	OrderDesc  bool
	Limit      int64
	Offset     int64
}
