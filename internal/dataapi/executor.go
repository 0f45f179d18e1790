package dataapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tabular/tabular-backend/pkg/database"
	"github.com/tabular/tabular-backend/pkg/errors"
)

// MaxPayloadBytes caps the serialized JSON size of write payloads
const MaxPayloadBytes = 64 * 1024

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// quoteIdentifier validates an identifier and wraps it in double
// quotes. Values never travel this path; they are always bound.
func quoteIdentifier(identifier string) (string, error) {
	if !identifierPattern.MatchString(identifier) {
		return "", errors.InvalidQueryParameters()
	}
	return `"` + identifier + `"`, nil
}

func qualifiedTable(schemaName, tableName string) (string, error) {
	schema, err := quoteIdentifier(schemaName)
	if err != nil {
		return "", err
	}
	table, err := quoteIdentifier(tableName)
	if err != nil {
		return "", err
	}
	return schema + "." + table, nil
}

// mapExecError surfaces postgres constraint and missing-table errors as
// client errors instead of opaque 500s.
func mapExecError(err error, verb string) error {
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return fmt.Errorf("failed to %s: %w", verb, err)
}

// Executor translates authorized data-API requests into parameterized
// SQL against the tenant's pool. Identifiers are validated and quoted;
// values are always bound parameters.
type Executor struct {
	pools PoolProvider
}

// NewExecutor creates an executor over the tenant pools
func NewExecutor(pools PoolProvider) *Executor {
	return &Executor{pools: pools}
}

// ListRows runs the dynamic list query and returns a JSON array.
// An empty result set is the literal empty array, never null.
func (e *Executor) ListRows(ctx context.Context, tenantID string, c ListCriteria) (json.RawMessage, error) {
	pool, err := e.pools.PoolFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	table, err := qualifiedTable(c.SchemaName, c.TableName)
	if err != nil {
		return nil, err
	}

	projection := "to_jsonb(t)"
	if len(c.Fields) > 0 {
		pairs := make([]string, 0, len(c.Fields))
		for _, field := range c.Fields {
			quoted, err := quoteIdentifier(field)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, fmt.Sprintf("'%s', t.%s", field, quoted))
		}
		projection = fmt.Sprintf("jsonb_build_object(%s)", strings.Join(pairs, ", "))
	}

	var sb strings.Builder
	var args []interface{}

	fmt.Fprintf(&sb,
		"SELECT COALESCE(jsonb_agg(payload), '[]'::jsonb) AS payload FROM (SELECT %s AS payload FROM %s AS t",
		projection, table,
	)

	for i, filter := range c.Filters {
		quoted, err := quoteIdentifier(filter.Column)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		args = append(args, filter.Value)
		fmt.Fprintf(&sb, "t.%s::text = $%d", quoted, len(args))
	}

	if c.OrderBy != "" {
		quoted, err := quoteIdentifier(c.OrderBy)
		if err != nil {
			return nil, err
		}
		direction := "ASC"
		if c.OrderDesc {
			direction = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY t.%s %s", quoted, direction)
	}

	args = append(args, c.Limit)
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	args = append(args, c.Offset)
	fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	sb.WriteString(") AS subq")

	var payload json.RawMessage
	if err := pool.GetContext(ctx, &payload, sb.String(), args...); err != nil {
		return nil, mapExecError(err, "list rows")
	}
	return payload, nil
}

// GetRowByPrimaryKey fetches one row as JSON; found is false when the
// primary key does not match any row.
func (e *Executor) GetRowByPrimaryKey(ctx context.Context, tenantID, schemaName, tableName, pkColumn, pkValue string) (json.RawMessage, bool, error) {
	pool, err := e.pools.PoolFor(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}

	table, err := qualifiedTable(schemaName, tableName)
	if err != nil {
		return nil, false, err
	}
	pk, err := quoteIdentifier(pkColumn)
	if err != nil {
		return nil, false, err
	}

	var payload json.RawMessage
	err = pool.GetContext(ctx, &payload,
		fmt.Sprintf("SELECT to_jsonb(t) AS payload FROM %s AS t WHERE t.%s::text = $1", table, pk),
		pkValue,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapExecError(err, "get row")
	}
	return payload, true, nil
}

// CreateRow inserts the payload's allowed columns and returns the new
// row as JSON. The payload has already been filtered to allowed
// columns by the coordinator.
func (e *Executor) CreateRow(ctx context.Context, tenantID, schemaName, tableName string, allowedColumns []string, payload json.RawMessage) (json.RawMessage, error) {
	if len(allowedColumns) == 0 {
		return nil, errors.InvalidPayload()
	}

	pool, err := e.pools.PoolFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	table, err := qualifiedTable(schemaName, tableName)
	if err != nil {
		return nil, err
	}

	quoted := make([]string, 0, len(allowedColumns))
	sources := make([]string, 0, len(allowedColumns))
	for _, column := range allowedColumns {
		q, err := quoteIdentifier(column)
		if err != nil {
			return nil, err
		}
		quoted = append(quoted, q)
		sources = append(sources, "r."+q)
	}

	statement := fmt.Sprintf(
		"INSERT INTO %s AS t (%s) SELECT %s FROM jsonb_populate_record(NULL::%s, $1::jsonb) AS r RETURNING to_jsonb(t) AS payload",
		table, strings.Join(quoted, ", "), strings.Join(sources, ", "), table,
	)

	var row json.RawMessage
	if err := pool.GetContext(ctx, &row, statement, string(payload)); err != nil {
		return nil, mapExecError(err, "create row")
	}
	return row, nil
}

// PatchRow updates the payload's allowed columns on the row with the
// given primary key; found is false when no row matched.
func (e *Executor) PatchRow(ctx context.Context, tenantID, schemaName, tableName, pkColumn, pkValue string, allowedColumns []string, payload json.RawMessage) (json.RawMessage, bool, error) {
	if len(allowedColumns) == 0 {
		return nil, false, errors.InvalidPayload()
	}

	pool, err := e.pools.PoolFor(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}

	table, err := qualifiedTable(schemaName, tableName)
	if err != nil {
		return nil, false, err
	}
	pk, err := quoteIdentifier(pkColumn)
	if err != nil {
		return nil, false, err
	}

	assignments := make([]string, 0, len(allowedColumns))
	for _, column := range allowedColumns {
		q, err := quoteIdentifier(column)
		if err != nil {
			return nil, false, err
		}
		assignments = append(assignments, fmt.Sprintf("%s = r.%s", q, q))
	}

	statement := fmt.Sprintf(
		"UPDATE %s AS t SET %s FROM jsonb_populate_record(NULL::%s, $1::jsonb) AS r WHERE t.%s::text = $2 RETURNING to_jsonb(t) AS payload",
		table, strings.Join(assignments, ", "), table, pk,
	)

	var row json.RawMessage
	err = pool.GetContext(ctx, &row, statement, string(payload), pkValue)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapExecError(err, "patch row")
	}
	return row, true, nil
}

// DeleteRow removes the row with the given primary key; reports
// whether a row was actually deleted.
func (e *Executor) DeleteRow(ctx context.Context, tenantID, schemaName, tableName, pkColumn, pkValue string) (bool, error) {
	pool, err := e.pools.PoolFor(ctx, tenantID)
	if err != nil {
		return false, err
	}

	table, err := qualifiedTable(schemaName, tableName)
	if err != nil {
		return false, err
	}
	pk, err := quoteIdentifier(pkColumn)
	if err != nil {
		return false, err
	}

	result, err := pool.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s::text = $1", table, pk),
		pkValue,
	)
	if err != nil {
		return false, mapExecError(err, "delete row")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// IntrospectTable reads the table's columns from information_schema,
// marking primary-key membership. An unknown table is a not-found.
func (e *Executor) IntrospectTable(ctx context.Context, tenantID, schemaName, tableName string) (*TableSchema, error) {
	pool, err := e.pools.PoolFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	type columnRow struct {
		ColumnName   string `db:"column_name"`
		IsNullable   string `db:"is_nullable"`
		DataType     string `db:"data_type"`
		IsPrimaryKey bool   `db:"is_primary_key"`
	}

	var rows []columnRow
	err = pool.SelectContext(ctx, &rows,
		`SELECT
			c.column_name,
			c.is_nullable,
			c.data_type,
			EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				INNER JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND tc.constraint_type = 'PRIMARY KEY'
					AND kcu.column_name = c.column_name
			) AS is_primary_key
		 FROM information_schema.columns c
		 WHERE c.table_schema = $1 AND c.table_name = $2
		 ORDER BY c.ordinal_position`,
		schemaName, tableName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect table: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.TableNotFound()
	}

	schema := &TableSchema{
		SchemaName: schemaName,
		TableName:  tableName,
		Columns:    make([]TableColumn, 0, len(rows)),
	}
	for _, row := range rows {
		schema.Columns = append(schema.Columns, TableColumn{
			Name:       row.ColumnName,
			DataType:   row.DataType,
			Nullable:   row.IsNullable == "YES",
			PrimaryKey: row.IsPrimaryKey,
		})
	}
	return schema, nil
}
