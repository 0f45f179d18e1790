package dataapi

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tabular/tabular-backend/pkg/errors"
)

// MetadataStore manages the data_api_table_metadata and
// data_api_column_metadata tables inside each tenant database.
type MetadataStore struct {
	pools PoolProvider
}

// NewMetadataStore creates a metadata store over the tenant pools
func NewMetadataStore(pools PoolProvider) *MetadataStore {
	return &MetadataStore{pools: pools}
}

var metadataSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS data_api_table_metadata (
		schema_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		exposed BOOLEAN NOT NULL DEFAULT TRUE,
		read_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		create_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		update_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		delete_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		introspect_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		authorization_mode TEXT NOT NULL DEFAULT 'authenticated',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (schema_name, table_name)
	)`,
	`CREATE TABLE IF NOT EXISTS data_api_column_metadata (
		schema_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		readable BOOLEAN NOT NULL DEFAULT TRUE,
		writable BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (schema_name, table_name, column_name)
	)`,
}

const syncTablesStatement = `
	INSERT INTO data_api_table_metadata (
		schema_name, table_name, exposed,
		read_enabled, create_enabled, update_enabled, delete_enabled,
		introspect_enabled, authorization_mode
	)
	SELECT
		t.table_schema, t.table_name,
		TRUE, TRUE, TRUE, TRUE, TRUE, TRUE, 'authenticated'
	FROM information_schema.tables t
	WHERE t.table_schema = $1
		AND t.table_type = 'BASE TABLE'
		AND t.table_name NOT IN ('data_api_table_metadata', 'data_api_column_metadata')
	ON CONFLICT (schema_name, table_name) DO NOTHING`

const syncColumnsStatement = `
	INSERT INTO data_api_column_metadata (
		schema_name, table_name, column_name, readable, writable
	)
	SELECT
		c.table_schema, c.table_name, c.column_name,
		TRUE,
		CASE
			WHEN EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				INNER JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
					AND tc.table_name = kcu.table_name
				WHERE tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND tc.constraint_type = 'PRIMARY KEY'
					AND kcu.column_name = c.column_name
			) THEN FALSE
			ELSE TRUE
		END
	FROM information_schema.columns c
	WHERE c.table_schema = $1
		AND c.table_name IN (
			SELECT table_name
			FROM data_api_table_metadata
			WHERE schema_name = $1 AND exposed = TRUE
		)
	ON CONFLICT (schema_name, table_name, column_name) DO NOTHING`

// Synchronize lazily creates the metadata tables and records every base
// table and column of the schema that is not yet tracked. New tables
// default to fully exposed, authenticated mode; primary-key columns
// default to non-writable. Safe to call concurrently: duplicate inserts
// are suppressed by primary key.
func (s *MetadataStore) Synchronize(ctx context.Context, tenantID, schemaName string) error {
	pool, err := s.pools.PoolFor(ctx, tenantID)
	if err != nil {
		return err
	}

	for _, stmt := range metadataSchemaStatements {
		if _, err := pool.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create metadata tables: %w", err)
		}
	}

	if _, err := pool.ExecContext(ctx, syncTablesStatement, schemaName); err != nil {
		return fmt.Errorf("failed to synchronize table metadata: %w", err)
	}
	if _, err := pool.ExecContext(ctx, syncColumnsStatement, schemaName); err != nil {
		return fmt.Errorf("failed to synchronize column metadata: %w", err)
	}

	return nil
}

// GetTableAccess returns the access flags for the table. A table with
// no metadata row is not exposed through the API at all.
func (s *MetadataStore) GetTableAccess(ctx context.Context, tenantID, schemaName, tableName string) (*TableAccessMetadata, error) {
	pool, err := s.pools.PoolFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var meta TableAccessMetadata
	err = pool.GetContext(ctx, &meta,
		`SELECT exposed, read_enabled, create_enabled, update_enabled,
		        delete_enabled, introspect_enabled, authorization_mode
		 FROM data_api_table_metadata
		 WHERE schema_name = $1 AND table_name = $2`,
		schemaName, tableName,
	)
	if err == sql.ErrNoRows {
		return nil, errors.TableNotAllowed()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get table access metadata: %w", err)
	}
	return &meta, nil
}

// ListWritableColumns returns the columns flagged writable for the table
func (s *MetadataStore) ListWritableColumns(ctx context.Context, tenantID, schemaName, tableName string) ([]string, error) {
	return s.listColumnsByFlag(ctx, tenantID, schemaName, tableName, "writable")
}

// ListReadableColumns returns the columns flagged readable for the table
func (s *MetadataStore) ListReadableColumns(ctx context.Context, tenantID, schemaName, tableName string) ([]string, error) {
	return s.listColumnsByFlag(ctx, tenantID, schemaName, tableName, "readable")
}

func (s *MetadataStore) listColumnsByFlag(ctx context.Context, tenantID, schemaName, tableName, flag string) ([]string, error) {
	pool, err := s.pools.PoolFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// flag is one of two literals chosen by the callers above, never
	// caller input.
	var columns []string
	err = pool.SelectContext(ctx, &columns,
		fmt.Sprintf(
			`SELECT column_name FROM data_api_column_metadata
			 WHERE schema_name = $1 AND table_name = $2 AND %s = TRUE
			 ORDER BY column_name`, flag),
		schemaName, tableName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s columns: %w", flag, err)
	}
	return columns, nil
}

// ListCatalog returns the access catalog for the schema, each entry
// carrying its writable column names.
func (s *MetadataStore) ListCatalog(ctx context.Context, tenantID, schemaName string) ([]CatalogEntry, error) {
	pool, err := s.pools.PoolFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	type catalogRow struct {
		TableName string `db:"table_name"`
		TableAccessMetadata
	}

	var rows []catalogRow
	err = pool.SelectContext(ctx, &rows,
		`SELECT table_name, exposed, read_enabled, create_enabled,
		        update_enabled, delete_enabled, introspect_enabled,
		        authorization_mode
		 FROM data_api_table_metadata
		 WHERE schema_name = $1
		 ORDER BY table_name`,
		schemaName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list access catalog: %w", err)
	}

	entries := make([]CatalogEntry, 0, len(rows))
	for _, row := range rows {
		writable, err := s.ListWritableColumns(ctx, tenantID, schemaName, row.TableName)
		if err != nil {
			return nil, err
		}
		entries = append(entries, CatalogEntry{
			TableName:         row.TableName,
			Exposed:           row.Exposed,
			ReadEnabled:       row.ReadEnabled,
			CreateEnabled:     row.CreateEnabled,
			UpdateEnabled:     row.UpdateEnabled,
			DeleteEnabled:     row.DeleteEnabled,
			IntrospectEnabled: row.IntrospectEnabled,
			AuthorizationMode: row.AuthorizationMode,
			WritableColumns:   writable,
		})
	}
	return entries, nil
}

// UpsertTableAccess replaces the table's flags and mode, creating the
// row if the table was never synchronized.
func (s *MetadataStore) UpsertTableAccess(ctx context.Context, tenantID, schemaName, tableName string, update TableMetadataUpdate) (*TableAccessMetadata, error) {
	pool, err := s.pools.PoolFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var meta TableAccessMetadata
	err = pool.GetContext(ctx, &meta,
		`INSERT INTO data_api_table_metadata (
			schema_name, table_name, exposed,
			read_enabled, create_enabled, update_enabled, delete_enabled,
			introspect_enabled, authorization_mode
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (schema_name, table_name)
		 DO UPDATE SET
			exposed = EXCLUDED.exposed,
			read_enabled = EXCLUDED.read_enabled,
			create_enabled = EXCLUDED.create_enabled,
			update_enabled = EXCLUDED.update_enabled,
			delete_enabled = EXCLUDED.delete_enabled,
			introspect_enabled = EXCLUDED.introspect_enabled,
			authorization_mode = EXCLUDED.authorization_mode,
			updated_at = NOW()
		 RETURNING exposed, read_enabled, create_enabled, update_enabled,
		           delete_enabled, introspect_enabled, authorization_mode`,
		schemaName, tableName,
		update.Exposed, update.ReadEnabled, update.CreateEnabled,
		update.UpdateEnabled, update.DeleteEnabled, update.IntrospectEnabled,
		update.AuthorizationMode,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert table access metadata: %w", err)
	}
	return &meta, nil
}

// UpsertColumnAccess replaces the column's readable/writable flags
func (s *MetadataStore) UpsertColumnAccess(ctx context.Context, tenantID, schemaName, tableName, columnName string, update ColumnMetadataUpdate) error {
	pool, err := s.pools.PoolFor(ctx, tenantID)
	if err != nil {
		return err
	}

	_, err = pool.ExecContext(ctx,
		`INSERT INTO data_api_column_metadata (
			schema_name, table_name, column_name, readable, writable
		 )
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (schema_name, table_name, column_name)
		 DO UPDATE SET
			readable = EXCLUDED.readable,
			writable = EXCLUDED.writable,
			updated_at = NOW()`,
		schemaName, tableName, columnName, update.Readable, update.Writable,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert column access metadata: %w", err)
	}
	return nil
}
