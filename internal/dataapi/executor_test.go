package dataapi

import (
	"context"
	"database/sql"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabular/tabular-backend/pkg/database"
	"github.com/tabular/tabular-backend/pkg/errors"
	"github.com/tabular/tabular-backend/pkg/logger"
)

type staticPool struct {
	db *database.DB
}

func (p staticPool) PoolFor(ctx context.Context, tenantID string) (*database.DB, error) {
	return p.db, nil
}

// newExecutorMock matches SQL byte-for-byte so the generated query
// shapes stay pinned.
func newExecutorMock(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := database.NewWithDB(sqlx.NewDb(mockDB, "sqlmock"), logger.New("test", "test"))
	return NewExecutor(staticPool{db: db}), mock
}

func TestQuoteIdentifier(t *testing.T) {
	cases := []struct {
		input  string
		quoted string
		valid  bool
	}{
		{"productos", `"productos"`, true},
		{"order_items_2", `"order_items_2"`, true},
		{"a", `"a"`, true},
		{"", "", false},
		{"Productos", "", false},
		{"1table", "", false},
		{"_hidden", "", false},
		{`foo"bar`, "", false},
		{"foo;drop table x", "", false},
		{"foo bar", "", false},
	}

	for _, tc := range cases {
		quoted, err := quoteIdentifier(tc.input)
		if tc.valid {
			require.NoError(t, err, tc.input)
			assert.Equal(t, tc.quoted, quoted)
		} else {
			require.Error(t, err, tc.input)
			assert.Equal(t, 400, errors.StatusOf(err))
		}
	}
}

func TestListRows_FullQueryShape(t *testing.T) {
	exec, mock := newExecutorMock(t)

	mock.ExpectQuery(`SELECT COALESCE(jsonb_agg(payload), '[]'::jsonb) AS payload FROM (SELECT jsonb_build_object('nombre', t."nombre", 'precio', t."precio") AS payload FROM "public"."productos" AS t WHERE t."precio"::text = $1 ORDER BY t."nombre" ASC LIMIT $2 OFFSET $3) AS subq`).
		WithArgs("10", int64(50), int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).
			AddRow([]byte(`[{"nombre":"x","precio":10}]`)))

	rows, err := exec.ListRows(context.Background(), svcTenant, ListCriteria{
		SchemaName: "public",
		TableName:  "productos",
		Fields:     []string{"nombre", "precio"},
		Filters:    []Filter{{Column: "precio", Value: "10"}},
		OrderBy:    "nombre",
		Limit:      50,
		Offset:     10,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"nombre":"x","precio":10}]`, string(rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRows_NoFieldsSelectsWholeRow(t *testing.T) {
	exec, mock := newExecutorMock(t)

	mock.ExpectQuery(`SELECT COALESCE(jsonb_agg(payload), '[]'::jsonb) AS payload FROM (SELECT to_jsonb(t) AS payload FROM "public"."productos" AS t LIMIT $1 OFFSET $2) AS subq`).
		WithArgs(int64(100), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(`[]`)))

	rows, err := exec.ListRows(context.Background(), svcTenant, ListCriteria{
		SchemaName: "public",
		TableName:  "productos",
		Limit:      100,
	})
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRowByPrimaryKey(t *testing.T) {
	exec, mock := newExecutorMock(t)

	mock.ExpectQuery(`SELECT to_jsonb(t) AS payload FROM "public"."productos" AS t WHERE t."id"::text = $1`).
		WithArgs("row-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(`{"id":"row-1"}`)))

	row, found, err := exec.GetRowByPrimaryKey(context.Background(), svcTenant, "public", "productos", "id", "row-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"id":"row-1"}`, string(row))
}

func TestGetRowByPrimaryKey_NotFound(t *testing.T) {
	exec, mock := newExecutorMock(t)

	mock.ExpectQuery(`SELECT to_jsonb(t) AS payload FROM "public"."productos" AS t WHERE t."id"::text = $1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, found, err := exec.GetRowByPrimaryKey(context.Background(), svcTenant, "public", "productos", "id", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCreateRow(t *testing.T) {
	exec, mock := newExecutorMock(t)

	mock.ExpectQuery(`INSERT INTO "public"."productos" AS t ("nombre", "precio") SELECT r."nombre", r."precio" FROM jsonb_populate_record(NULL::"public"."productos", $1::jsonb) AS r RETURNING to_jsonb(t) AS payload`).
		WithArgs(`{"nombre":"x","precio":10}`).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).
			AddRow([]byte(`{"id":"1","nombre":"x","precio":10}`)))

	row, err := exec.CreateRow(context.Background(), svcTenant, "public", "productos",
		[]string{"nombre", "precio"}, []byte(`{"nombre":"x","precio":10}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","nombre":"x","precio":10}`, string(row))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRow_UniqueViolationIsConflict(t *testing.T) {
	exec, mock := newExecutorMock(t)

	mock.ExpectQuery(`INSERT INTO "public"."productos" AS t ("nombre") SELECT r."nombre" FROM jsonb_populate_record(NULL::"public"."productos", $1::jsonb) AS r RETURNING to_jsonb(t) AS payload`).
		WithArgs(`{"nombre":"x"}`).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := exec.CreateRow(context.Background(), svcTenant, "public", "productos",
		[]string{"nombre"}, []byte(`{"nombre":"x"}`))
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, errors.StatusOf(err))
}

func TestCreateRow_EmptyColumnList(t *testing.T) {
	exec, _ := newExecutorMock(t)

	_, err := exec.CreateRow(context.Background(), svcTenant, "public", "productos", nil, []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, 400, errors.StatusOf(err))
}

func TestPatchRow(t *testing.T) {
	exec, mock := newExecutorMock(t)

	mock.ExpectQuery(`UPDATE "public"."productos" AS t SET "nombre" = r."nombre" FROM jsonb_populate_record(NULL::"public"."productos", $1::jsonb) AS r WHERE t."id"::text = $2 RETURNING to_jsonb(t) AS payload`).
		WithArgs(`{"nombre":"y"}`, "row-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).
			AddRow([]byte(`{"id":"row-1","nombre":"y"}`)))

	row, found, err := exec.PatchRow(context.Background(), svcTenant, "public", "productos",
		"id", "row-1", []string{"nombre"}, []byte(`{"nombre":"y"}`))
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"id":"row-1","nombre":"y"}`, string(row))
}

func TestPatchRow_NotFound(t *testing.T) {
	exec, mock := newExecutorMock(t)

	mock.ExpectQuery(`UPDATE "public"."productos" AS t SET "nombre" = r."nombre" FROM jsonb_populate_record(NULL::"public"."productos", $1::jsonb) AS r WHERE t."id"::text = $2 RETURNING to_jsonb(t) AS payload`).
		WithArgs(`{"nombre":"y"}`, "missing").
		WillReturnError(sql.ErrNoRows)

	_, found, err := exec.PatchRow(context.Background(), svcTenant, "public", "productos",
		"id", "missing", []string{"nombre"}, []byte(`{"nombre":"y"}`))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteRow(t *testing.T) {
	exec, mock := newExecutorMock(t)

	mock.ExpectExec(`DELETE FROM "public"."productos" WHERE "id"::text = $1`).
		WithArgs("row-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := exec.DeleteRow(context.Background(), svcTenant, "public", "productos", "id", "row-1")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestDeleteRow_NoMatch(t *testing.T) {
	exec, mock := newExecutorMock(t)

	mock.ExpectExec(`DELETE FROM "public"."productos" WHERE "id"::text = $1`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := exec.DeleteRow(context.Background(), svcTenant, "public", "productos", "id", "missing")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestIntrospectTable(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mockDB.Close()
	db := database.NewWithDB(sqlx.NewDb(mockDB, "sqlmock"), logger.New("test", "test"))
	exec := NewExecutor(staticPool{db: db})

	mock.ExpectQuery(`FROM information_schema\.columns`).
		WithArgs("public", "productos").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "is_nullable", "data_type", "is_primary_key"}).
			AddRow("id", "NO", "uuid", true).
			AddRow("nombre", "YES", "text", false))

	schema, err := exec.IntrospectTable(context.Background(), svcTenant, "public", "productos")
	require.NoError(t, err)
	assert.Equal(t, "productos", schema.TableName)
	require.Len(t, schema.Columns, 2)
	assert.True(t, schema.Columns[0].PrimaryKey)
	assert.False(t, schema.Columns[0].Nullable)
	assert.True(t, schema.Columns[1].Nullable)

	pk, ok := schema.PrimaryKeyColumn()
	assert.True(t, ok)
	assert.Equal(t, "id", pk)
}

func TestIntrospectTable_UnknownTable(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mockDB.Close()
	db := database.NewWithDB(sqlx.NewDb(mockDB, "sqlmock"), logger.New("test", "test"))
	exec := NewExecutor(staticPool{db: db})

	mock.ExpectQuery(`FROM information_schema\.columns`).
		WithArgs("public", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "is_nullable", "data_type", "is_primary_key"}))

	_, err = exec.IntrospectTable(context.Background(), svcTenant, "public", "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
