package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckgate/internal/domain"
	"duckgate/internal/storage"
)

func openHandle(t *testing.T, o *DuckDBOpener, kind domain.SessionKind) domain.EngineHandle {
	t.Helper()
	h, err := o.Open(context.Background(), kind)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestDuckDB_SelectOne(t *testing.T) {
	t.Parallel()
	o := NewDuckDBOpener(nil, Settings{}, nil)
	h := openHandle(t, o, domain.MemoryKind())

	rs, err := h.Execute(context.Background(), "SELECT 1 AS one, 'duck' AS name, NULL::VARCHAR AS missing")
	require.NoError(t, err)
	require.Len(t, rs.Columns, 3)
	assert.Equal(t, "one", rs.Columns[0].Name)
	assert.Equal(t, "INTEGER", rs.Columns[0].Type)
	assert.Equal(t, "VARCHAR", rs.Columns[1].Type)
	require.Len(t, rs.Rows, 1)
	assert.EqualValues(t, 1, rs.Rows[0][0])
	assert.Equal(t, "duck", rs.Rows[0][1])
	assert.Nil(t, rs.Rows[0][2])
}

func TestDuckDB_EmptyResultHasColumns(t *testing.T) {
	t.Parallel()
	o := NewDuckDBOpener(nil, Settings{}, nil)
	h := openHandle(t, o, domain.MemoryKind())

	rs, err := h.Execute(context.Background(), "SELECT 42 AS answer WHERE false")
	require.NoError(t, err)
	require.Len(t, rs.Columns, 1)
	assert.NotNil(t, rs.Rows)
	assert.Empty(t, rs.Rows)
}

func TestDuckDB_MemorySessionsAreIsolated(t *testing.T) {
	t.Parallel()
	o := NewDuckDBOpener(nil, Settings{}, nil)
	a := openHandle(t, o, domain.MemoryKind())
	b := openHandle(t, o, domain.MemoryKind())
	ctx := context.Background()

	_, err := a.Execute(ctx, "CREATE TABLE t AS SELECT range AS id FROM range(3)")
	require.NoError(t, err)
	rs, err := a.Execute(ctx, "SELECT count(*) FROM t")
	require.NoError(t, err)
	assert.EqualValues(t, 3, rs.Rows[0][0])

	_, err = b.Execute(ctx, "SELECT count(*) FROM t")
	require.Error(t, err)
}

func TestDuckDB_StatePersistsAcrossStatements(t *testing.T) {
	t.Parallel()
	o := NewDuckDBOpener(nil, Settings{}, nil)
	h := openHandle(t, o, domain.MemoryKind())
	ctx := context.Background()

	_, err := h.Execute(ctx, "CREATE TEMP TABLE scratch (v INTEGER)")
	require.NoError(t, err)
	_, err = h.Execute(ctx, "INSERT INTO scratch VALUES (1), (2)")
	require.NoError(t, err)
	rs, err := h.Execute(ctx, "SELECT sum(v) FROM scratch")
	require.NoError(t, err)
	assert.EqualValues(t, 3, rs.Rows[0][0])
}

func TestDuckDB_PersistentLocalSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	o := NewDuckDBOpener(storage.NewResolver(storage.Config{DataDir: dir}), Settings{}, nil)
	ctx := context.Background()

	h, err := o.Open(ctx, domain.PersistentKind("warehouse/main"))
	require.NoError(t, err)
	_, err = h.Execute(ctx, "CREATE TABLE orders AS SELECT range AS id FROM range(5)")
	require.NoError(t, err)
	require.NoError(t, h.Close())
	assert.FileExists(t, filepath.Join(dir, "warehouse", "main.db"))

	h2, err := o.Open(ctx, domain.PersistentKind("warehouse/main"))
	require.NoError(t, err)
	defer h2.Close() //nolint:errcheck
	rs, err := h2.Execute(ctx, "SELECT count(*) FROM orders")
	require.NoError(t, err)
	assert.EqualValues(t, 5, rs.Rows[0][0])
}

func TestDuckDB_PersistentWithoutResolver(t *testing.T) {
	t.Parallel()
	o := NewDuckDBOpener(nil, Settings{}, nil)
	_, err := o.Open(context.Background(), domain.PersistentKind("x.db"))
	require.Error(t, err)
}

func TestDuckDB_TempSession(t *testing.T) {
	t.Parallel()
	o := NewDuckDBOpener(storage.NewResolver(storage.Config{}), Settings{}, nil)
	h := openHandle(t, o, domain.PersistentKind("temp:scratch"))

	_, err := h.Execute(context.Background(), "CREATE TABLE t (x INTEGER)")
	require.NoError(t, err)
}

func TestDuckDB_SettingsApplied(t *testing.T) {
	t.Parallel()
	o := NewDuckDBOpener(nil, Settings{Threads: 2, MaxMemory: "512MB"}, nil)
	h := openHandle(t, o, domain.MemoryKind())

	rs, err := h.Execute(context.Background(), "SELECT current_setting('threads')")
	require.NoError(t, err)
	assert.EqualValues(t, 2, rs.Rows[0][0])
}

func TestDuckDB_ExecuteHonoursCanceledContext(t *testing.T) {
	t.Parallel()
	o := NewDuckDBOpener(nil, Settings{}, nil)
	h := openHandle(t, o, domain.MemoryKind())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Execute(ctx, "SELECT 1")
	require.Error(t, err)
}

func TestDuckDB_CloseIsIdempotentOnHandle(t *testing.T) {
	t.Parallel()
	o := NewDuckDBOpener(nil, Settings{}, nil)
	h, err := o.Open(context.Background(), domain.MemoryKind())
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	_, err = h.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
}

func TestIsWriteStatement(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", false},
		{"  insert into t values (1)", true},
		{"CREATE TABLE x (a INT)", true},
		{"(SELECT 1)", false},
		{"drop table x", true},
		{"COPY t TO 'x.csv'", true},
		{"", false},
		{"WITH x AS (SELECT 1) SELECT * FROM x", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, IsWriteStatement(tc.sql), tc.sql)
	}
}
