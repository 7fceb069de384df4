package backing

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/sqlgen"
	"github.com/roach88/relstore/internal/store"
	"github.com/roach88/relstore/internal/testutil"
)

// Shared fixtures for the backing-store tests. Every test runs against a
// fresh SQLite database with the tables its mapping needs, plus an
// in-memory execution context (testutil.Context) standing in for the
// session.

type testOwner struct {
	Name string
}

type testWidget struct {
	Tag string
}

type testGadget struct {
	Tag string
}

func cols(names ...string) schema.ColumnMapping {
	m := schema.ColumnMapping{}
	for _, n := range names {
		m.Columns = append(m.Columns, schema.Column{Name: n})
	}
	return m
}

func nullableCols(names ...string) schema.ColumnMapping {
	m := cols(names...)
	m.Nullable = true
	return m
}

func ownerComponent() schema.Component {
	return schema.Component{
		TypeName: "Owner",
		GoType:   reflect.TypeOf(&testOwner{}),
		Table:    schema.Table{Name: "owners"},
		ID:       cols("id"),
	}
}

func widgetComponent() schema.Component {
	return schema.Component{
		TypeName: "Widget",
		GoType:   reflect.TypeOf(&testWidget{}),
		Table:    schema.Table{Name: "widgets"},
		ID:       cols("id"),
	}
}

func newBackingDB(t *testing.T, ddl ...string) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "backing_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for _, stmt := range ddl {
		require.NoError(t, db.Exec(context.Background(), stmt))
	}
	return db
}

func newEC(t *testing.T, db *store.DB, comps ...schema.Component) *testutil.Context {
	t.Helper()
	all := append([]schema.Component{ownerComponent()}, comps...)
	ec, err := testutil.NewContext(db, all, testutil.SequentialIdentity(testutil.NewSequenceClock()))
	require.NoError(t, err)
	return ec
}

func persistOwner(t *testing.T, ec *testutil.Context) *testOwner {
	t.Helper()
	owner := &testOwner{Name: "owner"}
	require.NoError(t, ec.PersistObject(context.Background(), owner))
	return owner
}

// rowCount counts rows of a table matching a WHERE clause, bypassing the
// stores, for asserting physical effects.
func rowCount(t *testing.T, db *store.DB, table, where string) int {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	stmt := sqlgen.Statement{SQL: "SELECT COUNT(*) FROM " + table + " WHERE " + where, ParamSlots: 0}
	rows, err := conn.Query(ctx, stmt)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var n int
	require.NoError(t, rows.Scan(&n))
	return n
}

func execRaw(t *testing.T, db *store.DB, sql string) {
	t.Helper()
	require.NoError(t, db.Exec(context.Background(), sql))
}

const (
	ownersDDL = "CREATE TABLE owners (id INTEGER PRIMARY KEY, name TEXT)"
)
