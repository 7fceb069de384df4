package testutil

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
	"github.com/roach88/relstore/internal/sqlgen"
	"github.com/roach88/relstore/internal/store"
)

func countStmt(where string) sqlgen.Statement {
	return sqlgen.Statement{SQL: "SELECT COUNT(*) FROM attachments WHERE " + where, ParamSlots: 0}
}

type attachment struct {
	Name string
}

func attachmentComponent(softDelete string) schema.Component {
	return schema.Component{
		TypeName: "Attachment",
		GoType:   reflect.TypeOf(&attachment{}),
		Table:    schema.Table{Name: "attachments", SoftDeleteColumn: softDelete},
		ID:       schema.ColumnMapping{Columns: []schema.Column{{Name: "id"}}},
	}
}

func newTestContext(t *testing.T, comp schema.Component) (*Context, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "ctx_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ddl := "CREATE TABLE attachments (id INTEGER PRIMARY KEY, owner_id INTEGER, name TEXT"
	if comp.Table.SoftDeleteColumn != "" {
		ddl += ", " + comp.Table.SoftDeleteColumn + " INTEGER NOT NULL DEFAULT 0"
	}
	ddl += ")"
	require.NoError(t, db.Exec(context.Background(), ddl))

	ec, err := NewContext(db, []schema.Component{comp}, SequentialIdentity(NewSequenceClock()))
	require.NoError(t, err)
	return ec, db
}

func countRows(t *testing.T, db *store.DB, where string) int {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	rows, err := conn.Query(ctx, countStmt(where))
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var n int
	require.NoError(t, rows.Scan(&n))
	return n
}

func TestContextPersistAssignsIdentity(t *testing.T) {
	ec, db := newTestContext(t, attachmentComponent(""))
	ctx := context.Background()

	obj := &attachment{Name: "a"}
	assert.False(t, ec.IsPersistent(obj))
	require.NoError(t, ec.PersistObject(ctx, obj))
	assert.True(t, ec.IsPersistent(obj))

	id, ok := ec.ObjectID(obj)
	require.True(t, ok)
	assert.Equal(t, session.ObjectID{int64(1)}, id)
	assert.Equal(t, 1, countRows(t, db, "id = 1"))

	// Persisting the same object twice is an invalid state.
	err := ec.PersistObject(ctx, obj)
	assert.True(t, session.IsInvalidState(err))
}

func TestContextPersistWithBoundFields(t *testing.T) {
	ec, db := newTestContext(t, attachmentComponent(""))
	ec.BindField("Attachment", "Owner", "owner_id")
	ec.BindField("Attachment", "Name", "name")
	ctx := context.Background()

	obj := &attachment{Name: "report"}
	require.NoError(t, ec.PersistObjectWithFields(ctx, obj, map[string]any{
		"Owner": int64(42),
		"Name":  "report",
	}))
	assert.Equal(t, 1, countRows(t, db, "owner_id = 42 AND name = 'report'"))
}

func TestContextReplaceFieldFlushes(t *testing.T) {
	ec, db := newTestContext(t, attachmentComponent(""))
	ec.BindField("Attachment", "Owner", "owner_id")
	ctx := context.Background()

	obj := &attachment{Name: "a"}
	require.NoError(t, ec.PersistObjectWithFields(ctx, obj, map[string]any{"Owner": int64(7)}))

	sm, ok := ec.FindStateManager(obj)
	require.True(t, ok)
	require.NoError(t, sm.ReplaceField("Owner", int64(9), true))
	assert.Equal(t, 1, countRows(t, db, "owner_id = 9"))

	v, err := sm.ProvideField("Owner")
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)

	// Nulling a bound field clears its columns.
	require.NoError(t, sm.ReplaceField("Owner", nil, true))
	assert.Equal(t, 1, countRows(t, db, "owner_id IS NULL"))
}

func TestContextReplaceFieldWithPersistentObject(t *testing.T) {
	ec, db := newTestContext(t, attachmentComponent(""))
	ec.BindField("Attachment", "Owner", "owner_id")
	ctx := context.Background()

	owner := &attachment{Name: "owner"}
	child := &attachment{Name: "child"}
	require.NoError(t, ec.PersistObject(ctx, owner))
	require.NoError(t, ec.PersistObject(ctx, child))

	sm, ok := ec.FindStateManager(child)
	require.True(t, ok)
	// A persistent object flushes as its identity column values.
	require.NoError(t, sm.ReplaceField("Owner", owner, true))
	assert.Equal(t, 1, countRows(t, db, "id = 2 AND owner_id = 1"))
}

func TestContextDeleteHard(t *testing.T) {
	ec, db := newTestContext(t, attachmentComponent(""))
	ctx := context.Background()

	obj := &attachment{Name: "a"}
	require.NoError(t, ec.PersistObject(ctx, obj))
	require.NoError(t, ec.DeleteObject(ctx, obj))
	assert.True(t, ec.IsDeleted(obj))
	assert.False(t, ec.IsPersistent(obj))
	assert.Equal(t, 0, countRows(t, db, "1 = 1"))

	// Deleting twice is a no-op.
	require.NoError(t, ec.DeleteObject(ctx, obj))
}

func TestContextDeleteSoft(t *testing.T) {
	ec, db := newTestContext(t, attachmentComponent("deleted"))
	ctx := context.Background()

	obj := &attachment{Name: "a"}
	require.NoError(t, ec.PersistObject(ctx, obj))
	require.NoError(t, ec.DeleteObject(ctx, obj))

	// The row survives with its soft-delete flag set.
	assert.Equal(t, 1, countRows(t, db, "deleted = 1"))
}

func TestContextDeleteUnmanaged(t *testing.T) {
	ec, _ := newTestContext(t, attachmentComponent(""))
	err := ec.DeleteObject(context.Background(), &attachment{})
	assert.True(t, session.IsInvalidState(err))
}

func TestContextFindObjectIdentityMap(t *testing.T) {
	ec, _ := newTestContext(t, attachmentComponent(""))
	ctx := context.Background()

	obj := &attachment{Name: "a"}
	require.NoError(t, ec.PersistObject(ctx, obj))

	found, err := ec.FindObject(ctx, "Attachment", session.ObjectID{int64(1)})
	require.NoError(t, err)
	assert.Same(t, obj, found)
}

func TestContextFindObjectMaterializes(t *testing.T) {
	comp := attachmentComponent("")
	ec, db := newTestContext(t, comp)
	ec.BindField("Attachment", "Owner", "owner_id")
	ctx := context.Background()

	require.NoError(t, db.Exec(ctx, "INSERT INTO attachments (id, owner_id, name) VALUES (5, 11, 'x')"))

	found, err := ec.FindObject(ctx, "Attachment", session.ObjectID{int64(5)})
	require.NoError(t, err)
	require.IsType(t, &attachment{}, found)
	assert.True(t, ec.IsPersistent(found))

	sm, ok := ec.FindStateManager(found)
	require.True(t, ok)
	v, err := sm.ProvideField("Owner")
	require.NoError(t, err)
	assert.Equal(t, int64(11), v)

	// A second lookup hits the identity map.
	again, err := ec.FindObject(ctx, "Attachment", session.ObjectID{int64(5)})
	require.NoError(t, err)
	assert.Same(t, found, again)
}

func TestContextFindObjectMissingRow(t *testing.T) {
	ec, _ := newTestContext(t, attachmentComponent(""))
	ec.BindField("Attachment", "Owner", "owner_id")

	_, err := ec.FindObject(context.Background(), "Attachment", session.ObjectID{int64(99)})
	assert.True(t, session.IsNotFound(err))
}

func TestContextPersistUnregisteredType(t *testing.T) {
	ec, _ := newTestContext(t, attachmentComponent(""))
	type other struct{ X int }
	err := ec.PersistObject(context.Background(), &other{})
	assert.True(t, session.IsValidation(err))
}

func TestContextSerializeRead(t *testing.T) {
	ec, _ := newTestContext(t, attachmentComponent(""))
	assert.False(t, ec.SerializeRead())
	ec.SetSerializeRead(true)
	assert.True(t, ec.SerializeRead())
}
