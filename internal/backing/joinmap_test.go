package backing

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
	"github.com/roach88/relstore/internal/testutil"
)

func attrsMapping() *schema.ContainerMapping {
	return &schema.ContainerMapping{
		FieldName: "Attrs",
		Kind:      schema.ContainerMap,
		Table:     schema.Table{Name: "owner_attrs"},
		Owner:     cols("owner_id"),
		Key:       &schema.ElementMapping{Kind: schema.KindEmbedded, Columns: cols("k")},
		Value:     &schema.ElementMapping{Kind: schema.KindEmbedded, Columns: cols("v")},
	}
}

func newAttrsFixture(t *testing.T) (*JoinMapStore, *testutil.Context, *testOwner) {
	t.Helper()
	db := newBackingDB(t, ownersDDL,
		"CREATE TABLE owner_attrs (owner_id INTEGER, k TEXT, v TEXT)")
	ec := newEC(t, db)
	s, err := NewJoinMapStore(db, schema.NewGeneration(), attrsMapping())
	require.NoError(t, err)
	return s, ec, persistOwner(t, ec)
}

func TestJoinMapPutAndGet(t *testing.T) {
	s, ec, owner := newAttrsFixture(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, ec, owner, "color", "red"))

	v, err := s.Get(ctx, ec, owner, "color")
	require.NoError(t, err)
	assert.Equal(t, "red", v)

	in, err := s.ContainsKey(ctx, ec, owner, "color")
	require.NoError(t, err)
	assert.True(t, in)
	in, err = s.ContainsKey(ctx, ec, owner, "shape")
	require.NoError(t, err)
	assert.False(t, in)

	_, err = s.Get(ctx, ec, owner, "shape")
	assert.True(t, session.IsNotFound(err))
}

func TestJoinMapPutUpdatesExistingKey(t *testing.T) {
	s, ec, owner := newAttrsFixture(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, ec, owner, "color", "red"))
	require.NoError(t, s.Put(ctx, ec, owner, "color", "blue"))

	n, err := s.Size(ctx, ec, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	v, err := s.Get(ctx, ec, owner, "color")
	require.NoError(t, err)
	assert.Equal(t, "blue", v)
}

func TestJoinMapRemove(t *testing.T) {
	s, ec, owner := newAttrsFixture(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, ec, owner, "color", "red"))

	require.NoError(t, s.Remove(ctx, ec, owner, "color"))
	in, err := s.ContainsKey(ctx, ec, owner, "color")
	require.NoError(t, err)
	assert.False(t, in)

	// Removing an absent key is not an error.
	require.NoError(t, s.Remove(ctx, ec, owner, "missing"))
}

func TestJoinMapPutAll(t *testing.T) {
	s, ec, owner := newAttrsFixture(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, ec, owner, "a", "1"))

	// Mixed batch: an update of an existing key, a new key, and a second
	// occurrence of the new key that must update, not duplicate.
	err := s.PutAll(ctx, ec, owner, []Entry{
		{Key: "a", Value: "10"},
		{Key: "b", Value: "2"},
		{Key: "b", Value: "20"},
	})
	require.NoError(t, err)

	n, err := s.Size(ctx, ec, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	v, err := s.Get(ctx, ec, owner, "a")
	require.NoError(t, err)
	assert.Equal(t, "10", v)
	v, err = s.Get(ctx, ec, owner, "b")
	require.NoError(t, err)
	assert.Equal(t, "20", v)
}

func TestJoinMapClearAndEntries(t *testing.T) {
	s, ec, owner := newAttrsFixture(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, ec, owner, "a", "1"))
	require.NoError(t, s.Put(ctx, ec, owner, "b", "2"))

	entries, err := s.Entries(ctx, ec, owner)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Entry{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}, entries)

	require.NoError(t, s.Clear(ctx, ec, owner))
	n, err := s.Size(ctx, ec, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestJoinMapValidation(t *testing.T) {
	s, ec, owner := newAttrsFixture(t)
	ctx := context.Background()

	err := s.Put(ctx, ec, owner, nil, "v")
	assert.True(t, session.IsValidation(err))
	err = s.Put(ctx, ec, owner, "k", nil)
	assert.True(t, session.IsValidation(err))
	err = s.Put(ctx, ec, &testOwner{Name: "transient"}, "k", "v")
	assert.True(t, session.IsValidation(err))
	_, err = s.Get(ctx, ec, owner, nil)
	assert.True(t, session.IsValidation(err))
}

func TestJoinMapAdapterColumn(t *testing.T) {
	db := newBackingDB(t, ownersDDL,
		"CREATE TABLE owner_blobs (owner_id INTEGER, k TEXT, v TEXT, adpt INTEGER)")
	ec := newEC(t, db)
	owner := persistOwner(t, ec)
	m := attrsMapping()
	m.Table = schema.Table{Name: "owner_blobs"}
	m.AdapterColumn = "adpt"
	s, err := NewJoinMapStore(db, schema.NewGeneration(), m)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, ec, owner, "a", "1"))
	require.NoError(t, s.Put(ctx, ec, owner, "b", "2"))
	require.NoError(t, s.Put(ctx, ec, owner, "c", "3"))

	// The surrogate sequence advances per owner via MAX+1.
	assert.Equal(t, 1, rowCount(t, db, "owner_blobs", "k = 'a' AND adpt = 1"))
	assert.Equal(t, 1, rowCount(t, db, "owner_blobs", "k = 'b' AND adpt = 2"))
	assert.Equal(t, 1, rowCount(t, db, "owner_blobs", "k = 'c' AND adpt = 3"))

	// Entries come back in adapter order.
	entries, err := s.Entries(ctx, ec, owner)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []Entry{
		{Key: "a", Value: "1"},
		{Key: "b", Value: "2"},
		{Key: "c", Value: "3"},
	}, entries)

	// Updating an existing key does not consume a new adapter value.
	require.NoError(t, s.Put(ctx, ec, owner, "b", "22"))
	assert.Equal(t, 1, rowCount(t, db, "owner_blobs", "k = 'b' AND adpt = 2"))
}

func TestJoinMapPutAllAdapterColumn(t *testing.T) {
	db := newBackingDB(t, ownersDDL,
		"CREATE TABLE owner_blobs (owner_id INTEGER, k TEXT, v TEXT, adpt INTEGER)")
	ec := newEC(t, db)
	owner := persistOwner(t, ec)
	m := attrsMapping()
	m.Table = schema.Table{Name: "owner_blobs"}
	m.AdapterColumn = "adpt"
	s, err := NewJoinMapStore(db, schema.NewGeneration(), m)
	require.NoError(t, err)
	ctx := context.Background()

	// Batched inserts take consecutive adapter values; the MAX+1 read
	// happens before any of them is visible, so each queued row must
	// advance the sequence itself.
	err = s.PutAll(ctx, ec, owner, []Entry{
		{Key: "a", Value: "1"},
		{Key: "b", Value: "2"},
		{Key: "c", Value: "3"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, rowCount(t, db, "owner_blobs", "k = 'a' AND adpt = 1"))
	assert.Equal(t, 1, rowCount(t, db, "owner_blobs", "k = 'b' AND adpt = 2"))
	assert.Equal(t, 1, rowCount(t, db, "owner_blobs", "k = 'c' AND adpt = 3"))

	// A later batch continues from the stored maximum.
	require.NoError(t, s.PutAll(ctx, ec, owner, []Entry{
		{Key: "d", Value: "4"},
		{Key: "e", Value: "5"},
	}))
	assert.Equal(t, 1, rowCount(t, db, "owner_blobs", "k = 'd' AND adpt = 4"))
	assert.Equal(t, 1, rowCount(t, db, "owner_blobs", "k = 'e' AND adpt = 5"))

	entries, err := s.Entries(ctx, ec, owner)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Key: "a", Value: "1"},
		{Key: "b", Value: "2"},
		{Key: "c", Value: "3"},
		{Key: "d", Value: "4"},
		{Key: "e", Value: "5"},
	}, entries)
}

func TestJoinMapSerializedKey(t *testing.T) {
	db := newBackingDB(t, ownersDDL,
		"CREATE TABLE owner_props (owner_id INTEGER, k TEXT, v TEXT)")
	ec := newEC(t, db)
	owner := persistOwner(t, ec)
	m := attrsMapping()
	m.Table = schema.Table{Name: "owner_props"}
	m.Key = &schema.ElementMapping{Kind: schema.KindSerialized, Columns: cols("k")}
	s, err := NewJoinMapStore(db, schema.NewGeneration(), m)
	require.NoError(t, err)
	ctx := context.Background()

	key := map[string]any{"ns": "core", "id": int64(7)}
	require.NoError(t, s.Put(ctx, ec, owner, key, "v1"))

	// A structurally equal key in a fresh instance matches via the
	// canonical serialized text.
	v, err := s.Get(ctx, ec, owner, map[string]any{"id": int64(7), "ns": "core"})
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	entries, err := s.Entries(ctx, ec, owner)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]any{"ns": "core", "id": int64(7)}, entries[0].Key)
}

func docComponent() schema.Component {
	return schema.Component{
		TypeName: "Doc",
		GoType:   reflect.TypeOf(&testDoc{}),
		Table:    schema.Table{Name: "docs"},
		ID:       cols("id"),
	}
}

type testDoc struct{ Title string }

func newDocsMapFixture(t *testing.T) (*JoinMapStore, *testutil.Context, *testOwner) {
	t.Helper()
	db := newBackingDB(t, ownersDDL,
		"CREATE TABLE docs (id INTEGER PRIMARY KEY, title TEXT)",
		"CREATE TABLE owner_docs (owner_id INTEGER, k TEXT, doc_id INTEGER)")
	ec := newEC(t, db, docComponent())
	m := &schema.ContainerMapping{
		FieldName:       "Docs",
		Kind:            schema.ContainerMap,
		Table:           schema.Table{Name: "owner_docs"},
		Owner:           cols("owner_id"),
		Key:             &schema.ElementMapping{Kind: schema.KindEmbedded, Columns: cols("k")},
		Value:           &schema.ElementMapping{Kind: schema.KindReference, Columns: cols("doc_id")},
		ValueComponents: []schema.Component{docComponent()},
		DependentValue:  true,
	}
	s, err := NewJoinMapStore(db, schema.NewGeneration(), m)
	require.NoError(t, err)
	return s, ec, persistOwner(t, ec)
}

func TestJoinMapDependentValueReplacement(t *testing.T) {
	s, ec, owner := newDocsMapFixture(t)
	ctx := context.Background()

	d1 := &testDoc{Title: "v1"}
	d2 := &testDoc{Title: "v2"}
	require.NoError(t, s.Put(ctx, ec, owner, "doc", d1))
	assert.True(t, ec.IsPersistent(d1))

	// Re-putting the same value object must not delete it.
	require.NoError(t, s.Put(ctx, ec, owner, "doc", d1))
	assert.False(t, ec.IsDeleted(d1))

	// Replacing the value deletes the displaced dependent object.
	require.NoError(t, s.Put(ctx, ec, owner, "doc", d2))
	assert.True(t, ec.IsDeleted(d1))
	assert.Equal(t, 1, rowCount(t, s.db, "docs", "1 = 1"))

	got, err := s.Get(ctx, ec, owner, "doc")
	require.NoError(t, err)
	assert.Same(t, d2, got)
}

func TestJoinMapDependentValueRemove(t *testing.T) {
	s, ec, owner := newDocsMapFixture(t)
	ctx := context.Background()
	d := &testDoc{Title: "v"}
	require.NoError(t, s.Put(ctx, ec, owner, "doc", d))

	require.NoError(t, s.Remove(ctx, ec, owner, "doc"))
	assert.True(t, ec.IsDeleted(d))
	assert.Equal(t, 0, rowCount(t, s.db, "owner_docs", "1 = 1"))
	assert.Equal(t, 0, rowCount(t, s.db, "docs", "1 = 1"))
}

func TestJoinMapDependentValueClear(t *testing.T) {
	s, ec, owner := newDocsMapFixture(t)
	ctx := context.Background()
	d1 := &testDoc{Title: "a"}
	d2 := &testDoc{Title: "b"}
	require.NoError(t, s.Put(ctx, ec, owner, "a", d1))
	require.NoError(t, s.Put(ctx, ec, owner, "b", d2))

	require.NoError(t, s.Clear(ctx, ec, owner))
	assert.True(t, ec.IsDeleted(d1))
	assert.True(t, ec.IsDeleted(d2))
	assert.Equal(t, 0, rowCount(t, s.db, "docs", "1 = 1"))
}

func TestJoinMapRelationDiscriminator(t *testing.T) {
	db := newBackingDB(t, ownersDDL,
		"CREATE TABLE shared_attrs (owner_id INTEGER, k TEXT, v TEXT, relation TEXT)")
	ec := newEC(t, db)
	owner := persistOwner(t, ec)
	m := attrsMapping()
	m.Table = schema.Table{Name: "shared_attrs"}
	m.RelationDiscriminator = &schema.RelationDiscriminator{
		Column: schema.Column{Name: "relation"},
		Value:  "attrs",
	}
	s, err := NewJoinMapStore(db, schema.NewGeneration(), m)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, ec, owner, "a", "1"))
	execRaw(t, db, "INSERT INTO shared_attrs (owner_id, k, v, relation) VALUES (1, 'a', 'x', 'other')")

	n, err := s.Size(ctx, ec, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	v, err := s.Get(ctx, ec, owner, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, s.Clear(ctx, ec, owner))
	assert.Equal(t, 1, rowCount(t, db, "shared_attrs", "relation = 'other'"))
	assert.Equal(t, 0, rowCount(t, db, "shared_attrs", "relation = 'attrs'"))
}

func TestNewJoinMapStoreRejectsPolymorphicValueSide(t *testing.T) {
	db := newBackingDB(t, ownersDDL)
	gadget := docComponent()
	gadget.TypeName = "Gadget"
	gadget.GoType = reflect.TypeOf(&testGadget{})
	gadget.Table = schema.Table{Name: "gadgets"}
	m := &schema.ContainerMapping{
		FieldName:       "Docs",
		Kind:            schema.ContainerMap,
		Table:           schema.Table{Name: "owner_docs"},
		Owner:           cols("owner_id"),
		Key:             &schema.ElementMapping{Kind: schema.KindEmbedded, Columns: cols("k")},
		Value:           &schema.ElementMapping{Kind: schema.KindReference, Columns: cols("doc_id")},
		ValueComponents: []schema.Component{docComponent(), gadget},
	}
	_, err := NewJoinMapStore(db, schema.NewGeneration(), m)
	require.Error(t, err)
	assert.True(t, session.IsValidation(err))
	assert.Contains(t, err.Error(), "exactly one component")
}

func TestNewJoinMapStoreRejectsForeignKeyMapping(t *testing.T) {
	db := newBackingDB(t, ownersDDL)
	m := fkAttachmentsMapping(fkAttachmentComponent(true), false)
	_, err := NewJoinMapStore(db, schema.NewGeneration(), m)
	assert.True(t, session.IsValidation(err))
}
