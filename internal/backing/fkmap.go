package backing

import (
	"context"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
	"github.com/roach88/relstore/internal/sqlgen"
	"github.com/roach88/relstore/internal/store"
)

// FKMapStore persists a map without a join table: exactly one side of the
// map (key or value) is a reference whose own table carries a foreign key
// back to the owner plus columns for the other side.
//
// The association is therefore owned by the referenced object. Mutations go
// through its state manager - the store updates fields, the session writes
// the row - so the object's cached state never goes stale.
type FKMapStore struct {
	*baseMapStore

	// ref is the side stored in its own table; keySide reports whether that
	// side is the key. other is the counterpart, embedded or serialized in
	// ref's table.
	ref     *schema.ElementMapping
	keySide bool
	other   *schema.ElementMapping
	refReg  *schema.Registry
}

// NewFKMapStore builds the foreign-key backing store for a map field.
func NewFKMapStore(db *store.DB, gen *schema.Generation, m *schema.ContainerMapping) (*FKMapStore, error) {
	base, err := newBaseMapStore(db, gen, m)
	if err != nil {
		return nil, err
	}
	ref, keySide := m.ReferencedMapping()
	if ref == nil {
		return nil, session.NewValidationError(
			"map mapping for %q uses a join table; use JoinMapStore", m.FieldName)
	}
	s := &FKMapStore{
		baseMapStore: base,
		ref:          ref,
		keySide:      keySide,
	}
	if keySide {
		s.refReg = base.keyReg
		s.other = m.Value
	} else {
		s.refReg = base.valueReg
		s.other = m.Key
	}
	return s, nil
}

// refObject returns the referenced side of a (key, value) pair.
func (s *FKMapStore) refObject(key, value any) any {
	if s.keySide {
		return key
	}
	return value
}

// otherObject returns the embedded side of a (key, value) pair.
func (s *FKMapStore) otherObject(key, value any) any {
	if s.keySide {
		return value
	}
	return key
}

// otherField names the managed field a ref component stores the embedded
// side in.
func (s *FKMapStore) otherField(comp *schema.Component) string {
	if s.keySide {
		return comp.ValueField
	}
	return comp.KeyField
}

// dependentRef reports whether removing an entry must delete the
// referenced object.
func (s *FKMapStore) dependentRef() bool {
	if s.keySide {
		return s.m.DependentKey
	}
	return s.m.DependentValue
}

// refPredicates restricts a query on one ref component's table to the
// owner's entries. Parameter order: owner, then discriminator value when
// the table is shared.
func (s *FKMapStore) refPredicates(comp *schema.Component) []sqlgen.Predicate {
	preds := ownerPredicates(comp.OwnerFK.Names())
	if comp.Discriminator != nil {
		preds = append(preds, sqlgen.Eq{Column: comp.Discriminator.Column.Name})
	}
	if comp.Table.SoftDeleteColumn != "" {
		preds = append(preds, sqlgen.NotSoftDeleted{Column: comp.Table.SoftDeleteColumn})
	}
	return preds
}

func (s *FKMapStore) refParams(comp *schema.Component, ownerVals []any) []any {
	params := append([]any{}, ownerVals...)
	if comp.Discriminator != nil {
		params = append(params, comp.Discriminator.ValueFor[comp.TypeName])
	}
	return params
}

// Put associates key with value. The referenced object's state manager
// receives the owner FK field and the counterpart field; a transient
// reference is persisted with both fields preset so the insert carries the
// association.
//
// When the key already maps to a different referenced object, the old one
// is detached or deleted under the same rules as Remove.
func (s *FKMapStore) Put(ctx context.Context, ec session.ExecutionContext, owner, key, value any) error {
	if err := s.validateKey(key); err != nil {
		return err
	}
	if err := s.validateValue(value); err != nil {
		return err
	}
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return err
	}

	ref := s.refObject(key, value)
	other := s.otherObject(key, value)
	comp, err := resolveMappedComponent(s.m.FieldName, s.ref, s.refReg, ref)
	if err != nil {
		return err
	}

	// Value-side maps can already hold a row for this key; that row's
	// object is displaced by the new value.
	if !s.keySide {
		old, found, err := s.lookupValueObject(ctx, ec, ownerVals, key)
		if err != nil {
			return err
		}
		if found && old != ref {
			if err := s.detachRef(ctx, ec, old); err != nil {
				return err
			}
		}
	}

	if !ec.IsPersistent(ref) {
		fields := map[string]any{
			comp.OwnerField:    owner,
			s.otherField(comp): other,
		}
		return ec.PersistObjectWithFields(ctx, ref, fields)
	}
	sm, ok := ec.FindStateManager(ref)
	if !ok {
		return session.NewInvalidStateError(
			"no state manager for referenced object in map field %q", s.m.FieldName)
	}
	if err := sm.ReplaceField(comp.OwnerField, owner, true); err != nil {
		return err
	}
	return sm.ReplaceField(s.otherField(comp), other, true)
}

// PutAll applies every entry through Put, in caller order.
func (s *FKMapStore) PutAll(ctx context.Context, ec session.ExecutionContext, owner any, entries []Entry) error {
	for _, e := range entries {
		if err := s.Put(ctx, ec, owner, e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// lookupValueObject finds the value object stored under a key in a
// value-side map by selecting its identity from the component tables.
func (s *FKMapStore) lookupValueObject(ctx context.Context, ec session.ExecutionContext, ownerVals []any, key any) (any, bool, error) {
	_, keyVals, err := s.bindKey(ctx, ec, key)
	if err != nil {
		return nil, false, err
	}
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, false, session.NewDatastoreError("", err)
	}
	defer conn.Release()

	for _, comp := range s.refReg.Components() {
		stmt := s.valueLookupStatement(comp)
		params := append(s.refParams(comp, ownerVals), keyVals...)
		rows, err := conn.Query(ctx, stmt, params...)
		if err != nil {
			return nil, false, session.NewDatastoreError(stmt.SQL, err)
		}
		id, found, err := scanOneID(rows, comp.ID.Width())
		if err != nil {
			return nil, false, session.NewDatastoreError(stmt.SQL, err)
		}
		if !found {
			continue
		}
		obj, err := ec.FindObject(ctx, comp.TypeName, id)
		if err != nil {
			return nil, false, err
		}
		return obj, true, nil
	}
	return nil, false, nil
}

func (s *FKMapStore) valueLookupStatement(comp *schema.Component) sqlgen.Statement {
	key := "fklookup:" + comp.TypeName
	if stmt, ok := s.cache.Get(key); ok {
		return stmt
	}
	preds := append(s.refPredicates(comp), keyColumnPredicates(s.m.Key)...)
	stmt := sqlgen.NewSelect(comp.Table.Name, comp.ID.Names()...).
		Where(preds...).
		Build()
	s.cache.Add(key, stmt)
	return stmt
}

// keyColumnPredicates matches the key columns stored in the ref table.
func keyColumnPredicates(key *schema.ElementMapping) []sqlgen.Predicate {
	if key.Kind == schema.KindSerialized {
		return []sqlgen.Predicate{sqlgen.Like{Column: key.Columns.Columns[0].Name}}
	}
	return sqlgen.EqAll(key.Columns.Names())
}

// scanOneID reads at most one identity row and closes the result set.
func scanOneID(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close() error
}, width int) (session.ObjectID, bool, error) {
	defer rows.Close()
	if !rows.Next() {
		return nil, false, rows.Err()
	}
	id := make(session.ObjectID, width)
	ptrs := make([]any, width)
	for i := range id {
		ptrs[i] = &id[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, false, err
	}
	return id, true, nil
}

// Get returns the value for a key.
//
// Key-side maps read the value straight off the key object's managed
// field. Value-side maps locate the value object by owner and key columns.
func (s *FKMapStore) Get(ctx context.Context, ec session.ExecutionContext, owner, key any) (any, error) {
	if err := s.validateKey(key); err != nil {
		return nil, err
	}
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return nil, err
	}

	if s.keySide {
		if !ec.IsPersistent(key) {
			return nil, session.NewNotFoundError("no entry for key in map field %q", s.m.FieldName)
		}
		in, err := s.ContainsKey(ctx, ec, owner, key)
		if err != nil {
			return nil, err
		}
		if !in {
			return nil, session.NewNotFoundError("no entry for key in map field %q", s.m.FieldName)
		}
		comp, err := resolveMappedComponent(s.m.FieldName, s.ref, s.refReg, key)
		if err != nil {
			return nil, err
		}
		sm, ok := ec.FindStateManager(key)
		if !ok {
			return nil, session.NewInvalidStateError(
				"no state manager for key object in map field %q", s.m.FieldName)
		}
		return sm.ProvideField(comp.ValueField)
	}

	obj, found, err := s.lookupValueObject(ctx, ec, ownerVals, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, session.NewNotFoundError("no entry for key in map field %q", s.m.FieldName)
	}
	return obj, nil
}

// ContainsKey reports whether the owner's map holds the key.
func (s *FKMapStore) ContainsKey(ctx context.Context, ec session.ExecutionContext, owner, key any) (bool, error) {
	if err := s.validateKey(key); err != nil {
		return false, err
	}
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return false, err
	}

	if s.keySide {
		// The key is the referenced object: membership means its row in
		// the component table carries this owner's foreign key.
		if !ec.IsPersistent(key) {
			return false, nil
		}
		comp, err := resolveMappedComponent(s.m.FieldName, s.ref, s.refReg, key)
		if err != nil {
			return false, err
		}
		id, ok := ec.ObjectID(key)
		if !ok {
			return false, nil
		}
		stmt := s.keyMembershipStatement(comp)
		params := append(s.refParams(comp, ownerVals), []any(id)...)

		conn, err := s.db.Acquire(ctx)
		if err != nil {
			return false, session.NewDatastoreError(stmt.SQL, err)
		}
		defer conn.Release()

		rows, err := conn.Query(ctx, stmt, params...)
		if err != nil {
			return false, session.NewDatastoreError(stmt.SQL, err)
		}
		_, found, err := scanOneID(rows, comp.ID.Width())
		if err != nil {
			return false, session.NewDatastoreError(stmt.SQL, err)
		}
		return found, nil
	}

	_, found, err := s.lookupValueObject(ctx, ec, ownerVals, key)
	return found, err
}

func (s *FKMapStore) keyMembershipStatement(comp *schema.Component) sqlgen.Statement {
	key := "fkmember:" + comp.TypeName
	if stmt, ok := s.cache.Get(key); ok {
		return stmt
	}
	preds := append(s.refPredicates(comp), sqlgen.EqAll(comp.ID.Names())...)
	stmt := sqlgen.NewSelect(comp.Table.Name, comp.ID.Names()...).
		Where(preds...).
		Build()
	s.cache.Add(key, stmt)
	return stmt
}

// Size sums the owner's rows across the ref component tables.
func (s *FKMapStore) Size(ctx context.Context, ec session.ExecutionContext, owner any) (int, error) {
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return 0, err
	}
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return 0, session.NewDatastoreError("", err)
	}
	defer conn.Release()

	total := 0
	for _, comp := range s.refReg.Components() {
		key := "fksize:" + comp.TypeName
		stmt, ok := s.cache.Get(key)
		if !ok {
			stmt = sqlgen.NewCount(comp.Table.Name).
				Where(s.refPredicates(comp)...).
				Build()
			s.cache.Add(key, stmt)
		}
		rows, err := conn.Query(ctx, stmt, s.refParams(comp, ownerVals)...)
		if err != nil {
			return 0, session.NewDatastoreError(stmt.SQL, err)
		}
		n, err := scanCount(rows)
		if err != nil {
			return 0, session.NewDatastoreError(stmt.SQL, err)
		}
		total += n
	}
	return total, nil
}

func scanCount(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close() error
}) (int, error) {
	defer rows.Close()
	if !rows.Next() {
		return 0, rows.Err()
	}
	var n int
	if err := rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Remove removes the key's entry by detaching or deleting the referenced
// object.
func (s *FKMapStore) Remove(ctx context.Context, ec session.ExecutionContext, owner, key any) error {
	if err := s.validateKey(key); err != nil {
		return err
	}
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return err
	}

	var ref any
	if s.keySide {
		in, err := s.ContainsKey(ctx, ec, owner, key)
		if err != nil {
			return err
		}
		if !in {
			return nil
		}
		ref = key
	} else {
		obj, found, err := s.lookupValueObject(ctx, ec, ownerVals, key)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		ref = obj
	}
	return s.detachRef(ctx, ec, ref)
}

// detachRef severs one referenced object from the owner.
//
// Dependent references are deleted. Otherwise a nullable foreign key is
// nulled along with the counterpart field, and a non-nullable one forces
// deletion since the row cannot represent "no owner".
func (s *FKMapStore) detachRef(ctx context.Context, ec session.ExecutionContext, ref any) error {
	if ref == nil || ec.IsDeleted(ref) {
		return nil
	}
	comp, err := resolveMappedComponent(s.m.FieldName, s.ref, s.refReg, ref)
	if err != nil {
		return err
	}
	if s.dependentRef() || !comp.OwnerFK.Nullable {
		return ec.DeleteObject(ctx, ref)
	}
	sm, ok := ec.FindStateManager(ref)
	if !ok {
		return session.NewInvalidStateError(
			"no state manager for referenced object in map field %q", s.m.FieldName)
	}
	if err := sm.ReplaceField(comp.OwnerField, nil, true); err != nil {
		return err
	}
	return sm.ReplaceField(s.otherField(comp), nil, true)
}

// Clear detaches or deletes every referenced object of the owner's map.
func (s *FKMapStore) Clear(ctx context.Context, ec session.ExecutionContext, owner any) error {
	refs, err := s.refObjects(ctx, ec, owner)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := s.detachRef(ctx, ec, ref); err != nil {
			return err
		}
	}
	return nil
}

// refObjects materializes every referenced object belonging to the owner.
func (s *FKMapStore) refObjects(ctx context.Context, ec session.ExecutionContext, owner any) ([]any, error) {
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return nil, err
	}
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, session.NewDatastoreError("", err)
	}
	defer conn.Release()

	var out []any
	for _, comp := range s.refReg.Components() {
		ids, err := s.queryIDs(ctx, conn, comp, ownerVals)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			obj, err := ec.FindObject(ctx, comp.TypeName, id)
			if err != nil {
				return nil, err
			}
			out = append(out, obj)
		}
	}
	return out, nil
}

func (s *FKMapStore) queryIDs(ctx context.Context, conn *store.Conn, comp *schema.Component, ownerVals []any) ([]session.ObjectID, error) {
	key := "fkids:" + comp.TypeName
	stmt, ok := s.cache.Get(key)
	if !ok {
		stmt = sqlgen.NewSelect(comp.Table.Name, comp.ID.Names()...).
			Where(s.refPredicates(comp)...).
			Build()
		s.cache.Add(key, stmt)
	}
	rows, err := conn.Query(ctx, stmt, s.refParams(comp, ownerVals)...)
	if err != nil {
		return nil, session.NewDatastoreError(stmt.SQL, err)
	}
	defer rows.Close()

	width := comp.ID.Width()
	var ids []session.ObjectID
	for rows.Next() {
		id := make(session.ObjectID, width)
		ptrs := make([]any, width)
		for i := range id {
			ptrs[i] = &id[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, session.NewDatastoreError(stmt.SQL, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, session.NewDatastoreError(stmt.SQL, err)
	}
	return ids, nil
}

// Entries materializes every entry of the owner's map. The referenced side
// comes from the session by identity; the embedded side is read through
// the referenced object's managed field.
func (s *FKMapStore) Entries(ctx context.Context, ec session.ExecutionContext, owner any) ([]Entry, error) {
	refs, err := s.refObjects(ctx, ec, owner)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(refs))
	for _, ref := range refs {
		comp, err := resolveMappedComponent(s.m.FieldName, s.ref, s.refReg, ref)
		if err != nil {
			return nil, err
		}
		sm, ok := ec.FindStateManager(ref)
		if !ok {
			return nil, session.NewInvalidStateError(
				"no state manager for referenced object in map field %q", s.m.FieldName)
		}
		other, err := sm.ProvideField(s.otherField(comp))
		if err != nil {
			return nil, err
		}
		if s.keySide {
			entries = append(entries, Entry{Key: ref, Value: other})
		} else {
			entries = append(entries, Entry{Key: other, Value: ref})
		}
	}
	return entries, nil
}
