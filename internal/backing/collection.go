package backing

import (
	"context"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
	"github.com/roach88/relstore/internal/sqlgen"
	"github.com/roach88/relstore/internal/store"
)

// CollectionStore is the backing store for set-like container fields. It
// layers contains/add/remove/update on ElementContainerStore.
type CollectionStore struct {
	*ElementContainerStore
}

// NewCollectionStore builds the backing store for a collection field.
func NewCollectionStore(db *store.DB, gen *schema.Generation, m *schema.ContainerMapping) (*CollectionStore, error) {
	if m.Kind != schema.ContainerCollection && m.Kind != schema.ContainerList {
		return nil, session.NewValidationError("mapping for %q is %s, not a collection", m.FieldName, m.Kind)
	}
	base, err := newElementContainerStore(db, gen, m)
	if err != nil {
		return nil, err
	}
	return &CollectionStore{ElementContainerStore: base}, nil
}

// Contains reports whether the owner's collection holds the element.
//
// Type and identity compatibility are validated first, in memory - an
// unregistered concrete type fails before any SQL is issued. Serialized
// elements match with LIKE since their stored form is not
// equality-efficient.
func (s *CollectionStore) Contains(ctx context.Context, ec session.ExecutionContext, owner, element any) (bool, error) {
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return false, err
	}
	em := s.elementMapping()
	comp, err := s.resolveComponent(em, element)
	if err != nil {
		return false, err
	}
	if em.Kind == schema.KindReference && !ec.IsPersistent(element) {
		// A transient element cannot be in the datastore.
		return false, nil
	}

	stmt, params, err := s.containsQuery(ctx, ec, em, comp, ownerVals, element)
	if err != nil {
		return false, err
	}

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return false, session.NewDatastoreError(stmt.SQL, err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, stmt, params...)
	if err != nil {
		return false, session.NewDatastoreError(stmt.SQL, err)
	}
	defer rows.Close()

	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, session.NewDatastoreError(stmt.SQL, err)
	}
	return found, nil
}

// containsQuery renders the presence check for one element and assembles
// its parameters.
func (s *CollectionStore) containsQuery(ctx context.Context, ec session.ExecutionContext, em *schema.ElementMapping, comp *schema.Component, ownerVals []any, element any) (sqlgen.Statement, []any, error) {
	_, elemVals, err := s.elementParams(ctx, ec, em, element)
	if err != nil {
		return sqlgen.Statement{}, nil, err
	}

	if em.Kind == schema.KindReference && !s.m.UsesJoinTable() {
		// FK strategy: the presence check runs against the element's own
		// table.
		key := "contains:" + comp.TypeName
		stmt, ok := s.cache.Get(key)
		if !ok {
			b := sqlgen.NewSelect(comp.Table.Name, comp.ID.Names()...).
				Where(ownerPredicates(comp.OwnerFK.Names())...).
				Where(sqlgen.EqAll(comp.ID.Names())...)
			if comp.Discriminator != nil {
				b.Where(sqlgen.Eq{Column: comp.Discriminator.Column.Name})
			}
			stmt = b.ForUpdate(ec.SerializeRead()).Build()
			if !ec.SerializeRead() {
				s.cache.Add(key, stmt)
			}
		}
		params := append(append([]any{}, ownerVals...), elemVals...)
		if comp.Discriminator != nil {
			params = append(params, comp.Discriminator.ValueFor[comp.TypeName])
		}
		return stmt, params, nil
	}

	// Join table or embedded/serialized: check the container table.
	var elemPreds []sqlgen.Predicate
	if em.Kind == schema.KindSerialized {
		elemPreds = []sqlgen.Predicate{sqlgen.Like{Column: em.Columns.Columns[0].Name}}
	} else {
		elemPreds = sqlgen.EqAll(em.Columns.Names())
	}
	key := "contains"
	if em.Kind == schema.KindSerialized {
		key = "contains:like"
	}
	stmt, ok := s.cache.Get(key)
	if !ok {
		b := sqlgen.NewSelect(s.m.Table.Name, s.m.Owner.Names()...).
			Where(ownerPredicates(s.m.Owner.Names())...).
			Where(elemPreds...)
		if s.m.Order != nil {
			b.Where(sqlgen.GreaterEq{Column: s.m.Order.Column.Name, Bound: 0})
		}
		if p := s.relDiscrimPredicate(); p != nil {
			b.Where(p)
		}
		stmt = b.ForUpdate(ec.SerializeRead()).Build()
		if !ec.SerializeRead() {
			s.cache.Add(key, stmt)
		}
	}
	params := append(append([]any{}, ownerVals...), elemVals...)
	params = append(params, s.relDiscrimParams()...)
	return stmt, params, nil
}

// Add inserts one element into the owner's collection. Join-table
// containers insert an association row; foreign-key containers write the
// owner link through the element's state manager, or persist the element
// with the link pre-set.
func (s *CollectionStore) Add(ctx context.Context, ec session.ExecutionContext, owner, element any) error {
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return err
	}
	em := s.elementMapping()
	comp, err := s.resolveComponent(em, element)
	if err != nil {
		return err
	}

	if em.Kind == schema.KindReference && !s.m.UsesJoinTable() {
		return s.attachByForeignKey(ctx, ec, comp, owner, element)
	}

	orderIndex := 0
	if s.m.Order != nil {
		n, err := s.Size(ctx, ec, owner)
		if err != nil {
			return err
		}
		orderIndex = n
	}

	_, elemVals, err := s.elementParams(ctx, ec, em, element)
	if err != nil {
		return err
	}
	stmt := s.addStatement()
	params := s.addParams(ownerVals, elemVals, orderIndex)

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, stmt, params...); err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	return nil
}

// attachByForeignKey links an element to the owner under the FK strategy.
func (s *CollectionStore) attachByForeignKey(ctx context.Context, ec session.ExecutionContext, comp *schema.Component, owner, element any) error {
	if comp.OwnerField == "" {
		return session.NewValidationError(
			"component %q of field %q has no mapped-by owner field", comp.TypeName, s.m.FieldName)
	}
	if ec.IsPersistent(element) {
		sm, ok := ec.FindStateManager(element)
		if !ok {
			return session.NewValidationError(
				"persistent element of field %q has no state manager", s.m.FieldName)
		}
		return sm.ReplaceField(comp.OwnerField, owner, true)
	}
	return ec.PersistObjectWithFields(ctx, element, map[string]any{comp.OwnerField: owner})
}

// Remove removes one element from the owner's collection, cascading to the
// element when the dependent-element policy demands it.
func (s *CollectionStore) Remove(ctx context.Context, ec session.ExecutionContext, owner, element any) error {
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return err
	}
	em := s.elementMapping()
	comp, err := s.resolveComponent(em, element)
	if err != nil {
		return err
	}

	if em.Kind == schema.KindReference && !s.m.UsesJoinTable() {
		return s.detachByForeignKey(ctx, ec, comp, element)
	}

	_, elemVals, err := s.elementParams(ctx, ec, em, element)
	if err != nil {
		return err
	}
	key := "remove"
	stmt, ok := s.cache.Get(key)
	if !ok {
		b := sqlgen.NewDelete(s.m.Table.Name).
			Where(ownerPredicates(s.m.Owner.Names())...).
			Where(sqlgen.EqAll(em.Columns.Names())...)
		if p := s.relDiscrimPredicate(); p != nil {
			b.Where(p)
		}
		stmt = b.Build()
		s.cache.Add(key, stmt)
	}
	params := append(append([]any{}, ownerVals...), elemVals...)
	params = append(params, s.relDiscrimParams()...)

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	if _, err := conn.Exec(ctx, stmt, params...); err != nil {
		conn.Release()
		return session.NewDatastoreError(stmt.SQL, err)
	}
	if err := conn.Release(); err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}

	if s.m.DependentElement && em.Kind == schema.KindReference && !ec.IsDeleted(element) {
		if err := ec.DeleteObject(ctx, element); err != nil {
			return err
		}
	}
	return nil
}

// detachByForeignKey unlinks an element under the FK strategy: delete when
// dependent or when the FK cannot be nulled, nullify otherwise.
func (s *CollectionStore) detachByForeignKey(ctx context.Context, ec session.ExecutionContext, comp *schema.Component, element any) error {
	if s.m.DependentElement {
		if ec.IsDeleted(element) {
			return nil
		}
		return ec.DeleteObject(ctx, element)
	}
	if comp.OwnerFK != nil && !comp.OwnerFK.Nullable {
		// Deleting is the only way to disassociate a non-nullable FK.
		if ec.IsDeleted(element) {
			return nil
		}
		return ec.DeleteObject(ctx, element)
	}
	sm, ok := ec.FindStateManager(element)
	if !ok {
		return session.NewValidationError(
			"element of field %q has no state manager", s.m.FieldName)
	}
	return sm.ReplaceField(comp.OwnerField, nil, true)
}

// Update replaces the owner's collection contents with newColl.
//
// The default policy is a destructive replace - clear, then re-add every
// element in caller order. This is a simplification, not a minimal diff:
// unchanged elements lose row identity.
func (s *CollectionStore) Update(ctx context.Context, ec session.ExecutionContext, owner any, newColl []any) error {
	if err := s.Clear(ctx, ec, owner); err != nil {
		return err
	}
	for _, el := range newColl {
		if err := s.Add(ctx, ec, owner, el); err != nil {
			return err
		}
	}
	return nil
}

// UpdateEmbedded rewrites an embedded or serialized element in place:
// UPDATE of the element columns restricted to owner and the old value.
func (s *CollectionStore) UpdateEmbedded(ctx context.Context, ec session.ExecutionContext, owner, oldElement, newElement any) error {
	em := s.elementMapping()
	if em.Kind == schema.KindReference {
		return session.NewValidationError(
			"field %q stores references; embedded update does not apply", s.m.FieldName)
	}
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return err
	}
	_, oldVals, err := s.elementParams(ctx, ec, em, oldElement)
	if err != nil {
		return err
	}
	_, newVals, err := s.elementParams(ctx, ec, em, newElement)
	if err != nil {
		return err
	}

	key := "updateEmbedded"
	stmt, ok := s.cache.Get(key)
	if !ok {
		b := sqlgen.NewUpdate(s.m.Table.Name).
			Set(em.Columns.Names()...).
			Where(ownerPredicates(s.m.Owner.Names())...).
			Where(sqlgen.EqAll(em.Columns.Names())...)
		if p := s.relDiscrimPredicate(); p != nil {
			b.Where(p)
		}
		stmt = b.Build()
		s.cache.Add(key, stmt)
	}
	params := append(append([]any{}, newVals...), ownerVals...)
	params = append(params, oldVals...)
	params = append(params, s.relDiscrimParams()...)

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, stmt, params...); err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	return nil
}
