package backing

import (
	"context"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
	"github.com/roach88/relstore/internal/sqlgen"
	"github.com/roach88/relstore/internal/store"
)

// ListStore is the backing store for indexed list fields. The order column
// holds contiguous values 0..N-1 per owner; every mutation rebalances
// neighboring indices so no gaps appear.
type ListStore struct {
	*CollectionStore
}

// NewListStore builds the backing store for a list field.
func NewListStore(db *store.DB, gen *schema.Generation, m *schema.ContainerMapping) (*ListStore, error) {
	if m.Kind != schema.ContainerList {
		return nil, session.NewValidationError("mapping for %q is %s, not a list", m.FieldName, m.Kind)
	}
	if m.Order == nil {
		return nil, session.NewValidationError("list mapping for %q has no order mapping", m.FieldName)
	}
	base, err := newElementContainerStore(db, gen, m)
	if err != nil {
		return nil, err
	}
	return &ListStore{CollectionStore: &CollectionStore{ElementContainerStore: base}}, nil
}

// Get returns the element at the given index. A missing row is a not-found
// error, distinct from a datastore failure.
func (s *ListStore) Get(ctx context.Context, ec session.ExecutionContext, owner any, index int) (any, error) {
	if index < 0 {
		return nil, session.NewValidationError("negative list index %d for field %q", index, s.m.FieldName)
	}
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return nil, err
	}
	em := s.elementMapping()

	key := "getAt"
	stmt, ok := s.cache.Get(key)
	if !ok {
		b := sqlgen.NewSelect(s.m.Table.Name, em.Columns.Names()...).
			Where(ownerPredicates(s.m.Owner.Names())...).
			Where(sqlgen.Eq{Column: s.m.Order.Column.Name})
		if p := s.relDiscrimPredicate(); p != nil {
			b.Where(p)
		}
		stmt = b.Build()
		s.cache.Add(key, stmt)
	}
	params := append(append([]any{}, ownerVals...), index)
	params = append(params, s.relDiscrimParams()...)

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, session.NewDatastoreError(stmt.SQL, err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, stmt, params...)
	if err != nil {
		return nil, session.NewDatastoreError(stmt.SQL, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, session.NewDatastoreError(stmt.SQL, err)
		}
		return nil, session.NewNotFoundError("no element at index %d of field %q", index, s.m.FieldName)
	}
	raw := make([]any, em.Columns.Width())
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, session.NewDatastoreError(stmt.SQL, err)
	}
	comp := (*schema.Component)(nil)
	if em.Kind == schema.KindReference {
		comps := s.registry.Components()
		if len(comps) == 1 {
			comp = comps[0]
		}
	}
	return s.materializeElement(ctx, ec, em, elementRow{comp: comp, values: raw})
}

// RemoveAt deletes the element at the given index and shifts every later
// index down by one, restoring contiguity.
func (s *ListStore) RemoveAt(ctx context.Context, ec session.ExecutionContext, owner any, index int) error {
	if index < 0 {
		return session.NewValidationError("negative list index %d for field %q", index, s.m.FieldName)
	}
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return err
	}

	delStmt := s.removeAtStatement()
	shiftStmt := s.shiftStatement()

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return session.NewDatastoreError(delStmt.SQL, err)
	}
	defer conn.Release()

	delParams := append(append([]any{}, ownerVals...), index)
	delParams = append(delParams, s.relDiscrimParams()...)
	n, err := conn.Exec(ctx, delStmt, delParams...)
	if err != nil {
		return session.NewDatastoreError(delStmt.SQL, err)
	}
	if n == 0 {
		return session.NewNotFoundError("no element at index %d of field %q", index, s.m.FieldName)
	}

	shiftParams := append([]any{-1}, ownerVals...)
	shiftParams = append(shiftParams, index)
	shiftParams = append(shiftParams, s.relDiscrimParams()...)
	if _, err := conn.Exec(ctx, shiftStmt, shiftParams...); err != nil {
		return session.NewDatastoreError(shiftStmt.SQL, err)
	}
	return nil
}

// SetAt replaces the element stored at the given index, leaving the index
// itself untouched.
func (s *ListStore) SetAt(ctx context.Context, ec session.ExecutionContext, owner any, index int, element any) error {
	if index < 0 {
		return session.NewValidationError("negative list index %d for field %q", index, s.m.FieldName)
	}
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return err
	}
	em := s.elementMapping()
	if _, err := s.resolveComponent(em, element); err != nil {
		return err
	}
	_, elemVals, err := s.elementParams(ctx, ec, em, element)
	if err != nil {
		return err
	}

	key := "setAt"
	stmt, ok := s.cache.Get(key)
	if !ok {
		b := sqlgen.NewUpdate(s.m.Table.Name).
			Set(em.Columns.Names()...).
			Where(ownerPredicates(s.m.Owner.Names())...).
			Where(sqlgen.Eq{Column: s.m.Order.Column.Name})
		if p := s.relDiscrimPredicate(); p != nil {
			b.Where(p)
		}
		stmt = b.Build()
		s.cache.Add(key, stmt)
	}
	params := append(append([]any{}, elemVals...), ownerVals...)
	params = append(params, index)
	params = append(params, s.relDiscrimParams()...)

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	defer conn.Release()

	n, err := conn.Exec(ctx, stmt, params...)
	if err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	if n == 0 {
		return session.NewNotFoundError("no element at index %d of field %q", index, s.m.FieldName)
	}
	return nil
}

// removeAtStatement renders DELETE at one index.
func (s *ListStore) removeAtStatement() sqlgen.Statement {
	key := "removeAt"
	if stmt, ok := s.cache.Get(key); ok {
		return stmt
	}
	b := sqlgen.NewDelete(s.m.Table.Name).
		Where(ownerPredicates(s.m.Owner.Names())...).
		Where(sqlgen.Eq{Column: s.m.Order.Column.Name})
	if p := s.relDiscrimPredicate(); p != nil {
		b.Where(p)
	}
	stmt := b.Build()
	s.cache.Add(key, stmt)
	return stmt
}

// shiftStatement renders the index rebalance:
// UPDATE <table> SET <order> = <order> + ? WHERE <owner-eq> AND <order> > ?
// [AND <reldiscrim-eq>]. The delta binds as the first parameter.
func (s *ListStore) shiftStatement() sqlgen.Statement {
	key := "shift"
	if stmt, ok := s.cache.Get(key); ok {
		return stmt
	}
	orderCol := s.m.Order.Column.Name
	stmt := sqlgen.RawUpdateShift(s.m.Table.Name, orderCol, s.m.Owner.Names(),
		s.m.RelationDiscriminator != nil, relDiscrimColumn(s.m))
	s.cache.Add(key, stmt)
	return stmt
}

func relDiscrimColumn(m *schema.ContainerMapping) string {
	if m.RelationDiscriminator == nil {
		return ""
	}
	return m.RelationDiscriminator.Column.Name
}
