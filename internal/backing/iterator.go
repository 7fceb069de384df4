package backing

import (
	"context"
	"sort"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
	"github.com/roach88/relstore/internal/sqlgen"
)

// Iterator is an eagerly-materializing forward cursor.
//
// The entire result set is consumed into memory at construction; the
// underlying rows and statement are closed before the iterator is handed
// back. This trades memory for simple lifetime management: no live cursor
// escapes its operation's connection scope.
type Iterator struct {
	items   []any
	pos     int
	started bool
	removed bool

	// removeFn, when set, performs the store-side removal of the current
	// item. When nil, Remove is a silent no-op - array stores have fixed
	// shape and define iterator removal as a no-op rather than an error.
	removeFn func(ctx context.Context, item any) error
}

// HasNext reports whether another element remains.
func (it *Iterator) HasNext() bool {
	return it.pos < len(it.items)
}

// Next returns the next element. The boolean is false when the sequence is
// exhausted.
func (it *Iterator) Next() (any, bool) {
	if it.pos >= len(it.items) {
		return nil, false
	}
	v := it.items[it.pos]
	it.pos++
	it.started = true
	it.removed = false
	return v, true
}

// Remove removes the element last returned by Next, both from the backing
// store and from the materialized sequence. Calling Remove before a
// successful Next, or twice without an intervening Next, is an
// invalid-state error.
func (it *Iterator) Remove(ctx context.Context) error {
	if !it.started || it.pos == 0 {
		return session.NewInvalidStateError("iterator remove called before next")
	}
	if it.removed {
		return session.NewInvalidStateError("iterator remove called twice for one element")
	}
	if it.removeFn == nil {
		it.removed = true
		return nil
	}
	cur := it.pos - 1
	if err := it.removeFn(ctx, it.items[cur]); err != nil {
		return err
	}
	it.items = append(it.items[:cur], it.items[cur+1:]...)
	it.pos = cur
	it.removed = true
	return nil
}

// Len returns the number of remaining elements.
func (it *Iterator) Len() int { return len(it.items) - it.pos }

// elementRow is one fetched association row before materialization.
type elementRow struct {
	comp   *schema.Component // nil for embedded/serialized elements
	values []any             // element column values (identity, or raw data)
	order  int64
}

// queryElements fetches every association row for one owner, ordered by
// the order column when present. Polymorphic element types resolve via the
// discriminator column or one query per component table.
func (s *ElementContainerStore) queryElements(ctx context.Context, ec session.ExecutionContext, ownerVals []any) ([]elementRow, error) {
	em := s.elementMapping()
	var out []elementRow
	var err error
	switch {
	case em == nil || em.Kind != schema.KindReference:
		out, err = s.queryEmbeddedRows(ctx, ec, em, ownerVals)
	case s.m.UsesJoinTable():
		out, err = s.queryJoinTableRows(ctx, ec, em, ownerVals)
	default:
		out, err = s.queryForeignKeyRows(ctx, ec, ownerVals)
	}
	if err != nil {
		return nil, err
	}
	if s.m.Order != nil {
		sort.SliceStable(out, func(i, j int) bool { return out[i].order < out[j].order })
	}
	return out, nil
}

func (s *ElementContainerStore) queryEmbeddedRows(ctx context.Context, ec session.ExecutionContext, em *schema.ElementMapping, ownerVals []any) ([]elementRow, error) {
	m := s.m
	selects := em.Columns.Names()
	if m.Order != nil {
		selects = append(append([]string{}, selects...), m.Order.Column.Name)
	}
	b := sqlgen.NewSelect(m.Table.Name, selects...).
		Where(ownerPredicates(m.Owner.Names())...)
	if m.Order != nil {
		b.Where(sqlgen.GreaterEq{Column: m.Order.Column.Name, Bound: 0}).
			OrderBy(m.Order.Column.Name)
	}
	if p := s.relDiscrimPredicate(); p != nil {
		b.Where(p)
	}
	stmt := b.ForUpdate(ec.SerializeRead()).Build()
	params := append(append([]any{}, ownerVals...), s.relDiscrimParams()...)
	return s.scanElementRows(ctx, stmt, params, em.Columns.Width(), m.Order != nil, nil, "")
}

func (s *ElementContainerStore) queryJoinTableRows(ctx context.Context, ec session.ExecutionContext, em *schema.ElementMapping, ownerVals []any) ([]elementRow, error) {
	m := s.m
	var out []elementRow
	for _, group := range groupByTable(s.registry.Components()) {
		comp := group[0]
		selects := qualify(m.Table.Name, em.Columns.Names())
		discrimCol := ""
		if len(group) > 1 && comp.Discriminator != nil {
			discrimCol = comp.Table.Name + "." + comp.Discriminator.Column.Name
			selects = append(selects, discrimCol)
		}
		if m.Order != nil {
			selects = append(selects, m.Table.Name+"."+m.Order.Column.Name)
		}
		on := make([][2]string, 0, em.Columns.Width())
		for i, c := range em.Columns.Names() {
			on = append(on, [2]string{
				m.Table.Name + "." + c,
				comp.Table.Name + "." + comp.ID.Columns[i].Name,
			})
		}
		b := sqlgen.NewSelect(m.Table.Name, selects...).
			Join(sqlgen.InnerJoin, comp.Table.Name, on...).
			Where(ownerPredicates(qualify(m.Table.Name, m.Owner.Names()))...)
		if m.Order != nil {
			b.Where(sqlgen.GreaterEq{Column: m.Table.Name + "." + m.Order.Column.Name, Bound: 0})
		}
		if p := s.relDiscrimPredicate(); p != nil {
			b.Where(sqlgen.Eq{Column: m.Table.Name + "." + m.RelationDiscriminator.Column.Name})
		}
		stmt := b.ForUpdate(ec.SerializeRead()).Build()
		params := append(append([]any{}, ownerVals...), s.relDiscrimParams()...)
		rows, err := s.scanElementRows(ctx, stmt, params, em.Columns.Width(), m.Order != nil, group, discrimCol)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (s *ElementContainerStore) queryForeignKeyRows(ctx context.Context, ec session.ExecutionContext, ownerVals []any) ([]elementRow, error) {
	m := s.m
	var out []elementRow
	for _, group := range groupByTable(s.registry.Components()) {
		comp := group[0]
		selects := comp.ID.Names()
		discrimCol := ""
		if len(group) > 1 && comp.Discriminator != nil {
			discrimCol = comp.Discriminator.Column.Name
			selects = append(append([]string{}, selects...), discrimCol)
		}
		if m.Order != nil {
			selects = append(append([]string{}, selects...), m.Order.Column.Name)
		}
		b := sqlgen.NewSelect(comp.Table.Name, selects...).
			Where(ownerPredicates(comp.OwnerFK.Names())...)
		if m.Order != nil {
			b.Where(sqlgen.GreaterEq{Column: m.Order.Column.Name, Bound: 0})
		}
		if comp.Table.SoftDeleteColumn != "" {
			b.Where(sqlgen.NotSoftDeleted{Column: comp.Table.SoftDeleteColumn})
		}
		stmt := b.ForUpdate(ec.SerializeRead()).Build()
		rows, err := s.scanElementRows(ctx, stmt, ownerVals, comp.ID.Width(), m.Order != nil, group, discrimCol)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// scanElementRows executes one fetch statement and drains it fully. Column
// layout: element values, then the optional discriminator, then the
// optional order value.
func (s *ElementContainerStore) scanElementRows(ctx context.Context, stmt sqlgen.Statement, params []any, width int, hasOrder bool, group []*schema.Component, discrimCol string) ([]elementRow, error) {
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

	hasDiscrim := discrimCol != ""
	var out []elementRow
	for rows.Next() {
		n := width
		if hasDiscrim {
			n++
		}
		if hasOrder {
			n++
		}
		raw := make([]any, n)
		ptrs := make([]any, n)
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, session.NewDatastoreError(stmt.SQL, err)
		}
		row := elementRow{values: raw[:width]}
		next := width
		if hasDiscrim {
			row.comp = resolveByDiscriminator(group, raw[next])
			next++
		} else if len(group) > 0 {
			row.comp = group[0]
		}
		if hasOrder {
			row.order = asInt64(raw[next])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, session.NewDatastoreError(stmt.SQL, err)
	}
	return out, nil
}

// fetchElements materializes every element of the owner's container as
// domain objects (or raw values for embedded/serialized elements).
func (s *ElementContainerStore) fetchElements(ctx context.Context, ec session.ExecutionContext, ownerVals []any) ([]any, error) {
	rows, err := s.queryElements(ctx, ec, ownerVals)
	if err != nil {
		return nil, err
	}
	em := s.elementMapping()
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		v, err := s.materializeElement(ctx, ec, em, row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// materializeElement converts one fetched row into a domain value.
func (s *ElementContainerStore) materializeElement(ctx context.Context, ec session.ExecutionContext, em *schema.ElementMapping, row elementRow) (any, error) {
	return materializeMappedValue(ctx, ec, s.m.FieldName, em, row.comp, row.values)
}

// NewIterator materializes the owner's elements and returns a cursor over
// them. The result set is fully drained and closed before returning.
func (s *ElementContainerStore) NewIterator(ctx context.Context, ec session.ExecutionContext, owner any) (*Iterator, error) {
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return nil, err
	}
	items, err := s.fetchElements(ctx, ec, ownerVals)
	if err != nil {
		return nil, err
	}
	return &Iterator{items: items}, nil
}

// resolveByDiscriminator maps a stored discriminator value back to its
// component within a table group.
func resolveByDiscriminator(group []*schema.Component, stored any) *schema.Component {
	v := asString(stored)
	for _, c := range group {
		if c.Discriminator == nil {
			continue
		}
		if c.Discriminator.ValueFor[c.TypeName] == v {
			return c
		}
	}
	if len(group) > 0 {
		return group[0]
	}
	return nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case []byte:
		var out int64
		for _, b := range n {
			if b < '0' || b > '9' {
				break
			}
			out = out*10 + int64(b-'0')
		}
		return out
	default:
		return 0
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}
