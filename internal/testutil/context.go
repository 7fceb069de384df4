// Package testutil provides deterministic test doubles for the backing-store
// engine: a sequence clock for stable identities and an in-memory
// ExecutionContext fake that persists component rows to a real database.
package testutil

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
	"github.com/roach88/relstore/internal/sqlgen"
	"github.com/roach88/relstore/internal/store"
)

// objectState is the fake's managed state for one object.
type objectState struct {
	comp    *schema.Component
	id      session.ObjectID
	fields  map[string]any
	deleted bool
}

// Context is an in-memory session.ExecutionContext backed by a real
// database. Persisting an object inserts its component row; replacing a
// bound field updates the mapped columns immediately, so backing stores
// that delegate association writes to the session still produce observable
// rows.
//
// A Context is single-session like the real thing, but guarded by a mutex
// so concurrent store operations in a test do not race the identity map.
type Context struct {
	mu sync.Mutex

	db  *store.DB
	reg *schema.Registry

	// identity assigns single-column ids to persisted objects that have
	// none. Composite-id objects must be persisted via PersistWithID.
	identity func() any

	serializeRead bool

	states map[any]*objectState
	byID   map[string]any

	// fieldCols maps typeName/field to the columns the field is stored
	// in, for fields beyond the component mapping (map key/value columns,
	// owner foreign keys).
	fieldCols map[string]map[string][]string
}

// NewContext builds a fake context over the given database and component
// set.
func NewContext(db *store.DB, components []schema.Component, identity func() any) (*Context, error) {
	reg, err := schema.NewRegistry(components)
	if err != nil {
		return nil, err
	}
	return &Context{
		db:        db,
		reg:       reg,
		identity:  identity,
		states:    make(map[any]*objectState),
		byID:      make(map[string]any),
		fieldCols: make(map[string]map[string][]string),
	}, nil
}

// BindField declares the columns a managed field of the named type is
// stored in. Bound fields are written on persist and on ReplaceField, and
// loaded on FindObject.
func (c *Context) BindField(typeName, field string, columns ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.fieldCols[typeName]
	if !ok {
		m = make(map[string][]string)
		c.fieldCols[typeName] = m
	}
	m[field] = columns
}

// SetSerializeRead toggles the serialized-read flag stores consult for
// FOR UPDATE selects.
func (c *Context) SetSerializeRead(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serializeRead = on
}

func (c *Context) SerializeRead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serializeRead
}

func idKey(typeName string, id session.ObjectID) string {
	out := typeName
	for _, v := range id {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out += fmt.Sprintf("\x00%v", v)
	}
	return out
}

// PersistObject makes a transient object persistent, assigning an identity
// and inserting its component row.
func (c *Context) PersistObject(ctx context.Context, obj any) error {
	return c.PersistObjectWithFields(ctx, obj, nil)
}

// PersistObjectWithFields persists obj with the given managed fields
// pre-set. Bound fields are included in the insert.
func (c *Context) PersistObjectWithFields(ctx context.Context, obj any, fields map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.states[obj]; ok {
		return session.NewInvalidStateError("object already persistent")
	}
	comp := c.reg.Resolve(obj)
	if comp == nil {
		return session.NewValidationError("no component registered for %T", obj)
	}
	if c.identity == nil {
		return session.NewInvalidStateError("no identity generator configured")
	}
	if comp.ID.Width() != 1 {
		return session.NewInvalidStateError("composite identity for %q needs PersistWithID", comp.TypeName)
	}
	return c.persistLocked(ctx, obj, comp, session.ObjectID{c.identity()}, fields)
}

// PersistWithID persists obj under an explicit identity.
func (c *Context) PersistWithID(ctx context.Context, obj any, id session.ObjectID, fields map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	comp := c.reg.Resolve(obj)
	if comp == nil {
		return session.NewValidationError("no component registered for %T", obj)
	}
	return c.persistLocked(ctx, obj, comp, id, fields)
}

func (c *Context) persistLocked(ctx context.Context, obj any, comp *schema.Component, id session.ObjectID, fields map[string]any) error {
	st := &objectState{comp: comp, id: id, fields: make(map[string]any)}

	cols := append([]string{}, comp.ID.Names()...)
	vals := append([]any{}, []any(id)...)
	if comp.Discriminator != nil {
		cols = append(cols, comp.Discriminator.Column.Name)
		vals = append(vals, comp.Discriminator.ValueFor[comp.TypeName])
	}
	for field, value := range fields {
		st.fields[field] = value
		fcols, ok := c.fieldCols[comp.TypeName][field]
		if !ok {
			continue
		}
		fvals, err := c.fieldColumnValues(value, len(fcols))
		if err != nil {
			return err
		}
		cols = append(cols, fcols...)
		vals = append(vals, fvals...)
	}

	stmt := sqlgen.NewInsert(comp.Table.Name, cols)
	if err := c.exec(ctx, stmt, vals); err != nil {
		return err
	}
	c.states[obj] = st
	c.byID[idKey(comp.TypeName, id)] = obj
	return nil
}

// fieldColumnValues maps a field value onto its bound columns. A persistent
// object becomes its identity column values; nil becomes per-column NULLs.
func (c *Context) fieldColumnValues(value any, width int) ([]any, error) {
	if value == nil {
		return make([]any, width), nil
	}
	if st, ok := c.states[value]; ok {
		if len(st.id) != width {
			return nil, session.NewValidationError(
				"identity width %d does not fit %d bound columns", len(st.id), width)
		}
		return append([]any{}, []any(st.id)...), nil
	}
	if width != 1 {
		return nil, session.NewValidationError(
			"scalar field value cannot fill %d columns", width)
	}
	return []any{value}, nil
}

// DeleteObject deletes the object's component row. Tables with a
// soft-delete column get flagged instead of removed.
func (c *Context) DeleteObject(ctx context.Context, obj any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[obj]
	if !ok {
		return session.NewInvalidStateError("delete of unmanaged object %T", obj)
	}
	if st.deleted {
		return nil
	}

	var stmt sqlgen.Statement
	if st.comp.Table.SoftDeleteColumn != "" {
		stmt = sqlgen.NewUpdate(st.comp.Table.Name).
			Set(st.comp.Table.SoftDeleteColumn).
			Where(sqlgen.EqAll(st.comp.ID.Names())...).
			Build()
		params := append([]any{int64(1)}, []any(st.id)...)
		if err := c.exec(ctx, stmt, params); err != nil {
			return err
		}
	} else {
		stmt = sqlgen.NewDelete(st.comp.Table.Name).
			Where(sqlgen.EqAll(st.comp.ID.Names())...).
			Build()
		if err := c.exec(ctx, stmt, []any(st.id)); err != nil {
			return err
		}
	}
	st.deleted = true
	return nil
}

func (c *Context) FindStateManager(obj any) (session.StateManager, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[obj]
	if !ok {
		return nil, false
	}
	return &stateManager{ctx: c, obj: obj, st: st}, true
}

func (c *Context) IsPersistent(obj any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[obj]
	return ok && !st.deleted
}

func (c *Context) IsDeleted(obj any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[obj]
	return ok && st.deleted
}

func (c *Context) ObjectID(obj any) (session.ObjectID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[obj]
	if !ok {
		return nil, false
	}
	return st.id, true
}

// FindObject returns the managed object for an identity, materializing a
// fresh instance (with bound fields loaded from the database) when the
// identity map has none.
func (c *Context) FindObject(ctx context.Context, typeName string, id session.ObjectID) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if obj, ok := c.byID[idKey(typeName, id)]; ok {
		return obj, nil
	}

	var comp *schema.Component
	for _, cand := range c.reg.Components() {
		if cand.TypeName == typeName {
			comp = cand
			break
		}
	}
	if comp == nil {
		return nil, session.NewValidationError("no component registered for type %q", typeName)
	}

	t := comp.GoType
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	obj := reflect.New(t).Interface()
	st := &objectState{comp: comp, id: id, fields: make(map[string]any)}
	if err := c.loadBoundFields(ctx, comp, id, st); err != nil {
		return nil, err
	}
	c.states[obj] = st
	c.byID[idKey(typeName, id)] = obj
	return obj, nil
}

// loadBoundFields reads the object's single-column bound fields off its
// row so ProvideField works on materialized objects.
func (c *Context) loadBoundFields(ctx context.Context, comp *schema.Component, id session.ObjectID, st *objectState) error {
	bound := c.fieldCols[comp.TypeName]
	var fields []string
	var cols []string
	for field, fcols := range bound {
		if len(fcols) == 1 {
			fields = append(fields, field)
			cols = append(cols, fcols[0])
		}
	}
	if len(cols) == 0 {
		return nil
	}

	stmt := sqlgen.NewSelect(comp.Table.Name, cols...).
		Where(sqlgen.EqAll(comp.ID.Names())...).
		Build()
	conn, err := c.db.Acquire(ctx)
	if err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, stmt, []any(id)...)
	if err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return session.NewDatastoreError(stmt.SQL, err)
		}
		return session.NewNotFoundError("no row for %s %v", comp.TypeName, []any(id))
	}
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	for i, field := range fields {
		st.fields[field] = raw[i]
	}
	return nil
}

func (c *Context) exec(ctx context.Context, stmt sqlgen.Statement, params []any) error {
	conn, err := c.db.Acquire(ctx)
	if err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, stmt, params...); err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	return nil
}

// stateManager is the fake's per-object StateManager.
type stateManager struct {
	ctx *Context
	obj any
	st  *objectState
}

func (m *stateManager) ObjectID() session.ObjectID { return m.st.id }

func (m *stateManager) ProvideField(field string) (any, error) {
	m.ctx.mu.Lock()
	defer m.ctx.mu.Unlock()
	v, ok := m.st.fields[field]
	if !ok {
		return nil, nil
	}
	return v, nil
}

// ReplaceField sets a managed field. Bound fields flush to the mapped
// columns immediately; the makeDirty flag is accepted for interface
// fidelity but the fake has no deferred write-back to schedule.
func (m *stateManager) ReplaceField(field string, value any, makeDirty bool) error {
	m.ctx.mu.Lock()
	defer m.ctx.mu.Unlock()
	m.st.fields[field] = value

	cols, ok := m.ctx.fieldCols[m.st.comp.TypeName][field]
	if !ok {
		return nil
	}
	b := sqlgen.NewUpdate(m.st.comp.Table.Name)
	var params []any
	if value == nil {
		b.SetNull(cols...)
	} else {
		vals, err := m.ctx.fieldColumnValues(value, len(cols))
		if err != nil {
			return err
		}
		b.Set(cols...)
		params = append(params, vals...)
	}
	stmt := b.Where(sqlgen.EqAll(m.st.comp.ID.Names())...).Build()
	params = append(params, []any(m.st.id)...)
	return m.ctx.exec(context.Background(), stmt, params)
}
