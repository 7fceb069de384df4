package backing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
	"github.com/roach88/relstore/internal/sqlgen"
	"github.com/roach88/relstore/internal/stmtcache"
	"github.com/roach88/relstore/internal/store"
)

// JoinMapStore persists a map field in a dedicated join table: key and
// value are columns of that table, each possibly embedded, serialized or a
// foreign-key reference to its own table.
//
// An adapter column - a surrogate sequence - joins the primary key when the
// key type cannot serve in one (large binary keys). Its next value comes
// from SELECT MAX(col)+1 for the owner, which is not safe under concurrent
// writers; see nextAdapterValue.
type JoinMapStore struct {
	*baseMapStore

	putMemo    *stmtcache.Memo
	updateMemo *stmtcache.Memo
	removeMemo *stmtcache.Memo
	getMemo    *stmtcache.Memo
	sizeMemo   *stmtcache.Memo
	clearMemo  *stmtcache.Memo
}

// NewJoinMapStore builds the join-table backing store for a map field.
func NewJoinMapStore(db *store.DB, gen *schema.Generation, m *schema.ContainerMapping) (*JoinMapStore, error) {
	base, err := newBaseMapStore(db, gen, m)
	if err != nil {
		return nil, err
	}
	if !m.UsesJoinTable() {
		return nil, session.NewValidationError(
			"map mapping for %q uses a foreign-key strategy; use FKMapStore", m.FieldName)
	}
	// Join-table sides carry no discriminator column, so a reference side
	// must resolve to exactly one component.
	if m.Key.Kind == schema.KindReference && len(m.KeyComponents) != 1 {
		return nil, session.NewValidationError(
			"map mapping for %q: reference key side must have exactly one component, got %d",
			m.FieldName, len(m.KeyComponents))
	}
	if m.Value.Kind == schema.KindReference && len(m.ValueComponents) != 1 {
		return nil, session.NewValidationError(
			"map mapping for %q: reference value side must have exactly one component, got %d",
			m.FieldName, len(m.ValueComponents))
	}
	return &JoinMapStore{
		baseMapStore: base,
		putMemo:      stmtcache.NewMemo(gen),
		updateMemo:   stmtcache.NewMemo(gen),
		removeMemo:   stmtcache.NewMemo(gen),
		getMemo:      stmtcache.NewMemo(gen),
		sizeMemo:     stmtcache.NewMemo(gen),
		clearMemo:    stmtcache.NewMemo(gen),
	}, nil
}

// keyPredicates equality-matches the key columns, falling back to LIKE for
// serialized keys whose stored form is not equality-efficient.
func (s *JoinMapStore) keyPredicates() []sqlgen.Predicate {
	if s.m.Key.Kind == schema.KindSerialized {
		return []sqlgen.Predicate{sqlgen.Like{Column: s.m.Key.Columns.Columns[0].Name}}
	}
	return sqlgen.EqAll(s.m.Key.Columns.Names())
}

// putStatement renders INSERT INTO <table>
// (<value-cols>,<owner-cols>[,<adapter-cols>],<key-cols>) VALUES (...).
// Column order is fixed.
func (s *JoinMapStore) putStatement() sqlgen.Statement {
	return s.putMemo.Get(func() sqlgen.Statement {
		cols := append([]string{}, s.m.Value.Columns.Names()...)
		cols = append(cols, s.m.Owner.Names()...)
		if s.m.AdapterColumn != "" {
			cols = append(cols, s.m.AdapterColumn)
		}
		cols = append(cols, s.m.Key.Columns.Names()...)
		if s.m.RelationDiscriminator != nil {
			cols = append(cols, s.m.RelationDiscriminator.Column.Name)
		}
		return sqlgen.NewInsert(s.m.Table.Name, cols)
	})
}

func (s *JoinMapStore) updateStatement() sqlgen.Statement {
	return s.updateMemo.Get(func() sqlgen.Statement {
		b := sqlgen.NewUpdate(s.m.Table.Name).
			Set(s.m.Value.Columns.Names()...).
			Where(ownerPredicates(s.m.Owner.Names())...).
			Where(s.keyPredicates()...)
		if s.m.RelationDiscriminator != nil {
			b.Where(sqlgen.Eq{Column: s.m.RelationDiscriminator.Column.Name})
		}
		return b.Build()
	})
}

// removeStatement renders DELETE FROM <table> WHERE <owner-eq> AND
// <key-eq> [AND <reldiscrim-eq>].
func (s *JoinMapStore) removeStatement() sqlgen.Statement {
	return s.removeMemo.Get(func() sqlgen.Statement {
		b := sqlgen.NewDelete(s.m.Table.Name).
			Where(ownerPredicates(s.m.Owner.Names())...).
			Where(s.keyPredicates()...)
		if s.m.RelationDiscriminator != nil {
			b.Where(sqlgen.Eq{Column: s.m.RelationDiscriminator.Column.Name})
		}
		return b.Build()
	})
}

func (s *JoinMapStore) getStatement() sqlgen.Statement {
	return s.getMemo.Get(func() sqlgen.Statement {
		b := sqlgen.NewSelect(s.m.Table.Name, s.m.Value.Columns.Names()...).
			Where(ownerPredicates(s.m.Owner.Names())...).
			Where(s.keyPredicates()...)
		if s.m.RelationDiscriminator != nil {
			b.Where(sqlgen.Eq{Column: s.m.RelationDiscriminator.Column.Name})
		}
		return b.Build()
	})
}

// rawGet fetches the stored value columns for one key. found is false when
// no row matches.
func (s *JoinMapStore) rawGet(ctx context.Context, conn *store.Conn, ownerVals, keyVals []any) (raw []any, found bool, err error) {
	stmt := s.getStatement()
	params := append(append([]any{}, ownerVals...), keyVals...)
	params = append(params, s.relDiscrimParams()...)

	rows, err := conn.Query(ctx, stmt, params...)
	if err != nil {
		return nil, false, session.NewDatastoreError(stmt.SQL, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, session.NewDatastoreError(stmt.SQL, err)
		}
		return nil, false, nil
	}
	raw = make([]any, s.m.Value.Columns.Width())
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, false, session.NewDatastoreError(stmt.SQL, err)
	}
	return raw, true, nil
}

// Put associates key with value, inserting a new row or updating the
// existing one based on pre-fetched entry presence. Replacing the value of
// a dependent-value entry deletes the old value object.
func (s *JoinMapStore) Put(ctx context.Context, ec session.ExecutionContext, owner, key, value any) error {
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
	_, keyVals, err := s.bindKey(ctx, ec, key)
	if err != nil {
		return err
	}
	_, valueVals, err := s.bindValue(ctx, ec, value)
	if err != nil {
		return err
	}

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return session.NewDatastoreError("", err)
	}
	defer conn.Release()

	oldRaw, present, err := s.rawGet(ctx, conn, ownerVals, keyVals)
	if err != nil {
		return err
	}

	if present {
		if err := s.execUpdate(ctx, conn, ownerVals, keyVals, valueVals); err != nil {
			return err
		}
		return s.cascadeReplacedValue(ctx, ec, oldRaw, value)
	}
	return s.execInsert(ctx, conn, ownerVals, keyVals, valueVals)
}

func (s *JoinMapStore) execUpdate(ctx context.Context, conn *store.Conn, ownerVals, keyVals, valueVals []any) error {
	stmt := s.updateStatement()
	params := append(append([]any{}, valueVals...), ownerVals...)
	params = append(params, keyVals...)
	params = append(params, s.relDiscrimParams()...)
	if _, err := conn.Exec(ctx, stmt, params...); err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	return nil
}

func (s *JoinMapStore) execInsert(ctx context.Context, conn *store.Conn, ownerVals, keyVals, valueVals []any) error {
	stmt := s.putStatement()
	var adapter int64
	if s.m.AdapterColumn != "" {
		next, err := s.nextAdapterValue(ctx, conn, ownerVals)
		if err != nil {
			return err
		}
		adapter = next
	}
	params := s.insertParams(ownerVals, keyVals, valueVals, adapter)
	if _, err := conn.Exec(ctx, stmt, params...); err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}
	return nil
}

// insertParams assembles the put parameters in the statement's fixed
// column order: value, owner, adapter, key, relation discriminator. The
// adapter value is ignored when the mapping carries no adapter column.
func (s *JoinMapStore) insertParams(ownerVals, keyVals, valueVals []any, adapter int64) []any {
	params := append([]any{}, valueVals...)
	params = append(params, ownerVals...)
	if s.m.AdapterColumn != "" {
		params = append(params, adapter)
	}
	params = append(params, keyVals...)
	params = append(params, s.relDiscrimParams()...)
	return params
}

// nextAdapterValue computes the next surrogate-sequence value for one
// owner via SELECT MAX(col)+1.
//
// This read-then-insert is a race when two sessions add to the same
// owner's map concurrently without row-level locking. Left as inherited
// behavior; the locking discipline is an open correctness issue, not an
// invariant.
func (s *JoinMapStore) nextAdapterValue(ctx context.Context, conn *store.Conn, ownerVals []any) (int64, error) {
	key := "adapter"
	stmt, ok := s.cache.Get(key)
	if !ok {
		stmt = sqlgen.NextAdapterValue(s.m.Table.Name, s.m.AdapterColumn, s.m.Owner.Names())
		s.cache.Add(key, stmt)
	}
	rows, err := conn.Query(ctx, stmt, ownerVals...)
	if err != nil {
		return 0, session.NewDatastoreError(stmt.SQL, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, session.NewDatastoreError(stmt.SQL, err)
		}
		return 1, nil
	}
	var next sql.NullInt64
	if err := rows.Scan(&next); err != nil {
		return 0, session.NewDatastoreError(stmt.SQL, err)
	}
	if !next.Valid {
		// Empty map: MAX over no rows is NULL.
		return 1, nil
	}
	return next.Int64, nil
}

// cascadeReplacedValue deletes the value object an update displaced, when
// values are dependent references.
func (s *JoinMapStore) cascadeReplacedValue(ctx context.Context, ec session.ExecutionContext, oldRaw []any, newValue any) error {
	if !s.m.DependentValue || s.m.Value.Kind != schema.KindReference {
		return nil
	}
	comp := s.valueReg.Components()[0]
	old, err := ec.FindObject(ctx, comp.TypeName, session.ObjectID(oldRaw))
	if err != nil {
		return err
	}
	if old == nil || old == newValue || ec.IsDeleted(old) {
		return nil
	}
	return ec.DeleteObject(ctx, old)
}

// PutAll applies every entry in caller order: presence is pre-fetched
// once, then all inserts execute in one batched connection scope, then all
// updates in another.
func (s *JoinMapStore) PutAll(ctx context.Context, ec session.ExecutionContext, owner any, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.validateKey(e.Key); err != nil {
			return err
		}
		if err := s.validateValue(e.Value); err != nil {
			return err
		}
	}

	current, err := s.Entries(ctx, ec, owner)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(current))
	for _, e := range current {
		_, keyVals, err := s.bindKey(ctx, ec, e.Key)
		if err != nil {
			return err
		}
		present[fingerprint(keyVals)] = true
	}

	type bound struct{ keyVals, valueVals []any }
	var inserts, updates []bound
	for _, e := range entries {
		_, keyVals, err := s.bindKey(ctx, ec, e.Key)
		if err != nil {
			return err
		}
		_, valueVals, err := s.bindValue(ctx, ec, e.Value)
		if err != nil {
			return err
		}
		b := bound{keyVals: keyVals, valueVals: valueVals}
		if present[fingerprint(keyVals)] {
			updates = append(updates, b)
		} else {
			inserts = append(inserts, b)
			present[fingerprint(keyVals)] = true
		}
	}

	if len(inserts) > 0 {
		stmt := s.putStatement()
		conn, err := s.db.Acquire(ctx)
		if err != nil {
			return session.NewDatastoreError(stmt.SQL, err)
		}
		// The surrogate sequence is read once for the batch; queued
		// inserts take consecutive values from there. Reading it per
		// row would hand every queued row the same value, since none
		// are visible until Flush.
		var adapter int64
		if s.m.AdapterColumn != "" {
			next, err := s.nextAdapterValue(ctx, conn, ownerVals)
			if err != nil {
				conn.Release()
				return err
			}
			adapter = next
		}
		batch := conn.NewBatch(stmt)
		for _, b := range inserts {
			batch.Add(s.insertParams(ownerVals, b.keyVals, b.valueVals, adapter)...)
			adapter++
		}
		_, errs := batch.Flush(ctx)
		conn.Release()
		if causes := nonNil(errs); len(causes) > 0 {
			return session.NewDatastoreError(stmt.SQL, causes...)
		}
	}

	if len(updates) > 0 {
		stmt := s.updateStatement()
		conn, err := s.db.Acquire(ctx)
		if err != nil {
			return session.NewDatastoreError(stmt.SQL, err)
		}
		batch := conn.NewBatch(stmt)
		for _, b := range updates {
			params := append(append([]any{}, b.valueVals...), ownerVals...)
			params = append(params, b.keyVals...)
			params = append(params, s.relDiscrimParams()...)
			batch.Add(params...)
		}
		_, errs := batch.Flush(ctx)
		conn.Release()
		if causes := nonNil(errs); len(causes) > 0 {
			return session.NewDatastoreError(stmt.SQL, causes...)
		}
	}
	return nil
}

// Remove deletes the key's entry and cascades to dependent key/value
// objects.
func (s *JoinMapStore) Remove(ctx context.Context, ec session.ExecutionContext, owner, key any) error {
	if err := s.validateKey(key); err != nil {
		return err
	}
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return err
	}
	_, keyVals, err := s.bindKey(ctx, ec, key)
	if err != nil {
		return err
	}

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return session.NewDatastoreError("", err)
	}

	// Fetch the stored value before the row disappears, for the dependent
	// cascade.
	var oldValue any
	if s.m.DependentValue && s.m.Value.Kind == schema.KindReference {
		raw, found, err := s.rawGet(ctx, conn, ownerVals, keyVals)
		if err != nil {
			conn.Release()
			return err
		}
		if found {
			comp := s.valueReg.Components()[0]
			oldValue, err = ec.FindObject(ctx, comp.TypeName, session.ObjectID(raw))
			if err != nil {
				conn.Release()
				return err
			}
		}
	}

	stmt := s.removeStatement()
	params := append(append([]any{}, ownerVals...), keyVals...)
	params = append(params, s.relDiscrimParams()...)
	if _, err := conn.Exec(ctx, stmt, params...); err != nil {
		conn.Release()
		return session.NewDatastoreError(stmt.SQL, err)
	}
	if err := conn.Release(); err != nil {
		return session.NewDatastoreError(stmt.SQL, err)
	}

	return s.cascadeDependents(ctx, ec, key, oldValue)
}

// Get returns the value stored under a key. A missing entry is a
// not-found error so callers can tell "legitimately absent" from "query
// failed".
func (s *JoinMapStore) Get(ctx context.Context, ec session.ExecutionContext, owner, key any) (any, error) {
	if err := s.validateKey(key); err != nil {
		return nil, err
	}
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return nil, err
	}
	_, keyVals, err := s.bindKey(ctx, ec, key)
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, session.NewDatastoreError("", err)
	}
	defer conn.Release()

	raw, found, err := s.rawGet(ctx, conn, ownerVals, keyVals)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, session.NewNotFoundError("no entry for key in map field %q", s.m.FieldName)
	}
	var comp *schema.Component
	if s.m.Value.Kind == schema.KindReference {
		comp = s.valueReg.Components()[0]
	}
	return materializeMappedValue(ctx, ec, s.m.FieldName, s.m.Value, comp, raw)
}

// ContainsKey reports whether the owner's map holds the key.
func (s *JoinMapStore) ContainsKey(ctx context.Context, ec session.ExecutionContext, owner, key any) (bool, error) {
	if err := s.validateKey(key); err != nil {
		return false, err
	}
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return false, err
	}
	_, keyVals, err := s.bindKey(ctx, ec, key)
	if err != nil {
		return false, err
	}
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return false, session.NewDatastoreError("", err)
	}
	defer conn.Release()

	_, found, err := s.rawGet(ctx, conn, ownerVals, keyVals)
	return found, err
}

// Size returns the number of entries in the owner's map.
func (s *JoinMapStore) Size(ctx context.Context, ec session.ExecutionContext, owner any) (int, error) {
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return 0, err
	}
	stmt := s.sizeMemo.Get(func() sqlgen.Statement {
		b := sqlgen.NewCount(s.m.Table.Name).
			Where(ownerPredicates(s.m.Owner.Names())...)
		if s.m.Table.SoftDeleteColumn != "" {
			b.Where(sqlgen.NotSoftDeleted{Column: s.m.Table.SoftDeleteColumn})
		}
		if s.m.RelationDiscriminator != nil {
			b.Where(sqlgen.Eq{Column: s.m.RelationDiscriminator.Column.Name})
		}
		return b.Build()
	})
	params := append(append([]any{}, ownerVals...), s.relDiscrimParams()...)

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return 0, session.NewDatastoreError(stmt.SQL, err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, stmt, params...)
	if err != nil {
		return 0, session.NewDatastoreError(stmt.SQL, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, session.NewDatastoreError(stmt.SQL, err)
		}
		return 0, session.NewInternalError("size query returned no rows for map field %q", s.m.FieldName)
	}
	var n int
	if err := rows.Scan(&n); err != nil {
		return 0, session.NewDatastoreError(stmt.SQL, err)
	}
	return n, nil
}

// Clear removes every entry. Dependent keys/values are collected first and
// deleted through the session after the join rows are gone.
func (s *JoinMapStore) Clear(ctx context.Context, ec session.ExecutionContext, owner any) error {
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return err
	}

	var collected []Entry
	if s.m.DependentKey || s.m.DependentValue {
		collected, err = s.Entries(ctx, ec, owner)
		if err != nil {
			return err
		}
	}

	if !(s.m.OwnerSoftDeletable && s.m.ElementSoftDeletable) {
		stmt := s.clearMemo.Get(func() sqlgen.Statement {
			b := sqlgen.NewDelete(s.m.Table.Name).
				Where(ownerPredicates(s.m.Owner.Names())...)
			if s.m.RelationDiscriminator != nil {
				b.Where(sqlgen.Eq{Column: s.m.RelationDiscriminator.Column.Name})
			}
			return b.Build()
		})
		params := append(append([]any{}, ownerVals...), s.relDiscrimParams()...)

		conn, err := s.db.Acquire(ctx)
		if err != nil {
			return session.NewDatastoreError(stmt.SQL, err)
		}
		_, execErr := conn.Exec(ctx, stmt, params...)
		conn.Release()
		if execErr != nil {
			return session.NewDatastoreError(stmt.SQL, execErr)
		}
	}

	for _, e := range collected {
		if err := s.cascadeDependents(ctx, ec, e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// Entries materializes every entry of the owner's map, eagerly. The result
// set is drained and closed before returning.
func (s *JoinMapStore) Entries(ctx context.Context, ec session.ExecutionContext, owner any) ([]Entry, error) {
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return nil, err
	}
	key := "entries"
	stmt, ok := s.cache.Get(key)
	if !ok {
		selects := append([]string{}, s.m.Key.Columns.Names()...)
		selects = append(selects, s.m.Value.Columns.Names()...)
		b := sqlgen.NewSelect(s.m.Table.Name, selects...).
			Where(ownerPredicates(s.m.Owner.Names())...)
		if s.m.RelationDiscriminator != nil {
			b.Where(sqlgen.Eq{Column: s.m.RelationDiscriminator.Column.Name})
		}
		if s.m.AdapterColumn != "" {
			b.OrderBy(s.m.AdapterColumn)
		}
		stmt = b.Build()
		s.cache.Add(key, stmt)
	}
	params := append(append([]any{}, ownerVals...), s.relDiscrimParams()...)

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

	kw := s.m.Key.Columns.Width()
	vw := s.m.Value.Columns.Width()
	var entries []Entry
	for rows.Next() {
		raw := make([]any, kw+vw)
		ptrs := make([]any, len(raw))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, session.NewDatastoreError(stmt.SQL, err)
		}
		var keyComp, valueComp *schema.Component
		if s.m.Key.Kind == schema.KindReference {
			keyComp = s.keyReg.Components()[0]
		}
		if s.m.Value.Kind == schema.KindReference {
			valueComp = s.valueReg.Components()[0]
		}
		k, err := materializeMappedValue(ctx, ec, s.m.FieldName, s.m.Key, keyComp, raw[:kw])
		if err != nil {
			return nil, err
		}
		v, err := materializeMappedValue(ctx, ec, s.m.FieldName, s.m.Value, valueComp, raw[kw:])
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: k, Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, session.NewDatastoreError(stmt.SQL, err)
	}
	return entries, nil
}

// fingerprint canonicalizes bound column values for presence comparison.
// Driver round-trips change Go types (int becomes int64), so values compare
// through their printed form.
func fingerprint(vals []any) string {
	out := ""
	for _, v := range vals {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out += fmt.Sprintf("%v\x00", v)
	}
	return out
}

func nonNil(errs []error) []error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
