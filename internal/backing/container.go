package backing

import (
	"context"
	"fmt"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
	"github.com/roach88/relstore/internal/sqlgen"
	"github.com/roach88/relstore/internal/stmtcache"
	"github.com/roach88/relstore/internal/store"
)

// Statement cache key prefix for per-component disassociation statements.
const keyNullifyFK = "nullify:"

// ElementContainerStore holds the shared model and algorithms for
// element-container backing stores (collections, lists, arrays).
//
// One instance exists per persistent field definition. It is immutable
// except for memoized statement text; per-call state lives and dies inside
// each operation.
type ElementContainerStore struct {
	m        *schema.ContainerMapping
	registry *schema.Registry
	gen      *schema.Generation
	db       *store.DB

	// cache holds per-component statements keyed by statement name.
	cache *stmtcache.Cache

	// sizePlan describes the COUNT statement's arms; fixed at
	// construction.
	sizePlan []countArm

	// sizeDiscriminated records whether the size statement carries a
	// discriminator restriction. Discriminated statements are re-derived
	// on each call - the concrete-subclass set could in principle change
	// at runtime - while discriminator-free statements are memoized for
	// the schema generation.
	sizeDiscriminated bool

	sizeMemo  *stmtcache.Memo
	clearMemo *stmtcache.Memo
	addMemo   *stmtcache.Memo
}

// countArm is one branch of the size statement: a COUNT over one table with
// its discriminator values. Multi-arm plans render as UNION ALL.
type countArm struct {
	build         func(forUpdate bool) sqlgen.Statement
	discrimValues []string
}

// newElementContainerStore validates the mapping and builds the shared
// model. The component registry and the size plan are resolved here, once.
func newElementContainerStore(db *store.DB, gen *schema.Generation, m *schema.ContainerMapping) (*ElementContainerStore, error) {
	if errs := m.Validate(); len(errs) > 0 {
		return nil, session.NewValidationError("invalid container mapping for %q: %v", m.FieldName, errs[0])
	}
	registry, err := schema.NewRegistry(m.Components)
	if err != nil {
		return nil, session.NewValidationError("component registry for %q: %v", m.FieldName, err)
	}
	s := &ElementContainerStore{
		m:         m,
		registry:  registry,
		gen:       gen,
		db:        db,
		cache:     stmtcache.New(),
		sizeMemo:  stmtcache.NewMemo(gen),
		clearMemo: stmtcache.NewMemo(gen),
		addMemo:   stmtcache.NewMemo(gen),
	}
	s.sizePlan = s.buildSizePlan()
	for _, arm := range s.sizePlan {
		if len(arm.discrimValues) > 0 {
			s.sizeDiscriminated = true
		}
	}
	return s, nil
}

// Mapping returns the container mapping the store was built from.
func (s *ElementContainerStore) Mapping() *schema.ContainerMapping { return s.m }

// elementMapping returns the mapping of the contained value. For element
// containers this is Element; map stores override the accessor.
func (s *ElementContainerStore) elementMapping() *schema.ElementMapping {
	return s.m.Element
}

// ownerID resolves the owning entity's identity column values and checks
// them against the owner mapping. Every statement is parameterized by
// exactly one owner.
func (s *ElementContainerStore) ownerID(ec session.ExecutionContext, owner any) ([]any, error) {
	return resolveOwnerID(ec, s.m, owner)
}

// resolveComponent validates an element value against the component
// registry. Reference elements of unregistered concrete types fail here,
// before any SQL is issued. Non-reference elements resolve to nil.
func (s *ElementContainerStore) resolveComponent(em *schema.ElementMapping, v any) (*schema.Component, error) {
	return resolveMappedComponent(s.m.FieldName, em, s.registry, v)
}

// elementParams converts an element value into its bound column values for
// the given mapping. Reference elements that are still transient are
// persisted first so their identity exists.
func (s *ElementContainerStore) elementParams(ctx context.Context, ec session.ExecutionContext, em *schema.ElementMapping, v any) (*schema.Component, []any, error) {
	return bindMappedValue(ctx, ec, s.m.FieldName, em, s.registry, v)
}

// ownerPredicates returns the owner-equality predicates over the given
// column names.
func ownerPredicates(cols []string) []sqlgen.Predicate {
	return sqlgen.EqAll(cols)
}

// relDiscrimPredicate returns the relation-discriminator equality, or nil.
func (s *ElementContainerStore) relDiscrimPredicate() sqlgen.Predicate {
	if s.m.RelationDiscriminator == nil {
		return nil
	}
	return sqlgen.Eq{Column: s.m.RelationDiscriminator.Column.Name}
}

// ------------------------------------------------------------------------
// size

// buildSizePlan resolves the COUNT topology once at construction.
//
// Three table topologies exist:
//
//	(a) embedded/serialized elements wholly in the container table:
//	    simple COUNT with the owner filter, plus the order>=0 filter
//	    excluding unpositioned rows, plus the soft-delete filter.
//	(b) join table referencing element tables: COUNT with a join per
//	    element table applying the class-discriminator restriction. One
//	    arm per distinct component table.
//	(c) foreign-key strategy over several element tables: UNION ALL of
//	    per-table COUNTs against the owner FK.
//
// The discriminator restriction enumerates every registered concrete type
// and ORs equality predicates. A table whose components carry no
// discriminator gets no restriction for that arm.
func (s *ElementContainerStore) buildSizePlan() []countArm {
	em := s.elementMapping()
	if em == nil || em.Kind != schema.KindReference {
		return []countArm{s.embeddedCountArm()}
	}
	if s.m.UsesJoinTable() {
		return s.joinTableCountArms(em)
	}
	return s.foreignKeyCountArms()
}

func (s *ElementContainerStore) embeddedCountArm() countArm {
	m := s.m
	return countArm{
		build: func(forUpdate bool) sqlgen.Statement {
			b := sqlgen.NewCount(m.Table.Name).
				Where(ownerPredicates(m.Owner.Names())...)
			if m.Order != nil {
				b.Where(sqlgen.GreaterEq{Column: m.Order.Column.Name, Bound: 0})
			}
			if m.Table.SoftDeleteColumn != "" {
				b.Where(sqlgen.NotSoftDeleted{Column: m.Table.SoftDeleteColumn})
			}
			if p := s.relDiscrimPredicate(); p != nil {
				b.Where(p)
			}
			return b.ForUpdate(forUpdate).Build()
		},
	}
}

// joinTableCountArms groups components by table: each distinct component
// table becomes one arm joining the container table to it.
func (s *ElementContainerStore) joinTableCountArms(em *schema.ElementMapping) []countArm {
	m := s.m
	var arms []countArm
	for _, group := range groupByTable(s.registry.Components()) {
		group := group
		discrimValues := discriminatorValues(group)
		joinKind := sqlgen.InnerJoin
		if em.Columns.Nullable {
			joinKind = sqlgen.LeftJoin
		}
		arms = append(arms, countArm{
			discrimValues: discrimValues,
			build: func(forUpdate bool) sqlgen.Statement {
				comp := group[0]
				on := make([][2]string, 0, em.Columns.Width())
				for i, ec := range em.Columns.Names() {
					on = append(on, [2]string{
						m.Table.Name + "." + ec,
						comp.Table.Name + "." + comp.ID.Columns[i].Name,
					})
				}
				b := sqlgen.NewCount(m.Table.Name).
					Join(joinKind, comp.Table.Name, on...).
					Where(ownerPredicates(qualify(m.Table.Name, m.Owner.Names()))...)
				if m.Order != nil {
					b.Where(sqlgen.GreaterEq{Column: m.Table.Name + "." + m.Order.Column.Name, Bound: 0})
				}
				if m.Table.SoftDeleteColumn != "" {
					b.Where(sqlgen.NotSoftDeleted{Column: m.Table.Name + "." + m.Table.SoftDeleteColumn})
				}
				if len(discrimValues) > 0 {
					b.Where(sqlgen.DiscriminatorIn(
						comp.Table.Name+"."+comp.Discriminator.Column.Name, len(discrimValues)))
				}
				if p := s.relDiscrimPredicate(); p != nil {
					b.Where(sqlgen.Eq{Column: m.Table.Name + "." + m.RelationDiscriminator.Column.Name})
				}
				return b.ForUpdate(forUpdate).Build()
			},
		})
	}
	return arms
}

func (s *ElementContainerStore) foreignKeyCountArms() []countArm {
	var arms []countArm
	for _, group := range groupByTable(s.registry.Components()) {
		group := group
		discrimValues := discriminatorValues(group)
		arms = append(arms, countArm{
			discrimValues: discrimValues,
			build: func(forUpdate bool) sqlgen.Statement {
				comp := group[0]
				b := sqlgen.NewCount(comp.Table.Name).
					Where(ownerPredicates(comp.OwnerFK.Names())...)
				if comp.Table.SoftDeleteColumn != "" {
					b.Where(sqlgen.NotSoftDeleted{Column: comp.Table.SoftDeleteColumn})
				}
				if len(discrimValues) > 0 {
					b.Where(sqlgen.DiscriminatorIn(comp.Discriminator.Column.Name, len(discrimValues)))
				}
				return b.ForUpdate(forUpdate).Build()
			},
		})
	}
	return arms
}

// sizeStatement renders the full COUNT statement. Discriminator-free
// statements are memoized under the schema generation; discriminated ones
// rebuild per call.
func (s *ElementContainerStore) sizeStatement(forUpdate bool) sqlgen.Statement {
	build := func() sqlgen.Statement {
		if len(s.sizePlan) == 1 {
			return s.sizePlan[0].build(forUpdate)
		}
		stmts := make([]sqlgen.Statement, len(s.sizePlan))
		for i, arm := range s.sizePlan {
			stmts[i] = arm.build(forUpdate)
		}
		return sqlgen.UnionAllCounts(stmts)
	}
	if s.sizeDiscriminated || forUpdate {
		return build()
	}
	return s.sizeMemo.Get(build)
}

// sizeParams assembles the parameter list mirroring the statement's render
// order: per arm, the owner values, then the discriminator values, then the
// relation-discriminator value.
func (s *ElementContainerStore) sizeParams(ownerVals []any) []any {
	var params []any
	for _, arm := range s.sizePlan {
		params = append(params, ownerVals...)
		for _, v := range arm.discrimValues {
			params = append(params, v)
		}
		if s.m.RelationDiscriminator != nil && s.armUsesRelDiscrim(arm) {
			params = append(params, s.m.RelationDiscriminator.Value)
		}
	}
	return params
}

// armUsesRelDiscrim reports whether an arm's statement touches the
// container table. Foreign-key arms run against component tables, which the
// relation discriminator does not partition.
func (s *ElementContainerStore) armUsesRelDiscrim(countArm) bool {
	em := s.elementMapping()
	if em == nil || em.Kind != schema.KindReference {
		return true
	}
	return s.m.UsesJoinTable()
}

// Size returns the number of elements the owner's container currently
// holds.
func (s *ElementContainerStore) Size(ctx context.Context, ec session.ExecutionContext, owner any) (int, error) {
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return 0, err
	}
	stmt := s.sizeStatement(ec.SerializeRead())
	params := s.sizeParams(ownerVals)

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

	// Single-arm plans return one row; UNION ALL plans return one row per
	// arm and the counts sum.
	total := 0
	scanned := 0
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return 0, session.NewDatastoreError(stmt.SQL, err)
		}
		total += n
		scanned++
	}
	if err := rows.Err(); err != nil {
		return 0, session.NewDatastoreError(stmt.SQL, err)
	}
	if scanned == 0 {
		// COUNT always yields a row; none at all means the statement text
		// and the schema disagree.
		return 0, session.NewInternalError("size query returned no rows for field %q", s.m.FieldName)
	}
	return total, nil
}

// ------------------------------------------------------------------------
// clear

// Clear removes every element from the owner's container.
//
// When elements are dependent - or a foreign-key strategy cannot nullify
// because the owner or order column is non-nullable - the current element
// set is first collected into memory (cascading through the session while
// iterating live results would invite concurrent modification), the
// disassociation statement runs, and each collected element is deleted
// through the session, skipping elements already flagged deleted in-flight.
//
// When owner and element are both soft-deletable the disassociation
// statement is skipped: soft-deleted entities leave join rows untouched.
func (s *ElementContainerStore) Clear(ctx context.Context, ec session.ExecutionContext, owner any) error {
	ownerVals, err := s.ownerID(ec, owner)
	if err != nil {
		return err
	}

	em := s.elementMapping()
	joinTable := em == nil || em.Kind != schema.KindReference || s.m.UsesJoinTable()

	cascade := s.m.DependentElement
	if !joinTable && !cascade {
		// Non-dependent FK elements are disassociated by nullifying; a
		// non-nullable owner FK or order column forces deletion instead.
		if !s.m.Owner.Nullable || (s.m.Order != nil && !s.m.Order.Nullable) {
			cascade = true
		}
	}

	var elements []any
	if cascade {
		elements, err = s.fetchElements(ctx, ec, ownerVals)
		if err != nil {
			return err
		}
	}

	bothSoftDeletable := s.m.OwnerSoftDeletable && s.m.ElementSoftDeletable
	if !bothSoftDeletable {
		if err := s.disassociateAll(ctx, ownerVals, joinTable, cascade); err != nil {
			return err
		}
	}

	for _, el := range elements {
		if ec.IsDeleted(el) {
			continue
		}
		if err := ec.DeleteObject(ctx, el); err != nil {
			return fmt.Errorf("cascade delete element of field %q: %w", s.m.FieldName, err)
		}
	}
	return nil
}

// disassociateAll severs every association row for one owner. Join tables
// delete rows; foreign-key strategies nullify when allowed and delete when
// cascading.
func (s *ElementContainerStore) disassociateAll(ctx context.Context, ownerVals []any, joinTable, cascade bool) error {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return session.NewDatastoreError("", err)
	}
	defer conn.Release()

	if joinTable {
		stmt := s.clearMemo.Get(s.buildClearStatement)
		params := append(append([]any{}, ownerVals...), s.relDiscrimParams()...)
		if _, err := conn.Exec(ctx, stmt, params...); err != nil {
			return session.NewDatastoreError(stmt.SQL, err)
		}
		return nil
	}

	for _, comp := range s.registry.Components() {
		var stmt sqlgen.Statement
		if cascade {
			// Cascade rows disappear via session deletes; nothing to run
			// against the component table here.
			continue
		}
		key := keyNullifyFK + comp.TypeName
		if cached, ok := s.cache.Get(key); ok {
			stmt = cached
		} else {
			b := sqlgen.NewUpdate(comp.Table.Name).SetNull(comp.OwnerFK.Names()...)
			if s.m.Order != nil {
				b.SetNull(s.m.Order.Column.Name)
			}
			stmt = b.Where(ownerPredicates(comp.OwnerFK.Names())...).Build()
			s.cache.Add(key, stmt)
		}
		if _, err := conn.Exec(ctx, stmt, ownerVals...); err != nil {
			return session.NewDatastoreError(stmt.SQL, err)
		}
	}
	return nil
}

// buildClearStatement renders the join-table disassociation:
// DELETE FROM <table> WHERE <owner-eq> [AND <reldiscrim-eq>].
func (s *ElementContainerStore) buildClearStatement() sqlgen.Statement {
	b := sqlgen.NewDelete(s.m.Table.Name).
		Where(ownerPredicates(s.m.Owner.Names())...)
	if p := s.relDiscrimPredicate(); p != nil {
		b.Where(p)
	}
	return b.Build()
}

func (s *ElementContainerStore) relDiscrimParams() []any {
	if s.m.RelationDiscriminator == nil {
		return nil
	}
	return []any{s.m.RelationDiscriminator.Value}
}

// ------------------------------------------------------------------------
// join-table add

// addStatement renders and memoizes the join-table INSERT:
// INSERT INTO <table> (<owner-cols>,<elem-cols>[,<order-cols>]
// [,<reldiscrim-cols>]) VALUES (...). Column order is fixed; parameter
// binding follows it.
//
// The memo survives until InvalidateAddStmt or a schema-generation bump -
// dynamic schema changes (a column added for a new polymorphic element)
// must invalidate explicitly.
func (s *ElementContainerStore) addStatement() sqlgen.Statement {
	return s.addMemo.Get(func() sqlgen.Statement {
		cols := append([]string{}, s.m.Owner.Names()...)
		cols = append(cols, s.elementMapping().Columns.Names()...)
		if s.m.Order != nil {
			cols = append(cols, s.m.Order.Column.Name)
		}
		if s.m.RelationDiscriminator != nil {
			cols = append(cols, s.m.RelationDiscriminator.Column.Name)
		}
		return sqlgen.NewInsert(s.m.Table.Name, cols)
	})
}

// InvalidateAddStmt drops the memoized add statement. Callers must invoke
// it after any dynamic schema change touching the container table.
func (s *ElementContainerStore) InvalidateAddStmt() {
	s.addMemo.Invalidate()
}

// addParams assembles the INSERT parameters in the statement's fixed column
// order: owner, element, order, relation discriminator.
func (s *ElementContainerStore) addParams(ownerVals, elemVals []any, orderIndex int) []any {
	params := append([]any{}, ownerVals...)
	params = append(params, elemVals...)
	if s.m.Order != nil {
		params = append(params, orderIndex)
	}
	params = append(params, s.relDiscrimParams()...)
	return params
}

// ------------------------------------------------------------------------
// helpers

// groupByTable partitions components by their table, preserving
// declaration order of first appearance.
func groupByTable(components []*schema.Component) [][]*schema.Component {
	var order []string
	byTable := make(map[string][]*schema.Component)
	for _, c := range components {
		if _, seen := byTable[c.Table.Name]; !seen {
			order = append(order, c.Table.Name)
		}
		byTable[c.Table.Name] = append(byTable[c.Table.Name], c)
	}
	groups := make([][]*schema.Component, len(order))
	for i, t := range order {
		groups[i] = byTable[t]
	}
	return groups
}

// discriminatorValues enumerates the discriminator values of a component
// group. If any component of the group lacks a discriminator the
// restriction is omitted for that branch entirely.
func discriminatorValues(group []*schema.Component) []string {
	var values []string
	for _, c := range group {
		if c.Discriminator == nil {
			return nil
		}
		v, ok := c.Discriminator.ValueFor[c.TypeName]
		if !ok {
			return nil
		}
		values = append(values, v)
	}
	return values
}

// qualify prefixes column names with a table name.
func qualify(table string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = table + "." + c
	}
	return out
}
