package sqlgen

import (
	"strings"
)

// JoinKind selects the join flavor for a SelectBuilder join clause.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
)

func (k JoinKind) String() string {
	if k == LeftJoin {
		return "LEFT OUTER JOIN"
	}
	return "INNER JOIN"
}

// joinClause is one FROM-list join: table joined on pairwise column
// equality.
type joinClause struct {
	kind  JoinKind
	table string
	on    [][2]string
}

// SelectBuilder assembles a SELECT statement from fragments. Zero value is
// not usable; start from NewSelect or NewCount.
type SelectBuilder struct {
	selects   []string
	from      string
	joins     []joinClause
	wheres    []Predicate
	orderBy   []string
	forUpdate bool
}

// NewSelect starts a SELECT over the given table with the given select
// expressions.
func NewSelect(table string, exprs ...string) *SelectBuilder {
	return &SelectBuilder{selects: exprs, from: table}
}

// NewCount starts a SELECT COUNT(*) over the given table.
func NewCount(table string) *SelectBuilder {
	return &SelectBuilder{selects: []string{"COUNT(*)"}, from: table}
}

// Join appends a join clause. on holds (left column, right column) pairs,
// both sides fully qualified by the caller.
func (b *SelectBuilder) Join(kind JoinKind, table string, on ...[2]string) *SelectBuilder {
	b.joins = append(b.joins, joinClause{kind: kind, table: table, on: on})
	return b
}

// Where appends predicates, AND-combined at render time.
func (b *SelectBuilder) Where(preds ...Predicate) *SelectBuilder {
	b.wheres = append(b.wheres, preds...)
	return b
}

// OrderBy appends ORDER BY expressions in render order.
func (b *SelectBuilder) OrderBy(exprs ...string) *SelectBuilder {
	b.orderBy = append(b.orderBy, exprs...)
	return b
}

// ForUpdate appends a FOR UPDATE suffix; generated when the surrounding
// transaction requests serialized reads.
func (b *SelectBuilder) ForUpdate(on bool) *SelectBuilder {
	b.forUpdate = on
	return b
}

// Build renders the statement once.
func (b *SelectBuilder) Build() Statement {
	var sb strings.Builder
	slots := 0

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(b.selects, ","))
	sb.WriteString(" FROM ")
	sb.WriteString(b.from)

	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j.kind.String())
		sb.WriteString(" ")
		sb.WriteString(j.table)
		sb.WriteString(" ON ")
		for i, pair := range j.on {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			sb.WriteString(pair[0])
			sb.WriteString(" = ")
			sb.WriteString(pair[1])
		}
	}

	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE ")
		slots += And{Predicates: b.wheres}.render(&sb)
	}

	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBy, ","))
	}

	if b.forUpdate {
		sb.WriteString(" FOR UPDATE")
	}

	return Statement{SQL: sb.String(), ParamSlots: slots}
}

// UnionAllCounts renders the multi-table count topology: each per-table
// count statement becomes one UNION ALL arm. The caller sums the returned
// rows.
func UnionAllCounts(stmts []Statement) Statement {
	var sb strings.Builder
	slots := 0
	for i, s := range stmts {
		if i > 0 {
			sb.WriteString(" UNION ALL ")
		}
		sb.WriteString(s.SQL)
		slots += s.ParamSlots
	}
	return Statement{SQL: sb.String(), ParamSlots: slots}
}
