package sqlgen

import (
	"strings"
)

// NewInsert renders "INSERT INTO table (c1,c2,...) VALUES (?,?,...)".
// Column order is fixed by the caller and significant: parameter binding
// follows it exactly.
func NewInsert(table string, columns []string) Statement {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ","))
	sb.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("?")
	}
	sb.WriteString(")")
	return Statement{SQL: sb.String(), ParamSlots: len(columns)}
}

// DeleteBuilder assembles a DELETE statement.
type DeleteBuilder struct {
	from   string
	wheres []Predicate
}

// NewDelete starts a DELETE over the given table.
func NewDelete(table string) *DeleteBuilder {
	return &DeleteBuilder{from: table}
}

// Where appends predicates, AND-combined at render time.
func (b *DeleteBuilder) Where(preds ...Predicate) *DeleteBuilder {
	b.wheres = append(b.wheres, preds...)
	return b
}

// Build renders the statement once.
func (b *DeleteBuilder) Build() Statement {
	var sb strings.Builder
	slots := 0
	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.from)
	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE ")
		slots += And{Predicates: b.wheres}.render(&sb)
	}
	return Statement{SQL: sb.String(), ParamSlots: slots}
}

// UpdateBuilder assembles an UPDATE statement. SET columns render as
// "col = ?" in append order; SET NULL columns render inline.
type UpdateBuilder struct {
	table    string
	sets     []string
	setNulls []string
	wheres   []Predicate
}

// NewUpdate starts an UPDATE over the given table.
func NewUpdate(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// Set appends parameterized assignment columns.
func (b *UpdateBuilder) Set(columns ...string) *UpdateBuilder {
	b.sets = append(b.sets, columns...)
	return b
}

// SetNull appends "col = NULL" assignments, used to disassociate nullable
// foreign keys.
func (b *UpdateBuilder) SetNull(columns ...string) *UpdateBuilder {
	b.setNulls = append(b.setNulls, columns...)
	return b
}

// Where appends predicates, AND-combined at render time.
func (b *UpdateBuilder) Where(preds ...Predicate) *UpdateBuilder {
	b.wheres = append(b.wheres, preds...)
	return b
}

// Build renders the statement once.
func (b *UpdateBuilder) Build() Statement {
	var sb strings.Builder
	slots := 0
	sb.WriteString("UPDATE ")
	sb.WriteString(b.table)
	sb.WriteString(" SET ")
	first := true
	for _, c := range b.sets {
		if !first {
			sb.WriteString(",")
		}
		first = false
		sb.WriteString(c)
		sb.WriteString(" = ?")
		slots++
	}
	for _, c := range b.setNulls {
		if !first {
			sb.WriteString(",")
		}
		first = false
		sb.WriteString(c)
		sb.WriteString(" = NULL")
	}
	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE ")
		slots += And{Predicates: b.wheres}.render(&sb)
	}
	return Statement{SQL: sb.String(), ParamSlots: slots}
}

// RawUpdateShift renders the list index rebalance:
// "UPDATE t SET ord = ord + ? WHERE <owner-eq> AND ord > ? [AND rel = ?]".
// The shift delta binds first, then the owner values, then the index bound,
// then the relation-discriminator value.
func RawUpdateShift(table, orderColumn string, ownerColumns []string, hasRelDiscrim bool, relColumn string) Statement {
	var sb strings.Builder
	slots := 1
	sb.WriteString("UPDATE ")
	sb.WriteString(table)
	sb.WriteString(" SET ")
	sb.WriteString(orderColumn)
	sb.WriteString(" = ")
	sb.WriteString(orderColumn)
	sb.WriteString(" + ? WHERE ")
	slots += And{Predicates: EqAll(ownerColumns)}.render(&sb)
	sb.WriteString(" AND ")
	sb.WriteString(orderColumn)
	sb.WriteString(" > ?")
	slots++
	if hasRelDiscrim {
		sb.WriteString(" AND ")
		sb.WriteString(relColumn)
		sb.WriteString(" = ?")
		slots++
	}
	return Statement{SQL: sb.String(), ParamSlots: slots}
}

// NextAdapterValue renders the surrogate-sequence probe
// "SELECT MAX(col)+1 FROM table WHERE <owner-eq>". The read-then-insert
// pattern this supports is not safe under concurrent writers for the same
// owner; see JoinMapStore.
func NextAdapterValue(table, adapterColumn string, ownerColumns []string) Statement {
	var sb strings.Builder
	slots := 0
	sb.WriteString("SELECT MAX(")
	sb.WriteString(adapterColumn)
	sb.WriteString(")+1 FROM ")
	sb.WriteString(table)
	sb.WriteString(" WHERE ")
	slots += And{Predicates: EqAll(ownerColumns)}.render(&sb)
	return Statement{SQL: sb.String(), ParamSlots: slots}
}
