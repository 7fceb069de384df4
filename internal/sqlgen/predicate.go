package sqlgen

import (
	"fmt"
	"strings"
)

// Predicate represents one WHERE-clause condition.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive handling in the renderer.
//
// Predicate types:
//   - Eq: column = ? (one parameter slot)
//   - Like: column LIKE ? (one parameter slot; used where the stored form
//     is not equality-efficient, e.g. serialized elements)
//   - GreaterEq: column >= <int literal> (no parameter slot)
//   - IsNull: column IS NULL
//   - NotSoftDeleted: soft-delete column = 0
//   - And / Or: conjunction and disjunction of sub-predicates
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package

	// render appends SQL text and returns the number of parameter slots
	// the predicate contributes.
	render(sb *strings.Builder) int
}

// Eq renders "column = ?".
type Eq struct {
	Column string
}

func (Eq) predicateNode() {}

func (p Eq) render(sb *strings.Builder) int {
	sb.WriteString(p.Column)
	sb.WriteString(" = ?")
	return 1
}

// Like renders "column LIKE ?".
type Like struct {
	Column string
}

func (Like) predicateNode() {}

func (p Like) render(sb *strings.Builder) int {
	sb.WriteString(p.Column)
	sb.WriteString(" LIKE ?")
	return 1
}

// GreaterEq renders "column >= n" with an integer literal. Used for the
// order-column filter excluding unpositioned rows; the bound is schema
// knowledge, not caller data, so it is rendered inline.
type GreaterEq struct {
	Column string
	Bound  int
}

func (GreaterEq) predicateNode() {}

func (p GreaterEq) render(sb *strings.Builder) int {
	fmt.Fprintf(sb, "%s >= %d", p.Column, p.Bound)
	return 0
}

// IsNull renders "column IS NULL".
type IsNull struct {
	Column string
}

func (IsNull) predicateNode() {}

func (p IsNull) render(sb *strings.Builder) int {
	sb.WriteString(p.Column)
	sb.WriteString(" IS NULL")
	return 0
}

// NotSoftDeleted renders the soft-delete filter "column = 0".
type NotSoftDeleted struct {
	Column string
}

func (NotSoftDeleted) predicateNode() {}

func (p NotSoftDeleted) render(sb *strings.Builder) int {
	sb.WriteString(p.Column)
	sb.WriteString(" = 0")
	return 0
}

// And is the conjunction of its sub-predicates. An empty And renders as a
// vacuous truth.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

func (p And) render(sb *strings.Builder) int {
	if len(p.Predicates) == 0 {
		sb.WriteString("1 = 1")
		return 0
	}
	slots := 0
	for i, sub := range p.Predicates {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		slots += sub.render(sb)
	}
	return slots
}

// Or is the disjunction of its sub-predicates, parenthesized as a group.
// The discriminator restriction (one equality per concrete subclass) renders
// through Or.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

func (p Or) render(sb *strings.Builder) int {
	if len(p.Predicates) == 0 {
		sb.WriteString("1 = 0")
		return 0
	}
	sb.WriteString("(")
	slots := 0
	for i, sub := range p.Predicates {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		slots += sub.render(sb)
	}
	sb.WriteString(")")
	return slots
}

// EqAll returns one Eq predicate per column, in order. Multi-column
// mappings (composite identities) expand through it.
func EqAll(columns []string) []Predicate {
	preds := make([]Predicate, len(columns))
	for i, c := range columns {
		preds[i] = Eq{Column: c}
	}
	return preds
}

// DiscriminatorIn returns the OR-of-equalities restriction over a
// discriminator column, one slot per concrete type value.
func DiscriminatorIn(column string, valueCount int) Predicate {
	preds := make([]Predicate, valueCount)
	for i := range preds {
		preds[i] = Eq{Column: column}
	}
	return Or{Predicates: preds}
}
