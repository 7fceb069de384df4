package schema

import (
	"reflect"
)

// Table identifies a physical table.
type Table struct {
	// Name is the normalized table name.
	Name string `yaml:"name" json:"name"`

	// SoftDeleteColumn, when non-empty, names a column whose non-zero value
	// marks a row as logically deleted. Statements over the table must
	// filter on it.
	SoftDeleteColumn string `yaml:"soft_delete_column,omitempty" json:"soft_delete_column,omitempty"`
}

// Column identifies one physical column of a table.
type Column struct {
	Name string `yaml:"name" json:"name"`
}

// ColumnMapping maps one logical value onto one or more physical columns.
//
// Single-column mappings cover primitives and serialized values. Multi-column
// mappings cover composite identities and embedded structs. Column order is
// significant: parameter binding follows it.
type ColumnMapping struct {
	Columns  []Column `yaml:"columns" json:"columns"`
	Nullable bool     `yaml:"nullable,omitempty" json:"nullable,omitempty"`
}

// Width returns the number of physical columns in the mapping.
func (m ColumnMapping) Width() int { return len(m.Columns) }

// Names returns the column names in binding order.
func (m ColumnMapping) Names() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}
	return names
}

// ElementKind selects how an element/key/value is physically stored.
type ElementKind int

const (
	// KindEmbedded stores the value's columns directly in the container
	// table.
	KindEmbedded ElementKind = iota

	// KindSerialized stores the value as a single canonical-JSON text
	// column in the container table. Equality lookups against serialized
	// columns use LIKE rather than =, since the stored form is not an
	// equality-efficient representation.
	KindSerialized

	// KindReference stores a foreign key to the value's own table.
	KindReference
)

// String returns the mapping-file spelling of the kind.
func (k ElementKind) String() string {
	switch k {
	case KindEmbedded:
		return "embedded"
	case KindSerialized:
		return "serialized"
	case KindReference:
		return "reference"
	default:
		return "unknown"
	}
}

// ElementMapping describes how element (or map key/value) data is stored.
type ElementMapping struct {
	Kind    ElementKind
	Columns ColumnMapping

	// DeclaredType is the static Go type of the field's element. Concrete
	// runtime types are resolved against the component registry.
	DeclaredType reflect.Type
}

// OrderMapping describes the integer position column of an indexed list or
// ordered set.
//
// For a strict index-preserving list the stored values per owner are the
// contiguous integers 0..N-1. The value -1 (or NULL when the column is
// nullable) is the unpositioned sentinel for detached rows.
type OrderMapping struct {
	Column   Column
	Nullable bool
}

// UnpositionedIndex is the sentinel order value for rows that currently have
// no position.
const UnpositionedIndex = -1

// RelationDiscriminator partitions rows of a shared table into disjoint
// logical relations. Every statement touching the table must include it in
// WHERE and SET clauses.
type RelationDiscriminator struct {
	Column Column
	Value  string
}

// Discriminator disambiguates concrete types sharing one table. ValueFor
// enumerates the stored discriminator value per concrete type name; abstract
// types do not appear.
type Discriminator struct {
	Column   Column
	ValueFor map[string]string
}

// Values returns the discriminator values for the given type names, skipping
// names without an entry. Order follows the input.
func (d *Discriminator) Values(typeNames []string) []string {
	var out []string
	for _, n := range typeNames {
		if v, ok := d.ValueFor[n]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Component describes one concrete element/key/value type that can occur in
// a container field. Polymorphic fields (interface-typed, or subclass-per-
// table inheritance) carry one component per concrete type.
type Component struct {
	// TypeName is the registered name of the concrete type.
	TypeName string

	// GoType is the concrete Go type, used for registry resolution.
	GoType reflect.Type

	// Table is the component's own table. For foreign-key strategies the
	// container statements run against it.
	Table Table

	// ID maps the component's identity columns.
	ID ColumnMapping

	// Discriminator is set when the component's table is shared with other
	// types.
	Discriminator *Discriminator

	// OwnerFK maps the component's foreign key back to the owner. Set only
	// for foreign-key strategies.
	OwnerFK *ColumnMapping

	// OwnerField names the component's managed field referencing the
	// owner. Foreign-key stores write the association through it.
	OwnerField string

	// KeyField and ValueField name the managed fields a foreign-key map
	// component stores its map key or value in. At most one is set.
	KeyField   string
	ValueField string
}

// ContainerKind selects the container flavor a mapping describes.
type ContainerKind int

const (
	ContainerCollection ContainerKind = iota
	ContainerList
	ContainerArray
	ContainerMap
)

// String returns the mapping-file spelling of the kind.
func (k ContainerKind) String() string {
	switch k {
	case ContainerCollection:
		return "collection"
	case ContainerList:
		return "list"
	case ContainerArray:
		return "array"
	case ContainerMap:
		return "map"
	default:
		return "unknown"
	}
}

// ContainerMapping is the complete metadata for one container-typed
// persistent field. A backing store is constructed from exactly one
// ContainerMapping and is immutable afterwards, except for memoized
// statement text.
type ContainerMapping struct {
	// FieldName is the owning entity's field, for diagnostics.
	FieldName string

	// Kind selects collection/list/array/map semantics.
	Kind ContainerKind

	// Table is the container table: a join table, or the element's (or
	// key's/value's) own table under a foreign-key strategy.
	Table Table

	// Owner maps the owning entity's key columns in the container table.
	// Exactly one owner mapping exists per container.
	Owner ColumnMapping

	// Element is set for collections, lists and arrays.
	Element *ElementMapping

	// Key and Value are set for maps. Under a foreign-key strategy exactly
	// one of them is KindReference with an OwnerFK-bearing component; the
	// other is stored as a field of that component.
	Key   *ElementMapping
	Value *ElementMapping

	// Order is required for lists and arrays, optional for collections.
	Order *OrderMapping

	// RelationDiscriminator is set when several logical relations share the
	// container table.
	RelationDiscriminator *RelationDiscriminator

	// Components enumerates the concrete types the element can take, in
	// declaration order.
	Components []Component

	// KeyComponents and ValueComponents enumerate the concrete types of a
	// map's reference-typed key or value side.
	KeyComponents   []Component
	ValueComponents []Component

	// AdapterColumn names the surrogate-sequence column added to a join
	// table's primary key when the key type cannot serve in one (large
	// binary keys, for instance). Empty when unused.
	AdapterColumn string

	// Dependent policy: cascading delete of contained objects when the
	// association is severed.
	DependentElement bool
	DependentKey     bool
	DependentValue   bool

	// OwnerSoftDeletable and ElementSoftDeletable record whether the two
	// sides use logical deletion. When both do, clearing an association
	// leaves join rows untouched.
	OwnerSoftDeletable   bool
	ElementSoftDeletable bool
}

// IsIndexed reports whether the container preserves element positions.
func (m *ContainerMapping) IsIndexed() bool {
	return m.Kind == ContainerList || m.Kind == ContainerArray
}

// UsesJoinTable reports whether the association lives in a dedicated join
// table rather than in the component tables themselves.
func (m *ContainerMapping) UsesJoinTable() bool {
	for _, list := range [][]Component{m.Components, m.KeyComponents, m.ValueComponents} {
		for _, c := range list {
			if c.OwnerFK != nil {
				return false
			}
		}
	}
	return true
}

// ReferencedMapping returns the map-side mapping that is a reference under a
// foreign-key strategy, and whether it is the key side. Returns nil for join
// table maps.
func (m *ContainerMapping) ReferencedMapping() (*ElementMapping, bool) {
	if m.Kind != ContainerMap || m.UsesJoinTable() {
		return nil, false
	}
	if m.Key != nil && m.Key.Kind == KindReference {
		return m.Key, true
	}
	return m.Value, false
}
