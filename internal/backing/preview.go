package backing

import (
	"reflect"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/sqlgen"
)

// NamedStatement pairs an operation label with the statement it would
// execute. Used by offline tooling to show a mapping's generated SQL.
type NamedStatement struct {
	Name string `json:"name"`
	SQL  string `json:"sql"`
	Args int    `json:"args"`
}

// PreviewStatements renders the statically-derivable statements of a
// mapping without a database. Statements whose text depends on runtime
// values (per-concrete-type variants, discriminated fetches) are shown for
// the mapping's declared components.
//
// Components lacking Go types get synthetic placeholders, so mapping files
// loaded from YAML can be previewed as-is.
func PreviewStatements(m *schema.ContainerMapping) ([]NamedStatement, error) {
	m = withPlaceholderTypes(m)

	var out []NamedStatement
	add := func(name string, stmt sqlgen.Statement) {
		out = append(out, NamedStatement{Name: name, SQL: stmt.SQL, Args: stmt.ParamSlots})
	}

	switch m.Kind {
	case schema.ContainerCollection, schema.ContainerList, schema.ContainerArray:
		cs, err := newElementContainerStore(nil, schema.NewGeneration(), m)
		if err != nil {
			return nil, err
		}
		add("size", cs.sizeStatement(false))
		add("clear", cs.buildClearStatement())
		if m.UsesJoinTable() {
			add("add", cs.addStatement())
		}
		if m.Kind == schema.ContainerList {
			ls := &ListStore{CollectionStore: &CollectionStore{ElementContainerStore: cs}}
			add("remove_at", ls.removeAtStatement())
			add("shift", ls.shiftStatement())
		}

	case schema.ContainerMap:
		if m.UsesJoinTable() {
			js, err := NewJoinMapStore(nil, schema.NewGeneration(), m)
			if err != nil {
				return nil, err
			}
			add("put", js.putStatement())
			add("update", js.updateStatement())
			add("remove", js.removeStatement())
			add("get", js.getStatement())
			if m.AdapterColumn != "" {
				add("next_adapter", sqlgen.NextAdapterValue(m.Table.Name, m.AdapterColumn, m.Owner.Names()))
			}
		} else {
			fs, err := NewFKMapStore(nil, schema.NewGeneration(), m)
			if err != nil {
				return nil, err
			}
			for _, comp := range fs.refReg.Components() {
				if !fs.keySide {
					add("lookup:"+comp.TypeName, fs.valueLookupStatement(comp))
				} else {
					add("member:"+comp.TypeName, fs.keyMembershipStatement(comp))
				}
			}
		}
	}
	return out, nil
}

// withPlaceholderTypes returns a copy of the mapping whose typeless
// components carry distinct synthetic struct types, enough to satisfy the
// registry.
func withPlaceholderTypes(m *schema.ContainerMapping) *schema.ContainerMapping {
	cp := *m
	cp.Components = placeholderComponents(m.Components)
	cp.KeyComponents = placeholderComponents(m.KeyComponents)
	cp.ValueComponents = placeholderComponents(m.ValueComponents)
	return &cp
}

func placeholderComponents(comps []schema.Component) []schema.Component {
	if len(comps) == 0 {
		return nil
	}
	out := make([]schema.Component, len(comps))
	copy(out, comps)
	for i := range out {
		if out[i].GoType != nil {
			continue
		}
		// The tag makes each synthetic type distinct per component name.
		out[i].GoType = reflect.StructOf([]reflect.StructField{{
			Name: "ID",
			Type: reflect.TypeOf(""),
			Tag:  reflect.StructTag(`component:"` + out[i].TypeName + `"`),
		}})
	}
	return out
}
