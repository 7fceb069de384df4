package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validListMapping() *ContainerMapping {
	return &ContainerMapping{
		FieldName: "items",
		Kind:      ContainerList,
		Table:     Table{Name: "owner_items"},
		Owner:     ColumnMapping{Columns: []Column{{Name: "owner_id"}}},
		Element: &ElementMapping{
			Kind:    KindEmbedded,
			Columns: ColumnMapping{Columns: []Column{{Name: "val"}}},
		},
		Order: &OrderMapping{Column: Column{Name: "idx"}},
	}
}

func TestValidate_AcceptsWellFormedList(t *testing.T) {
	assert.Empty(t, validListMapping().Validate())
}

func TestValidate_ListRequiresOrder(t *testing.T) {
	m := validListMapping()
	m.Order = nil
	errs := m.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "order")
}

func TestValidate_IndexedRejectsForeignKeyStrategy(t *testing.T) {
	ownerFK := ColumnMapping{Columns: []Column{{Name: "owner_id"}}, Nullable: true}
	m := validListMapping()
	m.Element.Kind = KindReference
	m.Components = []Component{{
		TypeName:   "child",
		Table:      Table{Name: "children"},
		ID:         ColumnMapping{Columns: []Column{{Name: "id"}}},
		OwnerFK:    &ownerFK,
		OwnerField: "Owner",
	}}
	errs := m.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "foreign-key strategy")
}

func TestValidate_OwnerColumnsRequired(t *testing.T) {
	m := validListMapping()
	m.Owner = ColumnMapping{}
	errs := m.Validate()
	require.NotEmpty(t, errs)
}

func TestValidate_SerializedElementSingleColumn(t *testing.T) {
	m := validListMapping()
	m.Element = &ElementMapping{
		Kind: KindSerialized,
		Columns: ColumnMapping{Columns: []Column{
			{Name: "a"}, {Name: "b"},
		}},
	}
	errs := m.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "exactly one column")
}

func TestValidate_ReferenceElementNeedsComponents(t *testing.T) {
	m := validListMapping()
	m.Element.Kind = KindReference
	errs := m.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "no components")
}

func TestValidate_MapNeedsKeyAndValue(t *testing.T) {
	m := &ContainerMapping{
		FieldName: "attrs",
		Kind:      ContainerMap,
		Table:     Table{Name: "owner_attrs"},
		Owner:     ColumnMapping{Columns: []Column{{Name: "owner_id"}}},
	}
	errs := m.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "key and value")
}

func TestValidate_FKMapExactlyOneReferenceSide(t *testing.T) {
	ownerFK := ColumnMapping{Columns: []Column{{Name: "owner_id"}}, Nullable: true}
	refComp := Component{
		TypeName:   "entry",
		Table:      Table{Name: "entries"},
		ID:         ColumnMapping{Columns: []Column{{Name: "id"}}},
		OwnerFK:    &ownerFK,
		OwnerField: "Owner",
		KeyField:   "Key",
	}
	m := &ContainerMapping{
		FieldName: "attrs",
		Kind:      ContainerMap,
		Table:     Table{Name: "entries"},
		Owner:     ColumnMapping{Columns: []Column{{Name: "owner_id"}}},
		Key: &ElementMapping{
			Kind:    KindReference,
			Columns: ColumnMapping{Columns: []Column{{Name: "id"}}},
		},
		Value: &ElementMapping{
			Kind:    KindReference,
			Columns: ColumnMapping{Columns: []Column{{Name: "id"}}},
		},
		KeyComponents:   []Component{refComp},
		ValueComponents: []Component{refComp},
	}
	errs := m.Validate()
	require.NotEmpty(t, errs)

	found := false
	for _, err := range errs {
		if strings.Contains(err.Error(), "exactly one reference side") {
			found = true
		}
	}
	assert.True(t, found, "expected exactly-one-reference-side error, got %v", errs)
}

func TestValidate_ComponentWithFKNeedsOwnerField(t *testing.T) {
	ownerFK := ColumnMapping{Columns: []Column{{Name: "owner_id"}}}
	m := validListMapping()
	m.Kind = ContainerCollection
	m.Order = nil
	m.Element.Kind = KindReference
	m.Components = []Component{{
		TypeName: "child",
		Table:    Table{Name: "children"},
		ID:       ColumnMapping{Columns: []Column{{Name: "id"}}},
		OwnerFK:  &ownerFK,
	}}
	errs := m.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "owner field")
}

func TestValidate_RelationDiscriminatorNeedsValue(t *testing.T) {
	m := validListMapping()
	m.RelationDiscriminator = &RelationDiscriminator{Column: Column{Name: "rel"}}
	errs := m.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "no value")
}

func TestValidate_BadTableIdent(t *testing.T) {
	m := validListMapping()
	m.Table.Name = "owner items; drop"
	errs := m.Validate()
	require.NotEmpty(t, errs)
}
