package schema

import (
	"fmt"
	"reflect"
)

// MappingConfig is the YAML shape of one container-field mapping. It is the
// on-disk form of ContainerMapping: plain strings and lists, no Go types.
// Build converts it, resolving element Go types against a caller-supplied
// type table.
type MappingConfig struct {
	Field string `yaml:"field" json:"field"`
	Kind  string `yaml:"kind" json:"kind"`

	Table            string `yaml:"table" json:"table"`
	SoftDeleteColumn string `yaml:"soft_delete_column,omitempty" json:"soft_delete_column,omitempty"`

	Owner []string `yaml:"owner" json:"owner"`

	Element *ElementConfig `yaml:"element,omitempty" json:"element,omitempty"`
	Key     *ElementConfig `yaml:"key,omitempty" json:"key,omitempty"`
	Value   *ElementConfig `yaml:"value,omitempty" json:"value,omitempty"`

	Order         *OrderConfig `yaml:"order,omitempty" json:"order,omitempty"`
	AdapterColumn string       `yaml:"adapter_column,omitempty" json:"adapter_column,omitempty"`

	RelationDiscriminator *RelationDiscriminatorConfig `yaml:"relation_discriminator,omitempty" json:"relation_discriminator,omitempty"`

	Components      []ComponentConfig `yaml:"components,omitempty" json:"components,omitempty"`
	KeyComponents   []ComponentConfig `yaml:"key_components,omitempty" json:"key_components,omitempty"`
	ValueComponents []ComponentConfig `yaml:"value_components,omitempty" json:"value_components,omitempty"`

	DependentElement bool `yaml:"dependent_element,omitempty" json:"dependent_element,omitempty"`
	DependentKey     bool `yaml:"dependent_key,omitempty" json:"dependent_key,omitempty"`
	DependentValue   bool `yaml:"dependent_value,omitempty" json:"dependent_value,omitempty"`

	OwnerSoftDeletable   bool `yaml:"owner_soft_deletable,omitempty" json:"owner_soft_deletable,omitempty"`
	ElementSoftDeletable bool `yaml:"element_soft_deletable,omitempty" json:"element_soft_deletable,omitempty"`
}

// ElementConfig is the YAML shape of an element/key/value mapping.
type ElementConfig struct {
	Kind     string   `yaml:"kind" json:"kind"`
	Columns  []string `yaml:"columns" json:"columns"`
	Nullable bool     `yaml:"nullable,omitempty" json:"nullable,omitempty"`
}

// OrderConfig is the YAML shape of a position column.
type OrderConfig struct {
	Column   string `yaml:"column" json:"column"`
	Nullable bool   `yaml:"nullable,omitempty" json:"nullable,omitempty"`
}

// RelationDiscriminatorConfig is the YAML shape of a relation
// discriminator.
type RelationDiscriminatorConfig struct {
	Column string `yaml:"column" json:"column"`
	Value  string `yaml:"value" json:"value"`
}

// ComponentConfig is the YAML shape of one concrete element type.
type ComponentConfig struct {
	Type             string   `yaml:"type" json:"type"`
	Table            string   `yaml:"table" json:"table"`
	SoftDeleteColumn string   `yaml:"soft_delete_column,omitempty" json:"soft_delete_column,omitempty"`
	ID               []string `yaml:"id" json:"id"`

	Discriminator *DiscriminatorConfig `yaml:"discriminator,omitempty" json:"discriminator,omitempty"`

	OwnerFK         []string `yaml:"owner_fk,omitempty" json:"owner_fk,omitempty"`
	OwnerFKNullable bool     `yaml:"owner_fk_nullable,omitempty" json:"owner_fk_nullable,omitempty"`
	OwnerField      string   `yaml:"owner_field,omitempty" json:"owner_field,omitempty"`
	KeyField        string   `yaml:"key_field,omitempty" json:"key_field,omitempty"`
	ValueField      string   `yaml:"value_field,omitempty" json:"value_field,omitempty"`
}

// DiscriminatorConfig is the YAML shape of a type discriminator.
type DiscriminatorConfig struct {
	Column string            `yaml:"column" json:"column"`
	Values map[string]string `yaml:"values" json:"values"`
}

func parseContainerKind(s string) (ContainerKind, error) {
	switch s {
	case "collection", "set":
		return ContainerCollection, nil
	case "list":
		return ContainerList, nil
	case "array":
		return ContainerArray, nil
	case "map":
		return ContainerMap, nil
	default:
		return 0, fmt.Errorf("unknown container kind %q", s)
	}
}

func parseElementKind(s string) (ElementKind, error) {
	switch s {
	case "embedded", "":
		return KindEmbedded, nil
	case "serialized":
		return KindSerialized, nil
	case "reference":
		return KindReference, nil
	default:
		return 0, fmt.Errorf("unknown element kind %q", s)
	}
}

func columnMapping(names []string, nullable bool) ColumnMapping {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: NormalizeIdent(n)}
	}
	return ColumnMapping{Columns: cols, Nullable: nullable}
}

func (c *ElementConfig) build() (*ElementMapping, error) {
	if c == nil {
		return nil, nil
	}
	kind, err := parseElementKind(c.Kind)
	if err != nil {
		return nil, err
	}
	return &ElementMapping{
		Kind:    kind,
		Columns: columnMapping(c.Columns, c.Nullable),
	}, nil
}

func (c ComponentConfig) build(types map[string]reflect.Type) (Component, error) {
	comp := Component{
		TypeName: c.Type,
		GoType:   types[c.Type],
		Table: Table{
			Name:             NormalizeIdent(c.Table),
			SoftDeleteColumn: c.SoftDeleteColumn,
		},
		ID:         columnMapping(c.ID, false),
		OwnerField: c.OwnerField,
		KeyField:   c.KeyField,
		ValueField: c.ValueField,
	}
	// A nil GoType is tolerated here: offline validation works on shapes
	// alone, and the registry rejects typeless components at store
	// construction.
	if c.Discriminator != nil {
		comp.Discriminator = &Discriminator{
			Column:   Column{Name: NormalizeIdent(c.Discriminator.Column)},
			ValueFor: c.Discriminator.Values,
		}
	}
	if len(c.OwnerFK) > 0 {
		fk := columnMapping(c.OwnerFK, c.OwnerFKNullable)
		comp.OwnerFK = &fk
	}
	return comp, nil
}

func buildComponents(cfgs []ComponentConfig, types map[string]reflect.Type) ([]Component, error) {
	if len(cfgs) == 0 {
		return nil, nil
	}
	out := make([]Component, 0, len(cfgs))
	for _, cfg := range cfgs {
		comp, err := cfg.build(types)
		if err != nil {
			return nil, err
		}
		out = append(out, comp)
	}
	return out, nil
}

// Build converts the config into a ContainerMapping. types maps component
// type names to their concrete Go types; a mapping without reference
// components needs none.
//
// Build resolves shapes, not semantics: the result still goes through
// ContainerMapping.Validate at store construction.
func (c *MappingConfig) Build(types map[string]reflect.Type) (*ContainerMapping, error) {
	kind, err := parseContainerKind(c.Kind)
	if err != nil {
		return nil, fmt.Errorf("mapping %q: %w", c.Field, err)
	}
	m := &ContainerMapping{
		FieldName: c.Field,
		Kind:      kind,
		Table: Table{
			Name:             NormalizeIdent(c.Table),
			SoftDeleteColumn: c.SoftDeleteColumn,
		},
		Owner:                columnMapping(c.Owner, false),
		AdapterColumn:        c.AdapterColumn,
		DependentElement:     c.DependentElement,
		DependentKey:         c.DependentKey,
		DependentValue:       c.DependentValue,
		OwnerSoftDeletable:   c.OwnerSoftDeletable,
		ElementSoftDeletable: c.ElementSoftDeletable,
	}
	if m.Element, err = c.Element.build(); err != nil {
		return nil, fmt.Errorf("mapping %q element: %w", c.Field, err)
	}
	if m.Key, err = c.Key.build(); err != nil {
		return nil, fmt.Errorf("mapping %q key: %w", c.Field, err)
	}
	if m.Value, err = c.Value.build(); err != nil {
		return nil, fmt.Errorf("mapping %q value: %w", c.Field, err)
	}
	if c.Order != nil {
		m.Order = &OrderMapping{
			Column:   Column{Name: NormalizeIdent(c.Order.Column)},
			Nullable: c.Order.Nullable,
		}
	}
	if c.RelationDiscriminator != nil {
		m.RelationDiscriminator = &RelationDiscriminator{
			Column: Column{Name: NormalizeIdent(c.RelationDiscriminator.Column)},
			Value:  c.RelationDiscriminator.Value,
		}
	}
	if m.Components, err = buildComponents(c.Components, types); err != nil {
		return nil, fmt.Errorf("mapping %q: %w", c.Field, err)
	}
	if m.KeyComponents, err = buildComponents(c.KeyComponents, types); err != nil {
		return nil, fmt.Errorf("mapping %q: %w", c.Field, err)
	}
	if m.ValueComponents, err = buildComponents(c.ValueComponents, types); err != nil {
		return nil, fmt.Errorf("mapping %q: %w", c.Field, err)
	}
	return m, nil
}
