package schema

import (
	"fmt"
)

// ValidationError reports a mapping-configuration problem. These are user
// errors: they surface before any statement is executed and are never
// retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("mapping %q: %s", e.Field, e.Message)
	}
	return e.Message
}

// Validate checks a ContainerMapping for structural consistency. All
// problems are collected; a nil return means the mapping is usable.
func (m *ContainerMapping) Validate() []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, &ValidationError{
			Field:   m.FieldName,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if err := ValidateIdent(m.Table.Name); err != nil {
		fail("container table: %v", err)
	}

	if m.Owner.Width() == 0 {
		fail("owner mapping has no columns")
	}
	for _, c := range m.Owner.Columns {
		if err := ValidateIdent(c.Name); err != nil {
			fail("owner mapping: %v", err)
		}
	}

	switch m.Kind {
	case ContainerCollection, ContainerList, ContainerArray:
		if m.Element == nil {
			fail("%s mapping has no element mapping", m.Kind)
		}
		if m.Key != nil || m.Value != nil {
			fail("%s mapping carries map key/value mappings", m.Kind)
		}
		if m.IsIndexed() && m.Order == nil {
			fail("%s mapping requires an order mapping", m.Kind)
		}
		if m.Order != nil && m.Element != nil && m.Element.Kind == KindReference && !m.UsesJoinTable() {
			fail("%s mapping cannot use a foreign-key strategy: attaching by foreign key does not maintain the order column", m.Kind)
		}
	case ContainerMap:
		if m.Key == nil || m.Value == nil {
			fail("map mapping requires both key and value mappings")
		}
		if m.Element != nil {
			fail("map mapping carries an element mapping")
		}
		if m.Key != nil && m.Value != nil && !m.UsesJoinTable() {
			keyRef := m.Key.Kind == KindReference
			valRef := m.Value.Kind == KindReference
			if keyRef == valRef {
				fail("foreign-key map requires exactly one reference side, key=%v value=%v", m.Key.Kind, m.Value.Kind)
			}
		}
	default:
		fail("unknown container kind %d", m.Kind)
	}

	sides := []struct {
		em         *ElementMapping
		components []Component
		name       string
	}{
		{m.Element, m.Components, "element"},
		{m.Key, m.KeyComponents, "key"},
		{m.Value, m.ValueComponents, "value"},
	}
	for _, side := range sides {
		em := side.em
		if em == nil {
			continue
		}
		if em.Columns.Width() == 0 {
			fail("%s mapping has no columns", side.name)
		}
		if em.Kind == KindSerialized && em.Columns.Width() != 1 {
			fail("serialized %s mapping must use exactly one column, got %d", side.name, em.Columns.Width())
		}
		if em.Kind == KindReference && len(side.components) == 0 {
			fail("reference %s mapping has no components", side.name)
		}
	}

	if m.Order != nil {
		if err := ValidateIdent(m.Order.Column.Name); err != nil {
			fail("order mapping: %v", err)
		}
	}

	if rd := m.RelationDiscriminator; rd != nil {
		if err := ValidateIdent(rd.Column.Name); err != nil {
			fail("relation discriminator: %v", err)
		}
		if rd.Value == "" {
			fail("relation discriminator has no value")
		}
	}

	joinTable := m.UsesJoinTable()
	for _, list := range [][]Component{m.Components, m.KeyComponents, m.ValueComponents} {
		for _, c := range list {
			if c.TypeName == "" {
				fail("component has no type name")
			}
			if c.ID.Width() == 0 {
				fail("component %q has no id mapping", c.TypeName)
			}
			if !joinTable && c.OwnerFK != nil && c.OwnerField == "" {
				fail("component %q has an owner foreign key but no mapped-by owner field", c.TypeName)
			}
			if d := c.Discriminator; d != nil && len(d.ValueFor) == 0 {
				fail("component %q discriminator has no values", c.TypeName)
			}
		}
	}
	if !joinTable && m.Kind != ContainerMap {
		for _, c := range m.Components {
			if c.OwnerFK == nil {
				fail("component %q lacks owner foreign key required by FK strategy", c.TypeName)
			}
		}
	}

	return errs
}
