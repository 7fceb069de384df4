package schema

import (
	"fmt"
	"reflect"
)

// Registry resolves a concrete runtime value to the Component describing its
// storage. It is built once at backing-store construction and is read-only
// afterwards, so lookups need no locking.
//
// Resolution is a lookup, not reflection-driven branching: exact type match
// first, then a single assignability scan in component declaration order.
type Registry struct {
	exact   map[reflect.Type]*Component
	ordered []*Component
}

// NewRegistry builds a registry over the mapping's components. Duplicate
// concrete types are a configuration error.
func NewRegistry(components []Component) (*Registry, error) {
	r := &Registry{
		exact:   make(map[reflect.Type]*Component, len(components)),
		ordered: make([]*Component, 0, len(components)),
	}
	for i := range components {
		c := &components[i]
		if c.GoType == nil {
			return nil, fmt.Errorf("component %q has no Go type", c.TypeName)
		}
		if _, dup := r.exact[c.GoType]; dup {
			return nil, fmt.Errorf("duplicate component for type %v", c.GoType)
		}
		r.exact[c.GoType] = c
		r.ordered = append(r.ordered, c)
	}
	return r, nil
}

// Resolve returns the component for a runtime value. Exact match first; when
// none exists, the first component whose type the value's type is assignable
// to wins. A nil result means the value's type is not a registered element
// type.
func (r *Registry) Resolve(v any) *Component {
	if v == nil {
		return nil
	}
	t := reflect.TypeOf(v)
	if c, ok := r.exact[t]; ok {
		return c
	}
	for _, c := range r.ordered {
		if t.AssignableTo(c.GoType) {
			return c
		}
	}
	return nil
}

// ResolveType is Resolve for a static type, used when no value is at hand.
func (r *Registry) ResolveType(t reflect.Type) *Component {
	if t == nil {
		return nil
	}
	if c, ok := r.exact[t]; ok {
		return c
	}
	for _, c := range r.ordered {
		if t.AssignableTo(c.GoType) {
			return c
		}
	}
	return nil
}

// Components returns the registered components in declaration order.
func (r *Registry) Components() []*Component {
	return r.ordered
}

// TypeNames returns every registered concrete type name in declaration
// order. Used to enumerate discriminator values.
func (r *Registry) TypeNames() []string {
	names := make([]string, len(r.ordered))
	for i, c := range r.ordered {
		names[i] = c.TypeName
	}
	return names
}
