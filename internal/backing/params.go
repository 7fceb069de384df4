package backing

import (
	"context"
	"fmt"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
)

// resolveOwnerID resolves and checks the owning entity's identity values
// against a container mapping's owner columns.
func resolveOwnerID(ec session.ExecutionContext, m *schema.ContainerMapping, owner any) ([]any, error) {
	if owner == nil {
		return nil, session.NewValidationError("owner is nil for field %q", m.FieldName)
	}
	id, ok := ec.ObjectID(owner)
	if !ok {
		return nil, session.NewValidationError("owner of field %q is not persistent", m.FieldName)
	}
	if len(id) != m.Owner.Width() {
		return nil, session.NewValidationError(
			"owner id width %d does not match owner mapping width %d for field %q",
			len(id), m.Owner.Width(), m.FieldName)
	}
	return []any(id), nil
}

// resolveMappedComponent validates a value against a registry for a
// reference mapping. Unregistered concrete types fail before any SQL.
// Non-reference mappings resolve to nil.
func resolveMappedComponent(fieldName string, em *schema.ElementMapping, reg *schema.Registry, v any) (*schema.Component, error) {
	if em.Kind != schema.KindReference {
		return nil, nil
	}
	if v == nil {
		return nil, session.NewValidationError("nil value for field %q", fieldName)
	}
	c := reg.Resolve(v)
	if c == nil {
		return nil, session.NewValidationError(
			"type %T is not a registered component of field %q", v, fieldName)
	}
	return c, nil
}

// bindMappedValue converts a value into its bound column values for one
// mapping. Reference values that are still transient are persisted first so
// their identity exists.
func bindMappedValue(ctx context.Context, ec session.ExecutionContext, fieldName string, em *schema.ElementMapping, reg *schema.Registry, v any) (*schema.Component, []any, error) {
	c, err := resolveMappedComponent(fieldName, em, reg, v)
	if err != nil {
		return nil, nil, err
	}
	switch em.Kind {
	case schema.KindSerialized:
		text, err := schema.Serialize(v)
		if err != nil {
			return nil, nil, session.NewValidationError("serialize value for field %q: %v", fieldName, err)
		}
		return nil, []any{text}, nil
	case schema.KindEmbedded:
		if em.Columns.Width() == 1 {
			return nil, []any{v}, nil
		}
		vals, ok := v.([]any)
		if !ok || len(vals) != em.Columns.Width() {
			return nil, nil, session.NewValidationError(
				"embedded value for field %q must provide %d column values", fieldName, em.Columns.Width())
		}
		return nil, vals, nil
	case schema.KindReference:
		if !ec.IsPersistent(v) {
			if err := ec.PersistObject(ctx, v); err != nil {
				return nil, nil, fmt.Errorf("persist value for field %q: %w", fieldName, err)
			}
		}
		id, ok := ec.ObjectID(v)
		if !ok {
			return nil, nil, session.NewValidationError("value of field %q has no identity", fieldName)
		}
		if len(id) != em.Columns.Width() {
			return nil, nil, session.NewValidationError(
				"value id width %d does not match mapping width %d for field %q",
				len(id), em.Columns.Width(), fieldName)
		}
		return c, []any(id), nil
	default:
		return nil, nil, session.NewValidationError("unknown mapping kind %d for field %q", em.Kind, fieldName)
	}
}

// materializeMappedValue converts fetched column values back into a domain
// value for one mapping.
func materializeMappedValue(ctx context.Context, ec session.ExecutionContext, fieldName string, em *schema.ElementMapping, comp *schema.Component, raw []any) (any, error) {
	switch em.Kind {
	case schema.KindReference:
		if comp == nil {
			return nil, session.NewInternalError(
				"fetched reference row for field %q resolves no component", fieldName)
		}
		return ec.FindObject(ctx, comp.TypeName, session.ObjectID(raw))
	case schema.KindSerialized:
		return schema.Deserialize(asString(raw[0]))
	default:
		if len(raw) == 1 {
			return raw[0], nil
		}
		return raw, nil
	}
}
