package backing

import (
	"context"
	"reflect"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
	"github.com/roach88/relstore/internal/store"
	"github.com/roach88/relstore/internal/stmtcache"
)

// Entry is one map entry. Equality is defined over the (key, value) pair.
type Entry struct {
	Key   any
	Value any
}

// Equal reports pairwise equality of two entries.
func (e Entry) Equal(other Entry) bool {
	return reflect.DeepEqual(e.Key, other.Key) && reflect.DeepEqual(e.Value, other.Value)
}

// MapStore is the contract shared by the two map storage strategies: a
// dedicated join table (JoinMapStore) and a foreign key placed in the key's
// or value's own table (FKMapStore).
type MapStore interface {
	// Put associates key with value in the owner's map, inserting or
	// updating as needed.
	Put(ctx context.Context, ec session.ExecutionContext, owner, key, value any) error

	// PutAll applies every entry in caller order.
	PutAll(ctx context.Context, ec session.ExecutionContext, owner any, entries []Entry) error

	// Remove removes the key's entry, cascading to dependent keys/values.
	Remove(ctx context.Context, ec session.ExecutionContext, owner, key any) error

	// Get returns the value for a key. A missing entry is a not-found
	// error, distinct from a datastore failure.
	Get(ctx context.Context, ec session.ExecutionContext, owner, key any) (any, error)

	// ContainsKey reports whether the owner's map holds the key.
	ContainsKey(ctx context.Context, ec session.ExecutionContext, owner, key any) (bool, error)

	// Size returns the number of entries.
	Size(ctx context.Context, ec session.ExecutionContext, owner any) (int, error)

	// Clear removes every entry.
	Clear(ctx context.Context, ec session.ExecutionContext, owner any) error

	// Entries materializes every entry, eagerly.
	Entries(ctx context.Context, ec session.ExecutionContext, owner any) ([]Entry, error)

	// Mapping exposes the container mapping the store was built from.
	Mapping() *schema.ContainerMapping
}

// baseMapStore carries the model shared by both map strategies.
type baseMapStore struct {
	m        *schema.ContainerMapping
	gen      *schema.Generation
	db       *store.DB
	keyReg   *schema.Registry
	valueReg *schema.Registry
	cache    *stmtcache.Cache
}

func newBaseMapStore(db *store.DB, gen *schema.Generation, m *schema.ContainerMapping) (*baseMapStore, error) {
	if m.Kind != schema.ContainerMap {
		return nil, session.NewValidationError("mapping for %q is %s, not a map", m.FieldName, m.Kind)
	}
	if errs := m.Validate(); len(errs) > 0 {
		return nil, session.NewValidationError("invalid map mapping for %q: %v", m.FieldName, errs[0])
	}
	keyReg, err := schema.NewRegistry(m.KeyComponents)
	if err != nil {
		return nil, session.NewValidationError("key components for %q: %v", m.FieldName, err)
	}
	valueReg, err := schema.NewRegistry(m.ValueComponents)
	if err != nil {
		return nil, session.NewValidationError("value components for %q: %v", m.FieldName, err)
	}
	return &baseMapStore{
		m:        m,
		gen:      gen,
		db:       db,
		keyReg:   keyReg,
		valueReg: valueReg,
		cache:    stmtcache.New(),
	}, nil
}

// Mapping returns the container mapping the store was built from.
func (s *baseMapStore) Mapping() *schema.ContainerMapping { return s.m }

func (s *baseMapStore) ownerID(ec session.ExecutionContext, owner any) ([]any, error) {
	return resolveOwnerID(ec, s.m, owner)
}

// validateKey and validateValue run the in-memory checks that precede any
// statement execution.
func (s *baseMapStore) validateKey(key any) error {
	if key == nil {
		return session.NewValidationError("nil key for map field %q", s.m.FieldName)
	}
	if s.m.Key.Kind == schema.KindReference {
		if _, err := resolveMappedComponent(s.m.FieldName, s.m.Key, s.keyReg, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *baseMapStore) validateValue(value any) error {
	if value == nil {
		return session.NewValidationError("nil value for map field %q", s.m.FieldName)
	}
	if s.m.Value.Kind == schema.KindReference {
		if _, err := resolveMappedComponent(s.m.FieldName, s.m.Value, s.valueReg, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *baseMapStore) bindKey(ctx context.Context, ec session.ExecutionContext, key any) (*schema.Component, []any, error) {
	return bindMappedValue(ctx, ec, s.m.FieldName, s.m.Key, s.keyReg, key)
}

func (s *baseMapStore) bindValue(ctx context.Context, ec session.ExecutionContext, value any) (*schema.Component, []any, error) {
	return bindMappedValue(ctx, ec, s.m.FieldName, s.m.Value, s.valueReg, value)
}

func (s *baseMapStore) relDiscrimParams() []any {
	if s.m.RelationDiscriminator == nil {
		return nil
	}
	return []any{s.m.RelationDiscriminator.Value}
}

// cascadeDependents deletes dependent key/value objects after an entry is
// severed, skipping objects already flagged deleted in-flight.
func (s *baseMapStore) cascadeDependents(ctx context.Context, ec session.ExecutionContext, key, value any) error {
	if s.m.DependentKey && s.m.Key.Kind == schema.KindReference && key != nil && !ec.IsDeleted(key) {
		if err := ec.DeleteObject(ctx, key); err != nil {
			return err
		}
	}
	if s.m.DependentValue && s.m.Value.Kind == schema.KindReference && value != nil && !ec.IsDeleted(value) {
		if err := ec.DeleteObject(ctx, value); err != nil {
			return err
		}
	}
	return nil
}
