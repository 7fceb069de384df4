package backing

import (
	"context"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/session"
)

// Map views expose a map's keys, values and entries as read-mostly
// collections backed by the map store itself. Removal through a view or
// its iterator is translated into a map removal so dependent-object rules
// apply exactly once.

// MapKeySetStore is the key-set view of a map.
type MapKeySetStore struct {
	ms MapStore
}

func NewMapKeySetStore(ms MapStore) *MapKeySetStore {
	return &MapKeySetStore{ms: ms}
}

func (s *MapKeySetStore) Mapping() *schema.ContainerMapping { return s.ms.Mapping() }

func (s *MapKeySetStore) Size(ctx context.Context, ec session.ExecutionContext, owner any) (int, error) {
	return s.ms.Size(ctx, ec, owner)
}

func (s *MapKeySetStore) Contains(ctx context.Context, ec session.ExecutionContext, owner, key any) (bool, error) {
	return s.ms.ContainsKey(ctx, ec, owner, key)
}

// Remove removes the key's whole entry from the underlying map.
func (s *MapKeySetStore) Remove(ctx context.Context, ec session.ExecutionContext, owner, key any) error {
	return s.ms.Remove(ctx, ec, owner, key)
}

// Clear clears the underlying map.
func (s *MapKeySetStore) Clear(ctx context.Context, ec session.ExecutionContext, owner any) error {
	return s.ms.Clear(ctx, ec, owner)
}

// NewIterator iterates the keys eagerly. Remove on the iterator removes
// the current key's entry from the map.
func (s *MapKeySetStore) NewIterator(ctx context.Context, ec session.ExecutionContext, owner any) (*Iterator, error) {
	entries, err := s.ms.Entries(ctx, ec, owner)
	if err != nil {
		return nil, err
	}
	keys := make([]any, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return &Iterator{
		items: keys,
		removeFn: func(ctx context.Context, key any) error {
			return s.ms.Remove(ctx, ec, owner, key)
		},
	}, nil
}

// MapValueCollectionStore is the value-collection view of a map. Unlike the
// key set it can hold duplicates, and removal targets the first entry whose
// value matches.
type MapValueCollectionStore struct {
	ms MapStore
}

func NewMapValueCollectionStore(ms MapStore) *MapValueCollectionStore {
	return &MapValueCollectionStore{ms: ms}
}

func (s *MapValueCollectionStore) Mapping() *schema.ContainerMapping { return s.ms.Mapping() }

func (s *MapValueCollectionStore) Size(ctx context.Context, ec session.ExecutionContext, owner any) (int, error) {
	return s.ms.Size(ctx, ec, owner)
}

func (s *MapValueCollectionStore) Contains(ctx context.Context, ec session.ExecutionContext, owner, value any) (bool, error) {
	entries, err := s.ms.Entries(ctx, ec, owner)
	if err != nil {
		return false, err
	}
	probe := Entry{Value: value}
	for _, e := range entries {
		if (Entry{Value: e.Value}).Equal(probe) {
			return true, nil
		}
	}
	return false, nil
}

// Remove removes the first entry holding the value.
func (s *MapValueCollectionStore) Remove(ctx context.Context, ec session.ExecutionContext, owner, value any) error {
	entries, err := s.ms.Entries(ctx, ec, owner)
	if err != nil {
		return err
	}
	probe := Entry{Value: value}
	for _, e := range entries {
		if (Entry{Value: e.Value}).Equal(probe) {
			return s.ms.Remove(ctx, ec, owner, e.Key)
		}
	}
	return nil
}

func (s *MapValueCollectionStore) Clear(ctx context.Context, ec session.ExecutionContext, owner any) error {
	return s.ms.Clear(ctx, ec, owner)
}

// NewIterator iterates the values eagerly. Remove on the iterator removes
// one entry holding the current value; with duplicate values one entry
// goes, the rest survive.
func (s *MapValueCollectionStore) NewIterator(ctx context.Context, ec session.ExecutionContext, owner any) (*Iterator, error) {
	entries, err := s.ms.Entries(ctx, ec, owner)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	remaining := append([]Entry{}, entries...)
	return &Iterator{
		items: values,
		removeFn: func(ctx context.Context, value any) error {
			probe := Entry{Value: value}
			for i, e := range remaining {
				if (Entry{Value: e.Value}).Equal(probe) {
					remaining = append(remaining[:i], remaining[i+1:]...)
					return s.ms.Remove(ctx, ec, owner, e.Key)
				}
			}
			return nil
		},
	}, nil
}

// MapEntrySetStore is the entry-set view of a map.
type MapEntrySetStore struct {
	ms MapStore
}

func NewMapEntrySetStore(ms MapStore) *MapEntrySetStore {
	return &MapEntrySetStore{ms: ms}
}

func (s *MapEntrySetStore) Mapping() *schema.ContainerMapping { return s.ms.Mapping() }

func (s *MapEntrySetStore) Size(ctx context.Context, ec session.ExecutionContext, owner any) (int, error) {
	return s.ms.Size(ctx, ec, owner)
}

// Contains matches on the whole (key, value) pair.
func (s *MapEntrySetStore) Contains(ctx context.Context, ec session.ExecutionContext, owner any, entry Entry) (bool, error) {
	entries, err := s.ms.Entries(ctx, ec, owner)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Equal(entry) {
			return true, nil
		}
	}
	return false, nil
}

// Remove removes the entry only when both key and value match the stored
// pair.
func (s *MapEntrySetStore) Remove(ctx context.Context, ec session.ExecutionContext, owner any, entry Entry) error {
	in, err := s.Contains(ctx, ec, owner, entry)
	if err != nil {
		return err
	}
	if !in {
		return nil
	}
	return s.ms.Remove(ctx, ec, owner, entry.Key)
}

func (s *MapEntrySetStore) Clear(ctx context.Context, ec session.ExecutionContext, owner any) error {
	return s.ms.Clear(ctx, ec, owner)
}

// SetValue replaces the value of an entry in place, through the map store
// so insert-or-update and dependent rules hold.
func (s *MapEntrySetStore) SetValue(ctx context.Context, ec session.ExecutionContext, owner any, entry Entry, value any) (Entry, error) {
	if err := s.ms.Put(ctx, ec, owner, entry.Key, value); err != nil {
		return Entry{}, err
	}
	return Entry{Key: entry.Key, Value: value}, nil
}

// NewIterator iterates the entries eagerly. Each item is an Entry. Remove
// on the iterator removes the current entry by key.
func (s *MapEntrySetStore) NewIterator(ctx context.Context, ec session.ExecutionContext, owner any) (*Iterator, error) {
	entries, err := s.ms.Entries(ctx, ec, owner)
	if err != nil {
		return nil, err
	}
	items := make([]any, len(entries))
	for i, e := range entries {
		items[i] = e
	}
	return &Iterator{
		items: items,
		removeFn: func(ctx context.Context, item any) error {
			return s.ms.Remove(ctx, ec, owner, item.(Entry).Key)
		},
	}, nil
}
