// Package backing implements backing stores for container-typed persistent
// fields: the objects that translate one field's collection/list/array/map
// contents into rows of a join table or foreign-key columns in component
// tables.
//
// A backing store is constructed once per field definition, not per object
// instance, and is effectively immutable afterwards - the only mutable
// state is lazily-memoized SQL statement text, stamped with the schema
// generation it was built under. Per-call state (connections, result sets)
// is acquired, used and released within one operation.
//
// Store hierarchy:
//
//   - ElementContainerStore: shared model and algorithms (size, clear,
//     join-table add) for element containers.
//   - CollectionStore: set semantics - contains, add, remove, update.
//   - ListStore: indexed list semantics - positions kept contiguous.
//   - ArrayStore: fixed-shape array semantics - bulk set with batching and
//     aggregate partial-failure reporting.
//   - JoinMapStore / FKMapStore: map semantics over a dedicated join table,
//     or over a foreign key placed in the key's or value's own table.
//   - MapKeySetStore / MapValueCollectionStore / MapEntrySetStore: live
//     views delegating mutation back to the owning map store.
//
// Every operation is parameterized by exactly one owning entity instance;
// batching happens across elements of that owner, never across owners.
package backing
