// Package schema provides the metadata model for container-field persistence.
//
// This package contains type definitions and pure functions only. All other
// internal packages import schema; schema imports nothing internal. This
// keeps the metadata model the foundational layer with no circular
// dependencies.
//
// The model describes how one container-typed persistent field (a
// collection, list, array or map) maps onto relational storage:
//
//   - Table: the physical table holding the association. Either a dedicated
//     join table, or the element's own table when a foreign-key strategy is
//     used.
//   - ColumnMapping: one logical value spread over one or more physical
//     columns (composite keys, embedded structs).
//   - ContainerMapping: the complete description of one field - owner
//     mapping, element/key/value mappings, optional order column, optional
//     relation discriminator, dependent-object policy.
//   - Component: one concrete element/key/value type that can occur in the
//     field, with its table, id mapping and optional class discriminator.
//     Polymorphic fields carry several components.
//
// Identifiers loaded from mapping files are NFC-normalized before use so
// that two spellings of the same table name compare equal.
package schema
