// Package sqlgen builds parameterized SQL statement text for backing
// stores.
//
// Statements are assembled from small composable fragments - a select list,
// a FROM/JOIN clause list, a WHERE predicate list - and rendered exactly
// once into an immutable Statement. Each container-table topology
// (embedded, join-table-with-reference, foreign-key-union) contributes its
// fragments independently, which keeps every topology's logic testable in
// isolation.
//
// Two rules hold everywhere:
//
//   - Values are NEVER interpolated into statement text. Every value
//     position renders as a ? placeholder; identifiers are the only text
//     merged in, and they are validated upstream by the schema package.
//   - Rendered text is deterministic: the same fragments always produce the
//     same bytes, so statement text can be memoized and compared in golden
//     tests.
package sqlgen
