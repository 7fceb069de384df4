// Package harness provides scenario-driven conformance testing for the
// backing stores.
//
// A scenario is a YAML file describing a schema, one container mapping and
// a flow of operations. The harness executes the flow against a fresh
// SQLite database and captures every statement the stores issue, in order,
// with its parameters. The resulting trace is deterministic and is
// compared against golden files.
//
// # Scenario Format
//
//	name: list_basic
//	description: "Contiguous index maintenance on a join-table list"
//	schema:
//	  - |
//	    CREATE TABLE owners (id INTEGER PRIMARY KEY)
//	  - |
//	    CREATE TABLE owner_items (owner_id INTEGER, val TEXT, idx INTEGER)
//	owner:
//	  table: owners
//	  id_columns: [id]
//	  id: 1
//	mapping:
//	  field: items
//	  kind: list
//	  table: owner_items
//	  owner: [owner_id]
//	  element: { kind: embedded, columns: [val] }
//	  order: { column: idx }
//	flow:
//	  - op: add
//	    element: alpha
//	  - op: size
//	  - op: remove_at
//	    index: 0
//
// # Operations
//
// Collection and list flows support add, remove, contains, size, clear,
// iterate, get_at, set_at, remove_at and set (arrays). Join-table map
// flows support put, put_all, get, contains_key, remove, map_size,
// map_clear and entries. Scenarios cover embedded and serialized
// elements; reference components carry Go types and are exercised in unit
// tests instead.
//
// # Determinism
//
// Each run opens a fresh database, so row ordering, memoized statement
// text and parameter binding are identical across runs and safe for golden
// comparison. Golden files live in testdata/golden and are refreshed with
// go test ./internal/harness -update.
package harness
