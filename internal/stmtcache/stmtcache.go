// Package stmtcache memoizes rendered SQL statement text for backing
// stores.
//
// Two shapes live here:
//
//   - Cache: a keyed set of statements a store has built, with
//     add/remove/clear/size/contains. One cache exists per backing store;
//     keys are the store's own statement names ("size", "add", "put", ...).
//   - Memo: a single lazily-built statement stamped with the schema
//     generation it was built under. The statement rebuilds only when the
//     generation has moved, replacing ad hoc "stmt == nil" sentinel checks
//     with an atomically swappable snapshot.
//
// Both are safe for concurrent first use from threads sharing one
// long-lived backing store. Neither protects against concurrent mutation of
// the same owner's data; that is the session layer's concern.
package stmtcache

import (
	"sync"
	"sync/atomic"

	"github.com/roach88/relstore/internal/schema"
	"github.com/roach88/relstore/internal/sqlgen"
)

// Cache is a per-backing-store collection of built statements.
type Cache struct {
	mu    sync.Mutex
	stmts map[string]sqlgen.Statement
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{stmts: make(map[string]sqlgen.Statement)}
}

// Add stores a statement under a key, replacing any previous entry.
func (c *Cache) Add(key string, stmt sqlgen.Statement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stmts[key] = stmt
}

// Get returns the statement under a key, if present.
func (c *Cache) Get(key string) (sqlgen.Statement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stmts[key]
	return s, ok
}

// Remove drops the statement under a key.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stmts, key)
}

// Contains reports whether a statement exists under a key.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.stmts[key]
	return ok
}

// Size returns the number of cached statements.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stmts)
}

// Clear drops every cached statement.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stmts = make(map[string]sqlgen.Statement)
}

// snapshot pairs statement text with the schema generation it was built
// under. Swapped atomically as one unit.
type snapshot struct {
	stmt sqlgen.Statement
	gen  uint64
}

// Memo is one lazily-built statement tied to a schema generation counter.
type Memo struct {
	gen  *schema.Generation
	snap atomic.Pointer[snapshot]
}

// NewMemo returns a memo bound to the given generation counter.
func NewMemo(gen *schema.Generation) *Memo {
	return &Memo{gen: gen}
}

// Get returns the memoized statement, rebuilding it through build when no
// snapshot exists or the schema generation has moved since the snapshot was
// taken. Concurrent rebuilds are benign: both produce identical text and
// one of the two snapshots wins the swap.
func (m *Memo) Get(build func() sqlgen.Statement) sqlgen.Statement {
	cur := m.gen.Current()
	if s := m.snap.Load(); s != nil && s.gen == cur {
		return s.stmt
	}
	stmt := build()
	m.snap.Store(&snapshot{stmt: stmt, gen: cur})
	return stmt
}

// Invalidate drops the snapshot so the next Get rebuilds. Callers use it
// after dynamic schema changes that don't go through the generation
// counter.
func (m *Memo) Invalidate() {
	m.snap.Store(nil)
}

// Cached reports whether a current snapshot exists.
func (m *Memo) Cached() bool {
	s := m.snap.Load()
	return s != nil && s.gen == m.gen.Current()
}
