package schema

import "sync/atomic"

// Generation is a monotonic schema-change counter. Memoized statement text
// is stamped with the generation it was built under and rebuilt when the
// counter has moved on - dynamic schema changes (a column added for a new
// polymorphic element, for instance) bump the counter instead of chasing
// down every cached statement.
type Generation struct {
	n atomic.Uint64
}

// NewGeneration creates a counter at generation 0.
func NewGeneration() *Generation {
	return &Generation{}
}

// Current returns the current generation number.
func (g *Generation) Current() uint64 {
	return g.n.Load()
}

// Bump advances the generation, invalidating every statement stamped with an
// older number. Returns the new generation.
func (g *Generation) Bump() uint64 {
	return g.n.Add(1)
}
