package testutil

import (
	"sync"

	"github.com/google/uuid"
)

// SequenceClock is a thread-safe monotonic counter for deterministic test
// identities.
//
// Unlike database-assigned keys it can be reset for test reuse, so the same
// scenario run twice produces identical identity values.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type SequenceClock struct {
	mu  sync.Mutex
	seq int64
}

// NewSequenceClock creates a clock starting at 0. The first call to Next()
// returns 1.
func NewSequenceClock() *SequenceClock {
	return &SequenceClock{seq: 0}
}

// Next increments and returns the next sequence number.
func (c *SequenceClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *SequenceClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the clock to 0. After Reset(), the next call to Next()
// returns 1.
func (c *SequenceClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// SequentialIdentity returns a single-column identity generator backed by a
// SequenceClock: 1, 2, 3, ...
func SequentialIdentity(clock *SequenceClock) func() any {
	return func() any { return clock.Next() }
}

// UUIDIdentity returns a single-column identity generator producing UUIDv7
// strings. V7 identities are time-ordered, so insertion order survives an
// ORDER BY on the id column.
func UUIDIdentity() func() any {
	return func() any { return uuid.Must(uuid.NewV7()).String() }
}
