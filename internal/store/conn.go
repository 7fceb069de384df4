package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/relstore/internal/sqlgen"
)

// Conn is a scoped connection for one backing-store operation. Acquired,
// used and released within a single call; never retained across calls.
type Conn struct {
	db       *DB
	conn     *sql.Conn
	released bool
}

// Release returns the connection to the pool. Idempotent.
func (c *Conn) Release() error {
	if c.released {
		return nil
	}
	c.released = true
	return c.conn.Close()
}

// Query executes a select statement and returns its rows. Callers must
// close the rows before releasing the connection.
func (c *Conn) Query(ctx context.Context, stmt sqlgen.Statement, params ...any) (*sql.Rows, error) {
	if err := c.checkParams(stmt, params); err != nil {
		return nil, err
	}
	c.observe(stmt.SQL, params)
	rows, err := c.conn.QueryContext(ctx, stmt.SQL, params...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", stmt.SQL, err)
	}
	return rows, nil
}

// Exec executes one update statement immediately and returns its update
// count.
func (c *Conn) Exec(ctx context.Context, stmt sqlgen.Statement, params ...any) (int64, error) {
	if err := c.checkParams(stmt, params); err != nil {
		return 0, err
	}
	c.observe(stmt.SQL, params)
	res, err := c.conn.ExecContext(ctx, stmt.SQL, params...)
	if err != nil {
		return 0, fmt.Errorf("exec %q: %w", stmt.SQL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for %q: %w", stmt.SQL, err)
	}
	return n, nil
}

// checkParams guards against binding the wrong number of parameters; a
// mismatch is a programming error in a statement builder, caught before the
// driver produces a less helpful failure.
func (c *Conn) checkParams(stmt sqlgen.Statement, params []any) error {
	if len(params) != stmt.ParamSlots {
		return fmt.Errorf("statement %q expects %d params, got %d", stmt.SQL, stmt.ParamSlots, len(params))
	}
	return nil
}

func (c *Conn) observe(sqlText string, params []any) {
	if c.db.trace != nil {
		c.db.trace(sqlText, params)
	}
}

// Batch accumulates repeated executions of one update statement on one
// scoped connection.
//
// Flush executes the queued rows in queue order. Failures do not stop the
// batch: every row is attempted, and Flush returns the per-row update
// counts alongside the per-row errors so callers can surface an aggregate
// that references every failed row, not just the first.
type Batch struct {
	conn  *Conn
	stmt  sqlgen.Statement
	queue [][]any
}

// NewBatch starts a batch over one statement.
func (c *Conn) NewBatch(stmt sqlgen.Statement) *Batch {
	return &Batch{conn: c, stmt: stmt}
}

// Add queues one parameter row.
func (b *Batch) Add(params ...any) {
	b.queue = append(b.queue, params)
}

// Len returns the number of queued rows.
func (b *Batch) Len() int { return len(b.queue) }

// Flush executes every queued row in order. counts[i] and errs[i] describe
// row i; errs[i] is nil on success. The queue is emptied regardless of
// failures.
func (b *Batch) Flush(ctx context.Context) (counts []int64, errs []error) {
	counts = make([]int64, len(b.queue))
	errs = make([]error, len(b.queue))
	for i, params := range b.queue {
		counts[i], errs[i] = b.conn.Exec(ctx, b.stmt, params...)
	}
	b.queue = nil
	return counts, errs
}
