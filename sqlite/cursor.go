package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"go.seqlite.dev/core/metrics"
)

// Row is one fetched result row, with values ordered as the statement's
// columns.
type Row []interface{}

// Cursor is a handle of one executed statement's results. Cursors of
// row-returning statements fetch lazily: each fetch step is queued against
// the owning Manager, so open Cursors interleave correctly with concurrent
// statements on the same connection. Cursor methods are not safe for
// concurrent use by multiple goroutines.
type Cursor struct {
	m *Manager

	rows     *sql.Rows
	columns  []string
	decls    []string
	lastID   int64
	affected int64
}

// Manager returns the Manager which produced the Cursor.
func (c *Cursor) Manager() *Manager { return c.m }

// Columns returns the column names of the statement's result rows, or nil
// for statements which return none.
func (c *Cursor) Columns() []string { return c.columns }

// DeclTypes returns the declared database types of the result columns, as
// reported by the driver. Expression columns have no declared type.
func (c *Cursor) DeclTypes() []string { return c.decls }

// LastInsertID returns the rowid produced by the statement, or zero if it
// did not insert.
func (c *Cursor) LastInsertID() int64 { return c.lastID }

// RowsAffected returns the number of rows changed by the statement, or -1
// for row-returning statements.
func (c *Cursor) RowsAffected() int64 { return c.affected }

// Next fetches the next row, returning false once the Cursor is exhausted.
// Exhaustion retires the Cursor and releases its underlying rows.
func (c *Cursor) Next(ctx context.Context) (Row, bool, error) {
	var out, err = c.m.do(ctx, func() (interface{}, error) {
		c.m.mu.Lock()
		defer c.m.mu.Unlock()

		var row, err = c.scanLocked()
		if row == nil {
			// Exhaustion must surface as a bare nil interface; a typed
			// nil Row boxed into it would read as a fetched row.
			return nil, err
		}
		return row, err
	})
	if err != nil {
		return nil, false, err
	} else if out == nil {
		return nil, false, nil
	}
	return out.(Row), true, nil
}

// FetchOne fetches the next row, or nil if the Cursor is exhausted.
func (c *Cursor) FetchOne(ctx context.Context) (Row, error) {
	var row, _, err = c.Next(ctx)
	return row, err
}

// Fetch consumes rows while advancing a slot counter from zero, collecting
// every |step|'th consumed row. Slots up to and including |start| consume
// nothing, offsetting where consumption begins, and consumption halts at
// slot |stop|; a negative |stop| fetches until exhaustion. Fetch(0, -1, 1)
// collects every remaining row. Rows collected before an error are
// returned along with it.
func (c *Cursor) Fetch(ctx context.Context, start, stop, step int) ([]Row, error) {
	if step < 1 {
		return nil, errors.Errorf("step must be positive, got %d", step)
	}
	var result []Row
	for i := 0; ; i++ {
		if i <= start {
			continue
		}
		if stop >= 0 && i >= stop {
			return result, nil
		}
		var row, ok, err = c.Next(ctx)
		if err != nil || !ok {
			return result, err
		}
		if i%step == 0 {
			result = append(result, row)
		}
	}
}

// FetchAll fetches all remaining rows.
func (c *Cursor) FetchAll(ctx context.Context) ([]Row, error) {
	return c.Fetch(ctx, 0, -1, 1)
}

// Close retires the Cursor, releasing its underlying rows. Closing an
// exhausted or result-only Cursor is a no-op.
func (c *Cursor) Close() error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.retireLocked()
}

// Execute queues |query| with |args| against the Cursor's Manager, and
// returns a new Cursor of its result.
func (c *Cursor) Execute(ctx context.Context, query string, args ...interface{}) (*Cursor, error) {
	return c.m.Execute(ctx, query, args...)
}

// Query queues |query| with |args| against the Cursor's Manager, and
// returns a new Cursor over its rows.
func (c *Cursor) Query(ctx context.Context, query string, args ...interface{}) (*Cursor, error) {
	return c.m.Query(ctx, query, args...)
}

// ExecuteMany queues |query| once per element of |batches| against the
// Cursor's Manager, and returns a new Cursor of the aggregate result.
func (c *Cursor) ExecuteMany(ctx context.Context, query string, batches [][]interface{}) (*Cursor, error) {
	return c.m.ExecuteMany(ctx, query, batches)
}

// ExecuteScript queues |script| against the Cursor's Manager, and returns
// a new Cursor of its result.
func (c *Cursor) ExecuteScript(ctx context.Context, script string) (*Cursor, error) {
	return c.m.ExecuteScript(ctx, script)
}

// scanLocked advances the underlying rows by one, returning nil at
// exhaustion and retiring the Cursor.
func (c *Cursor) scanLocked() (Row, error) {
	if c.rows == nil {
		return nil, nil
	}
	if !c.rows.Next() {
		var err = c.rows.Err()
		if rErr := c.retireLocked(); err == nil {
			err = rErr
		}
		return nil, err
	}

	var row = make(Row, len(c.columns))
	var ptrs = make([]interface{}, len(row))
	for i := range row {
		ptrs[i] = &row[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	if err := c.convertLocked(row); err != nil {
		return nil, err
	}
	metrics.RowsFetchedTotal.Inc()
	return row, nil
}

// convertLocked copies byte slices out of driver-owned memory, and applies
// codecs of declared column types when type detection is enabled.
func (c *Cursor) convertLocked(row Row) error {
	var reg = c.m.registry.Codecs
	var detect = c.m.connector.DetectTypes && reg != nil

	for i, v := range row {
		if b, ok := v.([]byte); ok {
			row[i] = append([]byte(nil), b...)
		}
		if !detect || row[i] == nil || c.decls[i] == "" {
			continue
		}
		if codec, ok := reg.Lookup(c.decls[i]); ok {
			var out, err = codec.Load(row[i])
			if err != nil {
				return errors.WithMessagef(err, "decoding column %s", c.columns[i])
			}
			row[i] = out
		}
	}
	return nil
}

// retireLocked releases the Cursor's rows and drops it from its Manager's
// tracking.
func (c *Cursor) retireLocked() error {
	if c.rows == nil {
		return nil
	}
	var err = c.rows.Close()
	c.rows = nil
	delete(c.m.cursors, c)
	return err
}
