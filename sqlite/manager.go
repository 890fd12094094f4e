package sqlite

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"go.seqlite.dev/core/async"
	"go.seqlite.dev/core/codecs"
	"go.seqlite.dev/core/metrics"
)

// ErrNotStarted is resolved into operations which reach the head of a
// Manager's queue while its connection is not open.
var ErrNotStarted = errors.New("connection manager is not started")

// Manager owns the single live connection of one database, and executes
// all work against it through an embedded SerialExecutor. Statements,
// fetches, commits, and rollbacks submitted by any number of goroutines
// run in exactly their submission order, one at a time.
//
// The connection lifecycle is reference-counted: Start opens the database
// on acquisition of the first reference, and Stop commits and closes it on
// release of the last, after the queue has fully drained. Operations of a
// Manager which is not running remain queued until it starts; bound them
// with a context.
//
// Tasks submitted directly through the embedded Submit must not await
// other work of the same Manager, as the single worker cannot run both.
type Manager struct {
	*async.SerialExecutor

	registry *Registry

	mu        sync.Mutex
	connector Connector
	db        *sql.DB
	conn      *sql.Conn
	stmts     *lru.Cache
	cursors   map[*Cursor]struct{}
}

func newManager(registry *Registry, connector Connector) *Manager {
	return &Manager{
		SerialExecutor: async.NewSerialExecutor(),
		registry:       registry,
		connector:      connector,
		cursors:        make(map[*Cursor]struct{}),
	}
}

// Database returns the canonical path of the managed database.
func (m *Manager) Database() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connector.Path
}

// Connector returns the Manager's current Connector.
func (m *Manager) Connector() Connector {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connector
}

// Codecs returns the codec Registry shared by all Managers of the
// Manager's Registry, or nil if none was configured.
func (m *Manager) Codecs() *codecs.Registry { return m.registry.Codecs }

// Start acquires a reference on the Manager. The first reference spawns
// the queue worker and opens the database, and Start does not return until
// the connection is established, so that work submitted afterward finds it
// ready. Further Starts only take a reference.
func (m *Manager) Start(ctx context.Context) error {
	if !m.SerialExecutor.Start() {
		return nil
	}
	var _, err = m.do(ctx, func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.conn != nil {
			return nil, nil
		}
		return nil, m.openLocked(ctx)
	})
	if err != nil {
		_ = m.Stop() // Release the reference; close if open half-succeeded.
	}
	return err
}

// Stop releases a reference on the Manager. On release of the final
// reference Stop blocks until all queued work has drained, then commits
// any open transaction and closes the connection.
func (m *Manager) Stop() error {
	if !m.SerialExecutor.Stop() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// A Start which raced this Stop owns the connection now; leave it.
	if m.conn == nil || m.Running() {
		return nil
	}
	return m.closeLocked(context.Background())
}

// Remove stops the Manager outright, releasing every outstanding
// reference, and evicts it from its Registry. A later Registry.Open of the
// same path builds a fresh Manager.
func (m *Manager) Remove() error {
	var err error
	for m.Refs() > 0 {
		if sErr := m.Stop(); sErr != nil && err == nil {
			err = sErr
		}
	}
	m.registry.evict(m.Database())
	return err
}

// SetConnector replaces the Manager's Connector. The Manager is re-keyed
// in its Registry when the database path changes, and the swap fails if
// the new path already has a Manager. A live connection is cycled onto the
// new parameters as a queued task, which first commits any open
// transaction and retires open Cursors.
func (m *Manager) SetConnector(ctx context.Context, connector Connector) error {
	if err := connector.normalize(); err != nil {
		return err
	}

	if !m.Running() {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.swapConnectorLocked(connector)
	}

	var _, err = m.do(ctx, func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if err := m.swapConnectorLocked(connector); err != nil {
			return nil, err
		}
		if m.conn == nil {
			return nil, nil
		}
		if err := m.closeLocked(ctx); err != nil {
			return nil, err
		}
		return nil, m.openLocked(ctx)
	})
	return err
}

// Execute queues |query| for execution with |args|, and returns a Cursor
// holding its result. In transactional mode a row mutation opens a
// transaction, which persists until Commit or Rollback.
func (m *Manager) Execute(ctx context.Context, query string, args ...interface{}) (*Cursor, error) {
	var out, err = m.do(ctx, func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		var res, err = m.execLocked(ctx, query, args)
		if err != nil {
			return nil, err
		}
		return m.resultCursor(res), nil
	})
	countStatement("execute", err)
	if err != nil {
		return nil, err
	}
	return out.(*Cursor), nil
}

// Query queues |query| with |args|, and returns a Cursor over its rows.
// Rows are fetched lazily: each fetch step is itself queued, preserving
// the total order of operations on the connection.
func (m *Manager) Query(ctx context.Context, query string, args ...interface{}) (*Cursor, error) {
	var out, err = m.do(ctx, func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.queryLocked(ctx, query, args)
	})
	countStatement("query", err)
	if err != nil {
		return nil, err
	}
	return out.(*Cursor), nil
}

// ExecuteMany queues a single task which executes |query| once per element
// of |batches|. The returned Cursor aggregates RowsAffected across
// executions. On error, prior executions remain applied to the open
// transaction.
func (m *Manager) ExecuteMany(ctx context.Context, query string, batches [][]interface{}) (*Cursor, error) {
	var out, err = m.do(ctx, func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		var cursor = &Cursor{m: m}
		for _, args := range batches {
			var res, err = m.execLocked(ctx, query, args)
			if err != nil {
				return nil, err
			}
			if id, err := res.LastInsertId(); err == nil {
				cursor.lastID = id
			}
			if n, err := res.RowsAffected(); err == nil {
				cursor.affected += n
			}
		}
		return cursor, nil
	})
	countStatement("execute_many", err)
	if err != nil {
		return nil, err
	}
	return out.(*Cursor), nil
}

// ExecuteScript queues |script| for execution as a sequence of statements.
// A transaction still open is committed first; the script then manages its
// own transactions.
func (m *Manager) ExecuteScript(ctx context.Context, script string) (*Cursor, error) {
	var out, err = m.do(ctx, func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.conn == nil {
			return nil, ErrNotStarted
		}
		if err := m.commitLocked(ctx); err != nil {
			return nil, err
		}
		var res, err = m.conn.ExecContext(ctx, script)
		if err != nil {
			return nil, err
		}
		return m.resultCursor(res), nil
	})
	countStatement("execute_script", err)
	if err != nil {
		return nil, err
	}
	return out.(*Cursor), nil
}

// ExecuteAsync queues |query| for execution with |args| and returns without
// awaiting the result, which resolves through the returned Future as a
// *Cursor. It serves fire-and-forget callers which observe failures
// out-of-band, and runs under no deadline.
func (m *Manager) ExecuteAsync(query string, args ...interface{}) *async.Future {
	return m.Submit(func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		var res, err = m.execLocked(context.Background(), query, args)
		countStatement("execute", err)
		if err != nil {
			return nil, err
		}
		return m.resultCursor(res), nil
	})
}

// Commit queues a commit of the open transaction. It is a no-op if no
// transaction is open.
func (m *Manager) Commit(ctx context.Context) error {
	var _, err = m.do(ctx, func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.conn == nil {
			return nil, ErrNotStarted
		}
		return nil, m.commitLocked(ctx)
	})
	return err
}

// Rollback queues a rollback of the open transaction. It is a no-op if no
// transaction is open. Cursors still reading when the rollback lands are
// aborted by SQLite, and report the abort from their next fetch.
func (m *Manager) Rollback(ctx context.Context) error {
	var _, err = m.do(ctx, func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.conn == nil {
			return nil, ErrNotStarted
		}
		return nil, m.rollbackLocked(ctx)
	})
	return err
}

// do queues |task| against the Manager and awaits its result.
func (m *Manager) do(ctx context.Context, task async.Task) (interface{}, error) {
	return async.Await(ctx, m.Submit(task))
}

// openLocked establishes the connection and statement cache.
func (m *Manager) openLocked(ctx context.Context) error {
	var db, conn, err = m.connector.connect(ctx)
	if err != nil {
		return errors.WithMessagef(err, "opening database %s", m.connector.Path)
	}

	var stmts *lru.Cache
	if size := m.connector.CachedStatements; size > 0 {
		if stmts, err = lru.NewWithEvict(size, closeEvictedStmt); err != nil {
			conn.Close()
			db.Close()
			return err
		}
	}
	m.db, m.conn, m.stmts = db, conn, stmts

	metrics.ConnectionsOpenedTotal.Inc()
	log.WithFields(log.Fields{
		"path": m.connector.Path,
		"size": databaseSize(m.connector.Path),
	}).Info("opened database")
	return nil
}

// closeLocked retires open Cursors, commits any open transaction, and
// closes the connection. The commit error, if any, is returned after the
// connection is closed regardless.
func (m *Manager) closeLocked(ctx context.Context) error {
	for c := range m.cursors {
		c.retireLocked()
	}
	var err = m.commitLocked(ctx)

	if m.stmts != nil {
		m.stmts.Purge() // Eviction closes each statement.
		m.stmts = nil
	}
	if cErr := m.conn.Close(); err == nil {
		err = cErr
	}
	if dErr := m.db.Close(); err == nil {
		err = dErr
	}
	m.db, m.conn = nil, nil

	metrics.ConnectionsClosedTotal.Inc()
	log.WithField("path", m.connector.Path).Info("closed database")
	return errors.WithMessagef(err, "closing database %s", m.connector.Path)
}

// execLocked runs |query| once with |args|.
func (m *Manager) execLocked(ctx context.Context, query string, args []interface{}) (sql.Result, error) {
	if m.conn == nil {
		return nil, ErrNotStarted
	}
	if err := m.beginLocked(ctx, query); err != nil {
		return nil, err
	}
	var stmt, err = m.statementLocked(ctx, query)
	if err != nil {
		return nil, err
	}
	if stmt != nil {
		return stmt.ExecContext(ctx, args...)
	}
	return m.conn.ExecContext(ctx, query, args...)
}

// queryLocked runs |query| with |args| and builds a Cursor over its rows.
func (m *Manager) queryLocked(ctx context.Context, query string, args []interface{}) (*Cursor, error) {
	if m.conn == nil {
		return nil, ErrNotStarted
	}
	if err := m.beginLocked(ctx, query); err != nil {
		return nil, err
	}
	var stmt, err = m.statementLocked(ctx, query)
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if stmt != nil {
		rows, err = stmt.QueryContext(ctx, args...)
	} else {
		rows, err = m.conn.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, err
	}
	return m.rowsCursor(rows)
}

// statementLocked returns a prepared statement of |query| from the cache,
// preparing and caching it on a miss. It returns nil if caching is
// disabled, in which case the caller runs the query directly.
func (m *Manager) statementLocked(ctx context.Context, query string) (*sql.Stmt, error) {
	if m.stmts == nil {
		return nil, nil
	}
	if cached, ok := m.stmts.Get(query); ok {
		return cached.(*sql.Stmt), nil
	}
	var stmt, err = m.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, errors.WithMessage(err, "preparing statement")
	}
	m.stmts.Add(query, stmt)
	metrics.StatementsCached.Inc()
	return stmt, nil
}

// beginLocked opens a transaction ahead of a row mutation, unless the
// Manager is in autocommit mode or a transaction is already open. Reads
// and schema statements run in whatever transactional state the
// connection is in, as the command line shell would run them.
func (m *Manager) beginLocked(ctx context.Context, query string) error {
	if m.connector.Autocommit || !writeKeywords[statementKeyword(query)] {
		return nil
	}
	var open, err = m.inTransactionLocked()
	if err != nil || open {
		return err
	}
	if _, err = m.conn.ExecContext(ctx, "BEGIN "+strings.ToUpper(m.connector.TxLock)); err != nil {
		return errors.WithMessage(err, "beginning transaction")
	}
	metrics.TxTotal.WithLabelValues("begin").Inc()
	return nil
}

func (m *Manager) commitLocked(ctx context.Context) error {
	var open, err = m.inTransactionLocked()
	if err != nil || !open {
		return err
	}
	if _, err = m.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return errors.WithMessage(err, "committing transaction")
	}
	metrics.TxTotal.WithLabelValues("commit").Inc()
	return nil
}

func (m *Manager) rollbackLocked(ctx context.Context) error {
	var open, err = m.inTransactionLocked()
	if err != nil || !open {
		return err
	}
	if _, err = m.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		return errors.WithMessage(err, "rolling back transaction")
	}
	metrics.TxTotal.WithLabelValues("rollback").Inc()
	return nil
}

// inTransactionLocked reports whether the connection has an open
// transaction, as known to SQLite itself.
func (m *Manager) inTransactionLocked() (bool, error) {
	var open bool
	var err = m.conn.Raw(func(dc interface{}) error {
		open = !dc.(*sqlite3.SQLiteConn).AutoCommit()
		return nil
	})
	return open, err
}

// rowsCursor builds a Cursor over |rows|, tracked for retirement when the
// connection closes.
func (m *Manager) rowsCursor(rows *sql.Rows) (*Cursor, error) {
	var columns, err = rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, err
	}
	var decls = make([]string, len(types))
	for i, t := range types {
		decls[i] = t.DatabaseTypeName()
	}

	var c = &Cursor{m: m, rows: rows, columns: columns, decls: decls, affected: -1}
	m.cursors[c] = struct{}{}
	return c, nil
}

// resultCursor builds a Cursor of a statement which returned no rows.
func (m *Manager) resultCursor(res sql.Result) *Cursor {
	var c = &Cursor{m: m, affected: -1}
	if res == nil {
		return c
	}
	if id, err := res.LastInsertId(); err == nil {
		c.lastID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		c.affected = n
	}
	return c
}

// swapConnectorLocked applies |connector|, re-keying the Manager in its
// Registry when the database path changes.
func (m *Manager) swapConnectorLocked(connector Connector) error {
	if connector.Path != m.connector.Path {
		if err := m.registry.rekey(m, m.connector.Path, connector.Path); err != nil {
			return err
		}
	}
	m.connector = connector
	return nil
}

// IsBusy returns whether |err| is SQLite's busy or locked condition, which
// a caller may retry after a backoff.
func IsBusy(err error) bool {
	if se, ok := errors.Cause(err).(sqlite3.Error); ok {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// writeKeywords are the statement keywords which open a transaction when
// executed in transactional mode.
var writeKeywords = map[string]bool{
	"INSERT":  true,
	"UPDATE":  true,
	"DELETE":  true,
	"REPLACE": true,
}

// statementKeyword returns the upper-cased leading keyword of |query|,
// skipping whitespace and SQL comments.
func statementKeyword(query string) string {
	for {
		query = strings.TrimLeft(query, " \t\r\n\f\v")

		if strings.HasPrefix(query, "--") {
			var i = strings.IndexByte(query, '\n')
			if i < 0 {
				return ""
			}
			query = query[i+1:]
		} else if strings.HasPrefix(query, "/*") {
			var i = strings.Index(query, "*/")
			if i < 0 {
				return ""
			}
			query = query[i+2:]
		} else {
			break
		}
	}
	var i = 0
	for i < len(query) && isKeywordByte(query[i]) {
		i++
	}
	return strings.ToUpper(query[:i])
}

func isKeywordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b == '_'
}

func closeEvictedStmt(_, value interface{}) {
	_ = value.(*sql.Stmt).Close()
	metrics.StatementsCached.Dec()
}

func countStatement(operation string, err error) {
	if err != nil {
		metrics.StatementsTotal.WithLabelValues(operation, metrics.Fail).Inc()
	} else {
		metrics.StatementsTotal.WithLabelValues(operation, metrics.Ok).Inc()
	}
}

// databaseSize returns the human-readable size of the database file at
// |path|, or "unknown" for databases without one (such as InMemory).
func databaseSize(path string) string {
	if fi, err := os.Stat(path); err == nil {
		return humanize.Bytes(uint64(fi.Size()))
	}
	return "unknown"
}
