package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.seqlite.dev/core/codecs"
)

// openTestManager builds a Registry with one started Manager of a fresh
// database file.
func openTestManager(t *testing.T, mutate func(*Connector)) (*Registry, *Manager, context.Context) {
	var registry = NewRegistry()
	registry.Codecs = codecs.Builtin()

	var connector, err = NewConnector(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	if mutate != nil {
		mutate(&connector)
	}

	m, err := registry.Open(connector)
	require.NoError(t, err)

	var ctx = context.Background()
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() { _ = registry.Shutdown() })

	return registry, m, ctx
}

func TestExecuteAndQueryRoundTrip(t *testing.T) {
	var _, m, ctx = openTestManager(t, nil)

	var cur, err = m.Execute(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	require.Nil(t, cur.Columns())

	cur, err = m.Execute(ctx, `INSERT INTO users VALUES (?, ?)`, 1, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(1), cur.LastInsertID())
	require.Equal(t, int64(1), cur.RowsAffected())

	cur, err = m.Query(ctx, `SELECT id, name FROM users`)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, cur.Columns())
	require.Equal(t, []string{"INTEGER", "TEXT"}, cur.DeclTypes())
	require.Equal(t, int64(-1), cur.RowsAffected())

	rows, err := cur.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1), rows[0][0])
	require.Equal(t, []byte("alice"), rows[0][1])
}

func TestWritesCommitOnStop(t *testing.T) {
	var _, m, ctx = openTestManager(t, nil)

	var _, err = m.Execute(ctx, `CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)
	_, err = m.Execute(ctx, `INSERT INTO t VALUES (1)`)
	require.NoError(t, err)

	// Stop commits the open transaction and closes; Start reopens.
	require.NoError(t, m.Stop())
	require.False(t, m.Running())
	require.NoError(t, m.Start(ctx))

	var cur, qErr = m.Query(ctx, `SELECT COUNT(*) FROM t`)
	require.NoError(t, qErr)
	row, err := cur.FetchOne(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), row[0])
}

func TestRollbackDiscardsOpenTransaction(t *testing.T) {
	var _, m, ctx = openTestManager(t, nil)

	var _, err = m.Execute(ctx, `CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)

	_, err = m.Execute(ctx, `INSERT INTO t VALUES (1)`)
	require.NoError(t, err)
	require.NoError(t, m.Rollback(ctx))

	var cur, qErr = m.Query(ctx, `SELECT COUNT(*) FROM t`)
	require.NoError(t, qErr)
	row, err := cur.FetchOne(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), row[0])

	// Committed work is not affected by a later rollback.
	_, err = m.Execute(ctx, `INSERT INTO t VALUES (2)`)
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx))
	require.NoError(t, m.Rollback(ctx)) // No transaction is open; no-op.

	cur, qErr = m.Query(ctx, `SELECT COUNT(*) FROM t`)
	require.NoError(t, qErr)
	row, err = cur.FetchOne(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), row[0])
}

func TestAutocommitModeHasNoTransaction(t *testing.T) {
	var _, m, ctx = openTestManager(t, func(c *Connector) { c.Autocommit = true })

	var _, err = m.Execute(ctx, `CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)
	_, err = m.Execute(ctx, `INSERT INTO t VALUES (1)`)
	require.NoError(t, err)

	require.NoError(t, m.Rollback(ctx)) // Nothing to roll back.

	var cur, qErr = m.Query(ctx, `SELECT COUNT(*) FROM t`)
	require.NoError(t, qErr)
	row, err := cur.FetchOne(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), row[0])
}

func TestExecuteManyAggregatesResults(t *testing.T) {
	var _, m, ctx = openTestManager(t, nil)

	var _, err = m.Execute(ctx, `CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)

	cur, err := m.ExecuteMany(ctx, `INSERT INTO t VALUES (?)`, [][]interface{}{
		{1}, {2}, {3},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), cur.RowsAffected())
	require.Equal(t, int64(3), cur.LastInsertID())

	// A failure partway leaves prior executions applied.
	_, err = m.Execute(ctx, `CREATE TABLE u (v INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = m.ExecuteMany(ctx, `INSERT INTO u VALUES (?)`, [][]interface{}{
		{1}, {1}, {2},
	})
	require.Error(t, err)

	cur, err = m.Query(ctx, `SELECT COUNT(*) FROM u`)
	require.NoError(t, err)
	row, err := cur.FetchOne(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), row[0])
}

func TestExecuteScriptCommitsThenRunsStatements(t *testing.T) {
	var _, m, ctx = openTestManager(t, nil)

	var _, err = m.Execute(ctx, `CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)
	_, err = m.Execute(ctx, `INSERT INTO t VALUES (1)`) // Opens a transaction.
	require.NoError(t, err)

	_, err = m.ExecuteScript(ctx, `
		INSERT INTO t VALUES (2);
		INSERT INTO t VALUES (3);
		CREATE INDEX t_v ON t (v);
	`)
	require.NoError(t, err)

	// The script committed the prior transaction first, so a rollback now
	// discards nothing.
	require.NoError(t, m.Rollback(ctx))

	var cur, qErr = m.Query(ctx, `SELECT COUNT(*) FROM t`)
	require.NoError(t, qErr)
	row, err := cur.FetchOne(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), row[0])
}

func TestExecuteAsyncOrdersBeforeLaterWork(t *testing.T) {
	var _, m, ctx = openTestManager(t, nil)

	var _, err = m.Execute(ctx, `CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)

	var fut = m.ExecuteAsync(`INSERT INTO t VALUES (?)`, 7)

	// The queue orders the async write ahead of this query.
	var cur, qErr = m.Query(ctx, `SELECT COUNT(*) FROM t`)
	require.NoError(t, qErr)
	row, err := cur.FetchOne(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), row[0])

	require.NoError(t, fut.Err())
	var result, _ = fut.Result()
	require.Equal(t, int64(1), result.(*Cursor).RowsAffected())

	// A failed async statement resolves its Future with the error.
	fut = m.ExecuteAsync(`INSERT INTO no_such_table VALUES (1)`)
	require.Error(t, fut.Err())
}

func TestDetectTypesAppliesCodecs(t *testing.T) {
	var _, m, ctx = openTestManager(t, func(c *Connector) { c.DetectTypes = true })

	var _, err = m.Execute(ctx, `CREATE TABLE docs (id INTEGER PRIMARY KEY, body JSON, flag BOOLEAN)`)
	require.NoError(t, err)
	_, err = m.Execute(ctx, `INSERT INTO docs VALUES (1, ?, ?)`, `{"a": [1, 2]}`, true)
	require.NoError(t, err)

	var cur, qErr = m.Query(ctx, `SELECT body, flag FROM docs`)
	require.NoError(t, qErr)
	row, err := cur.FetchOne(ctx)
	require.NoError(t, err)

	require.Equal(t, map[string]interface{}{"a": []interface{}{1.0, 2.0}}, row[0])
	require.Equal(t, true, row[1])
}

func TestStatementCacheReusesPreparedStatements(t *testing.T) {
	var _, m, ctx = openTestManager(t, func(c *Connector) { c.CachedStatements = 2 })

	var _, err = m.Execute(ctx, `CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)

	for i := 0; i != 10; i++ {
		_, err = m.Execute(ctx, `INSERT INTO t VALUES (?)`, i)
		require.NoError(t, err)
	}
	// DDL, the insert, and queries compete for two slots; eviction closes
	// the displaced statement and later reuse re-prepares it.
	for _, query := range []string{
		`SELECT COUNT(*) FROM t`,
		`SELECT MAX(v) FROM t`,
		`SELECT MIN(v) FROM t`,
		`SELECT COUNT(*) FROM t`,
	} {
		var cur, err = m.Query(ctx, query)
		require.NoError(t, err)
		_, err = cur.FetchAll(ctx)
		require.NoError(t, err)
	}

	m.mu.Lock()
	require.Equal(t, 2, m.stmts.Len())
	m.mu.Unlock()
}

func TestStatementCacheDisabled(t *testing.T) {
	var _, m, ctx = openTestManager(t, func(c *Connector) { c.CachedStatements = -1 })

	var _, err = m.Execute(ctx, `CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)
	_, err = m.Execute(ctx, `INSERT INTO t VALUES (1)`)
	require.NoError(t, err)

	m.mu.Lock()
	require.Nil(t, m.stmts)
	m.mu.Unlock()
}

func TestOperationsOfStoppedManagerAwaitStart(t *testing.T) {
	var registry = NewRegistry()
	var connector, err = NewConnector(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	m, err := registry.Open(connector)
	require.NoError(t, err)

	// The Manager was never started: the statement stays queued until its
	// context expires, which cancels it in place.
	var ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = m.Execute(ctx, `SELECT 1`)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartFailureReleasesReference(t *testing.T) {
	var registry = NewRegistry()

	// A directory normalizes, but cannot be opened as a database.
	var connector, err = NewConnector(t.TempDir())
	require.NoError(t, err)

	m, err := registry.Open(connector)
	require.NoError(t, err)

	require.Error(t, m.Start(context.Background()))
	require.Equal(t, 0, m.Refs())
	require.False(t, m.Running())
}

func TestStatementErrorDoesNotWedgeQueue(t *testing.T) {
	var _, m, ctx = openTestManager(t, nil)

	var _, err = m.Execute(ctx, `INSERT INTO no_such_table VALUES (1)`)
	require.Error(t, err)

	// The worker continues with subsequent statements.
	_, err = m.Execute(ctx, `CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)
}

func TestInMemoryDatabase(t *testing.T) {
	var registry = NewRegistry()
	var connector, err = NewConnector(InMemory)
	require.NoError(t, err)

	m, err := registry.Open(connector)
	require.NoError(t, err)
	require.Equal(t, InMemory, m.Database())

	var ctx = context.Background()
	require.NoError(t, m.Start(ctx))
	defer func() { _ = m.Stop() }()

	_, err = m.Execute(ctx, `CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)
	_, err = m.Execute(ctx, `INSERT INTO t VALUES (42)`)
	require.NoError(t, err)

	cur, err := m.Query(ctx, `SELECT v FROM t`)
	require.NoError(t, err)
	row, err := cur.FetchOne(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(42), row[0])
}

func TestIsBusy(t *testing.T) {
	var busy = sqlite3.Error{Code: sqlite3.ErrBusy}
	require.True(t, IsBusy(busy))
	require.True(t, IsBusy(errors.WithMessage(busy, "executing statement")))

	require.False(t, IsBusy(nil))
	require.False(t, IsBusy(errors.New("unrelated")))
	require.False(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrError}))
}

func TestStatementKeyword(t *testing.T) {
	var cases = []struct {
		query, keyword string
	}{
		{"INSERT INTO t VALUES (1)", "INSERT"},
		{"  \n\tupdate t set v = 1", "UPDATE"},
		{"-- a comment\nDELETE FROM t", "DELETE"},
		{"/* leading\ncomment */ REPLACE INTO t VALUES (1)", "REPLACE"},
		{"SELECT * FROM t", "SELECT"},
		{"-- only a comment", ""},
		{"/* unterminated", ""},
		{"", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.keyword, statementKeyword(tc.query), tc.query)
	}
}
