package sqlite

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // Registers the "sqlite3" driver.
	"github.com/pkg/errors"
)

// InMemory is the special database path of a private in-memory database.
// All Managers opened through one Registry with this path share a single
// in-memory database, as they share a single Manager.
const InMemory = ":memory:"

// Transaction lock acquisition modes, mapping to SQLite's BEGIN flavors.
const (
	TxDeferred  = "deferred"
	TxImmediate = "immediate"
	TxExclusive = "exclusive"
)

// Connector is an immutable record of the parameters used to open a
// database. Build Connectors with NewConnector, or populate the exported
// fields directly (eg, by flag parsing) and hand the Connector to
// Registry.Open, which normalizes it. A Manager's Connector is replaced
// only wholesale, via Manager.SetConnector.
type Connector struct {
	Path             string        `long:"path" env:"PATH" description:"Path of the database file, or ':memory:'"`
	BusyTimeout      time.Duration `long:"busy-timeout" env:"BUSY_TIMEOUT" default:"5s" description:"Duration a statement blocked on a competing lock waits before failing"`
	TxLock           string        `long:"tx-lock" env:"TX_LOCK" default:"deferred" choice:"deferred" choice:"immediate" choice:"exclusive" description:"Lock acquisition mode of managed transactions"`
	DetectTypes      bool          `long:"detect-types" env:"DETECT_TYPES" description:"Convert fetched values through the codec registry, by declared column type"`
	CachedStatements int           `long:"cached-statements" env:"CACHED_STATEMENTS" default:"128" description:"Capacity of the prepared-statement cache (negative disables caching)"`
	URI              bool          `long:"uri" env:"URI" description:"Treat path as a verbatim SQLite URI"`
	Autocommit       bool          `long:"autocommit" env:"AUTOCOMMIT" description:"Run statements outside of a managed transaction"`
}

// NewConnector returns a Connector of |path| with default parameters,
// normalized and ready for use.
func NewConnector(path string) (Connector, error) {
	var c = Connector{Path: path}
	var err = c.normalize()
	return c, err
}

// normalize applies parameter defaults, resolves Path to its canonical
// absolute form, and ensures the database file exists. The special path
// InMemory and verbatim URIs pass through untouched.
func (c *Connector) normalize() error {
	if c.Path == "" {
		return errors.New("database path is required")
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.TxLock == "" {
		c.TxLock = TxDeferred
	}
	switch c.TxLock {
	case TxDeferred, TxImmediate, TxExclusive: // Valid.
	default:
		return errors.Errorf("invalid tx-lock %q", c.TxLock)
	}
	if c.CachedStatements == 0 {
		c.CachedStatements = 128
	}

	if c.Path == InMemory || c.URI {
		return nil
	}

	var abs, err = filepath.Abs(c.Path)
	if err != nil {
		return errors.WithMessagef(err, "resolving path %q", c.Path)
	}
	// Resolve symlinks so that two paths naming the same file key a single
	// Manager. If the file doesn't exist yet, resolve its directory: the
	// key must not change once the file is created.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	} else if resolved, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(resolved, filepath.Base(abs))
	}
	c.Path = abs

	// Ensure the database file exists, as SQLite defers creation and a
	// Manager of a never-written database should still key consistently.
	var f *os.File
	if f, err = os.OpenFile(abs, os.O_RDONLY|os.O_CREATE, 0644); err != nil {
		return errors.WithMessagef(err, "creating database file %q", abs)
	}
	return f.Close()
}

// DSN returns the SQLite connection string of the Connector.
func (c Connector) DSN() string {
	if c.URI {
		return c.Path
	}
	var v = make(url.Values)
	v.Set("_busy_timeout", strconv.Itoa(int(c.BusyTimeout/time.Millisecond)))
	v.Set("_txlock", c.TxLock)
	return "file:" + c.Path + "?" + v.Encode()
}

// connect opens the database and checks out the single native connection
// which its Manager will own.
func (c Connector) connect(ctx context.Context) (*sql.DB, *sql.Conn, error) {
	var db, err = sql.Open("sqlite3", c.DSN())
	if err != nil {
		return nil, nil, errors.WithMessage(err, "opening database")
	}
	// The Manager assumes exclusive ownership of exactly one connection,
	// which only its worker goroutine touches.
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err == nil {
		err = conn.PingContext(ctx)
	}
	if err != nil {
		db.Close()
		return nil, nil, errors.WithMessage(err, "establishing connection")
	}
	return db, conn, nil
}
