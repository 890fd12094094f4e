// Package sqlite provides serialized, asynchronous access to embedded
// SQLite databases.
//
// A Registry owns at most one Manager per canonical database path. A
// Manager owns the database's single live connection and funnels every
// statement, fetch, commit, and rollback through one FIFO worker, so that
// operations against a database execute in exactly the order they were
// submitted and never in parallel. Managers are reference-counted: the
// connection opens on the first Start and closes once every holder has
// called Stop, after the queue has fully drained.
//
// Statement execution produces Cursors which fetch lazily. Each fetch step
// is itself routed through the owning Manager's queue, so open cursors
// interleave correctly with concurrent statements on the same connection.
// Whether an open cursor observes rows written after its statement began
// is inherited from SQLite's same-connection isolation semantics, and is
// deliberately left undefined.
package sqlite
