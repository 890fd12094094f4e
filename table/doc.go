// Package table provides a typed record abstraction over SQLite tables,
// with interchangeable in-memory and database-backed implementations.
//
// A table's Shape fixes its columns and derives record identity from the
// declared nonrepeating (PRIMARY KEY or UNIQUE) columns. Records are
// immutable values; updates replace records rather than mutating them.
// Both MemoryTable and PersistentTable implement the Table contract of
// predicate-driven selection, insertion with replace-or-ignore collision
// handling, and streaming update and delete operations which apply their
// mutations as the caller consumes them.
//
// PersistentTable routes all statements through a sqlite.Manager, and may
// additionally maintain a MemoryTable mirror which serves reads once
// loaded with Refresh.
package table
