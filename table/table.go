package table

import (
	"context"
)

// Table is the record CRUD contract shared by the in-memory and
// database-backed variants.
type Table interface {
	// Name returns the table name.
	Name() string
	// Shape returns the table's column layout.
	Shape() *Shape
	// MakeRecord builds a Record of this table from |values|, applying
	// column generators and defaults to omitted columns. The Record is not
	// stored.
	MakeRecord(ctx context.Context, values map[string]interface{}) (Record, error)
	// Len returns the current number of records.
	Len(ctx context.Context) (int, error)
	// Contains returns whether a record with |record|'s identity exists.
	Contains(ctx context.Context, record Record) (bool, error)
	// Insert builds a Record from |values| and stores it. A record of the
	// same identity is replaced, unless |ignoreExisting| keeps it. The
	// built Record is returned in either case, whether or not it was kept.
	Insert(ctx context.Context, ignoreExisting bool, values map[string]interface{}) (Record, error)
	// InsertMany inserts a batch of records, returning those built.
	InsertMany(ctx context.Context, ignoreExisting bool, batches []map[string]interface{}) ([]Record, error)
	// Select returns an Iter over records matching |predicate|, or over
	// every record if it is nil.
	Select(predicate Predicate) *Iter
	// Deleted deletes records matching |predicate| as the Iter is
	// consumed, yielding each deleted record. A nil |predicate| deletes
	// every record in a single statement.
	Deleted(predicate Predicate) *Iter
	// Updated replaces records matching |predicate| with copies carrying
	// |fields| as the Iter is consumed, yielding each replacement record.
	// A nil |predicate| updates every record in a single statement.
	Updated(predicate Predicate, fields map[string]interface{}) *Iter
}

// SelectOne returns the first record of |t| matching |predicate|.
func SelectOne(ctx context.Context, t Table, predicate Predicate) (Record, bool, error) {
	var it = t.Select(predicate)
	defer it.Close()
	return it.Next(ctx)
}

// Count returns the number of records of |t| matching |predicate|, or the
// table length if it is nil.
func Count(ctx context.Context, t Table, predicate Predicate) (int, error) {
	if predicate == nil {
		return t.Len(ctx)
	}
	var it = t.Select(predicate)
	defer it.Close()

	var n int
	for {
		var _, ok, err = it.Next(ctx)
		if err != nil || !ok {
			return n, err
		}
		n++
	}
}

// Delete removes every record of |t| matching |predicate|, or every record
// if it is nil.
func Delete(ctx context.Context, t Table, predicate Predicate) error {
	var it = t.Deleted(predicate)
	defer it.Close()

	for {
		var _, ok, err = it.Next(ctx)
		if err != nil || !ok {
			return err
		}
	}
}

// DeleteOne removes and returns the first record of |t| matching
// |predicate|.
func DeleteOne(ctx context.Context, t Table, predicate Predicate) (Record, bool, error) {
	var it = t.Deleted(predicate)
	defer it.Close()
	return it.Next(ctx)
}

// Update applies |fields| to every record of |t| matching |predicate|,
// returning the number of records updated.
func Update(ctx context.Context, t Table, predicate Predicate, fields map[string]interface{}) (int, error) {
	var it = t.Updated(predicate, fields)
	defer it.Close()

	var n int
	for {
		var _, ok, err = it.Next(ctx)
		if err != nil || !ok {
			return n, err
		}
		n++
	}
}

// UpdateOne applies |fields| to the first record of |t| matching
// |predicate|, returning the replacement record.
func UpdateOne(ctx context.Context, t Table, predicate Predicate, fields map[string]interface{}) (Record, bool, error) {
	var it = t.Updated(predicate, fields)
	defer it.Close()
	return it.Next(ctx)
}
