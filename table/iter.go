package table

import (
	"context"
)

// Predicate filters the records of Select, Updated, and Deleted
// operations. A nil Predicate matches every record. Predicates may block,
// and must honor |ctx|.
type Predicate func(ctx context.Context, r Record) (bool, error)

// ByField returns a Predicate matching records whose column |name| equals
// |value| under identity normalization.
func ByField(name string, value interface{}) Predicate {
	return func(_ context.Context, r Record) (bool, error) {
		return equalValues(r.Field(name), value), nil
	}
}

// match evaluates |predicate| against |r|. A nil predicate matches.
func match(ctx context.Context, predicate Predicate, r Record) (bool, error) {
	if predicate == nil {
		return true, nil
	}
	return predicate(ctx, r)
}

// Iter is a pull iterator over the records of a table operation.
// Iteration drives the operation itself: an Updated or Deleted Iter
// applies its mutations only as far as the caller consumes it.
type Iter struct {
	next func(ctx context.Context) (Record, bool, error)
	stop func() error
	done bool
}

// Next returns the next record of the iteration, or hasMore false once it
// completes. A completed or failed Iter releases its resources, and
// further calls return no records.
func (it *Iter) Next(ctx context.Context) (_ Record, hasMore bool, _ error) {
	if it.done {
		return Record{}, false, nil
	}
	var r, ok, err = it.next(ctx)
	if err == nil && ok {
		return r, true, nil
	}
	if stopErr := it.Close(); err == nil {
		err = stopErr
	}
	return Record{}, false, err
}

// Close releases the Iter's resources, ending the iteration. Close may be
// called multiple times.
func (it *Iter) Close() error {
	if it.done {
		return nil
	}
	it.done = true

	if it.stop != nil {
		return it.stop()
	}
	return nil
}

// errIter returns an Iter which fails with |err| on first use.
func errIter(err error) *Iter {
	return &Iter{next: func(context.Context) (Record, bool, error) {
		return Record{}, false, err
	}}
}
