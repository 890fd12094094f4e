package table

import (
	"context"
	"sync"

	"go.seqlite.dev/core/metrics"
)

// MemoryTable is a Table holding its records only in process memory,
// keyed by record identity. Operations iterate over a point-in-time
// snapshot of the record set, so an Iter is stable under concurrent
// mutation. MemoryTable is safe for concurrent use.
type MemoryTable struct {
	name  string
	shape *Shape
	gens  *Generators

	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryTable returns a MemoryTable named |name| over |columns|,
// resolving column generators through |generators|, or through the builtin
// defaults when nil.
func NewMemoryTable(name string, generators *Generators, columns ...Column) (*MemoryTable, error) {
	var shape, err = NewShape(columns...)
	if err != nil {
		return nil, err
	}
	if generators == nil {
		generators = DefaultGenerators()
	}
	return &MemoryTable{
		name:    name,
		shape:   shape,
		gens:    generators,
		records: make(map[string]Record),
	}, nil
}

// Name returns the table name.
func (t *MemoryTable) Name() string { return t.name }

// Shape returns the table's column layout.
func (t *MemoryTable) Shape() *Shape { return t.shape }

// MakeRecord builds a Record from |values| without storing it.
func (t *MemoryTable) MakeRecord(ctx context.Context, values map[string]interface{}) (Record, error) {
	return buildRecord(ctx, t.shape, t.gens, values)
}

// Len returns the number of records.
func (t *MemoryTable) Len(context.Context) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records), nil
}

// Contains returns whether a record with |record|'s identity exists.
func (t *MemoryTable) Contains(_ context.Context, record Record) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var _, ok = t.records[record.identityKey()]
	return ok, nil
}

// Insert builds a Record from |values| and stores it by identity. An
// existing record of the same identity is replaced, or kept if
// |ignoreExisting|. The built Record is returned in either case.
func (t *MemoryTable) Insert(ctx context.Context, ignoreExisting bool, values map[string]interface{}) (Record, error) {
	var record, err = buildRecord(ctx, t.shape, t.gens, values)
	if err != nil {
		return Record{}, err
	}
	t.put(record, ignoreExisting)
	metrics.TableRecordsTotal.WithLabelValues("insert").Inc()
	return record, nil
}

// InsertMany inserts a batch of records, returning those built. It stops
// at the first record which fails to build, storing none beyond it.
func (t *MemoryTable) InsertMany(ctx context.Context, ignoreExisting bool, batches []map[string]interface{}) ([]Record, error) {
	var out = make([]Record, 0, len(batches))
	for _, values := range batches {
		var record, err = t.Insert(ctx, ignoreExisting, values)
		if err != nil {
			return out, err
		}
		out = append(out, record)
	}
	return out, nil
}

// Select returns an Iter over records matching |predicate|.
func (t *MemoryTable) Select(predicate Predicate) *Iter {
	var records []Record
	var i int

	return &Iter{next: func(ctx context.Context) (Record, bool, error) {
		if records == nil {
			records = t.snapshot()
		}
		for i < len(records) {
			var r = records[i]
			i++

			if ok, err := match(ctx, predicate, r); err != nil {
				return Record{}, false, err
			} else if ok {
				return r, true, nil
			}
		}
		return Record{}, false, nil
	}}
}

// Deleted removes records matching |predicate| as the Iter is consumed,
// yielding each removed record.
func (t *MemoryTable) Deleted(predicate Predicate) *Iter {
	var records []Record
	var i int

	return &Iter{next: func(ctx context.Context) (Record, bool, error) {
		if records == nil {
			records = t.snapshot()
		}
		for i < len(records) {
			var r = records[i]
			i++

			if ok, err := match(ctx, predicate, r); err != nil {
				return Record{}, false, err
			} else if !ok {
				continue
			}
			t.drop(r)
			metrics.TableRecordsTotal.WithLabelValues("delete").Inc()
			return r, true, nil
		}
		return Record{}, false, nil
	}}
}

// Updated replaces records matching |predicate| with copies carrying
// |fields| as the Iter is consumed, yielding each replacement.
func (t *MemoryTable) Updated(predicate Predicate, fields map[string]interface{}) *Iter {
	var records []Record
	var i int

	return &Iter{next: func(ctx context.Context) (Record, bool, error) {
		if records == nil {
			records = t.snapshot()
		}
		for i < len(records) {
			var r = records[i]
			i++

			if ok, err := match(ctx, predicate, r); err != nil {
				return Record{}, false, err
			} else if !ok {
				continue
			}
			var updated, err = r.WithFields(fields)
			if err != nil {
				return Record{}, false, err
			}
			t.replace(r, updated)
			metrics.TableRecordsTotal.WithLabelValues("update").Inc()
			return updated, true, nil
		}
		return Record{}, false, nil
	}}
}

// put stores |record| by identity. An existing record of the same identity
// is kept when |keepExisting|, and replaced otherwise.
func (t *MemoryTable) put(record Record, keepExisting bool) {
	var key = record.identityKey()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[key]; ok && keepExisting {
		return
	}
	t.records[key] = record
}

// drop removes the record having |record|'s identity.
func (t *MemoryTable) drop(record Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, record.identityKey())
}

// replace swaps |prev| for |next| under one lock acquisition. The records
// may differ in identity.
func (t *MemoryTable) replace(prev, next Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, prev.identityKey())
	t.records[next.identityKey()] = next
}

// clear removes every record.
func (t *MemoryTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]Record)
}

// snapshot returns the records at a point in time, in no particular order.
func (t *MemoryTable) snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out = make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	return out
}
