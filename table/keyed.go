package table

import (
	"context"

	"github.com/pkg/errors"
)

// Keyed is a map-like view of a Table through one of its columns.
type Keyed struct {
	table Table
	key   string
}

// NewKeyed returns a Keyed view of |t| through the column |key|. The
// column should be nonrepeating for the view to behave like a map.
func NewKeyed(t Table, key string) (Keyed, error) {
	if _, ok := t.Shape().Index(key); !ok {
		return Keyed{}, errors.Errorf("table %q has no column %q", t.Name(), key)
	}
	return Keyed{table: t, key: key}, nil
}

// Table returns the viewed Table.
func (k Keyed) Table() Table { return k.table }

// Key returns the name of the key column.
func (k Keyed) Key() string { return k.key }

// Contains returns whether a record keyed by |key| exists.
func (k Keyed) Contains(ctx context.Context, key interface{}) (bool, error) {
	var _, ok, err = SelectOne(ctx, k.table, ByField(k.key, key))
	return ok, err
}

// Get returns the record keyed by |key|.
func (k Keyed) Get(ctx context.Context, key interface{}) (Record, bool, error) {
	return SelectOne(ctx, k.table, ByField(k.key, key))
}

// Set applies |fields| to the record keyed by |key|, returning the
// replacement record.
func (k Keyed) Set(ctx context.Context, key interface{}, fields map[string]interface{}) (Record, bool, error) {
	return UpdateOne(ctx, k.table, ByField(k.key, key), fields)
}

// Add inserts a record built from |values| and keyed by |key|. A record of
// the same identity is kept when |keepExisting|, and replaced otherwise.
func (k Keyed) Add(ctx context.Context, key interface{}, keepExisting bool, values map[string]interface{}) (Record, error) {
	var merged = make(map[string]interface{}, len(values)+1)
	for name, value := range values {
		merged[name] = value
	}
	merged[k.key] = key
	return k.table.Insert(ctx, keepExisting, merged)
}

// Keys returns the key-column value of every record in the Table.
func (k Keyed) Keys(ctx context.Context) ([]interface{}, error) {
	var it = k.table.Select(nil)
	defer it.Close()

	var keys []interface{}
	for {
		var record, ok, err = it.Next(ctx)
		if err != nil || !ok {
			return keys, err
		}
		keys = append(keys, record.Field(k.key))
	}
}

// Remove deletes the record keyed by |key|, if one exists.
func (k Keyed) Remove(ctx context.Context, key interface{}) error {
	var _, _, err = DeleteOne(ctx, k.table, ByField(k.key, key))
	return err
}

// Pop deletes and returns the record keyed by |key|.
func (k Keyed) Pop(ctx context.Context, key interface{}) (Record, bool, error) {
	return DeleteOne(ctx, k.table, ByField(k.key, key))
}
