package table

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func userShape(t *testing.T) *Shape {
	var shape, err = NewShape(
		Column{Name: "id", Type: "INTEGER", Primary: true},
		Column{Name: "name", Type: "TEXT", NotNull: true},
		Column{Name: "role", Type: "TEXT", Default: "guest"},
	)
	require.NoError(t, err)
	return shape
}

func TestShapeConstruction(t *testing.T) {
	var _, err = NewShape()
	require.Error(t, err)

	_, err = NewShape(
		Column{Name: "a", Type: "TEXT"},
		Column{Name: "a", Type: "TEXT"},
	)
	require.Error(t, err)

	_, err = NewShape(Column{Name: "not valid", Type: "TEXT"})
	require.Error(t, err)

	_, err = NewShape(Column{Name: "a"})
	require.Error(t, err)
}

func TestShapeIdentity(t *testing.T) {
	var shape = userShape(t)
	require.Equal(t, []string{"id"}, shape.Identity())
	require.True(t, shape.HasDeclaredIdentity())

	// Unique columns are identifying alongside primary keys.
	multi, err := NewShape(
		Column{Name: "a", Type: "TEXT", Primary: true},
		Column{Name: "b", Type: "TEXT", Unique: true},
		Column{Name: "c", Type: "TEXT"},
	)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, multi.Identity())

	// Without a nonrepeating column, the whole record identifies itself.
	whole, err := NewShape(
		Column{Name: "a", Type: "TEXT"},
		Column{Name: "b", Type: "TEXT"},
	)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, whole.Identity())
	require.False(t, whole.HasDeclaredIdentity())
}

func TestRecordValuePrecedence(t *testing.T) {
	var gens = NewGenerators()
	gens.Register("role", func(context.Context) (interface{}, error) {
		return "generated", nil
	})

	var shape, err = NewShape(
		Column{Name: "id", Type: "INTEGER", Primary: true},
		Column{Name: "role", Type: "TEXT", Default: "guest", Generator: "role"},
		Column{Name: "note", Type: "TEXT"},
	)
	require.NoError(t, err)
	var ctx = context.Background()

	// A supplied value wins over the generator and default.
	r, err := buildRecord(ctx, shape, gens, map[string]interface{}{"id": 1, "role": "admin"})
	require.NoError(t, err)
	require.Equal(t, "admin", r.Field("role"))

	// The generator wins over the static default.
	r, err = buildRecord(ctx, shape, gens, map[string]interface{}{"id": 2})
	require.NoError(t, err)
	require.Equal(t, "generated", r.Field("role"))

	// An unresolved column is NULL.
	require.Nil(t, r.Field("note"))

	// Without the generator registered, the reference fails loudly rather
	// than falling back on the default.
	gens.Deregister("role")
	_, err = buildRecord(ctx, shape, gens, map[string]interface{}{"id": 3})
	require.EqualError(t, err, `column "role" names unregistered generator "role"`)
}

func TestRecordConstructionErrors(t *testing.T) {
	var shape = userShape(t)
	var ctx = context.Background()

	var _, err = buildRecord(ctx, shape, nil, map[string]interface{}{"id": 1, "nope": true})
	require.EqualError(t, err, `no column "nope"`)

	_, err = buildRecord(ctx, shape, nil, map[string]interface{}{"id": 1})
	require.EqualError(t, err, `column "name" is NOT NULL but resolves to no value`)

	// A generator failure carries the column.
	var gens = NewGenerators()
	gens.Register("boom", func(context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	booming, err := NewShape(Column{Name: "v", Type: "TEXT", Generator: "boom"})
	require.NoError(t, err)
	_, err = buildRecord(ctx, booming, gens, nil)
	require.EqualError(t, err, `generating value of column "v": boom`)
}

func TestRecordAccessors(t *testing.T) {
	var shape = userShape(t)
	var r, err = buildRecord(context.Background(), shape, nil,
		map[string]interface{}{"id": 1, "name": "alice"})
	require.NoError(t, err)

	require.Equal(t, 1, r.Field("id"))
	require.Equal(t, "alice", r.Field("name"))
	require.Equal(t, "guest", r.Field("role"))
	require.Nil(t, r.Field("missing"))
	require.Equal(t, "alice", r.At(1))

	require.Equal(t, []interface{}{1, "alice", "guest"}, r.Values())
	require.Equal(t, map[string]interface{}{"id": 1, "name": "alice", "role": "guest"}, r.Map())

	// Values returns a copy.
	r.Values()[1] = "mallory"
	require.Equal(t, "alice", r.Field("name"))
}

func TestRecordWithFields(t *testing.T) {
	var shape = userShape(t)
	var r, err = buildRecord(context.Background(), shape, nil,
		map[string]interface{}{"id": 1, "name": "alice"})
	require.NoError(t, err)

	updated, err := r.WithFields(map[string]interface{}{"role": "admin"})
	require.NoError(t, err)
	require.Equal(t, "admin", updated.Field("role"))
	require.Equal(t, "guest", r.Field("role")) // Records are immutable.

	_, err = r.WithFields(map[string]interface{}{"nope": 1})
	require.Error(t, err)

	_, err = r.WithFields(map[string]interface{}{"name": nil})
	require.Error(t, err) // NOT NULL still applies.
}

func TestRecordIdentityNormalizesStorageForms(t *testing.T) {
	var shape, err = NewShape(Column{Name: "v", Type: "TEXT", Primary: true})
	require.NoError(t, err)

	var record = func(v interface{}) Record {
		var r, err = fromRow(shape, []interface{}{v})
		require.NoError(t, err)
		return r
	}

	// A fetched TEXT value is a byte slice; it keys as its text.
	require.True(t, record("alice").Equal(record([]byte("alice"))))
	require.False(t, record("alice").Equal(record("bob")))

	// Booleans store as integers.
	require.True(t, record(true).Equal(record(int64(1))))
	require.True(t, record(false).Equal(record(int64(0))))

	// Integer widths are indistinguishable in storage.
	require.True(t, record(7).Equal(record(int64(7))))

	// Times key by instant, not location.
	var loc = time.FixedZone("X", 3*3600)
	var instant = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	require.True(t, record(instant).Equal(record(instant.In(loc))))

	// UUIDs key as their canonical text.
	var id = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	require.True(t, record(id).Equal(record(id.String())))

	require.True(t, record(nil).Equal(record(nil)))
	require.False(t, record(nil).Equal(record(0)))
}

func TestRecordIdentitySpansDeclaredColumns(t *testing.T) {
	var shape, err = NewShape(
		Column{Name: "a", Type: "TEXT", Primary: true},
		Column{Name: "b", Type: "TEXT", Unique: true},
		Column{Name: "c", Type: "TEXT"},
	)
	require.NoError(t, err)

	var record = func(a, b, c string) Record {
		var r, err = fromRow(shape, []interface{}{a, b, c})
		require.NoError(t, err)
		return r
	}

	// All identifying columns must agree; others are free to differ.
	require.True(t, record("1", "2", "x").Equal(record("1", "2", "y")))
	require.False(t, record("1", "2", "x").Equal(record("1", "3", "x")))
	require.False(t, record("1", "2", "x").Equal(record("9", "2", "x")))
}

func TestFromRowValidatesWidth(t *testing.T) {
	var shape = userShape(t)

	var _, err = fromRow(shape, []interface{}{1, "alice"})
	require.EqualError(t, err, "row has 2 values but the table has 3 columns")
}
