package table

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Shape is the fixed column layout of a table, along with the derived
// record identity: the ordered set of nonrepeating columns, or every
// column when none is declared nonrepeating. Two records are the same
// record exactly when all of their identity values match.
type Shape struct {
	columns  []Column
	index    map[string]int
	identity []int
	declared bool
}

// NewShape builds a Shape over |columns|, which must be non-empty and
// carry distinct, valid identifier names.
func NewShape(columns ...Column) (*Shape, error) {
	if len(columns) == 0 {
		return nil, errors.New("a table requires at least one column")
	}
	var s = &Shape{
		columns: append([]Column(nil), columns...),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range s.columns {
		if err := c.validate(); err != nil {
			return nil, err
		}
		if _, ok := s.index[c.Name]; ok {
			return nil, errors.Errorf("duplicate column %q", c.Name)
		}
		s.index[c.Name] = i

		if c.Nonrepeating() {
			s.identity = append(s.identity, i)
		}
	}
	if s.declared = len(s.identity) != 0; !s.declared {
		for i := range s.columns {
			s.identity = append(s.identity, i)
		}
	}
	return s, nil
}

// Columns returns a copy of the Shape's columns.
func (s *Shape) Columns() []Column { return append([]Column(nil), s.columns...) }

// Names returns the ordered column names.
func (s *Shape) Names() []string {
	var names = make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of column |name|.
func (s *Shape) Index(name string) (int, bool) {
	var i, ok = s.index[name]
	return i, ok
}

// Identity returns the names of the columns which define record identity.
func (s *Shape) Identity() []string {
	var names = make([]string, len(s.identity))
	for i, idx := range s.identity {
		names[i] = s.columns[idx].Name
	}
	return names
}

// HasDeclaredIdentity returns whether identity derives from declared
// nonrepeating columns, rather than the whole-record fallback.
func (s *Shape) HasDeclaredIdentity() bool { return s.declared }

// Record is one immutable row value of a table. Records are never mutated
// in place: updates build replacement Records via WithFields.
type Record struct {
	shape  *Shape
	values []interface{}
}

// Shape returns the Record's Shape.
func (r Record) Shape() *Shape { return r.shape }

// Field returns the value of column |name|, or nil if the Record has no
// such column.
func (r Record) Field(name string) interface{} {
	if i, ok := r.shape.Index(name); ok {
		return r.values[i]
	}
	return nil
}

// At returns the value at column position |i|.
func (r Record) At(i int) interface{} { return r.values[i] }

// Values returns a copy of the Record's values, in column order.
func (r Record) Values() []interface{} {
	return append([]interface{}(nil), r.values...)
}

// Map returns the Record as a column name to value mapping.
func (r Record) Map() map[string]interface{} {
	var out = make(map[string]interface{}, len(r.values))
	for i, c := range r.shape.columns {
		out[c.Name] = r.values[i]
	}
	return out
}

// WithFields returns a Record with |fields| replaced, subject to the same
// validation as record construction. Defaults and generators do not
// re-apply, as every column already has a value.
func (r Record) WithFields(fields map[string]interface{}) (Record, error) {
	var merged = r.Map()
	for name, value := range fields {
		merged[name] = value
	}
	return buildRecord(context.Background(), r.shape, nil, merged)
}

// Equal returns whether |other| has the Record's identity.
func (r Record) Equal(other Record) bool {
	return r.identityKey() == other.identityKey()
}

// identityKey renders the Record's identity values as a comparable string.
// Values are normalized so that logically equal values key identically
// regardless of the concrete Go type a driver or codec produced.
func (r Record) identityKey() string {
	var b strings.Builder
	for _, i := range r.shape.identity {
		b.WriteString(r.shape.columns[i].Name)
		b.WriteByte('=')
		writeValueKey(&b, r.values[i])
		b.WriteByte(';')
	}
	return b.String()
}

// writeValueKey writes a normalized, type-tagged rendering of |v|. Values
// key by their SQLite storage form rather than their Go type, so a value
// read back from the database keys identically to the value inserted:
// booleans key as integers, byte slices as their text, times by UTC
// instant, and UUIDs by canonical form.
func writeValueKey(b *strings.Builder, v interface{}) {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if t {
			b.WriteString("int:1")
		} else {
			b.WriteString("int:0")
		}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		fmt.Fprintf(b, "int:%d", t)
	case float32, float64:
		fmt.Fprintf(b, "real:%v", t)
	case string:
		b.WriteString("text:" + t)
	case []byte:
		b.WriteString("text:" + string(t))
	case time.Time:
		b.WriteString("time:" + t.UTC().Format(time.RFC3339Nano))
	case uuid.UUID:
		b.WriteString("text:" + t.String())
	default:
		fmt.Fprintf(b, "%T:%v", t, t)
	}
}

// equalValues compares two column values under identity normalization.
func equalValues(a, b interface{}) bool {
	var ka, kb strings.Builder
	writeValueKey(&ka, a)
	writeValueKey(&kb, b)
	return ka.String() == kb.String()
}

// buildRecord resolves |values| against the Shape's columns under the
// precedence: supplied value, then generator, then static default, then
// NULL. It errors on names which are not columns, and on a NULL
// resolution of a NOT NULL column.
func buildRecord(ctx context.Context, s *Shape, gens *Generators, values map[string]interface{}) (Record, error) {
	for name := range values {
		if _, ok := s.index[name]; !ok {
			return Record{}, errors.Errorf("no column %q", name)
		}
	}
	var out = make([]interface{}, len(s.columns))

	for i, c := range s.columns {
		var v, ok = values[c.Name]
		if !ok {
			var err error
			if v, err = columnValue(ctx, c, gens); err != nil {
				return Record{}, err
			}
		}
		if v == nil && c.NotNull {
			return Record{}, errors.Errorf(
				"column %q is NOT NULL but resolves to no value", c.Name)
		}
		out[i] = v
	}
	return Record{shape: s, values: out}, nil
}

// columnValue resolves an omitted column value. A named generator takes
// precedence over the static default.
func columnValue(ctx context.Context, c Column, gens *Generators) (interface{}, error) {
	if c.Generator == "" {
		return c.Default, nil
	}
	var gen Generator
	if gens != nil {
		gen, _ = gens.Lookup(c.Generator)
	}
	if gen == nil {
		return nil, errors.Errorf("column %q names unregistered generator %q",
			c.Name, c.Generator)
	}
	var v, err = gen(ctx)
	return v, errors.WithMessagef(err, "generating value of column %q", c.Name)
}

// fromRow builds a Record directly from a fetched row, which must carry
// one value per column in Shape order.
func fromRow(s *Shape, row []interface{}) (Record, error) {
	if len(row) != len(s.columns) {
		return Record{}, errors.Errorf("row has %d values but the table has %d columns",
			len(row), len(s.columns))
	}
	return Record{shape: s, values: append([]interface{}(nil), row...)}, nil
}
